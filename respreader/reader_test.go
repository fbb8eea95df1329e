package respreader

import (
	"io"
	"reflect"
	"testing"
	"time"
)

type dataSource struct {
	count int
}

func (ds *dataSource) Read(data []byte) (int, error) {
	ds.count++
	switch ds.count {
	case 1:
		time.Sleep(100 * time.Millisecond)
		data[0] = 0
		return 1, nil
	case 2, 3, 4, 5, 6, 7, 8, 9, 10:
		time.Sleep(5 * time.Millisecond)
		data[0] = 1
		return 1, nil
	default:
		time.Sleep(1000 * time.Hour)
	}

	return 0, nil
}

func TestReader(t *testing.T) {
	source := &dataSource{}
	reader := NewReader(source, time.Second, time.Millisecond*50)

	start := time.Now()
	data := make([]byte, 100)
	count, err := reader.Read(data)

	dur := time.Since(start)

	if err != nil {
		t.Error("read failed: ", err)
	}

	if dur < 100*time.Millisecond || dur > 400*time.Millisecond {
		t.Error("expected dur to be around 150ms: ", dur)
	}

	if count != 10 {
		t.Error("expected count to be 10: ", count)
	}

	expData := []byte{0, 1, 1, 1, 1, 1, 1, 1, 1, 1}

	if !reflect.DeepEqual(data[:count], expData) {
		t.Error("expected: ", expData)
		t.Error("got     : ", data[:count])
	}
}

type dataSourceSilent struct{}

func (ds *dataSourceSilent) Read(_ []byte) (int, error) {
	time.Sleep(1000 * time.Hour)
	return 0, nil
}

func TestReaderTimeout(t *testing.T) {
	reader := NewReader(&dataSourceSilent{}, 200*time.Millisecond, 10*time.Millisecond)

	start := time.Now()
	count, err := reader.Read(make([]byte, 100))
	dur := time.Since(start)

	if err != ErrorTimeout {
		t.Error("expected timeout error, got: ", err)
	}

	if dur < 150*time.Millisecond || dur > 500*time.Millisecond {
		t.Error("expected dur to be around 200ms: ", dur)
	}

	if count != 0 {
		t.Error("expected count to be 0: ", count)
	}
}

type eofSource struct{}

func (e *eofSource) Read(_ []byte) (int, error) {
	return 0, io.EOF
}

func TestReaderEOF(t *testing.T) {
	reader := NewReader(&eofSource{}, time.Second, 10*time.Millisecond)
	_, err := reader.Read(make([]byte, 10))
	if err != io.EOF {
		t.Fatal("expected EOF, got: ", err)
	}
}

func TestLines(t *testing.T) {
	got := Lines([]byte("\r\nCALLER NUMBER: 5550000\r\n\r\nRING/300\r\n"))
	exp := []string{"CALLER NUMBER: 5550000", "RING/300"}
	if !reflect.DeepEqual(got, exp) {
		t.Errorf("expected %q, got %q", exp, got)
	}

	if len(Lines([]byte("\r\n \r\n"))) != 0 {
		t.Error("blank burst should have no lines")
	}
}
