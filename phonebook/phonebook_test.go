package phonebook

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/simpleiot/dialnet/phys"
)

func TestWildmat(t *testing.T) {
	tests := []struct {
		s, pattern string
		exp        bool
	}{
		{"12345", "1??45", true},
		{"12345", "1[0-2]345", true},
		{"19345", "1[0-2]345", false},
		{"12345", "1*5", true},
		{"15", "1*5", true},
		{"1234", "1*5", false},
		{"444-1212", "555*", false},
		{"5551212", "555*", true},
		{"19345", "1[^0-2]345", true},
		{"12345", "1[!0-2]345", false},
		{"1*5", "1\\*5", true},
		{"125", "1\\*5", false},
		{"12345", "12345", true},
		{"12345", "1234", false},
		{"1234", "12345", false},
		{"1]", "1[]]", true},
		{"12", "1[2", false},
		{"", "*", true},
		{"", "?", false},
	}

	for _, test := range tests {
		if got := Wildmat(test.s, test.pattern); got != test.exp {
			t.Errorf("Wildmat(%q, %q) = %v, expected %v", test.s, test.pattern,
				got, test.exp)
		}
	}
}

func TestMatchesIncoming(t *testing.T) {
	b := New()
	for _, p := range []string{"1??45", "555*"} {
		if err := b.Add(p, In); err != nil {
			t.Fatal(err)
		}
	}

	if !b.MatchesIncoming("12345", true) {
		t.Error("12345 should match 1??45")
	}
	if b.MatchesIncoming("444-1212", true) {
		t.Error("444-1212 should not match")
	}
	if !b.MatchesIncoming("444-1212", false) {
		t.Error("non secure interfaces accept every caller")
	}
}

func TestMatchLocalEAZ(t *testing.T) {
	tests := []struct {
		called, msn string
		si          phys.ServiceIndicator
		exp         bool
	}{
		{"300", "300", phys.SIData, true},
		{"300", "300", phys.SIVoice, false},
		{"300", "v300", phys.SIVoice, true},
		{"300", "V300", phys.SIData, false},
		{"300", "b300", phys.SIData, true},
		{"300", "B300", phys.SIVoice, true},
		{"300", "301", phys.SIData, false},
		{"300", "30?", phys.SIData, true},
		{"300:1", "300:2", phys.SIData, true},
		{"300", "300", phys.ServiceIndicator(2), false},
		{"300", "", phys.SIVoice, false},
	}

	for _, test := range tests {
		got := MatchLocalEAZ(test.called, test.msn, test.si)
		if got != test.exp {
			t.Errorf("MatchLocalEAZ(%q, %q, %v) = %v, expected %v", test.called,
				test.msn, test.si, got, test.exp)
		}
	}
}

func TestStripMSN(t *testing.T) {
	for in, exp := range map[string]string{"b300": "300", "V300": "300",
		"300": "300", "300:7": "300", "": ""} {
		if got := StripMSN(in); got != exp {
			t.Errorf("StripMSN(%q) = %q, expected %q", in, got, exp)
		}
	}
}

func TestNextOutgoing(t *testing.T) {
	b := New()

	if _, _, err := b.NextOutgoing(Cursor{}); !errors.Is(err, ErrEmpty) {
		t.Fatal("expected ErrEmpty: ", err)
	}

	numbers := []string{"5551212", "5551213", "5551214"}
	for _, n := range numbers {
		if err := b.Add(n, Out); err != nil {
			t.Fatal(err)
		}
	}

	var c Cursor
	var got []string
	for i := 0; i < 2*len(numbers); i++ {
		var n string
		var err error
		n, c, err = b.NextOutgoing(c)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, n)
		if i == len(numbers)-1 && c.Cycles != 1 {
			t.Fatal("one full pass should count one cycle: ", c)
		}
	}

	exp := append(append([]string{}, numbers...), numbers...)
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Fatal("round robin order (-exp +got):\n", diff)
	}

	if c.Cycles != 2 {
		t.Fatal("expected 2 cycles: ", c)
	}

	// cursor past the end after a removal restarts at the head
	if err := b.Remove("5551214", Out); err != nil {
		t.Fatal(err)
	}
	n, _, _ := b.NextOutgoing(Cursor{Pos: 2})
	if n != "5551212" {
		t.Fatal("expected head of list: ", n)
	}
}

func TestAddRemove(t *testing.T) {
	b := New()

	for _, n := range []string{"", "123 45", "555*", "123456789012345678901234567890123"} {
		if err := b.Add(n, Out); !errors.Is(err, ErrInvalidNumber) {
			t.Errorf("Add(%q) should fail, got: %v", n, err)
		}
	}

	if err := b.Add("555*", In); err != nil {
		t.Fatal("patterns are allowed in the incoming list: ", err)
	}
	if err := b.Add("555*", In); err != nil {
		t.Fatal(err)
	}
	if b.Len(In) != 1 {
		t.Fatal("duplicate should be ignored")
	}

	if err := b.Remove("999", In); !errors.Is(err, ErrNotFound) {
		t.Fatal("expected not found: ", err)
	}

	b.Clear(In)
	if len(b.Numbers(In)) != 0 {
		t.Fatal("clear failed")
	}
}
