package nats

import (
	"errors"
	"fmt"
	"testing"

	"github.com/simpleiot/dialnet/dial"
	"github.com/simpleiot/dialnet/phonebook"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		code     string
	}{
		{fmt.Errorf("master: %w", dial.ErrUnknownInterface), dial.ErrUnknownInterface, "unknown-interface"},
		{fmt.Errorf("%w: isdn0", dial.ErrConfigBusy), dial.ErrConfigBusy, "config-busy"},
		{phonebook.ErrInvalidNumber, dial.ErrInvalidNumber, "invalid-number"},
		{errors.New("something else"), nil, ""},
	}

	for _, test := range tests {
		code := errorCode(test.err)
		if code != test.code {
			t.Errorf("%v: expected code %q, got %q", test.err, test.code, code)
			continue
		}

		got := decodeError(test.err.Error(), code)
		if got.Error() != test.err.Error() {
			t.Errorf("message changed: %q -> %q", test.err, got)
		}
		if test.sentinel != nil && !errors.Is(got, test.sentinel) {
			t.Errorf("%v: sentinel lost", test.err)
		}
	}

	if decodeError("", "busy") != nil {
		t.Error("empty message should decode to nil")
	}
}
