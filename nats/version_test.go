package nats

import "testing"

func TestCompatible(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{APIVersion, true},
		{"1.0.0", true},
		{"v1.9", true},
		{"2.0.0", false},
		{"0.9.1", false},
		{"latest", false},
	}

	for _, test := range tests {
		_, err := Compatible(test.version)
		if (err == nil) != test.ok {
			t.Errorf("%v: expected ok %v, got err %v", test.version, test.ok, err)
		}
	}
}
