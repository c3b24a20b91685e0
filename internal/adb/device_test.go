package adb

import "testing"

func TestIsTerminal(t *testing.T) {
	cases := []struct {
		name   string
		output string
		err    error
		want   bool
	}{
		{"nil error", "anything", nil, false},
		{"install invalid apk", "Failure [INSTALL_FAILED_INVALID_APK]", errBoom, true},
		{"transient exit", "error: device offline", errBoom, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isTerminal(tc.output, tc.err); got != tc.want {
				t.Errorf("isTerminal(%q) = %v, want %v", tc.output, got, tc.want)
			}
		})
	}
}

var errBoom = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

func TestNewDevicePanicsOnEmptySerial(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for empty serial")
		}
	}()
	NewDevice("", Options{})
}
