package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorClasses(t *testing.T) {
	cases := []struct {
		err    error
		usage  bool
		device bool
	}{
		{ErrNoActiveEncoder, true, false},
		{fmt.Errorf("render system 'main': %w", ErrSlotOutOfRange), true, false},
		{fmt.Errorf("%w: %w", ErrFrameAborted, ErrNoActiveEncoder), true, true},
		{fmt.Errorf("%w: %w", ErrDeviceLost, errors.New("removed")), false, true},
		{ErrObjectCreation, false, true},
		{errors.New("plain"), false, false},
		{nil, false, false},
	}
	for _, tc := range cases {
		if got := IsUsageError(tc.err); got != tc.usage {
			t.Errorf("IsUsageError(%v): got %t, want %t", tc.err, got, tc.usage)
		}
		if got := IsDeviceError(tc.err); got != tc.device {
			t.Errorf("IsDeviceError(%v): got %t, want %t", tc.err, got, tc.device)
		}
	}
}
