package connector

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateStarting, StateReading, true},
		{StateStarting, StateDraining, false},
		{StateReading, StateRateLimited, true},
		{StateReading, StateReconnecting, true},
		{StateReading, StateDraining, true},
		{StateRateLimited, StateReading, true},
		{StateRateLimited, StateStopped, false},
		{StateReconnecting, StateReading, true},
		{StateDraining, StateStopped, true},
		{StateDraining, StateReading, false},
		{StateStopped, StateReading, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
