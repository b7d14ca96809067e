package domain

import (
	"testing"
	"time"
)

func TestIntervalDuration(t *testing.T) {
	tests := []struct {
		in      Interval
		want    time.Duration
		wantErr bool
	}{
		{"1m", time.Minute, false},
		{"4h", 4 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7x", 0, true},
	}
	for _, tt := range tests {
		got, err := tt.in.Duration()
		if (err != nil) != tt.wantErr {
			t.Fatalf("%s: err=%v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("%s: Duration=%v, expected %v", tt.in, got, tt.want)
		}
	}
}

func TestSideOpposite(t *testing.T) {
	if SideLong.Opposite() != SideShort || SideShort.Opposite() != SideLong {
		t.Fatalf("Opposite mismatch")
	}
	if Side("FLAT").Valid() {
		t.Fatalf("FLAT should be invalid")
	}
}
