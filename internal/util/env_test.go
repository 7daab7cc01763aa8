package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"OFF", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("TRIAGEPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("TRIAGEPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 5},
		{"8", 8},
		{" 12 ", 12},
		{"0", 5},
		{"-3", 5},
		{"ten", 5},
	}
	for _, tt := range tests {
		t.Setenv("TRIAGEPIPE_TEST_INT", tt.value)
		if got := ParseIntEnv("TRIAGEPIPE_TEST_INT", 5); got != tt.want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 30 * time.Minute},
		{"45m", 45 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{"-1m", 30 * time.Minute},
		{"soon", 30 * time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("TRIAGEPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("TRIAGEPIPE_TEST_DURATION", 30*time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %s, want %s", tt.value, got, tt.want)
		}
	}
}
