package main

import "testing"

func TestParseOlderThanDays(t *testing.T) {
	tests := []struct {
		input    string
		expected int
		wantErr  bool
	}{
		{"30", 30, false},
		{"0", 0, false},
		{"30d", 30, false},
		{"4w", 28, false},
		{"1y", 365, false},
		{"24h", 1, false},
		{"-5", 0, true},
		{"12h", 0, true},
		{"90s", 0, true},
		{"", 0, true},
		{"soon", 0, true},
	}

	for _, tt := range tests {
		got, err := parseOlderThanDays(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseOlderThanDays(%q): expected error, got %d", tt.input, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseOlderThanDays(%q): unexpected error: %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("parseOlderThanDays(%q): expected %d, got %d", tt.input, tt.expected, got)
		}
	}
}

func TestRemovedCount(t *testing.T) {
	removed := map[string][]string{
		"treasures": {"a.json", "b.json"},
		"shadows":   {"c.json"},
		"voids":     {},
	}
	if got := removedCount(removed); got != 3 {
		t.Errorf("expected 3 removed files, got %d", got)
	}
	if got := removedCount(nil); got != 0 {
		t.Errorf("expected 0 for nil map, got %d", got)
	}
}
