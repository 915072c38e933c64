package protocol

import "testing"

func TestClampDecimalPlaces(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-5, 0},
		{0, 0},
		{7, 7},
		{15, 15},
		{16, 15},
		{1000, 15},
	}
	for _, tt := range tests {
		if got := ClampDecimalPlaces(tt.in); got != tt.want {
			t.Errorf("ClampDecimalPlaces(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestGetDecimalPlaces(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"not a number", 0},
		{"42", 0},
		{"42.5", 1},
		{"42.50", 1},
		{"42.1234", 4},
		{"42.000", 0},
	}
	for _, tt := range tests {
		if got := GetDecimalPlaces(tt.in); got != tt.want {
			t.Errorf("GetDecimalPlaces(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFilterSelectedPreservesOrder(t *testing.T) {
	records := []SensorRecord{
		{UniqueSensorKey: "a"},
		{UniqueSensorKey: "b"},
		{UniqueSensorKey: "c"},
	}
	got := FilterSelected(records, []string{"c", "a"})
	if len(got) != 2 || got[0].UniqueSensorKey != "a" || got[1].UniqueSensorKey != "c" {
		t.Errorf("FilterSelected = %+v, want [a c] in original order", got)
	}
}

func TestIsPluginCollector(t *testing.T) {
	if !IsPluginCollector("acme.weather") {
		t.Error("expected acme.weather to be a plugin collector")
	}
	if IsPluginCollector("system-metrics") {
		t.Error("expected system-metrics (no dot) to be a native built-in")
	}
}

func TestValidatePluginIdentifier(t *testing.T) {
	tests := []struct {
		name string
		ok   bool
	}{
		{"acme.weather", true},
		{"acme-corp.smart-hub", true},
		{"system-metrics", true}, // native built-in, not subject to rule
		{"Acme.Weather", false},
		{"acme.", false},
		{".weather", false},
		{"acme..weather", false},
		{"acme.weather.extra", false},
	}
	for _, tt := range tests {
		if got := ValidatePluginIdentifier(tt.name); got != tt.ok {
			t.Errorf("ValidatePluginIdentifier(%q) = %v, want %v", tt.name, got, tt.ok)
		}
	}
}
