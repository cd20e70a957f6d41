package models

import "testing"

func TestFingerprintOrderIndependent(t *testing.T) {
	a := []SpecSection{
		{Category: "Network", Fields: []SpecField{
			{Name: "Technology", Value: "GSM"},
			{Name: "Speed", Value: "HSPA"},
		}},
		{Category: "Display", Fields: []SpecField{
			{Name: "Type", Value: "OLED"},
		}},
	}
	b := []SpecSection{
		{Category: "Display", Fields: []SpecField{
			{Name: "Type", Value: "OLED"},
		}},
		{Category: "Network", Fields: []SpecField{
			{Name: "Speed", Value: "HSPA"},
			{Name: "Technology", Value: "GSM"},
		}},
	}

	if Fingerprint(a) != Fingerprint(b) {
		t.Fatalf("structurally identical specs should fingerprint equal")
	}
}

func TestFingerprintDetectsContentChange(t *testing.T) {
	base := []SpecSection{
		{Category: "Battery", Fields: []SpecField{{Name: "Type", Value: "5000 mAh"}}},
	}
	changed := []SpecSection{
		{Category: "Battery", Fields: []SpecField{{Name: "Type", Value: "4500 mAh"}}},
	}

	if Fingerprint(base) == Fingerprint(changed) {
		t.Fatalf("different values should fingerprint differently")
	}
	if Fingerprint(nil) != Fingerprint([]SpecSection{}) {
		t.Fatalf("nil and empty specs should fingerprint equal")
	}
}

func TestDeviceIDFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"http://catalog.test/acme_phone_x-1234.php", "acme_phone_x-1234"},
		{"https://www.gsmarena.com/acme_phone_x-1234.php", "acme_phone_x-1234"},
		{"http://catalog.test/sub/Acme_One-7.php", "acme_one-7"},
		{"acme_two-8.php", "acme_two-8"},
	}
	for _, tt := range tests {
		if got := DeviceIDFromURL(tt.url); got != tt.want {
			t.Fatalf("DeviceIDFromURL(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestBrandIDFromName(t *testing.T) {
	if got := BrandIDFromName("  Acme Mobile "); got != "acme_mobile" {
		t.Fatalf("brand id = %q", got)
	}
}

func TestTaskStateString(t *testing.T) {
	states := map[TaskState]string{
		TaskPending:   "pending",
		TaskInFlight:  "in_flight",
		TaskRetrying:  "retrying",
		TaskSucceeded: "succeeded",
		TaskFailed:    "failed",
	}
	for state, want := range states {
		if got := state.String(); got != want {
			t.Fatalf("state %d = %q, want %q", state, got, want)
		}
	}
}
