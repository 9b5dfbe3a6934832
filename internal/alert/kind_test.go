package alert

import "testing"

func TestCanonicalLabels(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Kind
	}{
		{raw: "out", want: KindOutOfRange},
		{raw: "out_of_zone", want: KindOutOfRange},
		{raw: "out_of_range", want: KindOutOfRange},
		{raw: " OUT ", want: KindOutOfRange},
		{raw: "low_battery", want: KindLowBattery},
		{raw: "battery_low", want: KindLowBattery},
		{raw: "inactivity", want: KindInactivity},
		{raw: "inactive", want: KindInactivity},
		{raw: "", want: KindUnknown},
		{raw: "geofence_breach_v2", want: KindUnknown},
	}
	for _, tt := range tests {
		if got := Canonical(tt.raw); got != tt.want {
			t.Fatalf("Canonical(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func TestParseKindRejectsLegacyLabels(t *testing.T) {
	t.Parallel()
	if _, ok := ParseKind("out"); ok {
		t.Fatal("ParseKind must not accept legacy labels")
	}
	if k, ok := ParseKind("out_of_range"); !ok || k != KindOutOfRange {
		t.Fatalf("ParseKind(out_of_range) = %s, %v", k, ok)
	}
	if _, ok := ParseKind("unknown"); ok {
		t.Fatal("ParseKind must not accept unknown as a notifiable kind")
	}
}
