package alert

import "strings"

// Kind is the closed set of alert classifications.
//
// Canonicalization happens once at ingestion (see Canonical); the rest of
// the pipeline never re-derives a kind from a raw label.
type Kind string

const (
	KindOutOfRange Kind = "out_of_range"
	KindLowBattery Kind = "low_battery"
	KindInactivity Kind = "inactivity"
	KindUnknown    Kind = "unknown"
)

// Canonical maps a raw backend label to a Kind.
//
// Legacy labels "out" and "out_of_zone" both mean out-of-range; anything
// unrecognized becomes KindUnknown and is filtered downstream instead of
// being shown with a blank description.
func Canonical(raw string) Kind {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "out", "out_of_zone", "out_of_range":
		return KindOutOfRange
	case "low_battery", "battery_low":
		return KindLowBattery
	case "inactivity", "inactive":
		return KindInactivity
	default:
		return KindUnknown
	}
}

// ParseKind maps a config value to a Kind. Unlike Canonical it accepts only
// canonical names: config typos should fail validation, not degrade to Unknown.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindOutOfRange:
		return KindOutOfRange, true
	case KindLowBattery:
		return KindLowBattery, true
	case KindInactivity:
		return KindInactivity, true
	default:
		return KindUnknown, false
	}
}
