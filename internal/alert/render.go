package alert

import (
	"fmt"
	"time"
)

// Rendered holds the fixed per-kind notification strings.
type Rendered struct {
	Title string
	Body  string
}

// Render returns the notification copy for a kind. Unknown kinds fall back
// to a generic message rather than rendering blank.
func (k Kind) Render() Rendered {
	switch k {
	case KindOutOfRange:
		return Rendered{
			Title: "Animal outside safe zone",
			Body:  "A tracked animal has left its geofence.",
		}
	case KindLowBattery:
		return Rendered{
			Title: "Tracker battery low",
			Body:  "A tracker's battery is running low and needs charging.",
		}
	case KindInactivity:
		return Rendered{
			Title: "No recent movement",
			Body:  "A tracked animal has not moved for a while.",
		}
	default:
		return Rendered{
			Title: "New alert",
			Body:  "You have a new alert.",
		}
	}
}

// RelativeAge formats "time since createdAt" bucketed as seconds, minutes
// or hours. There is no days bucket: alerts are expected to be dismissed or
// superseded well before a day elapses, and one that persists that long is
// still shown in hours.
func RelativeAge(createdAt, now time.Time) string {
	d := now.Sub(createdAt)
	if d < time.Second {
		return "just now"
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
