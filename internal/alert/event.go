package alert

import "time"

// Event is a normalized notification candidate.
//
// ID is the stable identifier of the underlying alert record; CreatedAt is
// the relative-age reference and never changes after creation, UpdatedAt is
// informational only.
type Event struct {
	ID        string
	OwnerID   string
	DeviceID  string
	Kind      Kind
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Record is the wire shape of an alert row as published by the backend's
// change feed.
type Record struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	DeviceID  string    `json:"device_id"`
	TypeAlert string    `json:"type_alert"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event normalizes the record, canonicalizing the raw type label.
func (r Record) Event() Event {
	return Event{
		ID:        r.ID,
		OwnerID:   r.UserID,
		DeviceID:  r.DeviceID,
		Kind:      Canonical(r.TypeAlert),
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}
