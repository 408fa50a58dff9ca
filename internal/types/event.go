package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guildtools/herald/internal/herr"
)

// EventStatus is the lifecycle state of an event record.
type EventStatus string

const (
	StatusPlanned   EventStatus = "Planned"
	StatusConfirmed EventStatus = "Confirmed"
	StatusClosed    EventStatus = "Closed"
	StatusCanceled  EventStatus = "Canceled"
)

// Valid reports whether s is a known status.
func (s EventStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusConfirmed, StatusClosed, StatusCanceled:
		return true
	}
	return false
}

// Marker identifies one of the three registration sets.
type Marker string

const (
	MarkerPresence  Marker = "presence"
	MarkerTentative Marker = "tentative"
	MarkerAbsence   Marker = "absence"
)

// RegistrationBook holds the three disjoint member-id sets of an
// event. A member id appears in at most one set; Assign enforces the
// invariant by removing the member from the other two first.
type RegistrationBook struct {
	Presence  []string `json:"presence"`
	Tentative []string `json:"tentative"`
	Absence   []string `json:"absence"`
}

// NewRegistrationBook returns an empty book with non-nil sets.
func NewRegistrationBook() *RegistrationBook {
	return &RegistrationBook{
		Presence:  []string{},
		Tentative: []string{},
		Absence:   []string{},
	}
}

func (b *RegistrationBook) set(m Marker) *[]string {
	switch m {
	case MarkerPresence:
		return &b.Presence
	case MarkerTentative:
		return &b.Tentative
	default:
		return &b.Absence
	}
}

// Members returns a copy of the set behind m.
func (b *RegistrationBook) Members(m Marker) []string {
	s := *b.set(m)
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// Clone returns a deep copy. Mutating protocols copy the cached book,
// persist the copy, and only then publish it back.
func (b *RegistrationBook) Clone() *RegistrationBook {
	out := NewRegistrationBook()
	out.Presence = append(out.Presence, b.Presence...)
	out.Tentative = append(out.Tentative, b.Tentative...)
	out.Absence = append(out.Absence, b.Absence...)
	return out
}

// Assign moves memberID into the m set, removing it from the other
// two. Idempotent. Returns the markers the member was removed from.
func (b *RegistrationBook) Assign(memberID string, m Marker) []Marker {
	var removedFrom []Marker
	for _, other := range []Marker{MarkerPresence, MarkerTentative, MarkerAbsence} {
		if other == m {
			continue
		}
		if b.Remove(memberID, other) {
			removedFrom = append(removedFrom, other)
		}
	}
	s := b.set(m)
	for _, id := range *s {
		if id == memberID {
			return removedFrom
		}
	}
	*s = append(*s, memberID)
	return removedFrom
}

// Remove deletes memberID from the m set, reporting whether it was
// present.
func (b *RegistrationBook) Remove(memberID string, m Marker) bool {
	s := b.set(m)
	for i, id := range *s {
		if id == memberID {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether memberID is in any of the three sets.
func (b *RegistrationBook) Contains(memberID string) bool {
	for _, m := range []Marker{MarkerPresence, MarkerTentative, MarkerAbsence} {
		for _, id := range *b.set(m) {
			if id == memberID {
				return true
			}
		}
	}
	return false
}

// Registered returns presence ∪ tentative ∪ absence.
func (b *RegistrationBook) Registered() []string {
	out := make([]string, 0, len(b.Presence)+len(b.Tentative)+len(b.Absence))
	out = append(out, b.Presence...)
	out = append(out, b.Tentative...)
	out = append(out, b.Absence...)
	return out
}

// MarshalBook serializes the book for the registrations JSON column.
func MarshalBook(b *RegistrationBook) ([]byte, error) {
	if b == nil {
		b = NewRegistrationBook()
	}
	return json.Marshal(b)
}

// UnmarshalBook parses a registrations column value under a strict
// schema. Malformed blobs surface herr.ErrMalformedRow so the loader
// can flag the row for manual repair instead of coercing it.
func UnmarshalBook(raw []byte) (*RegistrationBook, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty registrations blob", herr.ErrMalformedRow)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var b RegistrationBook
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: registrations: %v", herr.ErrMalformedRow, err)
	}
	if b.Presence == nil {
		b.Presence = []string{}
	}
	if b.Tentative == nil {
		b.Tentative = []string{}
	}
	if b.Absence == nil {
		b.Absence = []string{}
	}
	seen := make(map[string]Marker)
	for _, m := range []Marker{MarkerPresence, MarkerTentative, MarkerAbsence} {
		for _, id := range *b.set(m) {
			if prev, dup := seen[id]; dup {
				return nil, fmt.Errorf("%w: member %s in both %s and %s", herr.ErrMalformedRow, id, prev, m)
			}
			seen[id] = m
		}
	}
	return &b, nil
}

// UnmarshalIDList parses a JSON array of member ids (initial_members,
// actual_presence columns) strictly.
func UnmarshalIDList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty id list blob", herr.ErrMalformedRow)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("%w: id list: %v", herr.ErrMalformedRow, err)
	}
	return ids, nil
}

// MarshalIDList serializes a member-id list for the JSON array columns.
func MarshalIDList(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// EventRecord is one events_data row plus its registration book.
type EventRecord struct {
	GuildID        string
	EventID        string
	Name           string
	Date           time.Time // calendar date of the event
	StartTime      string    // "HH:MM"
	Duration       int       // minutes
	DKPValue       int
	DKPIns         int
	Status         EventStatus
	Book           *RegistrationBook
	InitialMembers []string
	ActualPresence []string
	GameID         int64
}

// StartAt combines date and start time in loc.
func (e *EventRecord) StartAt(loc *time.Location) time.Time {
	var hh, mm int
	fmt.Sscanf(e.StartTime, "%d:%d", &hh, &mm)
	return time.Date(e.Date.Year(), e.Date.Month(), e.Date.Day(), hh, mm, 0, 0, loc)
}

// EndAt is StartAt plus the duration.
func (e *EventRecord) EndAt(loc *time.Location) time.Time {
	return e.StartAt(loc).Add(time.Duration(e.Duration) * time.Minute)
}
