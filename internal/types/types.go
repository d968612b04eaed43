package types

import "time"

// EventKind identifies what happened to a calculation.
type EventKind string

const (
	EventCalculated EventKind = "calculated"
	EventViewed     EventKind = "viewed"
)

// Event is the envelope published on the event bus after a calculation is
// saved or viewed.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	ID        string    `json:"id"`
	Type      InputType `json:"type"`
	Input     string    `json:"input"`
	NBMax     float64   `json:"nb_max"`
	NBMin     float64   `json:"nb_min"`
	ViewCount int       `json:"view_count"`
}

// EventOf builds an event of kind k describing rec.
func EventOf(k EventKind, rec Record, at time.Time) Event {
	return Event{
		Kind:      k,
		Timestamp: at,
		ID:        rec.ID,
		Type:      rec.Type,
		Input:     rec.Input,
		NBMax:     rec.NBMax,
		NBMin:     rec.NBMin,
		ViewCount: rec.ViewCount,
	}
}
