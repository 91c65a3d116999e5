package model

import "strings"

// Known status values. Any other upper-cased string is accepted as-is.
const (
	StatusProgramado = "PROGRAMADO"
	StatusCargando   = "CARGANDO"
	StatusFacturado  = "FACTURADO"
	StatusCancelado  = "CANCELADO"
)

// Descriptive attribute names carried through unchanged.
const (
	AttrShift       = "shift"
	AttrCapacity    = "capacity"
	AttrEstimatedAt = "estimatedAt"
	AttrBilledAt    = "billedAt"
)

// Record is one shipment/order row after normalization.
type Record struct {
	Destination string            `json:"destination"`
	OrderFolio  string            `json:"orderFolio,omitempty"`
	Product     string            `json:"product"`
	Date        Date              `json:"date"`
	Status      string            `json:"status"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// GoldenRecord is the deduplicated record set persisted between uploads.
type GoldenRecord []Record

// ChangeEvent is a detected status transition for one key. PreviousStatus is
// nil when the key was not present in the previous state.
type ChangeEvent struct {
	Key            Key     `json:"key"`
	Destination    string  `json:"destination"`
	Product        string  `json:"product"`
	Date           Date    `json:"date"`
	PreviousStatus *string `json:"previousStatus,omitempty"`
	NewStatus      string  `json:"newStatus"`
}

// FirstSeen reports whether the event is the first appearance of its key.
func (e ChangeEvent) FirstSeen() bool { return e.PreviousStatus == nil }

// Subscription maps a destination short id to a notification target.
type Subscription struct {
	ShortID string `json:"shortId"`
	Target  string `json:"target"`
}

// MergeMode selects how the incoming snapshot combines with the previous state.
type MergeMode string

const (
	MergeCumulative MergeMode = "cumulative"
	MergeReplace    MergeMode = "replace"
)

// ParseMergeMode accepts "cumulative" or "replace" (case-insensitive).
func ParseMergeMode(s string) (MergeMode, bool) {
	switch MergeMode(strings.ToLower(strings.TrimSpace(s))) {
	case MergeCumulative:
		return MergeCumulative, true
	case MergeReplace:
		return MergeReplace, true
	}
	return "", false
}

// Canon trims and upper-cases a key or status value.
func Canon(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// IsTerminal reports whether status is eligible for retention eviction.
func IsTerminal(status string) bool {
	switch Canon(status) {
	case StatusFacturado, StatusCancelado:
		return true
	}
	return false
}

// ShortID returns the destination portion before its first '-', normalized.
func ShortID(destination string) string {
	d := strings.TrimSpace(destination)
	if i := strings.IndexByte(d, '-'); i >= 0 {
		d = d[:i]
	}
	return Canon(d)
}
