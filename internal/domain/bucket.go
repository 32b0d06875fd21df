package domain

import "time"

// Bucket is one fixed-width time slot of an aggregated series. Value is the
// last signal observed inside the slot.
type Bucket struct {
	SlotStart time.Time `json:"slotStart"`
	Value     float64   `json:"value"`
}
