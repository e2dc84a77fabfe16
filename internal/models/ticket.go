package models

import "time"

type Ticket struct {
	TicketID       string     `json:"ticket_id"`
	SequenceNumber int        `json:"sequence_number"`
	AreaID         string     `json:"area_id"`
	RoomID         string     `json:"room_id"`
	PatientID      *string    `json:"patient_id,omitempty"`
	Status         string     `json:"status"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
	CalledAt       *time.Time `json:"called_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalling   = "calling"
	StatusAttended  = "attended"
	StatusCancelled = "cancelled"
	StatusNoShow    = "no_show"
)

// Terminal reports whether status has no outgoing transitions.
func Terminal(status string) bool {
	switch status {
	case StatusAttended, StatusCancelled, StatusNoShow:
		return true
	default:
		return false
	}
}
