package store

import (
	"context"
	"encoding/json"
	"time"

	"mediqueue/internal/models"
)

type CreateTicketInput struct {
	// Exactly one of AreaID or RoomID is set. With AreaID the store picks
	// the first available room of that area; with RoomID the ticket queues
	// on that room regardless of availability.
	AreaID    string
	RoomID    string
	PatientID string
	CreatedAt time.Time
}

type CallNextInput struct {
	RoomID   string
	CalledAt time.Time
}

type ResolveInput struct {
	TicketID   string
	Outcome    string
	ResolvedAt time.Time
}

// QueueEntry is the public waiting-room projection of a ticket.
type QueueEntry struct {
	SequenceNumber int    `json:"sequence_number"`
	RoomNumber     int    `json:"room"`
	AreaName       string `json:"area"`
	Status         string `json:"state"`
}

type DailyStats struct {
	Waiting   int `json:"waiting"`
	Calling   int `json:"calling"`
	Attended  int `json:"attended"`
	Cancelled int `json:"cancelled"`
	NoShow    int `json:"no_show"`
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Session struct {
	SessionID string
	UserID    string
	Staff     bool
	ExpiresAt time.Time
}

type TicketStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	CallNext(ctx context.Context, input CallNextInput) (models.Ticket, error)
	ResolveTicket(ctx context.Context, input ResolveInput) (models.Ticket, error)
	DeleteTicket(ctx context.Context, ticketID string, hard bool) error

	RoomAvailable(ctx context.Context, roomID string) (bool, error)
	FindAvailableRoom(ctx context.Context, areaID string) (models.Room, error)

	QueueSnapshot(ctx context.Context) ([]QueueEntry, error)
	NowCalling(ctx context.Context) (models.Ticket, bool, error)
	Recap(ctx context.Context, limit int) ([]models.Ticket, error)
	Stats(ctx context.Context) (DailyStats, error)

	ResolveArea(ctx context.Context, areaID string) (models.Area, error)
	ResolveRoom(ctx context.Context, roomID string) (models.Room, error)
	ResolvePatient(ctx context.Context, patientID string) (models.Patient, error)

	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
}
