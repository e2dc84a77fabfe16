package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"mediqueue/internal/models"
	"mediqueue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// todayUTC is the day scope for read queries. The tickets.day column is
// derived from UTC timestamps on insert, so reads must not compare against
// CURRENT_DATE, which follows the session TimeZone.
func todayUTC() string {
	return time.Now().UTC().Format("2006-01-02")
}

func scanTicket(row rowScanner, ticket *models.Ticket) error {
	var patientIDNull sql.NullString
	var calledAtNull sql.NullTime
	var resolvedAtNull sql.NullTime
	if err := row.Scan(
		&ticket.TicketID, &ticket.SequenceNumber, &ticket.AreaID, &ticket.RoomID,
		&patientIDNull, &ticket.Status, &ticket.Active, &ticket.CreatedAt,
		&calledAtNull, &resolvedAtNull,
	); err != nil {
		return err
	}
	ticket.PatientID = nullStringPtr(patientIDNull)
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.ResolvedAt = nullTimePtr(resolvedAtNull)
	return nil
}

// nextSequenceNumber is the per-(area, day) monotonic counter. The upsert
// locks the counter row, so concurrent creations for one area serialize here
// while different areas proceed independently.
func nextSequenceNumber(ctx context.Context, tx pgx.Tx, areaID, day string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (area_id, day, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (area_id, day)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`, areaID, day)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// lockAvailableRoom picks the lowest-numbered room of the area with no
// waiting or calling ticket today. SKIP LOCKED keeps two concurrent
// creations from racing onto the same room.
func lockAvailableRoom(ctx context.Context, tx pgx.Tx, areaID, day string) (models.Room, error) {
	var room models.Room
	row := tx.QueryRow(ctx, `
		SELECT r.room_id, r.area_id, r.number, r.name
		FROM rooms r
		WHERE r.area_id = $1 AND NOT EXISTS (
			SELECT 1 FROM tickets t
			WHERE t.room_id = r.room_id AND t.active AND t.day = $2
				AND t.status IN ($3, $4)
		)
		ORDER BY r.number ASC
		FOR UPDATE OF r SKIP LOCKED
		LIMIT 1
	`, areaID, day, models.StatusWaiting, models.StatusCalling)
	if err := row.Scan(&room.RoomID, &room.AreaID, &room.Number, &room.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, store.ErrNoRoomAvailable
		}
		return models.Room{}, err
	}
	return room, nil
}

func resolveAreaTx(ctx context.Context, tx pgx.Tx, areaID string) (models.Area, error) {
	var area models.Area
	row := tx.QueryRow(ctx, `SELECT area_id, name FROM areas WHERE area_id = $1`, areaID)
	if err := row.Scan(&area.AreaID, &area.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Area{}, store.ErrAreaNotFound
		}
		return models.Area{}, err
	}
	return area, nil
}

func resolveRoomTx(ctx context.Context, tx pgx.Tx, roomID string) (models.Room, error) {
	var room models.Room
	row := tx.QueryRow(ctx, `SELECT room_id, area_id, number, name FROM rooms WHERE room_id = $1`, roomID)
	if err := row.Scan(&room.RoomID, &room.AreaID, &room.Number, &room.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, store.ErrRoomNotFound
		}
		return models.Room{}, err
	}
	return room, nil
}

func resolvePatientTx(ctx context.Context, tx pgx.Tx, patientID string) (models.Patient, error) {
	var patient models.Patient
	row := tx.QueryRow(ctx, `SELECT patient_id, full_name FROM patients WHERE patient_id = $1`, patientID)
	if err := row.Scan(&patient.PatientID, &patient.FullName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	return patient, nil
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload := map[string]interface{}{
		"ticket_id":       ticket.TicketID,
		"sequence_number": ticket.SequenceNumber,
		"area_id":         ticket.AreaID,
		"room_id":         ticket.RoomID,
		"patient_id":      ticket.PatientID,
		"status":          ticket.Status,
		"created_at":      ticket.CreatedAt,
		"called_at":       ticket.CalledAt,
		"resolved_at":     ticket.ResolvedAt,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, time.Now().UTC())
	return err
}

func allowedFrom(action string) []string {
	var from []string
	for _, status := range []string{
		models.StatusWaiting, models.StatusCalling,
		models.StatusAttended, models.StatusCancelled, models.StatusNoShow,
	} {
		if store.ValidTransition(action, status) {
			from = append(from, status)
		}
	}
	return from
}

// retryable decides whether a failed transaction is worth one more attempt.
// Business outcomes and caller cancellation are not; transient storage
// failures are.
func retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	for _, sentinel := range []error{
		store.ErrAreaNotFound, store.ErrRoomNotFound, store.ErrPatientNotFound,
		store.ErrTicketNotFound, store.ErrNoRoomAvailable, store.ErrNoTicketWaiting,
		store.ErrInvalidTransition, store.ErrSessionNotFound,
	} {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
