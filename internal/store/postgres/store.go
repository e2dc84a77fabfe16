package postgres

import (
	"context"
	"errors"
	"time"

	"mediqueue/internal/models"
	"mediqueue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	ticket, err := s.createTicket(ctx, input)
	if retryable(ctx, err) {
		return s.createTicket(ctx, input)
	}
	return ticket, err
}

func (s *Store) createTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	day := createdAt.Format("2006-01-02")

	var room models.Room
	if input.RoomID != "" {
		room, err = resolveRoomTx(ctx, tx, input.RoomID)
		if err != nil {
			return models.Ticket{}, err
		}
	} else {
		if _, err = resolveAreaTx(ctx, tx, input.AreaID); err != nil {
			return models.Ticket{}, err
		}
		room, err = lockAvailableRoom(ctx, tx, input.AreaID, day)
		if err != nil {
			return models.Ticket{}, err
		}
	}

	var patientID interface{}
	if input.PatientID != "" {
		if _, err = resolvePatientTx(ctx, tx, input.PatientID); err != nil {
			return models.Ticket{}, err
		}
		patientID = input.PatientID
	}

	seq, err := nextSequenceNumber(ctx, tx, room.AreaID, day)
	if err != nil {
		return models.Ticket{}, err
	}

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		INSERT INTO tickets (
			ticket_id, sequence_number, area_id, room_id, patient_id,
			status, active, day, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,TRUE,$7,$8)
		RETURNING ticket_id, sequence_number, area_id, room_id, patient_id,
			status, active, created_at, called_at, resolved_at
	`, uuid.NewString(), seq, room.AreaID, room.RoomID, patientID, models.StatusWaiting, day, createdAt)
	if err = scanTicket(row, &ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.created", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	ticket, err := s.callNext(ctx, input)
	if retryable(ctx, err) {
		return s.callNext(ctx, input)
	}
	return ticket, err
}

func (s *Store) callNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}
	day := calledAt.Format("2006-01-02")

	// The room row is the serialization point: concurrent call-next on the
	// same room queue behind this lock.
	var roomID string
	row := tx.QueryRow(ctx, `
		SELECT room_id FROM rooms WHERE room_id = $1 FOR UPDATE
	`, input.RoomID)
	if err = row.Scan(&roomID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrRoomNotFound
		}
		return models.Ticket{}, err
	}

	// Oldest waiting ticket by sequence number, the user-facing queue
	// position. If none, roll back so a currently calling ticket stays put.
	var nextID string
	row = tx.QueryRow(ctx, `
		SELECT ticket_id
		FROM tickets
		WHERE room_id = $1 AND active AND day = $2 AND status = $3
		ORDER BY sequence_number ASC
		LIMIT 1
	`, input.RoomID, day, models.StatusWaiting)
	if err = row.Scan(&nextID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrNoTicketWaiting
		}
		return models.Ticket{}, err
	}

	var demoted models.Ticket
	row = tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, called_at = NULL
		WHERE room_id = $2 AND active AND day = $3 AND status = $4
		RETURNING ticket_id, sequence_number, area_id, room_id, patient_id,
			status, active, created_at, called_at, resolved_at
	`, models.StatusWaiting, input.RoomID, day, models.StatusCalling)
	if err = scanTicket(row, &demoted); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, err
		}
		err = nil
	} else if err = insertOutboxEvent(ctx, tx, "ticket.requeued", demoted); err != nil {
		return models.Ticket{}, err
	}

	var ticket models.Ticket
	row = tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, called_at = $2
		WHERE ticket_id = $3
		RETURNING ticket_id, sequence_number, area_id, room_id, patient_id,
			status, active, created_at, called_at, resolved_at
	`, models.StatusCalling, calledAt, nextID)
	if err = scanTicket(row, &ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.called", ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ResolveTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	ticket, err := s.resolveTicket(ctx, input)
	if retryable(ctx, err) {
		return s.resolveTicket(ctx, input)
	}
	return ticket, err
}

func (s *Store) resolveTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	action, ok := store.OutcomeAction(input.Outcome)
	if !ok {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	newStatus, _ := store.OutcomeStatus(input.Outcome)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	resolvedAt := input.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}

	fromStatuses := allowedFrom(action)

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1, resolved_at = $2
		WHERE ticket_id = $3 AND active AND status = ANY($4)
		RETURNING ticket_id, sequence_number, area_id, room_id, patient_id,
			status, active, created_at, called_at, resolved_at
	`, newStatus, resolvedAt, input.TicketID, fromStatuses)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = classifyResolveFailure(ctx, tx, input.TicketID)
		}
		return models.Ticket{}, err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket."+input.Outcome, ticket); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// classifyResolveFailure distinguishes a missing or soft-deleted ticket from
// one whose current state forbids the transition.
func classifyResolveFailure(ctx context.Context, tx pgx.Tx, ticketID string) error {
	var status string
	var active bool
	row := tx.QueryRow(ctx, `
		SELECT status, active FROM tickets WHERE ticket_id = $1
	`, ticketID)
	if err := row.Scan(&status, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrTicketNotFound
		}
		return err
	}
	if !active {
		return store.ErrTicketNotFound
	}
	return store.ErrInvalidTransition
}

func (s *Store) DeleteTicket(ctx context.Context, ticketID string, hard bool) error {
	if hard {
		tag, err := s.pool.Exec(ctx, `DELETE FROM tickets WHERE ticket_id = $1`, ticketID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrTicketNotFound
		}
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var ticket models.Ticket
	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET active = FALSE
		WHERE ticket_id = $1 AND active
		RETURNING ticket_id, sequence_number, area_id, room_id, patient_id,
			status, active, created_at, called_at, resolved_at
	`, ticketID)
	if err = scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return err
	}

	if err = insertOutboxEvent(ctx, tx, "ticket.deleted", ticket); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	var ticket models.Ticket
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id, sequence_number, area_id, room_id, patient_id,
			status, active, created_at, called_at, resolved_at
		FROM tickets
		WHERE ticket_id = $1 AND active
	`, ticketID)
	if err := scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) RoomAvailable(ctx context.Context, roomID string) (bool, error) {
	if _, err := s.ResolveRoom(ctx, roomID); err != nil {
		return false, err
	}
	var busy bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets
			WHERE room_id = $1 AND active AND day = $2
				AND status IN ($3, $4)
		)
	`, roomID, todayUTC(), models.StatusWaiting, models.StatusCalling)
	if err := row.Scan(&busy); err != nil {
		return false, err
	}
	return !busy, nil
}

func (s *Store) FindAvailableRoom(ctx context.Context, areaID string) (models.Room, error) {
	if _, err := s.ResolveArea(ctx, areaID); err != nil {
		return models.Room{}, err
	}
	var room models.Room
	row := s.pool.QueryRow(ctx, `
		SELECT r.room_id, r.area_id, r.number, r.name
		FROM rooms r
		WHERE r.area_id = $1 AND NOT EXISTS (
			SELECT 1 FROM tickets t
			WHERE t.room_id = r.room_id AND t.active AND t.day = $2
				AND t.status IN ($3, $4)
		)
		ORDER BY r.number ASC
		LIMIT 1
	`, areaID, todayUTC(), models.StatusWaiting, models.StatusCalling)
	if err := row.Scan(&room.RoomID, &room.AreaID, &room.Number, &room.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, store.ErrNoRoomAvailable
		}
		return models.Room{}, err
	}
	return room, nil
}

func (s *Store) QueueSnapshot(ctx context.Context) ([]store.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.sequence_number, r.number, a.name, t.status
		FROM tickets t
		JOIN rooms r ON r.room_id = t.room_id
		JOIN areas a ON a.area_id = t.area_id
		WHERE t.active AND t.day = $1 AND t.status IN ($2, $3)
		ORDER BY t.sequence_number ASC, t.created_at ASC
	`, todayUTC(), models.StatusWaiting, models.StatusCalling)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.QueueEntry
	for rows.Next() {
		var entry store.QueueEntry
		if err := rows.Scan(&entry.SequenceNumber, &entry.RoomNumber, &entry.AreaName, &entry.Status); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) NowCalling(ctx context.Context) (models.Ticket, bool, error) {
	var ticket models.Ticket
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id, sequence_number, area_id, room_id, patient_id,
			status, active, created_at, called_at, resolved_at
		FROM tickets
		WHERE active AND day = $1 AND status = $2
		ORDER BY called_at DESC
		LIMIT 1
	`, todayUTC(), models.StatusCalling)
	if err := scanTicket(row, &ticket); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) Recap(ctx context.Context, limit int) ([]models.Ticket, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, sequence_number, area_id, room_id, patient_id,
			status, active, created_at, called_at, resolved_at
		FROM tickets
		WHERE active AND day = $1 AND status IN ($2, $3)
		ORDER BY called_at DESC NULLS LAST
		LIMIT $4
	`, todayUTC(), models.StatusCalling, models.StatusAttended, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var ticket models.Ticket
		if err := scanTicket(rows, &ticket); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) Stats(ctx context.Context) (store.DailyStats, error) {
	var stats store.DailyStats
	row := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'waiting'),
			COUNT(*) FILTER (WHERE status = 'calling'),
			COUNT(*) FILTER (WHERE status = 'attended'),
			COUNT(*) FILTER (WHERE status = 'cancelled'),
			COUNT(*) FILTER (WHERE status = 'no_show')
		FROM tickets
		WHERE active AND day = $1
	`, todayUTC())
	if err := row.Scan(&stats.Waiting, &stats.Calling, &stats.Attended, &stats.Cancelled, &stats.NoShow); err != nil {
		return store.DailyStats{}, err
	}
	return stats, nil
}

func (s *Store) ResolveArea(ctx context.Context, areaID string) (models.Area, error) {
	var area models.Area
	row := s.pool.QueryRow(ctx, `SELECT area_id, name FROM areas WHERE area_id = $1`, areaID)
	if err := row.Scan(&area.AreaID, &area.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Area{}, store.ErrAreaNotFound
		}
		return models.Area{}, err
	}
	return area, nil
}

func (s *Store) ResolveRoom(ctx context.Context, roomID string) (models.Room, error) {
	var room models.Room
	row := s.pool.QueryRow(ctx, `SELECT room_id, area_id, number, name FROM rooms WHERE room_id = $1`, roomID)
	if err := row.Scan(&room.RoomID, &room.AreaID, &room.Number, &room.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, store.ErrRoomNotFound
		}
		return models.Room{}, err
	}
	return room, nil
}

func (s *Store) ResolvePatient(ctx context.Context, patientID string) (models.Patient, error) {
	var patient models.Patient
	row := s.pool.QueryRow(ctx, `SELECT patient_id, full_name FROM patients WHERE patient_id = $1`, patientID)
	if err := row.Scan(&patient.PatientID, &patient.FullName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	return patient, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, staff, expires_at
		FROM sessions
		WHERE session_id = $1 AND expires_at > NOW()
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.Staff, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	return session, nil
}
