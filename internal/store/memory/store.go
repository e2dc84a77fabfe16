// Package memory implements the ticket store against process memory. It is
// the development-mode store and the reference implementation the
// concurrency tests exercise; semantics track the postgres store.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"mediqueue/internal/models"
	"mediqueue/internal/store"

	"github.com/google/uuid"
)

type Store struct {
	mu        sync.Mutex
	areas     map[string]models.Area
	rooms     map[string]models.Room
	patients  map[string]models.Patient
	tickets   map[string]*models.Ticket
	sequences map[string]int
	events    []store.OutboxEvent
	sessions  map[string]store.Session
}

func NewStore() *Store {
	return &Store{
		areas:     make(map[string]models.Area),
		rooms:     make(map[string]models.Room),
		patients:  make(map[string]models.Patient),
		tickets:   make(map[string]*models.Ticket),
		sequences: make(map[string]int),
		sessions:  make(map[string]store.Session),
	}
}

// Seeding helpers for development mode and tests. Reference data is owned
// by the admin application in production.

func (s *Store) AddArea(area models.Area) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.areas[area.AreaID] = area
}

func (s *Store) AddRoom(room models.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[room.RoomID] = room
}

func (s *Store) AddPatient(patient models.Patient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[patient.PatientID] = patient
}

func (s *Store) AddSession(session store.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.SessionID] = session
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	day := dayOf(createdAt)

	var room models.Room
	if input.RoomID != "" {
		found, ok := s.rooms[input.RoomID]
		if !ok {
			return models.Ticket{}, store.ErrRoomNotFound
		}
		room = found
	} else {
		if _, ok := s.areas[input.AreaID]; !ok {
			return models.Ticket{}, store.ErrAreaNotFound
		}
		found, ok := s.availableRoomLocked(input.AreaID, day)
		if !ok {
			return models.Ticket{}, store.ErrNoRoomAvailable
		}
		room = found
	}

	var patientID *string
	if input.PatientID != "" {
		if _, ok := s.patients[input.PatientID]; !ok {
			return models.Ticket{}, store.ErrPatientNotFound
		}
		id := input.PatientID
		patientID = &id
	}

	seqKey := room.AreaID + "|" + day
	s.sequences[seqKey]++

	ticket := models.Ticket{
		TicketID:       uuid.NewString(),
		SequenceNumber: s.sequences[seqKey],
		AreaID:         room.AreaID,
		RoomID:         room.RoomID,
		PatientID:      patientID,
		Status:         models.StatusWaiting,
		Active:         true,
		CreatedAt:      createdAt,
	}
	s.tickets[ticket.TicketID] = &ticket
	s.appendEventLocked("ticket.created", ticket)
	return ticket, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[ticketID]
	if !ok || !ticket.Active {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return *ticket, nil
}

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[input.RoomID]; !ok {
		return models.Ticket{}, store.ErrRoomNotFound
	}

	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}
	day := dayOf(calledAt)

	var next *models.Ticket
	for _, ticket := range s.tickets {
		if !ticket.Active || ticket.RoomID != input.RoomID || dayOf(ticket.CreatedAt) != day {
			continue
		}
		if ticket.Status != models.StatusWaiting {
			continue
		}
		if next == nil || ticket.SequenceNumber < next.SequenceNumber {
			next = ticket
		}
	}
	if next == nil {
		return models.Ticket{}, store.ErrNoTicketWaiting
	}

	for _, ticket := range s.tickets {
		if !ticket.Active || ticket.RoomID != input.RoomID || dayOf(ticket.CreatedAt) != day {
			continue
		}
		if ticket.Status == models.StatusCalling {
			ticket.Status = models.StatusWaiting
			ticket.CalledAt = nil
			s.appendEventLocked("ticket.requeued", *ticket)
		}
	}

	next.Status = models.StatusCalling
	at := calledAt
	next.CalledAt = &at
	s.appendEventLocked("ticket.called", *next)
	return *next, nil
}

func (s *Store) ResolveTicket(ctx context.Context, input store.ResolveInput) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, ok := store.OutcomeAction(input.Outcome)
	if !ok {
		return models.Ticket{}, store.ErrInvalidTransition
	}
	newStatus, _ := store.OutcomeStatus(input.Outcome)

	ticket, exists := s.tickets[input.TicketID]
	if !exists || !ticket.Active {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if !store.ValidTransition(action, ticket.Status) {
		return models.Ticket{}, store.ErrInvalidTransition
	}

	resolvedAt := input.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}
	ticket.Status = newStatus
	at := resolvedAt
	ticket.ResolvedAt = &at
	s.appendEventLocked("ticket."+input.Outcome, *ticket)
	return *ticket, nil
}

func (s *Store) DeleteTicket(ctx context.Context, ticketID string, hard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return store.ErrTicketNotFound
	}
	if hard {
		delete(s.tickets, ticketID)
		return nil
	}
	if !ticket.Active {
		return store.ErrTicketNotFound
	}
	ticket.Active = false
	s.appendEventLocked("ticket.deleted", *ticket)
	return nil
}

func (s *Store) RoomAvailable(ctx context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return false, store.ErrRoomNotFound
	}
	return !s.roomBusyLocked(roomID, dayOf(time.Now().UTC())), nil
}

func (s *Store) FindAvailableRoom(ctx context.Context, areaID string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.areas[areaID]; !ok {
		return models.Room{}, store.ErrAreaNotFound
	}
	room, ok := s.availableRoomLocked(areaID, dayOf(time.Now().UTC()))
	if !ok {
		return models.Room{}, store.ErrNoRoomAvailable
	}
	return room, nil
}

func (s *Store) QueueSnapshot(ctx context.Context) ([]store.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := dayOf(time.Now().UTC())
	var entries []store.QueueEntry
	for _, ticket := range s.tickets {
		if !ticket.Active || dayOf(ticket.CreatedAt) != day {
			continue
		}
		if ticket.Status != models.StatusWaiting && ticket.Status != models.StatusCalling {
			continue
		}
		entries = append(entries, store.QueueEntry{
			SequenceNumber: ticket.SequenceNumber,
			RoomNumber:     s.rooms[ticket.RoomID].Number,
			AreaName:       s.areas[ticket.AreaID].Name,
			Status:         ticket.Status,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SequenceNumber < entries[j].SequenceNumber
	})
	return entries, nil
}

func (s *Store) NowCalling(ctx context.Context) (models.Ticket, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := dayOf(time.Now().UTC())
	var latest *models.Ticket
	for _, ticket := range s.tickets {
		if !ticket.Active || ticket.Status != models.StatusCalling || dayOf(ticket.CreatedAt) != day {
			continue
		}
		if ticket.CalledAt == nil {
			continue
		}
		if latest == nil || ticket.CalledAt.After(*latest.CalledAt) {
			latest = ticket
		}
	}
	if latest == nil {
		return models.Ticket{}, false, nil
	}
	return *latest, true, nil
}

func (s *Store) Recap(ctx context.Context, limit int) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 5
	}
	day := dayOf(time.Now().UTC())
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if !ticket.Active || dayOf(ticket.CreatedAt) != day {
			continue
		}
		if ticket.Status != models.StatusCalling && ticket.Status != models.StatusAttended {
			continue
		}
		tickets = append(tickets, *ticket)
	}
	sort.Slice(tickets, func(i, j int) bool {
		a, b := tickets[i].CalledAt, tickets[j].CalledAt
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
	if len(tickets) > limit {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

func (s *Store) Stats(ctx context.Context) (store.DailyStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := dayOf(time.Now().UTC())
	var stats store.DailyStats
	for _, ticket := range s.tickets {
		if !ticket.Active || dayOf(ticket.CreatedAt) != day {
			continue
		}
		switch ticket.Status {
		case models.StatusWaiting:
			stats.Waiting++
		case models.StatusCalling:
			stats.Calling++
		case models.StatusAttended:
			stats.Attended++
		case models.StatusCancelled:
			stats.Cancelled++
		case models.StatusNoShow:
			stats.NoShow++
		}
	}
	return stats, nil
}

func (s *Store) ResolveArea(ctx context.Context, areaID string) (models.Area, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	area, ok := s.areas[areaID]
	if !ok {
		return models.Area{}, store.ErrAreaNotFound
	}
	return area, nil
}

func (s *Store) ResolveRoom(ctx context.Context, roomID string) (models.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return models.Room{}, store.ErrRoomNotFound
	}
	return room, nil
}

func (s *Store) ResolvePatient(ctx context.Context, patientID string) (models.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patient, ok := s.patients[patientID]
	if !ok {
		return models.Patient{}, store.ErrPatientNotFound
	}
	return patient, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	var events []store.OutboxEvent
	for _, event := range s.events {
		if !event.CreatedAt.After(after) {
			continue
		}
		events = append(events, event)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok || session.ExpiresAt.Before(time.Now()) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func (s *Store) availableRoomLocked(areaID, day string) (models.Room, bool) {
	var rooms []models.Room
	for _, room := range s.rooms {
		if room.AreaID == areaID {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Number < rooms[j].Number })
	for _, room := range rooms {
		if !s.roomBusyLocked(room.RoomID, day) {
			return room, true
		}
	}
	return models.Room{}, false
}

func (s *Store) roomBusyLocked(roomID, day string) bool {
	for _, ticket := range s.tickets {
		if !ticket.Active || ticket.RoomID != roomID || dayOf(ticket.CreatedAt) != day {
			continue
		}
		if ticket.Status == models.StatusWaiting || ticket.Status == models.StatusCalling {
			return true
		}
	}
	return false
}

func (s *Store) appendEventLocked(eventType string, ticket models.Ticket) {
	payload, err := json.Marshal(ticket)
	if err != nil {
		return
	}
	s.events = append(s.events, store.OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}

func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
