package store

import "errors"

var (
	ErrAreaNotFound      = errors.New("area not found")
	ErrRoomNotFound      = errors.New("room not found")
	ErrPatientNotFound   = errors.New("patient not found")
	ErrTicketNotFound    = errors.New("ticket not found")
	ErrNoRoomAvailable   = errors.New("no room available")
	ErrNoTicketWaiting   = errors.New("no ticket waiting")
	ErrInvalidTransition = errors.New("invalid ticket transition")
	ErrSessionNotFound   = errors.New("session not found")
)
