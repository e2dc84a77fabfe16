package models

// Reference data is owned by the surrounding admin application. The queue
// engine only resolves it, never mutates it.

type Area struct {
	AreaID string `json:"area_id"`
	Name   string `json:"name"`
}

type Room struct {
	RoomID string `json:"room_id"`
	AreaID string `json:"area_id"`
	Number int    `json:"number"`
	Name   string `json:"name"`
}

type Patient struct {
	PatientID string `json:"patient_id"`
	FullName  string `json:"full_name"`
}
