package model

import "time"

type MeetSessionStatus string

const (
	MeetSessionStatusActive MeetSessionStatus = "active"
	MeetSessionStatusEnded  MeetSessionStatus = "ended"
)

// MeetSession комната видеовстречи, открытая для занятия
type MeetSession struct {
	ID          string            `json:"id"`
	InstanceID  string            `json:"instance_id"`
	OwnerID     string            `json:"owner_id"`
	RoomName    string            `json:"room_name"`
	SessionName string            `json:"session_name"`
	JoinURL     string            `json:"join_url"`
	Status      MeetSessionStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	EndedAt     *time.Time        `json:"ended_at,omitempty"`
}
