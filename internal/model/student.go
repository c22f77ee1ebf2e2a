package model

import "time"

// Student ученик. TelegramID нужен только для уведомлений, 0 = не привязан
type Student struct {
	ID         string    `json:"id"`
	TelegramID int64     `json:"telegram_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}
