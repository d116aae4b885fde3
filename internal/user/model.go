package user

import "time"

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // будем хранить только хэш
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`

	// Денормализованный lockout от kill switch: пока не истёк,
	// исполнение для пользователя закрыто
	LockoutUntil *time.Time `json:"lockout_until,omitempty"`
}
