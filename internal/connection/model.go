package connection

import "time"

// Connection — подключение пользователя к бирже.
// Ключи хранятся только зашифрованными блобами; наружу plaintext не отдаётся.
type Connection struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"user_id"`
	Exchange     string     `json:"exchange"`
	APIKeyEnc    string     `json:"-"`
	APISecretEnc string     `json:"-"`
	PassphrEnc   *string    `json:"-"`
	IsActive     bool       `json:"is_active"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
