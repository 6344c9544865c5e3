package session

import "time"

// Device is the client metadata captured when a session is created.
type Device struct {
	UserAgent  string
	IP         string
	Location   string
	RememberMe bool
}

// Record is the server-side state backing one refresh token. Exactly one
// live Record exists per valid refresh token; its absence means revoked.
type Record struct {
	SchemaVersion uint8

	UserID      string
	Version     string
	RefreshHash [32]byte
	Device      Device
	Locale      string
	Timezone    string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the record is past its absolute expiry at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
