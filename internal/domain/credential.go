package domain

import "time"

// FailureClass buckets upstream call failures for rotation decisions.
type FailureClass string

const (
	FailureUnauthorized FailureClass = "unauthorized"
	FailureRateLimited  FailureClass = "rate_limited"
	FailureServerError  FailureClass = "server_error"
	FailureOther        FailureClass = "other"
)

// Rotates reports whether this failure class marks the credential failed and
// advances the pool.
func (f FailureClass) Rotates() bool {
	switch f {
	case FailureUnauthorized, FailureRateLimited, FailureServerError:
		return true
	default:
		return false
	}
}

// Credential is one upstream API credential. Owned exclusively by the pool;
// never destroyed, only marked failed and later reinstated by the
// full-cycle reset.
type Credential struct {
	ID                string
	Secret            string
	Failed            bool
	ConsecutiveErrors int
	TotalUses         int
	LastError         string
}

// RotationEvent records a single credential rotation. The pool keeps only
// the most recent one (overwritten by the next rotation, cleared on read).
type RotationEvent struct {
	FromIndex int       `json:"from_index"`
	ToIndex   int       `json:"to_index"`
	Reason    string    `json:"reason,omitempty"`
	FullReset bool      `json:"full_reset,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PoolStats is a point-in-time snapshot for diagnostics.
type PoolStats struct {
	TotalCredentials int            `json:"total_credentials"`
	CurrentIndex     int            `json:"current_index"`
	FailedCount      int            `json:"failed_count"`
	UsesByID         map[string]int `json:"uses_by_id"`
	ErrorsByID       map[string]int `json:"errors_by_id"`
}
