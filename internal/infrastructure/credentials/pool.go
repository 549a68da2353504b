// Package credentials manages the ordered set of interchangeable upstream
// credentials and their rotation on classified failures.
package credentials

import (
	"fmt"
	"sync"
	"time"

	"github.com/insightx/insightx/internal/domain"
	"github.com/insightx/insightx/internal/log"
	"github.com/rs/zerolog"
)

// Pool holds the credential list supplied at process start. The list itself
// is immutable; rotation only changes which entry is current. All state is
// guarded by one mutex: rotation is not a hot path, and concurrent requests
// must never rotate past each other.
type Pool struct {
	mu           sync.Mutex
	creds        []domain.Credential
	current      int
	lastRotation *domain.RotationEvent
	logger       zerolog.Logger
	now          func() time.Time
}

// NewPool builds a pool from ordered secrets. At least one is required.
func NewPool(secrets []string) (*Pool, error) {
	if len(secrets) == 0 {
		return nil, domain.NewError(domain.ErrPoolExhausted, "no upstream credentials configured")
	}
	creds := make([]domain.Credential, 0, len(secrets))
	for i, secret := range secrets {
		creds = append(creds, domain.Credential{
			ID:     credentialID(i),
			Secret: secret,
		})
	}
	return &Pool{
		creds:  creds,
		logger: log.WithComponent("credential_pool"),
		now:    time.Now,
	}, nil
}

func credentialID(index int) string {
	return fmt.Sprintf("credential_%d", index+1)
}

// Size returns the number of configured credentials.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// Current returns the active credential. The current index always points at
// a non-failed credential if one exists; when every credential is failed the
// full-cycle reset has already reinstated them, so this fails only for an
// empty pool.
func (p *Pool) Current() (domain.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return domain.Credential{}, domain.NewError(domain.ErrPoolExhausted, "credential pool is empty")
	}
	return p.creds[p.current], nil
}

// ReportSuccess resets the credential's consecutive error count. A failed
// flag is not cleared here: a credential that failed once stays
// deprioritized until the full-cycle reset.
func (p *Pool) ReportSuccess(cred domain.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.creds {
		if p.creds[i].ID == cred.ID {
			p.creds[i].ConsecutiveErrors = 0
			p.creds[i].TotalUses++
			return
		}
	}
}

// ReportFailure classifies the cause and, for rotating classes, marks the
// credential failed. Advancing the current index is Rotate's job.
func (p *Pool) ReportFailure(cred domain.Credential, class domain.FailureClass, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.creds {
		if p.creds[i].ID != cred.ID {
			continue
		}
		p.creds[i].ConsecutiveErrors++
		p.creds[i].LastError = reason
		if class.Rotates() && !p.creds[i].Failed {
			p.creds[i].Failed = true
			p.logger.Warn().
				Str("credential", cred.ID).
				Str("class", string(class)).
				Str("reason", reason).
				Msg("credential marked failed")
		}
		return
	}
}

// Rotate advances to the next non-failed credential, wrapping circularly.
// When every credential is failed it performs the full-cycle reset: all
// failure flags cleared, index back to 0. This bounds an outage to one full
// pass rather than locking the pool out permanently. Every rotation writes
// the single-slot last-rotation event.
func (p *Pool) Rotate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.creds) == 0 {
		return false
	}

	from := p.current
	for step := 1; step <= len(p.creds); step++ {
		idx := (p.current + step) % len(p.creds)
		if !p.creds[idx].Failed {
			p.current = idx
			p.lastRotation = &domain.RotationEvent{
				FromIndex: from,
				ToIndex:   idx,
				Reason:    p.creds[from].LastError,
				Timestamp: p.now(),
			}
			p.logger.Info().Int("from", from).Int("to", idx).Msg("credential rotated")
			return true
		}
	}

	// Full cycle complete: reinstate everything and start over.
	for i := range p.creds {
		p.creds[i].Failed = false
		p.creds[i].ConsecutiveErrors = 0
	}
	p.current = 0
	p.lastRotation = &domain.RotationEvent{
		FromIndex: from,
		ToIndex:   0,
		Reason:    "full-cycle reset",
		FullReset: true,
		Timestamp: p.now(),
	}
	p.logger.Warn().Int("credentials", len(p.creds)).Msg("all credentials failed; full-cycle reset")
	return true
}

// TakeLastRotation returns the most recent rotation event and clears the
// slot. Delivery is at-most-once per rotation: a caller that does not read
// promptly misses overwritten events. This is a deliberate single-slot cell,
// not a queue.
func (p *Pool) TakeLastRotation() *domain.RotationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	event := p.lastRotation
	p.lastRotation = nil
	return event
}

// Stats returns a diagnostic snapshot.
func (p *Pool) Stats() domain.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := domain.PoolStats{
		TotalCredentials: len(p.creds),
		CurrentIndex:     p.current,
		UsesByID:         make(map[string]int, len(p.creds)),
		ErrorsByID:       make(map[string]int, len(p.creds)),
	}
	for _, cred := range p.creds {
		if cred.Failed {
			stats.FailedCount++
		}
		stats.UsesByID[cred.ID] = cred.TotalUses
		stats.ErrorsByID[cred.ID] = cred.ConsecutiveErrors
	}
	return stats
}
