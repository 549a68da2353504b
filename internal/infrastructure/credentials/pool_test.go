package credentials

import (
	"testing"

	"github.com/insightx/insightx/internal/domain"
)

func failCurrent(t *testing.T, pool *Pool, class domain.FailureClass) bool {
	t.Helper()
	cred, err := pool.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	pool.ReportFailure(cred, class, "401 Unauthorized")
	return pool.Rotate()
}

func TestNewPoolRequiresCredentials(t *testing.T) {
	if _, err := NewPool(nil); err == nil {
		t.Fatal("expected error for empty pool")
	}
	if _, err := NewPool([]string{"k1"}); err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
}

func TestFullCycleTriggersExactlyNMinusOneRotations(t *testing.T) {
	const size = 4
	pool, err := NewPool([]string{"k1", "k2", "k3", "k4"})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	rotations := 0
	for i := 0; i < size; i++ {
		if !failCurrent(t, pool, domain.FailureUnauthorized) {
			t.Fatalf("Rotate() returned false on failure %d", i+1)
		}
		event := pool.TakeLastRotation()
		if event == nil {
			t.Fatalf("no rotation event after failure %d", i+1)
		}
		if i < size-1 {
			if event.FullReset {
				t.Fatalf("unexpected full reset after failure %d", i+1)
			}
			rotations++
		} else {
			if !event.FullReset {
				t.Fatal("expected full-cycle reset on final failure")
			}
			if event.ToIndex != 0 {
				t.Fatalf("reset landed on index %d, want 0", event.ToIndex)
			}
		}
	}

	if rotations != size-1 {
		t.Fatalf("got %d rotations, want %d", rotations, size-1)
	}

	stats := pool.Stats()
	if stats.FailedCount != 0 {
		t.Fatalf("reset left %d failed credentials", stats.FailedCount)
	}
	if stats.CurrentIndex != 0 {
		t.Fatalf("reset left index %d, want 0", stats.CurrentIndex)
	}
}

func TestCurrentSkipsToHealthyAfterRotation(t *testing.T) {
	pool, err := NewPool([]string{"k1", "k2"})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	failCurrent(t, pool, domain.FailureRateLimited)

	cred, err := pool.Current()
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if cred.Failed {
		t.Fatal("current credential is marked failed")
	}
	if cred.ID != "credential_2" {
		t.Fatalf("current = %s, want credential_2", cred.ID)
	}
}

func TestReportSuccessKeepsFailedFlag(t *testing.T) {
	pool, err := NewPool([]string{"k1", "k2"})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	first, _ := pool.Current()
	pool.ReportFailure(first, domain.FailureServerError, "503")
	pool.Rotate()

	// A later success on the failed credential must not reinstate it.
	pool.ReportSuccess(first)
	if stats := pool.Stats(); stats.FailedCount != 1 {
		t.Fatalf("FailedCount = %d, want 1", stats.FailedCount)
	}
	if stats := pool.Stats(); stats.ErrorsByID[first.ID] != 0 {
		t.Fatalf("consecutive errors = %d, want 0", stats.ErrorsByID[first.ID])
	}
}

func TestNonRotatingFailureDoesNotMarkFailed(t *testing.T) {
	pool, err := NewPool([]string{"k1", "k2"})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	cred, _ := pool.Current()
	pool.ReportFailure(cred, domain.FailureOther, "parse error")

	stats := pool.Stats()
	if stats.FailedCount != 0 {
		t.Fatalf("FailedCount = %d, want 0", stats.FailedCount)
	}
	if stats.ErrorsByID[cred.ID] != 1 {
		t.Fatalf("consecutive errors = %d, want 1", stats.ErrorsByID[cred.ID])
	}
}

func TestTakeLastRotationIsSingleSlot(t *testing.T) {
	pool, err := NewPool([]string{"k1", "k2", "k3"})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	failCurrent(t, pool, domain.FailureUnauthorized)
	failCurrent(t, pool, domain.FailureUnauthorized)

	// Two rotations happened but only the most recent survives.
	event := pool.TakeLastRotation()
	if event == nil {
		t.Fatal("expected a rotation event")
	}
	if event.FromIndex != 1 || event.ToIndex != 2 {
		t.Fatalf("event = %d->%d, want 1->2", event.FromIndex, event.ToIndex)
	}
	if again := pool.TakeLastRotation(); again != nil {
		t.Fatalf("slot not cleared on read: %+v", again)
	}
}
