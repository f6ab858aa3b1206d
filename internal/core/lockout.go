package core

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/illarion/vaultguard/internal/storage"
)

// lockout decides when failed password attempts lock a vault. The count
// and the lock deadline live in the vault file, so they hold across
// processes.
type lockout struct {
	clock       clockwork.Clock
	maxAttempts int
	duration    time.Duration
}

func newLockout(clock clockwork.Clock, maxAttempts int, duration time.Duration) *lockout {
	return &lockout{clock: clock, maxAttempts: maxAttempts, duration: duration}
}

// locked reports whether db is locked out. A lapsed lock is cleared.
func (l *lockout) locked(db *storage.Storage) (bool, error) {
	a, err := db.GetAttempts()
	if err != nil {
		return true, err
	}
	if a.LockedUntil.IsZero() {
		return false, nil
	}
	if l.clock.Now().Before(a.LockedUntil) {
		return true, nil
	}
	return false, db.ClearAttempts()
}

// fail records a failed attempt and reports whether it locked db.
func (l *lockout) fail(db *storage.Storage) (bool, error) {
	if l.maxAttempts <= 0 {
		return false, nil
	}

	a, err := db.GetAttempts()
	if err != nil {
		return false, err
	}

	now := l.clock.Now()
	if !a.LockedUntil.IsZero() && !now.Before(a.LockedUntil) {
		a = storage.Attempts{}
	}

	a.Failures++
	locked := a.Failures >= l.maxAttempts
	if locked {
		a.LockedUntil = now.Add(l.duration)
	}
	return locked, db.SetAttempts(a)
}

func (l *lockout) reset(db *storage.Storage) error {
	return db.ClearAttempts()
}
