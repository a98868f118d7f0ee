// Package synclock provides a store-backed mutual-exclusion primitive for
// external-account sync operations. One lock row may exist per
// (subject, lock type) pair; the row's TTL recovers locks abandoned by crashed
// holders.
package synclock

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"yardflow/models"
)

// ErrSyncInProgress is returned by WithLock when another holder owns the lock.
// Callers should treat it as a normal condition, not a fault.
var ErrSyncInProgress = errors.New("sync already in progress")

// DefaultTTL applies to lock types without an explicit TTL
const DefaultTTL = 10 * time.Minute

type Manager struct {
	db         *gorm.DB
	defaultTTL time.Duration
	ttls       map[string]time.Duration
	now        func() time.Time
}

type Option func(*Manager)

// WithTTL sets the TTL for one lock type, sized to that operation's worst-case
// duration.
func WithTTL(lockType string, ttl time.Duration) Option {
	return func(m *Manager) { m.ttls[lockType] = ttl }
}

// WithDefaultTTL overrides the fallback TTL
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.defaultTTL = ttl }
}

// WithClock injects the time source for tests
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(db *gorm.DB, opts ...Option) *Manager {
	m := &Manager{
		db:         db,
		defaultTTL: DefaultTTL,
		ttls:       make(map[string]time.Duration),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire attempts to take the lock for (subjectID, lockType). It returns
// false when another unexpired holder exists. Expired rows anywhere in the
// table are garbage-collected first; deletes are idempotent so the global
// sweep is safe.
func (m *Manager) Acquire(subjectID uint, lockType string) (bool, error) {
	now := m.now()

	if err := m.db.Where("expires_at < ?", now).Delete(&models.SyncLock{}).Error; err != nil {
		return false, fmt.Errorf("failed to clear expired sync locks: %w", err)
	}

	lock := models.SyncLock{
		ID:        LockID(subjectID, lockType),
		SubjectID: subjectID,
		LockType:  lockType,
		ExpiresAt: now.Add(m.ttl(lockType)),
	}
	if err := m.db.Create(&lock).Error; err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create sync lock %s: %w", lock.ID, err)
	}
	return true, nil
}

// Release frees the lock. Releasing a missing or expired lock is not an error.
func (m *Manager) Release(subjectID uint, lockType string) error {
	err := m.db.Where("id = ?", LockID(subjectID, lockType)).Delete(&models.SyncLock{}).Error
	if err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// WithLock runs fn while holding the lock, releasing it on any exit path. It
// returns ErrSyncInProgress when the lock is already held.
func (m *Manager) WithLock(subjectID uint, lockType string, fn func() error) error {
	acquired, err := m.Acquire(subjectID, lockType)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: %s for subject %d", ErrSyncInProgress, lockType, subjectID)
	}
	defer func() {
		_ = m.Release(subjectID, lockType)
	}()

	return fn()
}

// LockID builds the primary key for a (subject, lock type) pair
func LockID(subjectID uint, lockType string) string {
	return fmt.Sprintf("%d-%s", subjectID, lockType)
}

func (m *Manager) ttl(lockType string) time.Duration {
	if ttl, ok := m.ttls[lockType]; ok {
		return ttl
	}
	return m.defaultTTL
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}
