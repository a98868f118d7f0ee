package synclock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"yardflow/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.SyncLock{}))
	return db
}

func lockCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.SyncLock{}).Count(&count).Error)
	return count
}

func TestAcquireAndRelease(t *testing.T) {
	db := newTestDB(t)
	manager := NewManager(db)

	acquired, err := manager.Acquire(7, "email")
	require.NoError(t, err)
	assert.True(t, acquired)

	// Second acquire of the same pair is refused, not an error
	acquired, err = manager.Acquire(7, "email")
	require.NoError(t, err)
	assert.False(t, acquired)

	// Different lock type for the same subject is independent
	acquired, err = manager.Acquire(7, "calendar")
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, manager.Release(7, "email"))
	acquired, err = manager.Acquire(7, "email")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestReleaseIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	manager := NewManager(db)

	require.NoError(t, manager.Release(99, "email"))
	require.NoError(t, manager.Release(99, "email"))
}

func TestWithLockMutualExclusion(t *testing.T) {
	db := newTestDB(t)
	manager := NewManager(db)

	var innerErr error
	err := manager.WithLock(3, "email", func() error {
		innerErr = manager.WithLock(3, "email", func() error {
			t.Fatal("second holder must not run")
			return nil
		})
		return nil
	})
	require.NoError(t, err)
	require.Error(t, innerErr)
	assert.True(t, errors.Is(innerErr, ErrSyncInProgress))

	// Lock is gone once the first holder returns
	assert.Zero(t, lockCount(t, db))
}

func TestWithLockReleasesOnError(t *testing.T) {
	db := newTestDB(t)
	manager := NewManager(db)

	sentinel := errors.New("provider connection dropped")
	err := manager.WithLock(5, "email", func() error {
		return sentinel
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel))
	assert.Zero(t, lockCount(t, db), "lock is released even when fn fails")

	acquired, err := manager.Acquire(5, "email")
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestExpiredLocksAreReclaimed(t *testing.T) {
	db := newTestDB(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	manager := NewManager(db, WithClock(func() time.Time { return now }))

	acquired, err := manager.Acquire(11, "email")
	require.NoError(t, err)
	require.True(t, acquired)

	// Holder crashes without releasing; TTL elapses
	now = now.Add(DefaultTTL + time.Second)

	acquired, err = manager.Acquire(11, "email")
	require.NoError(t, err)
	assert.True(t, acquired, "expired lock must be reclaimable")
	assert.EqualValues(t, 1, lockCount(t, db))
}

func TestAcquireSweepsAllExpiredRows(t *testing.T) {
	db := newTestDB(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	manager := NewManager(db, WithClock(func() time.Time { return now }))

	for subject := uint(1); subject <= 3; subject++ {
		acquired, err := manager.Acquire(subject, "email")
		require.NoError(t, err)
		require.True(t, acquired)
	}

	now = now.Add(DefaultTTL + time.Second)

	acquired, err := manager.Acquire(99, "email")
	require.NoError(t, err)
	require.True(t, acquired)
	assert.EqualValues(t, 1, lockCount(t, db), "the sweep clears every expired row")
}

func TestPerTypeTTL(t *testing.T) {
	db := newTestDB(t)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	manager := NewManager(db,
		WithClock(func() time.Time { return now }),
		WithTTL("calendar", time.Minute))

	acquired, err := manager.Acquire(4, "calendar")
	require.NoError(t, err)
	require.True(t, acquired)

	var lock models.SyncLock
	require.NoError(t, db.First(&lock, "id = ?", LockID(4, "calendar")).Error)
	assert.Equal(t, now.Add(time.Minute), lock.ExpiresAt.UTC())

	acquired, err = manager.Acquire(4, "email")
	require.NoError(t, err)
	require.True(t, acquired)

	lock = models.SyncLock{}
	require.NoError(t, db.First(&lock, "id = ?", LockID(4, "email")).Error)
	assert.Equal(t, now.Add(DefaultTTL), lock.ExpiresAt.UTC())
}

func TestLockID(t *testing.T) {
	assert.Equal(t, "42-email", LockID(42, "email"))
}
