package models

import "time"

// SyncLock is a TTL'd mutual-exclusion row for external-account sync
// operations. The primary key "<subjectID>-<lockType>" makes the insert the
// arbiter: a duplicate-key error means another holder is active. Rows past
// ExpiresAt are garbage-collected before each acquire attempt so crashed
// holders cannot wedge a subject forever.
type SyncLock struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	SubjectID uint      `gorm:"not null;index" json:"subject_id"`
	LockType  string    `gorm:"not null" json:"lock_type"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
