package models

import "time"

// SyncRun summarizes one execution of the property sync worker.
type SyncRun struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Status        string     `gorm:"size:16;default:running;index" json:"status"` // running, completed, failed
	Forced        bool       `gorm:"default:false" json:"forced"`
	Listed        int        `json:"listed"`
	Updated       int        `json:"updated"`
	Failed        int        `json:"failed"`
	GeocodeOK     int        `gorm:"column:geocode_ok" json:"geocode_ok"`
	GeocodeFailed int        `json:"geocode_failed"`
	Error         string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
}

// SyncLease is a named cross-host lease. A holder keeps it alive by
// heartbeat; a lease whose heartbeat is older than the timeout can be
// taken over.
type SyncLease struct {
	Name          string    `gorm:"primaryKey;size:64"`
	Holder        string    `gorm:"size:128;not null"`
	Status        string    `gorm:"size:16;default:active;index"` // active, released, expired
	LastHeartbeat time.Time `gorm:"index"`
	AcquiredAt    time.Time
	ReleasedAt    *time.Time
}
