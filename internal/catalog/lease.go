package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/zulandar/larcrm/internal/models"
	"gorm.io/gorm"
)

// ErrLocked is returned when another sync run holds the host lock or the
// database lease.
var ErrLocked = errors.New("catalog: sync already running")

// DefaultLeaseTimeout is how long a lease survives without a heartbeat.
const DefaultLeaseTimeout = 10 * time.Minute

const (
	leaseActive   = "active"
	leaseReleased = "released"
	leaseExpired  = "expired"
)

// AcquireLease takes the named lease for holder. A lease whose heartbeat is
// older than timeout is expired first and can be taken over.
func AcquireLease(db *gorm.DB, name, holder string, timeout time.Duration) (*models.SyncLease, error) {
	if timeout <= 0 {
		timeout = DefaultLeaseTimeout
	}

	var lease models.SyncLease
	err := db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&models.SyncLease{}).
			Where("name = ? AND status = ? AND last_heartbeat < ?", name, leaseActive, now.Add(-timeout)).
			Update("status", leaseExpired).Error; err != nil {
			return fmt.Errorf("expire stale lease: %w", err)
		}

		claim := map[string]interface{}{
			"holder":         holder,
			"status":         leaseActive,
			"last_heartbeat": now,
			"acquired_at":    now,
			"released_at":    nil,
		}
		result := tx.Model(&models.SyncLease{}).
			Where("name = ? AND status <> ?", name, leaseActive).
			Updates(claim)
		if result.Error != nil {
			return fmt.Errorf("claim lease: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			var existing models.SyncLease
			err := tx.Where("name = ?", name).First(&existing).Error
			if err == nil {
				return fmt.Errorf("%w: lease %q held by %s since %s", ErrLocked, name, existing.Holder, existing.AcquiredAt.Format(time.RFC3339))
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("check lease: %w", err)
			}
			lease = models.SyncLease{Name: name, Holder: holder, Status: leaseActive, LastHeartbeat: now, AcquiredAt: now}
			if err := tx.Create(&lease).Error; err != nil {
				return fmt.Errorf("%w: create lease: %v", ErrLocked, err)
			}
			return nil
		}
		return tx.Where("name = ?", name).First(&lease).Error
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: acquire lease: %w", err)
	}
	return &lease, nil
}

// HeartbeatLease refreshes the lease held by holder.
func HeartbeatLease(db *gorm.DB, name, holder string) error {
	result := db.Model(&models.SyncLease{}).
		Where("name = ? AND holder = ? AND status = ?", name, holder, leaseActive).
		Update("last_heartbeat", time.Now())
	if result.Error != nil {
		return fmt.Errorf("catalog: heartbeat lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("catalog: heartbeat lease: %q not held by %s", name, holder)
	}
	return nil
}

// ReleaseLease gives the lease back.
func ReleaseLease(db *gorm.DB, name, holder string) error {
	result := db.Model(&models.SyncLease{}).
		Where("name = ? AND holder = ? AND status = ?", name, holder, leaseActive).
		Updates(map[string]interface{}{
			"status":      leaseReleased,
			"released_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("catalog: release lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("catalog: release lease: %q not held by %s", name, holder)
	}
	return nil
}

// lockHost takes the non-blocking host file lock in dir.
func lockHost(dir string) (*flock.Flock, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	fl := flock.New(filepath.Join(dir, "lar-sync.lock"))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("catalog: lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held", ErrLocked, fl.Path())
	}
	return fl, nil
}

// holderID names this process in lease rows.
func holderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
