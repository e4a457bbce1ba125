package lead

import (
	"fmt"
	"time"

	"github.com/zulandar/larcrm/internal/models"
	"gorm.io/gorm"
)

// StatusCount holds a status and its count.
type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

// Stats summarizes the lead funnel.
type Stats struct {
	Total    int64            `json:"total"`
	Today    int64            `json:"hoje"`
	ByStatus map[string]int64 `json:"por_status"`
}

// GetStats counts leads per status and leads created since local midnight.
// Every status appears in ByStatus, zero when empty.
func GetStats(db *gorm.DB, now time.Time) (*Stats, error) {
	var rows []StatusCount
	if err := db.Model(&models.Lead{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("lead: stats: %w", err)
	}

	s := &Stats{ByStatus: make(map[string]int64, len(Statuses))}
	for _, st := range Statuses {
		s.ByStatus[st] = 0
	}
	for _, r := range rows {
		s.ByStatus[r.Status] = r.Count
		s.Total += r.Count
	}

	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if err := db.Model(&models.Lead{}).Where("created_at >= ?", midnight).Count(&s.Today).Error; err != nil {
		return nil, fmt.Errorf("lead: stats today: %w", err)
	}
	return s, nil
}
