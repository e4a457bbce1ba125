package property

import (
	"fmt"

	"github.com/zulandar/larcrm/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// MatchLimit caps how many properties one search returns.
	MatchLimit = 5
	// MatchScore is the score recorded for every hit.
	MatchScore = 80.0
)

// Criteria are the lead attributes a catalog search uses. The price window
// applies only when both bounds are known.
type Criteria struct {
	Rooms     int
	BudgetMin *float64
	BudgetMax *float64
}

// CriteriaFor reads search criteria off a lead.
func CriteriaFor(l *models.Lead) Criteria {
	c := Criteria{BudgetMin: l.BudgetMin, BudgetMax: l.BudgetMax}
	if l.Rooms != nil {
		c.Rooms = *l.Rooms
	}
	return c
}

// FindMatches returns up to MatchLimit published properties with at least
// c.Rooms bedrooms and, when both bounds are set, a sale price inside the
// budget.
func FindMatches(db *gorm.DB, c Criteria) ([]models.Property, error) {
	q := published(db.Model(&models.Property{})).Where("bedrooms >= ?", c.Rooms)
	if c.BudgetMin != nil && c.BudgetMax != nil && *c.BudgetMin > 0 && *c.BudgetMax > 0 {
		q = q.Where("sale_price BETWEEN ? AND ?", *c.BudgetMin, *c.BudgetMax)
	}
	var props []models.Property
	if err := q.Order("sale_price ASC, id ASC").Limit(MatchLimit).Find(&props).Error; err != nil {
		return nil, fmt.Errorf("property: find matches: %w", err)
	}
	return props, nil
}

// RecordMatches stores a match row per property. Pairs already recorded
// for the lead are left as they are. It returns the number of new rows.
func RecordMatches(db *gorm.DB, leadID uint, conversationID *uint, props []models.Property) (int64, error) {
	if len(props) == 0 {
		return 0, nil
	}
	rows := make([]models.LeadPropertyMatch, len(props))
	for i, p := range props {
		rows[i] = models.LeadPropertyMatch{
			LeadID:         leadID,
			PropertyID:     p.ID,
			ConversationID: conversationID,
			Score:          MatchScore,
		}
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "lead_id"}, {Name: "property_id"}},
		DoNothing: true,
	}).Create(&rows)
	if result.Error != nil {
		return 0, fmt.Errorf("property: record matches for lead %d: %w", leadID, result.Error)
	}
	return result.RowsAffected, nil
}

// Match searches the catalog for l and records the hits.
func Match(db *gorm.DB, l *models.Lead, conversationID *uint) ([]models.Property, error) {
	props, err := FindMatches(db, CriteriaFor(l))
	if err != nil {
		return nil, err
	}
	if _, err := RecordMatches(db, l.ID, conversationID, props); err != nil {
		return nil, err
	}
	return props, nil
}
