// Package property provides catalog queries, lead matching and the
// transactional writes used by the sync worker.
package property

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/larcrm/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when no property matches the lookup.
var ErrNotFound = errors.New("property: not found")

// PublicFilters are the optional filters of the public catalog. Text
// filters are case-insensitive substring matches.
type PublicFilters struct {
	Type         string
	City         string
	Neighborhood string
	MinRooms     *int
	MinPrice     *float64
	MaxPrice     *float64
}

// published restricts q to listings that may be shown publicly.
func published(q *gorm.DB) *gorm.DB {
	return q.Where("active = ? AND visible = ?", true, true)
}

func orderedImages(tx *gorm.DB) *gorm.DB {
	return tx.Order("position ASC, id ASC")
}

// ilike adds a case-insensitive substring filter on column.
func ilike(q *gorm.DB, column, value string) *gorm.DB {
	value = strings.TrimSpace(value)
	if value == "" {
		return q
	}
	return q.Where("LOWER("+column+") LIKE ?", "%"+strings.ToLower(value)+"%")
}

// ListPublic returns published properties matching f, newest first.
func ListPublic(db *gorm.DB, f PublicFilters) ([]models.Property, error) {
	q := published(db.Model(&models.Property{})).Preload("Images", orderedImages)
	q = ilike(q, "type", f.Type)
	q = ilike(q, "city", f.City)
	q = ilike(q, "neighborhood", f.Neighborhood)
	if f.MinRooms != nil {
		q = q.Where("bedrooms >= ?", *f.MinRooms)
	}
	if f.MinPrice != nil {
		q = q.Where("sale_price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		q = q.Where("sale_price <= ?", *f.MaxPrice)
	}

	props := []models.Property{}
	if err := q.Order("created_at DESC, id DESC").Find(&props).Error; err != nil {
		return nil, fmt.Errorf("property: list public: %w", err)
	}
	return props, nil
}

// GetPublic retrieves a published property by its external code.
func GetPublic(db *gorm.DB, code string) (*models.Property, error) {
	var p models.Property
	err := published(db.Model(&models.Property{})).
		Preload("Images", orderedImages).
		Where("code = ?", code).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
		}
		return nil, fmt.Errorf("property: get %s: %w", code, err)
	}
	return &p, nil
}

// GetByCode retrieves any property, published or not, by external code.
func GetByCode(db *gorm.DB, code string) (*models.Property, error) {
	var p models.Property
	if err := db.Preload("Images", orderedImages).Where("code = ?", code).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, code)
		}
		return nil, fmt.Errorf("property: get %s: %w", code, err)
	}
	return &p, nil
}

// Stub is the minimal listing row produced by the paginated catalog scan.
type Stub struct {
	Code      string
	Reference string
	Purpose   string
	Type      string
	Active    bool
}

// UpsertStubs inserts or refreshes stub rows keyed by code. Detail fields
// of existing rows are left untouched.
func UpsertStubs(db *gorm.DB, stubs []Stub) (int, error) {
	if len(stubs) == 0 {
		return 0, nil
	}
	rows := make([]models.Property, 0, len(stubs))
	seen := make(map[string]bool, len(stubs))
	for _, s := range stubs {
		if s.Code == "" || seen[s.Code] {
			continue
		}
		seen[s.Code] = true
		rows = append(rows, models.Property{
			Code:      s.Code,
			Reference: s.Reference,
			Purpose:   s.Purpose,
			Type:      s.Type,
			Active:    s.Active,
			Visible:   true,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	// Select keeps zero-valued Active in the insert.
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"reference", "purpose", "type", "active", "updated_at"}),
	}).Select("Code", "Reference", "Purpose", "Type", "Active", "Visible", "CreatedAt", "UpdatedAt").Create(&rows)
	if result.Error != nil {
		return 0, fmt.Errorf("property: upsert stubs: %w", result.Error)
	}
	return len(rows), nil
}

// NeedingDetail returns active properties whose detail fields are missing or
// were last synced before staleBefore. With force every active property is
// returned.
func NeedingDetail(db *gorm.DB, staleBefore time.Time, force bool) ([]models.Property, error) {
	q := db.Model(&models.Property{}).Where("active = ?", true)
	if !force {
		q = q.Where("description IS NULL OR city IS NULL OR detail_synced_at IS NULL OR detail_synced_at < ?", staleBefore)
	}
	var props []models.Property
	if err := q.Order("id ASC").Find(&props).Error; err != nil {
		return nil, fmt.Errorf("property: needing detail: %w", err)
	}
	return props, nil
}

// detailColumns are written by SaveDetail, zero values included.
var detailColumns = []string{
	"reference", "purpose", "type", "bedrooms", "suites", "bathrooms", "garage",
	"sale_price", "rent_price", "condo_fee", "property_tax",
	"street", "number", "complement", "neighborhood", "city", "state", "postal_code",
	"latitude", "longitude", "geocode_method",
	"private_area", "total_area", "land_area",
	"description", "featured_image", "features",
	"in_condo", "accepts_financing", "active", "visible",
	"raw", "detail_synced_at", "updated_at",
}

// SaveDetail overwrites a property's detail fields and replaces its images
// in one transaction, so readers never see new attributes with old images.
func SaveDetail(db *gorm.DB, id uint, p *models.Property, images []models.PropertyImage) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Property{}).Where("id = ?", id).Select(detailColumns).Updates(p)
		if result.Error != nil {
			return fmt.Errorf("update property: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		if err := tx.Where("property_id = ?", id).Delete(&models.PropertyImage{}).Error; err != nil {
			return fmt.Errorf("delete images: %w", err)
		}
		if len(images) == 0 {
			return nil
		}
		rows := make([]models.PropertyImage, len(images))
		for i, img := range images {
			img.ID = 0
			img.PropertyID = id
			img.Position = i
			rows[i] = img
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert images: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("property: save detail %d: %w", id, err)
	}
	return nil
}
