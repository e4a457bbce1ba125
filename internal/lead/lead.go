// Package lead provides lead lifecycle operations: intake by phone, merging
// of extracted criteria, admin updates and funnel statistics.
package lead

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/larcrm/internal/models"
	"github.com/zulandar/larcrm/internal/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Funnel statuses.
const (
	StatusNovo          = "novo"
	StatusEmAtendimento = "em_atendimento"
	StatusQualificado   = "qualificado"
	StatusProposta      = "proposta"
	StatusFechado       = "fechado"
	StatusPerdido       = "perdido"
)

// Statuses lists every funnel status in pipeline order.
var Statuses = []string{
	StatusNovo, StatusEmAtendimento, StatusQualificado,
	StatusProposta, StatusFechado, StatusPerdido,
}

var (
	// ErrNotFound is returned when no lead matches the lookup.
	ErrNotFound = errors.New("lead: not found")
	// ErrInvalid wraps validation failures on admin mutations.
	ErrInvalid = errors.New("lead: invalid")
)

// ValidStatus reports whether s is one of the funnel statuses.
func ValidStatus(s string) bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ListFilters holds optional filters for listing leads.
type ListFilters struct {
	Status  string
	AgentID *uint
	Search  string // name or phone substring
	pagination.Params
}

// Profile is what the messaging gateway tells us about a sender.
type Profile struct {
	Name     string
	Location string
}

// Get retrieves a lead by ID with its agent, conversations and matches.
func Get(db *gorm.DB, id uint) (*models.Lead, error) {
	var l models.Lead
	err := db.Preload("Agent").
		Preload("Conversations", func(tx *gorm.DB) *gorm.DB { return tx.Order("last_activity DESC") }).
		Preload("Matches.Property").
		First(&l, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("lead: get %d: %w", id, err)
	}
	return &l, nil
}

// GetByPhone retrieves a lead by its normalized phone number.
func GetByPhone(db *gorm.DB, phone string) (*models.Lead, error) {
	var l models.Lead
	if err := db.Where("phone = ?", phone).First(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, phone)
		}
		return nil, fmt.Errorf("lead: get by phone %s: %w", phone, err)
	}
	return &l, nil
}

// List returns one page of leads matching filters, most recently active first.
func List(db *gorm.DB, filters ListFilters) (*pagination.Result[models.Lead], error) {
	q := db.Model(&models.Lead{}).Preload("Agent")

	if filters.Status != "" {
		q = q.Where("status = ?", filters.Status)
	}
	if filters.AgentID != nil {
		q = q.Where("agent_id = ?", *filters.AgentID)
	}
	if s := strings.TrimSpace(filters.Search); s != "" {
		like := "%" + s + "%"
		q = q.Where("name LIKE ? OR phone LIKE ?", like, like)
	}

	res, err := pagination.Find[models.Lead](q, "last_interaction DESC, id DESC", filters.Params)
	if err != nil {
		return nil, fmt.Errorf("lead: list: %w", err)
	}
	return res, nil
}

// FindOrCreateByPhone returns the lead for phone, creating it with status
// novo when none exists. The insert ignores a concurrent duplicate, so two
// racing deliveries end up with the same row. Empty profile fields of an
// existing lead are filled from p.
func FindOrCreateByPhone(db *gorm.DB, phone string, p Profile) (*models.Lead, bool, error) {
	now := time.Now()
	fresh := models.Lead{
		Phone:            phone,
		Name:             p.Name,
		WhatsAppName:     p.Name,
		Location:         p.Location,
		Status:           StatusNovo,
		Origin:           "whatsapp",
		FirstInteraction: &now,
		LastInteraction:  &now,
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "phone"}},
		DoNothing: true,
	}).Create(&fresh)
	if result.Error != nil {
		return nil, false, fmt.Errorf("lead: create %s: %w", phone, result.Error)
	}
	created := result.RowsAffected == 1

	l, err := GetByPhone(db, phone)
	if err != nil {
		return nil, false, err
	}
	if created {
		return l, true, nil
	}

	updates := map[string]interface{}{"last_interaction": now}
	if l.Name == "" && p.Name != "" {
		updates["name"] = p.Name
	}
	if p.Name != "" && l.WhatsAppName != p.Name {
		updates["whatsapp_name"] = p.Name
	}
	if l.Location == "" && p.Location != "" {
		updates["location"] = p.Location
	}
	if err := db.Model(l).Updates(updates).Error; err != nil {
		return nil, false, fmt.Errorf("lead: refresh %s: %w", phone, err)
	}
	l, err = GetByPhone(db, phone)
	if err != nil {
		return nil, false, err
	}
	return l, false, nil
}

// Touch records an interaction with the lead.
func Touch(db *gorm.DB, id uint) error {
	if err := db.Model(&models.Lead{}).Where("id = ?", id).
		Update("last_interaction", time.Now()).Error; err != nil {
		return fmt.Errorf("lead: touch %d: %w", id, err)
	}
	return nil
}

// Extracted holds lead fields read out of a conversation. Nil or empty
// fields are "not mentioned" and never overwrite stored values.
type Extracted struct {
	Name      string
	Email     string
	BudgetMin *float64
	BudgetMax *float64
	Location  string
	Rooms     *int
	Suites    *int
	Garage    *int
	Features  []string
}

// MergeExtracted writes the non-empty fields of x that differ from l,
// persists them and reloads l. It returns true when anything changed.
func MergeExtracted(db *gorm.DB, l *models.Lead, x Extracted) (bool, error) {
	updates := map[string]interface{}{}
	if x.Name != "" && l.Name == "" {
		updates["name"] = x.Name
	}
	if x.Email != "" && x.Email != l.Email {
		updates["email"] = x.Email
	}
	setFloat(updates, "budget_min", l.BudgetMin, x.BudgetMin)
	setFloat(updates, "budget_max", l.BudgetMax, x.BudgetMax)
	if x.Location != "" && x.Location != l.Location {
		updates["location"] = x.Location
	}
	setInt(updates, "rooms", l.Rooms, x.Rooms)
	setInt(updates, "suites", l.Suites, x.Suites)
	setInt(updates, "garage", l.Garage, x.Garage)
	if len(x.Features) > 0 {
		raw, err := json.Marshal(x.Features)
		if err != nil {
			return false, fmt.Errorf("lead: marshal features: %w", err)
		}
		if string(raw) != string(l.DesiredFeatures) {
			updates["desired_features"] = datatypes.JSON(raw)
		}
	}
	if len(updates) == 0 {
		return false, nil
	}
	if err := db.Model(l).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("lead: merge extracted into %d: %w", l.ID, err)
	}
	if err := db.First(l, l.ID).Error; err != nil {
		return false, fmt.Errorf("lead: reload %d: %w", l.ID, err)
	}
	return true, nil
}

func setFloat(updates map[string]interface{}, column string, cur, next *float64) {
	if next == nil || *next <= 0 || (cur != nil && *cur == *next) {
		return
	}
	updates[column] = *next
}

func setInt(updates map[string]interface{}, column string, cur, next *int) {
	if next == nil || *next <= 0 || (cur != nil && *cur == *next) {
		return
	}
	updates[column] = *next
}

// HasMatchCriteria reports whether l carries a budget, a location and a room
// count, the minimum needed to search the catalog.
func HasMatchCriteria(l *models.Lead) bool {
	if l == nil {
		return false
	}
	hasBudget := (l.BudgetMin != nil && *l.BudgetMin > 0) || (l.BudgetMax != nil && *l.BudgetMax > 0)
	return hasBudget && l.Location != "" && l.Rooms != nil && *l.Rooms > 0
}

// HasAnyCriteria reports whether at least one search criterion is known.
func HasAnyCriteria(l *models.Lead) bool {
	if l == nil {
		return false
	}
	return (l.BudgetMin != nil && *l.BudgetMin > 0) ||
		(l.BudgetMax != nil && *l.BudgetMax > 0) ||
		l.Location != "" ||
		(l.Rooms != nil && *l.Rooms > 0)
}

// UpdateStatus sets the funnel status of a lead and bumps updated_at.
func UpdateStatus(db *gorm.DB, id uint, status string) (*models.Lead, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: status %q must be one of %s", ErrInvalid, status, strings.Join(Statuses, ", "))
	}
	result := db.Model(&models.Lead{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	})
	if result.Error != nil {
		return nil, fmt.Errorf("lead: update status %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return Get(db, id)
}

// Update overwrites the given columns of a lead. Use FieldsFromJSON to build
// updates from an admin request body.
func Update(db *gorm.DB, id uint, updates map[string]interface{}) (*models.Lead, error) {
	if s, ok := updates["status"].(string); ok && !ValidStatus(s) {
		return nil, fmt.Errorf("%w: status %q must be one of %s", ErrInvalid, s, strings.Join(Statuses, ", "))
	}

	var l models.Lead
	if err := db.First(&l, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("lead: get %d for update: %w", id, err)
	}
	if len(updates) > 0 {
		if err := db.Model(&l).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("lead: update %d: %w", id, err)
		}
	}
	return Get(db, id)
}

// field describes one admin-editable attribute.
type field struct {
	column string
	kind   string // string, int, float, uint
}

// editable maps request keys to columns. Everything else is ignored.
var editable = map[string]field{
	"nome":        {"name", "string"},
	"email":       {"email", "string"},
	"status":      {"status", "string"},
	"localizacao": {"location", "string"},
	"corretor_id": {"agent_id", "uint"},
	"budget_min":  {"budget_min", "float"},
	"budget_max":  {"budget_max", "float"},
	"quartos":     {"rooms", "int"},
	"suites":      {"suites", "int"},
	"garagem":     {"garage", "int"},
}

// FieldsFromJSON converts a decoded admin request body into column updates.
// Unknown keys are dropped; JSON null clears nullable columns.
func FieldsFromJSON(body map[string]interface{}) (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	for key, raw := range body {
		f, ok := editable[key]
		if !ok {
			continue
		}
		if raw == nil {
			if f.kind == "string" {
				updates[f.column] = ""
			} else {
				updates[f.column] = nil
			}
			continue
		}
		switch f.kind {
		case "string":
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must be a string", ErrInvalid, key)
			}
			updates[f.column] = strings.TrimSpace(s)
		case "float":
			n, ok := raw.(float64)
			if !ok || n < 0 {
				return nil, fmt.Errorf("%w: %s must be a non-negative number", ErrInvalid, key)
			}
			updates[f.column] = n
		case "int", "uint":
			n, ok := raw.(float64)
			if !ok || n < 0 || n != float64(int64(n)) {
				return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalid, key)
			}
			if f.kind == "uint" {
				updates[f.column] = uint(n)
			} else {
				updates[f.column] = int(n)
			}
		}
	}
	if s, ok := updates["status"].(string); ok && !ValidStatus(s) {
		return nil, fmt.Errorf("%w: status %q must be one of %s", ErrInvalid, s, strings.Join(Statuses, ", "))
	}
	return updates, nil
}
