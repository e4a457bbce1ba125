// Package pagination applies page/per_page windows to GORM queries.
package pagination

import "gorm.io/gorm"

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params is a requested page. Zero values mean "first page, default size".
type Params struct {
	Page    int
	PerPage int
}

// Normalize clamps p to valid values.
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Result is one page of rows plus the totals the admin UI needs.
type Result[T any] struct {
	Data        []T   `json:"data"`
	Total       int64 `json:"total"`
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	LastPage    int   `json:"last_page"`
}

// Find counts q, then loads the requested page ordered by order into a
// Result. q carries the filters; ordering is applied only to the page query.
func Find[T any](q *gorm.DB, order string, p Params) (*Result[T], error) {
	p = p.Normalize()

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	rows := make([]T, 0, p.PerPage)
	if order != "" {
		q = q.Order(order)
	}
	if err := q.Offset(p.Offset()).Limit(p.PerPage).Find(&rows).Error; err != nil {
		return nil, err
	}

	last := int((total + int64(p.PerPage) - 1) / int64(p.PerPage))
	if last < 1 {
		last = 1
	}
	return &Result[T]{
		Data:        rows,
		Total:       total,
		CurrentPage: p.Page,
		PerPage:     p.PerPage,
		LastPage:    last,
	}, nil
}
