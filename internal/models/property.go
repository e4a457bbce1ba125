package models

import (
	"time"

	"gorm.io/datatypes"
)

// Property is a catalog listing mirrored from the third-party listing API.
// Code is the upstream natural key.
type Property struct {
	ID               uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Code             string         `gorm:"size:64;not null;uniqueIndex" json:"codigo"`
	Reference        string         `gorm:"size:64" json:"referencia"`
	Purpose          string         `gorm:"size:32" json:"finalidade"`
	Type             string         `gorm:"size:64;index" json:"tipo_imovel"`
	Bedrooms         int            `gorm:"default:0;index" json:"dormitorios"`
	Suites           int            `gorm:"default:0" json:"suites"`
	Bathrooms        int            `gorm:"default:0" json:"banheiros"`
	Garage           int            `gorm:"default:0" json:"garagem"`
	SalePrice        *float64       `gorm:"index" json:"valor_venda"`
	RentPrice        *float64       `json:"valor_aluguel"`
	CondoFee         *float64       `json:"valor_condominio"`
	PropertyTax      *float64       `json:"valor_iptu"`
	Street           string         `gorm:"size:255" json:"logradouro"`
	Number           string         `gorm:"size:32" json:"numero"`
	Complement       string         `gorm:"size:255" json:"complemento"`
	Neighborhood     string         `gorm:"size:128;index" json:"bairro"`
	City             *string        `gorm:"size:128;index" json:"cidade"`
	State            string         `gorm:"size:2" json:"estado"`
	PostalCode       string         `gorm:"size:16" json:"cep"`
	Latitude         *float64       `json:"latitude"`
	Longitude        *float64       `json:"longitude"`
	GeocodeMethod    string         `gorm:"size:32" json:"geocode_method,omitempty"`
	PrivateArea      *float64       `json:"area_privativa"`
	TotalArea        *float64       `json:"area_total"`
	LandArea         *float64       `json:"area_terreno"`
	Description      *string        `gorm:"type:text" json:"descricao"`
	FeaturedImage    string         `gorm:"size:1024" json:"imagem_destaque"`
	Features         datatypes.JSON `json:"caracteristicas"`
	InCondo          bool           `gorm:"default:false" json:"em_condominio"`
	AcceptsFinancing bool           `gorm:"default:false" json:"aceita_financiamento"`
	Active           bool           `gorm:"not null;index" json:"active"`
	Visible          bool           `gorm:"not null;index" json:"exibir_imovel"`
	Raw              datatypes.JSON `json:"-"`
	DetailSyncedAt   *time.Time     `gorm:"index" json:"detail_synced_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	Images []PropertyImage `gorm:"foreignKey:PropertyID" json:"imagens,omitempty"`
}

// PropertyImage is one photo of a property. Images are replaced wholesale on
// every detail sync.
type PropertyImage struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	PropertyID uint   `gorm:"not null;index" json:"-"`
	URL        string `gorm:"size:1024;not null" json:"url"`
	Featured   bool   `gorm:"default:false" json:"destaque"`
	Position   int    `gorm:"default:0" json:"ordem"`
}

// LeadPropertyMatch records a property considered to fit a lead's criteria.
// The (lead, property) pair is unique.
type LeadPropertyMatch struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	LeadID         uint      `gorm:"not null;uniqueIndex:idx_lead_property" json:"lead_id"`
	PropertyID     uint      `gorm:"not null;uniqueIndex:idx_lead_property" json:"property_id"`
	ConversationID *uint     `gorm:"index" json:"conversa_id"`
	Score          float64   `gorm:"default:0" json:"match_score"`
	CreatedAt      time.Time `json:"created_at"`

	Property *Property `gorm:"foreignKey:PropertyID" json:"property,omitempty"`
}
