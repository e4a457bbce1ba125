package catalog

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/zulandar/larcrm/internal/geocode"
	"github.com/zulandar/larcrm/internal/listing"
	"github.com/zulandar/larcrm/internal/models"
	"github.com/zulandar/larcrm/internal/property"
	"gorm.io/datatypes"
)

const defaultType = "Residencial"

// stubFromSummary maps a listing row onto the stub written in phase 1.
func stubFromSummary(s listing.Summary) property.Stub {
	typ := s.Type.String()
	if typ == "" {
		typ = defaultType
	}
	return property.Stub{
		Code:      s.Code.String(),
		Reference: s.Reference.String(),
		Purpose:   listing.NormalizePurpose(s.Purpose.String()),
		Type:      typ,
		Active:    bool(s.Status),
	}
}

// mapDetail converts a provider record into the property columns and image
// rows written in phase 2. Description and coordinates are filled in by the
// worker.
func mapDetail(d *listing.Detail, now time.Time) (*models.Property, []models.PropertyImage) {
	purpose := listing.NormalizePurpose(d.Purpose.String())
	typ := d.Type.String()
	if typ == "" {
		typ = defaultType
	}

	p := &models.Property{
		Code:             d.Code.String(),
		Reference:        d.Reference.String(),
		Purpose:          purpose,
		Type:             typ,
		Bedrooms:         int(d.Bedrooms),
		Suites:           int(d.Suites),
		Bathrooms:        int(d.Bathrooms),
		Garage:           int(d.Garage),
		CondoFee:         d.CondoFee.Ptr(),
		PropertyTax:      d.PropertyTax.Ptr(),
		Street:           d.Address.Street.String(),
		Number:           d.Address.Number.String(),
		Complement:       d.Address.Complement.String(),
		Neighborhood:     d.Address.Neighborhood.String(),
		City:             optional(d.Address.City.String()),
		State:            strings.ToUpper(d.Address.State.String()),
		PostalCode:       d.Address.PostalCode.String(),
		PrivateArea:      d.Area.Private.Value.Ptr(),
		TotalArea:        d.Area.Total.Value.Ptr(),
		LandArea:         d.Area.Land.Value.Ptr(),
		InCondo:          bool(d.InCondo),
		AcceptsFinancing: bool(d.AcceptsFinancing),
		Visible:          bool(d.Visible),
		Raw:              datatypes.JSON(d.Raw),
		DetailSyncedAt:   &now,
	}
	lower := strings.ToLower(purpose)
	if strings.Contains(lower, "venda") {
		p.SalePrice = d.ExpectedValue.Ptr()
	}
	if strings.Contains(lower, "aluguel") {
		p.RentPrice = d.ExpectedValue.Ptr()
	}

	var features []string
	for _, f := range d.Features {
		if name := f.Name.String(); name != "" {
			features = append(features, name)
		}
	}
	if features == nil {
		features = []string{}
	}
	if b, err := json.Marshal(features); err == nil {
		p.Features = datatypes.JSON(b)
	}

	var images []models.PropertyImage
	for _, img := range d.Images {
		url := img.URL.String()
		if url == "" {
			continue
		}
		featured := bool(img.Featured)
		if featured && p.FeaturedImage == "" {
			p.FeaturedImage = url
		}
		images = append(images, models.PropertyImage{URL: url, Featured: featured})
	}
	if p.FeaturedImage == "" && len(images) > 0 {
		p.FeaturedImage = images[0].URL
	}
	return p, images
}

// addressOf builds the geocoder input for a mapped property.
func addressOf(d *listing.Detail) geocode.Address {
	return geocode.Address{
		Street:       d.Address.Street.String(),
		Number:       d.Address.Number.String(),
		Neighborhood: d.Address.Neighborhood.String(),
		City:         d.Address.City.String(),
		State:        d.Address.State.String(),
		PostalCode:   d.Address.PostalCode.String(),
		Latitude:     d.Address.Latitude.Ptr(),
		Longitude:    d.Address.Longitude.Ptr(),
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
