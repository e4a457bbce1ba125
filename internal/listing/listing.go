// Package listing is a client for the third-party property listing API the
// catalog is mirrored from.
package listing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/larcrm/internal/config"
)

const requestTimeout = 60 * time.Second

// ErrUnavailable is returned when the API answers with status false.
var ErrUnavailable = errors.New("listing: api returned status false")

// Purposes normalizes the provider's purpose labels.
var Purposes = map[string]string{
	"Locação":         "Aluguel",
	"Venda":           "Venda",
	"Aluguel":         "Aluguel",
	"Venda/Aluguel":   "Venda/Aluguel",
	"Venda / Aluguel": "Venda/Aluguel",
}

// NormalizePurpose maps a raw purpose label, defaulting to Venda.
func NormalizePurpose(raw string) string {
	if p, ok := Purposes[strings.TrimSpace(raw)]; ok {
		return p
	}
	return "Venda"
}

// Summary is one row of the paginated listing.
type Summary struct {
	Code      Text `json:"codigoImovel"`
	Reference Text `json:"referenciaImovel"`
	Purpose   Text `json:"finalidadeImovel"`
	Type      Text `json:"descricaoTipoImovel"`
	Status    Flag `json:"statusImovel"`
}

// Page is one page of the listing with normalized pagination.
type Page struct {
	Number     int
	TotalPages int
	Items      []Summary
}

// Address is the provider's address block.
type Address struct {
	Street       Text     `json:"logradouro"`
	Number       Text     `json:"numero"`
	Complement   Text     `json:"complemento"`
	Neighborhood Text     `json:"bairro"`
	City         Text     `json:"cidade"`
	State        Text     `json:"estado"`
	PostalCode   Text     `json:"cep"`
	Latitude     *Decimal `json:"latitude"`
	Longitude    *Decimal `json:"longitude"`
}

type areaValue struct {
	Value *Decimal `json:"valor"`
}

// Areas groups the measured areas in square meters.
type Areas struct {
	Private areaValue `json:"privativa"`
	Total   areaValue `json:"total"`
	Land    areaValue `json:"terreno"`
}

// Image is a listing photo.
type Image struct {
	URL      Text `json:"url"`
	Featured Flag `json:"destaque"`
}

// Feature is a named amenity.
type Feature struct {
	Name Text `json:"nomeCaracteristica"`
}

// Detail is the full record for one property.
type Detail struct {
	Code             Text      `json:"codigoImovel"`
	Reference        Text      `json:"referenciaImovel"`
	Purpose          Text      `json:"finalidadeImovel"`
	Type             Text      `json:"descricaoTipoImovel"`
	Status           Flag      `json:"statusImovel"`
	Bedrooms         Decimal   `json:"dormitorios"`
	Suites           Decimal   `json:"suites"`
	Bathrooms        Decimal   `json:"banheiros"`
	Garage           Decimal   `json:"garagem"`
	ExpectedValue    *Decimal  `json:"valorEsperado"`
	PropertyTax      *Decimal  `json:"valorIPTU"`
	CondoFee         *Decimal  `json:"valorCondominio"`
	Address          Address   `json:"endereco"`
	Area             Areas     `json:"area"`
	Description      Text      `json:"descricaoImovel"`
	Images           []Image   `json:"imagens"`
	Features         []Feature `json:"caracteristicas"`
	InCondo          Flag      `json:"emCondominio"`
	AcceptsFinancing Flag      `json:"aceitaFinanciamento"`
	Visible          Flag      `json:"exibirImovel"`

	// Raw is the resultSet exactly as received.
	Raw json.RawMessage `json:"-"`
}

type envelope struct {
	Status    Flag            `json:"status"`
	Message   Text            `json:"message"`
	ResultSet json.RawMessage `json:"resultSet"`
}

// Client calls the listing API with the token header.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	http     *http.Client
}

// New returns a Client built from cfg.
func New(cfg config.ListingConfig) *Client {
	size := cfg.PageSize
	if size <= 0 {
		size = 100
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.Token,
		pageSize: size,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

// List fetches one page of active listings.
func (c *Client) List(ctx context.Context, page int) (*Page, error) {
	q := url.Values{
		"status":   {"ativo"},
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(c.pageSize)},
	}
	rs, err := c.get(ctx, "/lista?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("listing: list page %d: %w", page, err)
	}
	p, err := decodePage(rs, c.pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing: list page %d: %w", page, err)
	}
	p.Number = page
	return p, nil
}

// Detail fetches the full record for code.
func (c *Client) Detail(ctx context.Context, code string) (*Detail, error) {
	rs, err := c.get(ctx, "/dados/"+url.PathEscape(code))
	if err != nil {
		return nil, fmt.Errorf("listing: detail %s: %w", code, err)
	}
	var d Detail
	if err := json.Unmarshal(rs, &d); err != nil {
		return nil, fmt.Errorf("listing: detail %s: decode: %w", code, err)
	}
	if d.Code == "" {
		d.Code = Text(code)
	}
	d.Raw = rs
	return &d, nil
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if !env.Status {
		if env.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrUnavailable, env.Message)
		}
		return nil, ErrUnavailable
	}
	return env.ResultSet, nil
}

// decodePage reads the data array and whichever pagination fields the
// provider sent. Without any, the page count is derived from the totals or
// defaults to 1.
func decodePage(rs json.RawMessage, pageSize int) (*Page, error) {
	var body struct {
		Data         []Summary `json:"data"`
		TotalPages   *Decimal  `json:"total_pages"`
		TotalPagesC  *Decimal  `json:"totalPages"`
		TotalPaginas *Decimal  `json:"total_paginas"`
		LastPage     *Decimal  `json:"last_page"`
		TotalItems   *Decimal  `json:"total_items"`
		Total        *Decimal  `json:"total"`
		PerPage      *Decimal  `json:"per_page"`
	}
	if err := json.Unmarshal(rs, &body); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	p := &Page{Items: body.Data, TotalPages: 1}
	for _, v := range []*Decimal{body.TotalPages, body.TotalPagesC, body.TotalPaginas, body.LastPage} {
		if v != nil && *v > 0 {
			p.TotalPages = int(*v)
			return p, nil
		}
	}
	per := pageSize
	if body.PerPage != nil && *body.PerPage > 0 {
		per = int(*body.PerPage)
	}
	for _, v := range []*Decimal{body.TotalItems, body.Total} {
		if v != nil && *v > 0 && per > 0 {
			p.TotalPages = int(math.Ceil(float64(*v) / float64(per)))
			return p, nil
		}
	}
	return p, nil
}
