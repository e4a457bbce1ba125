// Package geocode resolves property addresses to coordinates, trying the
// provider's own coordinates, the postal code, progressively coarser
// address queries and finally the state centroid.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/larcrm/internal/config"
	"golang.org/x/time/rate"
)

// Methods recorded on a resolved coordinate.
const (
	MethodProvider     = "provider"
	MethodPostalCode   = "cep"
	MethodFullAddress  = "endereco"
	MethodStreet       = "logradouro"
	MethodNeighborhood = "bairro"
	MethodCity         = "cidade"
	MethodState        = "estado"
	MethodFailed       = "falha"
)

// Fallback location for listings without a city.
const (
	defaultCity  = "Belo Horizonte"
	defaultState = "MG"
)

const (
	viaCEPTimeout    = 5 * time.Second
	nominatimTimeout = 10 * time.Second
)

var (
	// ErrNotFound means no step of the chain produced a coordinate.
	ErrNotFound = errors.New("geocode: address not found")
	// ErrUnavailable marks a transport failure or non-200 answer from a
	// lookup service.
	ErrUnavailable = errors.New("geocode: service unavailable")
)

// Address is the input to Locate. Latitude and Longitude are the
// provider's own coordinates, when it sent any.
type Address struct {
	Street       string
	Number       string
	Neighborhood string
	City         string
	State        string
	PostalCode   string
	Latitude     *float64
	Longitude    *float64
}

// Result is a resolved coordinate and how it was obtained.
type Result struct {
	Lat    float64
	Lng    float64
	Method string
}

// Geocoder runs the lookup chain. It is safe for concurrent use; calls to
// external services are serialized by a shared rate limiter.
type Geocoder struct {
	viaCEPURL    string
	nominatimURL string
	userAgent    string
	http         *http.Client
	limiter      *rate.Limiter

	mu    sync.Mutex
	cache map[string]*Result
	stats map[string]int
}

// New returns a Geocoder built from cfg.
func New(cfg config.GeocodeConfig) *Geocoder {
	interval := cfg.MinInterval
	if interval <= 0 {
		interval = 1100 * time.Millisecond
	}
	return &Geocoder{
		viaCEPURL:    strings.TrimRight(cfg.ViaCEPURL, "/"),
		nominatimURL: cfg.NominatimURL,
		userAgent:    cfg.UserAgent,
		http:         &http.Client{},
		limiter:      rate.NewLimiter(rate.Every(interval), 1),
		cache:        make(map[string]*Result),
		stats:        make(map[string]int),
	}
}

// Locate resolves a. Answers are cached until the next Reset, failures
// included, so a bad address is tried once per sync run. Results reached
// after a service was unavailable are returned but not cached.
func (g *Geocoder) Locate(ctx context.Context, a Address) (*Result, error) {
	if a.Latitude != nil && a.Longitude != nil && InBrazil(*a.Latitude, *a.Longitude) {
		return g.record(&Result{Lat: *a.Latitude, Lng: *a.Longitude, Method: MethodProvider}), nil
	}

	a = normalize(a)
	key := cacheKey(a)
	g.mu.Lock()
	cached, ok := g.cache[key]
	g.mu.Unlock()
	if ok {
		if cached == nil {
			return nil, ErrNotFound
		}
		return cached, nil
	}

	res, degraded, err := g.resolve(ctx, a)
	if err != nil && ctx.Err() != nil {
		return nil, err
	}
	if !degraded {
		g.mu.Lock()
		g.cache[key] = res
		g.mu.Unlock()
	}
	if res == nil {
		g.record(&Result{Method: MethodFailed})
		return nil, ErrNotFound
	}
	return g.record(res), nil
}

// resolve walks the chain. degraded reports that some step failed because
// a service was unavailable, so a coarser answer may be temporary.
func (g *Geocoder) resolve(ctx context.Context, a Address) (res *Result, degraded bool, err error) {
	if a.PostalCode != "" {
		lat, lng, err := g.viaCEP(ctx, a.PostalCode)
		if err == nil {
			return &Result{Lat: lat, Lng: lng, Method: MethodPostalCode}, false, nil
		}
		if ctx.Err() != nil {
			return nil, true, err
		}
		degraded = errors.Is(err, ErrUnavailable)
	}

	type query struct{ method, q string }
	var queries []query
	if a.Street != "" && a.Number != "" {
		queries = append(queries, query{MethodFullAddress, join(a.Street, a.Number, a.Neighborhood, a.City, a.State, "Brasil")})
	}
	if a.Street != "" {
		queries = append(queries, query{MethodStreet, join(a.Street, a.Neighborhood, a.City, a.State, "Brasil")})
	}
	if a.Neighborhood != "" {
		queries = append(queries, query{MethodNeighborhood, join(a.Neighborhood, a.City, a.State, "Brasil")})
	}
	queries = append(queries, query{MethodCity, join(a.City, a.State, "Brasil")})

	for _, q := range queries {
		lat, lng, err := g.nominatim(ctx, q.q)
		if err == nil {
			return &Result{Lat: lat, Lng: lng, Method: q.method}, degraded, nil
		}
		if ctx.Err() != nil {
			return nil, true, err
		}
		if errors.Is(err, ErrUnavailable) {
			degraded = true
		}
	}

	if lat, lng, ok := StateCentroid(a.State); ok {
		log.Printf("geocode: using %s centroid for %s", a.State, join(a.Neighborhood, a.City))
		return &Result{Lat: lat, Lng: lng, Method: MethodState}, degraded, nil
	}
	return nil, degraded, ErrNotFound
}

// Reset drops cached answers and method counts. The sync worker calls it
// at the start of every run.
func (g *Geocoder) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = make(map[string]*Result)
	g.stats = make(map[string]int)
}

// Stats returns how many lookups each method answered since the last
// Reset, failures included.
func (g *Geocoder) Stats() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.stats))
	for k, v := range g.stats {
		out[k] = v
	}
	return out
}

func (g *Geocoder) record(r *Result) *Result {
	g.mu.Lock()
	g.stats[r.Method]++
	g.mu.Unlock()
	return r
}

var nonDigits = regexp.MustCompile(`\D`)

func normalize(a Address) Address {
	a.Street = strings.TrimSpace(a.Street)
	a.Number = strings.TrimSpace(a.Number)
	a.Neighborhood = strings.TrimSpace(a.Neighborhood)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.ToUpper(strings.TrimSpace(a.State))
	a.PostalCode = nonDigits.ReplaceAllString(a.PostalCode, "")
	if a.City == "" {
		a.City = defaultCity
		if a.State == "" {
			a.State = defaultState
		}
	}
	return a
}

func cacheKey(a Address) string {
	return strings.ToLower(strings.Join([]string{a.Street, a.Number, a.Neighborhood, a.City, a.State, a.PostalCode}, "|"))
}

func join(parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

// viaCEP looks up the postal code and geocodes the street it names.
func (g *Geocoder) viaCEP(ctx context.Context, cep string) (float64, float64, error) {
	if len(cep) != 8 {
		return 0, 0, fmt.Errorf("geocode: invalid postal code %q", cep)
	}
	var body struct {
		Street       string `json:"logradouro"`
		Neighborhood string `json:"bairro"`
		City         string `json:"localidade"`
		State        string `json:"uf"`
		Error        any    `json:"erro"`
	}
	if err := g.getJSON(ctx, viaCEPTimeout, fmt.Sprintf("%s/%s/json/", g.viaCEPURL, cep), &body); err != nil {
		return 0, 0, fmt.Errorf("geocode: viacep %s: %w", cep, err)
	}
	if body.Error != nil && body.Error != false {
		return 0, 0, fmt.Errorf("geocode: viacep %s: unknown postal code", cep)
	}
	if body.City == "" {
		return 0, 0, fmt.Errorf("geocode: viacep %s: no locality", cep)
	}
	return g.nominatim(ctx, join(body.Street, body.Neighborhood, body.City+" - "+body.State, "Brasil"))
}

// nominatim runs a free-text search restricted to Brazil.
func (g *Geocoder) nominatim(ctx context.Context, q string) (float64, float64, error) {
	params := url.Values{
		"q":              {q},
		"format":         {"json"},
		"limit":          {"1"},
		"addressdetails": {"1"},
		"countrycodes":   {"br"},
	}
	var hits []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := g.getJSON(ctx, nominatimTimeout, g.nominatimURL+"?"+params.Encode(), &hits); err != nil {
		return 0, 0, fmt.Errorf("geocode: nominatim %q: %w", q, err)
	}
	if len(hits) == 0 {
		return 0, 0, fmt.Errorf("geocode: nominatim %q: no results", q)
	}
	lat, err1 := strconv.ParseFloat(hits[0].Lat, 64)
	lng, err2 := strconv.ParseFloat(hits[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("geocode: nominatim %q: bad coordinates", q)
	}
	if !InBrazil(lat, lng) {
		return 0, 0, fmt.Errorf("geocode: nominatim %q: %.4f,%.4f outside Brazil", q, lat, lng)
	}
	return lat, lng, nil
}

func (g *Geocoder) getJSON(ctx context.Context, timeout time.Duration, u string, dst any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("Accept", "application/json")
	resp, err := g.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}
