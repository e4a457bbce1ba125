package geocode

import "strings"

type point struct{ lat, lng float64 }

// stateCentroids are approximate centers used as the last resort.
var stateCentroids = map[string]point{
	"AC": {-9.0238, -70.8120},
	"AL": {-9.5713, -36.7820},
	"AP": {1.4061, -51.6022},
	"AM": {-3.4168, -65.8561},
	"BA": {-12.5797, -41.7007},
	"CE": {-5.4984, -39.3206},
	"DF": {-15.7998, -47.8645},
	"ES": {-19.1834, -40.3089},
	"GO": {-15.8270, -49.8362},
	"MA": {-4.9609, -45.2744},
	"MT": {-12.6819, -56.9211},
	"MS": {-20.7722, -54.7852},
	"MG": {-19.9167, -43.9345},
	"PA": {-3.7970, -52.4751},
	"PB": {-7.2399, -36.7819},
	"PR": {-24.8940, -51.5555},
	"PE": {-8.8137, -36.9541},
	"PI": {-6.6000, -42.2800},
	"RJ": {-22.9068, -43.1729},
	"RN": {-5.4026, -36.9541},
	"RS": {-30.0346, -51.2177},
	"RO": {-10.9472, -62.8278},
	"RR": {1.3227, -60.6522},
	"SC": {-27.2423, -50.2189},
	"SP": {-23.5505, -46.6333},
	"SE": {-10.5741, -37.3857},
	"TO": {-10.1753, -48.2982},
}

// StateCentroid returns the approximate center of a Brazilian state.
func StateCentroid(uf string) (lat, lng float64, ok bool) {
	p, ok := stateCentroids[strings.ToUpper(strings.TrimSpace(uf))]
	return p.lat, p.lng, ok
}

// Brazil's bounding box.
const (
	minLat = -33.75
	maxLat = 5.27
	minLng = -73.99
	maxLng = -28.84
)

// InBrazil reports whether a coordinate falls inside Brazil's bounding box.
func InBrazil(lat, lng float64) bool {
	if lat == 0 && lng == 0 {
		return false
	}
	return lat >= minLat && lat <= maxLat && lng >= minLng && lng <= maxLng
}
