// Package directory is the public doctor directory: searchable profiles
// backed by tenants, plus the slot lookup the web booking flow uses. Profiles
// only reference photos by URL; hosting is someone else's problem.
package directory

import "time"

// Profile is one listed doctor. A profile belongs to exactly one tenant and
// is only visible while both the profile and the tenant are enabled.
type Profile struct {
	ID          string
	TenantID    string
	Enabled     bool
	DoctorName  string
	Specialty   string
	PhotoURL    string
	Credentials string
	PriceCents  int64
	Languages   []string
	Lat         float64
	Lng         float64
	Address     string
	Schedule    map[string][]string // weekday → display hours, e.g. "mon" → ["09:00-14:00"]
	RatingAvg   float64
	RatingCount int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SearchParams filters a geo search. RadiusKM defaults to 10 and caps at 100.
type SearchParams struct {
	Lat       float64
	Lng       float64
	RadiusKM  float64
	Specialty string
	Limit     int
}

// SearchResult is a profile plus its distance from the search point.
type SearchResult struct {
	Profile
	DistanceKM float64
}
