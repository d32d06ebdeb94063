package geo

import "math"

const (
	earthRadiusKm  = 6371.0
	kmPerDegreeLat = 111.0
)

// BoundingBox is the rectangular degree-space prefilter used before exact
// distance math. Cheap range predicates on stored coordinates keep the
// trigonometry off the bulk of the table.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// BoxAround computes the rectangle covering radiusKm around a point. One
// degree of latitude spans roughly 111 km everywhere; a degree of longitude
// shrinks by cos(latitude) away from the equator, so the box widens toward
// the poles.
func BoxAround(lat, lon, radiusKm float64) BoundingBox {
	latDelta := radiusKm / kmPerDegreeLat

	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		// Near the poles a longitude degree collapses to nothing; clamp so
		// the box stays finite and the exact refine does the filtering.
		cosLat = 0.01
	}
	lonDelta := radiusKm / (kmPerDegreeLat * cosLat)

	return BoundingBox{
		MinLat: lat - latDelta,
		MaxLat: lat + latDelta,
		MinLon: lon - lonDelta,
		MaxLon: lon + lonDelta,
	}
}

// DistanceKm returns the great-circle distance between two points using the
// haversine formula.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
