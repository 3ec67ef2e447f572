package match

import (
	"math"
)

const (
	earthRadiusMeters = 6371008.8
	metersPerDegree   = 111320.0
)

// HaversineMeters is the great-circle distance between two WGS84 points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BoundingBoxDegrees converts a radius in meters into half-widths in degrees
// at the reference latitude. Longitude degrees shrink with cos(latitude), so
// dLon > dLat away from the equator. A 10% margin keeps the box a superset of
// the exact radius across a national latitude band.
func BoundingBoxDegrees(radiusMeters, referenceLat float64) (dLat, dLon float64) {
	const margin = 1.1
	dLat = radiusMeters / metersPerDegree * margin
	cos := math.Cos(referenceLat * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	dLon = radiusMeters / (metersPerDegree * cos) * margin
	return dLat, dLon
}
