// Package match resolves mirror addresses to catalog property ids, first by
// exact canonical key and then by a nearest-property spatial join.
package match

import (
	"strconv"
)

// Method records how a record was resolved.
type Method string

const (
	MethodExact   Method = "exact"
	MethodLoose   Method = "loose"
	MethodSpatial Method = "spatial"
)

// Point is a coordinate keyed for the spatial pass.
type Point struct {
	Key string
	Lat float64
	Lon float64
}

// PointKey derives a scratch key from coordinates. Records at the same
// position share a key and therefore one nearest-neighbour lookup.
func PointKey(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', 7, 64) + "," + strconv.FormatFloat(lon, 'f', 7, 64)
}

// Candidate is a mirror record that missed the exact match but carries
// coordinates. It lives only until the spatial pass has run.
type Candidate[T any] struct {
	Point
	Record T
}

// NewCandidate builds a candidate keyed by its coordinates.
func NewCandidate[T any](lat, lon float64, record T) Candidate[T] {
	return Candidate[T]{
		Point:  Point{Key: PointKey(lat, lon), Lat: lat, Lon: lon},
		Record: record,
	}
}

// SpatialMatch is the nearest property found for one point key.
type SpatialMatch struct {
	Key            string
	PropertyID     int64
	DistanceMeters float64
}

// UniquePoints returns the distinct points of the candidates in first-seen order.
func UniquePoints[T any](candidates []Candidate[T]) []Point {
	seen := make(map[string]struct{}, len(candidates))
	points := make([]Point, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.Key]; ok {
			continue
		}
		seen[c.Key] = struct{}{}
		points = append(points, c.Point)
	}
	return points
}
