package geo

import "math"

const earthRadiusMeters = 6_371_000.0

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// Haversine returns the great-circle distance in meters between two points.
func Haversine(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Offset returns the point reached by moving north and east by the given
// number of meters. Accurate for the short distances used around stops.
func Offset(p Point, northMeters, eastMeters float64) Point {
	dLat := northMeters / earthRadiusMeters * (180 / math.Pi)
	dLon := eastMeters / (earthRadiusMeters * math.Cos(toRad(p.Lat))) * (180 / math.Pi)
	return Point{Lat: p.Lat + dLat, Lon: p.Lon + dLon}
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
