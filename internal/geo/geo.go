package geo

import (
	"math"
	"strconv"
	"strings"

	"geoinsight/api/internal/apperr"
)

const (
	// EarthRadiusM is the mean Earth radius used by all spherical formulas.
	EarthRadiusM = 6371000.0

	// metersPerDegreeLat is the length of one degree of latitude.
	metersPerDegreeLat = 111320.0

	// onEdgeEpsilon is the tolerance (in squared degrees) for treating a
	// point as lying on a polygon edge.
	onEdgeEpsilon = 1e-9
)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BBox is an axis-aligned bounding box in WGS84 degrees.
type BBox struct {
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

// Contains reports whether p falls within the box, boundary included.
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lon >= b.MinLon && p.Lon <= b.MaxLon
}

// Polygon is a closed ring of WGS84 points. The last vertex repeats the
// first.
type Polygon []Point

// ValidatePoint checks WGS84 coordinate ranges.
func ValidatePoint(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return apperr.InvalidInput("coordinate is not a number")
	}
	if lat < -90 || lat > 90 {
		return apperr.InvalidInputf("latitude %v out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return apperr.InvalidInputf("longitude %v out of range [-180, 180]", lon)
	}
	return nil
}

// Validate checks that the polygon is a closed, simple ring with at least
// three distinct vertices and positive area.
func (pg Polygon) Validate() error {
	if len(pg) < 4 {
		return apperr.InvalidInput("polygon must have at least 3 vertices plus a closing vertex")
	}
	first, last := pg[0], pg[len(pg)-1]
	if first.Lat != last.Lat || first.Lon != last.Lon {
		return apperr.InvalidInput("polygon ring must be closed (first and last vertex equal)")
	}
	distinct := map[Point]struct{}{}
	for _, v := range pg[:len(pg)-1] {
		if err := ValidatePoint(v.Lat, v.Lon); err != nil {
			return err
		}
		distinct[v] = struct{}{}
	}
	if len(distinct) < 3 {
		return apperr.InvalidInput("polygon must have at least 3 distinct vertices")
	}
	if pg.area() == 0 {
		return apperr.InvalidInput("polygon must have positive area")
	}
	if !pg.isSimple() {
		return apperr.InvalidInput("polygon must not self-intersect")
	}
	return nil
}

// area is the planar shoelace area in squared degrees, sign-free. Only used
// as a degeneracy test, never as a surface measure.
func (pg Polygon) area() float64 {
	var sum float64
	for i := 0; i < len(pg)-1; i++ {
		a, b := pg[i], pg[i+1]
		sum += a.Lon*b.Lat - b.Lon*a.Lat
	}
	return math.Abs(sum / 2)
}

func (pg Polygon) isSimple() bool {
	n := len(pg) - 1 // edge count of the closed ring
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			// Skip adjacent edges, including the ring wrap between the
			// last and first edge.
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			if segmentsIntersect(pg[i], pg[i+1], pg[j], pg[j+1]) {
				return false
			}
		}
	}
	return true
}

func segmentsIntersect(p1, p2, p3, p4 Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegmentBox(p3, p4, p1) {
		return true
	}
	if d2 == 0 && onSegmentBox(p3, p4, p2) {
		return true
	}
	if d3 == 0 && onSegmentBox(p1, p2, p3) {
		return true
	}
	if d4 == 0 && onSegmentBox(p1, p2, p4) {
		return true
	}
	return false
}

func cross(a, b, c Point) float64 {
	return (b.Lon-a.Lon)*(c.Lat-a.Lat) - (b.Lat-a.Lat)*(c.Lon-a.Lon)
}

func onSegmentBox(a, b, p Point) bool {
	return math.Min(a.Lon, b.Lon) <= p.Lon && p.Lon <= math.Max(a.Lon, b.Lon) &&
		math.Min(a.Lat, b.Lat) <= p.Lat && p.Lat <= math.Max(a.Lat, b.Lat)
}

// BBox computes the axis-aligned bounding box of the ring.
func (pg Polygon) BBox() BBox {
	box := BBox{MinLat: 90, MinLon: 180, MaxLat: -90, MaxLon: -180}
	for _, p := range pg {
		box.MinLat = math.Min(box.MinLat, p.Lat)
		box.MinLon = math.Min(box.MinLon, p.Lon)
		box.MaxLat = math.Max(box.MaxLat, p.Lat)
		box.MaxLon = math.Max(box.MaxLon, p.Lon)
	}
	return box
}

// Contains reports whether p is inside the polygon. Points exactly on an
// edge or vertex count as inside, so enter/exit transitions stay
// deterministic at boundaries.
func (pg Polygon) Contains(p Point) bool {
	for i := 0; i < len(pg)-1; i++ {
		if pointOnSegment(pg[i], pg[i+1], p) {
			return true
		}
	}
	inside := false
	j := len(pg) - 2 // last distinct vertex; pg[len-1] repeats pg[0]
	for i := 0; i < len(pg)-1; i++ {
		pi, pj := pg[i], pg[j]
		if (pi.Lat > p.Lat) != (pj.Lat > p.Lat) &&
			p.Lon < (pj.Lon-pi.Lon)*(p.Lat-pi.Lat)/(pj.Lat-pi.Lat)+pi.Lon {
			inside = !inside
		}
		j = i
	}
	return inside
}

func pointOnSegment(a, b, p Point) bool {
	if math.Abs(cross(a, b, p)) > onEdgeEpsilon {
		return false
	}
	return onSegmentBox(a, b, p)
}

// Haversine returns the great-circle distance between two points in meters.
func Haversine(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h))
}

// CircleToPolygon approximates a circle as a closed ring of n vertices
// sampled at equal angles. The radius is converted to degrees at the center
// latitude, with the longitude component scaled by cos(lat).
func CircleToPolygon(center Point, radiusM float64, n int) (Polygon, error) {
	if err := ValidatePoint(center.Lat, center.Lon); err != nil {
		return nil, err
	}
	if radiusM <= 0 {
		return nil, apperr.InvalidInput("circle radius must be positive")
	}
	if n < 3 {
		return nil, apperr.InvalidInputf("circle approximation needs at least 3 vertices, got %d", n)
	}

	latDeg := radiusM / metersPerDegreeLat
	lonDeg := radiusM / (metersPerDegreeLat * math.Cos(center.Lat*math.Pi/180))

	ring := make(Polygon, 0, n+1)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n)
		ring = append(ring, Point{
			Lat: center.Lat + latDeg*math.Sin(theta),
			Lon: center.Lon + lonDeg*math.Cos(theta),
		})
	}
	ring = append(ring, ring[0])
	return ring, nil
}

// Offset moves a point along a bearing (degrees clockwise from north) by a
// distance in meters, using the spherical direct formula.
func Offset(p Point, bearingDeg, distanceM float64) Point {
	br := bearingDeg * math.Pi / 180
	d := distanceM / EarthRadiusM
	lat1 := p.Lat * math.Pi / 180
	lon1 := p.Lon * math.Pi / 180

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(br))
	lon2 := lon1 + math.Atan2(
		math.Sin(br)*math.Sin(d)*math.Cos(lat1),
		math.Cos(d)-math.Sin(lat1)*math.Sin(lat2),
	)

	lonDeg := math.Mod(lon2*180/math.Pi+540, 360) - 180
	return Point{Lat: lat2 * 180 / math.Pi, Lon: lonDeg}
}

// Bearing returns the initial great-circle bearing from a to b in degrees,
// normalized to [0, 360).
func Bearing(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// Buffer expands a polyline into a closed polygon of the given half-width
// in meters, with flat end caps. A single-point line degenerates to a
// circle. Used by the route-recommendation collaborator.
func Buffer(line []Point, widthM float64) (Polygon, error) {
	if widthM <= 0 {
		return nil, apperr.InvalidInput("buffer width must be positive")
	}
	for _, p := range line {
		if err := ValidatePoint(p.Lat, p.Lon); err != nil {
			return nil, err
		}
	}
	switch len(line) {
	case 0:
		return nil, apperr.InvalidInput("buffer needs at least one point")
	case 1:
		return CircleToPolygon(line[0], widthM, 16)
	}

	left := make([]Point, 0, 2*len(line))
	right := make([]Point, 0, 2*len(line))
	for i := 0; i < len(line)-1; i++ {
		a, b := line[i], line[i+1]
		br := Bearing(a, b)
		left = append(left, Offset(a, br-90, widthM), Offset(b, br-90, widthM))
		right = append(right, Offset(a, br+90, widthM), Offset(b, br+90, widthM))
	}

	ring := make(Polygon, 0, len(left)+len(right)+1)
	ring = append(ring, left...)
	for i := len(right) - 1; i >= 0; i-- {
		ring = append(ring, right[i])
	}
	ring = append(ring, ring[0])
	return ring, nil
}

// WKT renders the point as a well-known-text POINT(lon lat).
func (p Point) WKT() string {
	return "POINT(" + formatFloat(p.Lon) + " " + formatFloat(p.Lat) + ")"
}

// WKT renders the ring as a well-known-text POLYGON.
func (pg Polygon) WKT() string {
	var sb strings.Builder
	sb.WriteString("POLYGON((")
	for i, p := range pg {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(formatFloat(p.Lon))
		sb.WriteString(" ")
		sb.WriteString(formatFloat(p.Lat))
	}
	sb.WriteString("))")
	return sb.String()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
