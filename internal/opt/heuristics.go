package opt

import "math"

const earthRadiusMeters = 6371000.0

// Coord is a garbage point position in degrees.
type Coord struct {
	Lat float64
	Lon float64
}

// distances is a symmetric matrix of great-circle distances in meters.
type distances [][]float64

func distanceMatrix(pts []Coord) distances {
	d := make(distances, len(pts))
	for i := range pts {
		d[i] = make([]float64, len(pts))
	}
	for i := range pts {
		for j := i + 1; j < len(pts); j++ {
			m := haversineMeters(pts[i], pts[j])
			d[i][j], d[j][i] = m, m
		}
	}
	return d
}

// length of an open path visiting order.
func (d distances) length(order []int) float64 {
	total := 0.0
	for i := 1; i < len(order); i++ {
		total += d[order[i-1]][order[i]]
	}
	return total
}

// NearestNeighbour returns a visiting order that starts at pts[start] and
// always moves on to the closest point not yet visited.
func NearestNeighbour(pts []Coord, start int) []int {
	return distanceMatrix(pts).nearestNeighbour(start)
}

func (d distances) nearestNeighbour(start int) []int {
	n := len(d)
	if n == 0 || start < 0 || start >= n {
		return nil
	}
	seen := make([]bool, n)
	order := []int{start}
	seen[start] = true
	for cur := start; len(order) < n; {
		next := -1
		for j := 0; j < n; j++ {
			if !seen[j] && (next < 0 || d[cur][j] < d[cur][next]) {
				next = j
			}
		}
		seen[next] = true
		order = append(order, next)
		cur = next
	}
	return order
}

// TwoOpt reverses segments of an open path while that shortens it, for at
// most passes full sweeps. order[0] never moves.
func TwoOpt(pts []Coord, order []int, passes int) []int {
	return distanceMatrix(pts).twoOpt(order, passes)
}

func (d distances) twoOpt(order []int, passes int) []int {
	out := append([]int(nil), order...)
	n := len(out)
	if passes < 1 {
		passes = 1
	}
	for p := 0; p < passes; p++ {
		changed := false
		for i := 1; i < n-1; i++ {
			for k := i + 1; k < n; k++ {
				// Reversing out[i..k] swaps edge (i-1,i) for (i-1,k) and,
				// unless k is the tail, edge (k,k+1) for (i,k+1).
				delta := d[out[i-1]][out[k]] - d[out[i-1]][out[i]]
				if k+1 < n {
					delta += d[out[i]][out[k+1]] - d[out[k]][out[k+1]]
				}
				if delta < -1e-3 {
					reverse(out[i : k+1])
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return out
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// PathMeters is the length of visiting pts in order.
func PathMeters(pts []Coord, order []int) float64 {
	return distanceMatrix(pts).length(order)
}

func haversineMeters(a, b Coord) float64 {
	rad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLon := (b.Lon - a.Lon) * rad
	h := math.Pow(math.Sin(dLat/2), 2) + math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Pow(math.Sin(dLon/2), 2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
