package plot

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/quadtree"
)

const (
	// MeanEarthRadius converts the clustering radius from metres to an angle.
	MeanEarthRadius = 6371000.0

	// DefaultEpsilonMeters is the neighbourhood radius for density clustering.
	DefaultEpsilonMeters = 25.0

	// Noise labels points that are not density-reachable. Unused with MinPoints=1.
	Noise = -1

	unclassified = -2
)

// ClusterConfig parameterizes Cluster.
type ClusterConfig struct {
	EpsilonMeters float64
	MinPoints     int
}

// DefaultClusterConfig returns a 25 m radius with every point a core point.
func DefaultClusterConfig() ClusterConfig {
	return ClusterConfig{EpsilonMeters: DefaultEpsilonMeters, MinPoints: 1}
}

// ClusterGroup is one cluster of located readings.
type ClusterGroup struct {
	Label   int
	Members []LocatedReading
}

// Parcel returns the canonical parcel of the cluster: the first member's.
func (g ClusterGroup) Parcel() *Parcel {
	if len(g.Members) == 0 {
		return nil
	}
	return g.Members[0].Parcel
}

// Points returns member positions in member order.
func (g ClusterGroup) Points() []orb.Point {
	pts := make([]orb.Point, len(g.Members))
	for i, m := range g.Members {
		pts[i] = m.Point()
	}
	return pts
}

// HaversineAngle returns the central angle in radians between two lon/lat points.
func HaversineAngle(a, b orb.Point) float64 {
	return geo.DistanceHaversine(a, b) / orb.EarthRadius
}

// Cluster runs DBSCAN over lon/lat points using the haversine central angle.
// Labels are non-negative and numbered in the order in which each cluster's
// first core point appears in the input. Points closer than EpsilonMeters,
// directly or through a chain of such points, share a label.
func Cluster(points []orb.Point, cfg ClusterConfig) []int {
	labels := make([]int, len(points))
	if len(points) == 0 {
		return labels
	}
	for i := range labels {
		labels[i] = unclassified
	}

	minPoints := cfg.MinPoints
	if minPoints < 1 {
		minPoints = 1
	}
	idx := newNeighbourIndex(points, cfg.EpsilonMeters/MeanEarthRadius)

	label := 0
	for i := range points {
		if labels[i] != unclassified {
			continue
		}
		neighbours := idx.neighbours(i)
		if len(neighbours) < minPoints {
			labels[i] = Noise
			continue
		}

		labels[i] = label
		queue := neighbours
		for k := 0; k < len(queue); k++ {
			j := queue[k]
			if labels[j] == Noise {
				labels[j] = label
			}
			if labels[j] != unclassified {
				continue
			}
			labels[j] = label
			if next := idx.neighbours(j); len(next) >= minPoints {
				queue = append(queue, next...)
			}
		}
		label++
	}
	return labels
}

// ClusterReadings clusters the valid readings and groups them by label.
// Invalid readings have no position and are left out.
func ClusterReadings(located []LocatedReading, cfg ClusterConfig) []ClusterGroup {
	valid := make([]LocatedReading, 0, len(located))
	for _, r := range located {
		if r.Valid {
			valid = append(valid, r)
		}
	}

	points := make([]orb.Point, len(valid))
	for i, r := range valid {
		points[i] = r.Point()
	}
	return GroupClusters(valid, Cluster(points, cfg))
}

// GroupClusters collects readings by label in ascending label order, skipping noise.
func GroupClusters(readings []LocatedReading, labels []int) []ClusterGroup {
	maxLabel := -1
	for _, l := range labels {
		if l > maxLabel {
			maxLabel = l
		}
	}

	groups := make([]ClusterGroup, maxLabel+1)
	for i := range groups {
		groups[i].Label = i
	}
	for i, l := range labels {
		if l < 0 {
			continue
		}
		groups[l].Members = append(groups[l].Members, readings[i])
	}
	return groups
}

type indexedPoint struct {
	p   orb.Point
	idx int
}

func (ip indexedPoint) Point() orb.Point { return ip.p }

// neighbourIndex answers epsilon-neighbourhood queries. The quadtree narrows
// candidates with a degree-space box; the haversine angle decides membership.
type neighbourIndex struct {
	points []orb.Point
	angle  float64
	bound  orb.Bound
	tree   *quadtree.Quadtree
	buf    []orb.Pointer
}

func newNeighbourIndex(points []orb.Point, angle float64) *neighbourIndex {
	bound := orb.MultiPoint(points).Bound()
	pad := angle * 180 / math.Pi
	bound = bound.Pad(pad + 1e-9)

	idx := &neighbourIndex{points: points, angle: angle, bound: bound, tree: quadtree.New(bound)}
	for i, p := range points {
		// Points are inside bound by construction.
		_ = idx.tree.Add(indexedPoint{p: p, idx: i})
	}
	return idx
}

// neighbours returns the indexes within the radius of point i, i included.
func (n *neighbourIndex) neighbours(i int) []int {
	p := n.points[i]
	n.buf = n.tree.InBound(n.buf[:0], n.searchBox(p))

	result := make([]int, 1, len(n.buf)+1)
	result[0] = i
	for _, c := range n.buf {
		ip := c.(indexedPoint)
		if ip.idx != i && HaversineAngle(p, ip.p) <= n.angle {
			result = append(result, ip.idx)
		}
	}
	return result
}

// searchBox returns a lon/lat box enclosing every point within the radius of p.
// Near the poles or the antimeridian, and for coordinates outside the WGS84
// range, it falls back to the bound of the whole index.
func (n *neighbourIndex) searchBox(p orb.Point) orb.Bound {
	if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
		return n.bound
	}

	// Slightly enlarged so float rounding never drops a boundary neighbour.
	dLat := n.angle*180/math.Pi*(1+1e-6) + 1e-12
	maxLat := math.Min(90, math.Abs(p[1])+dLat)
	cos := math.Cos(maxLat * math.Pi / 180)
	if cos <= 1e-9 {
		return n.bound
	}
	dLon := dLat / cos
	if p[0]-dLon < -180 || p[0]+dLon > 180 {
		return n.bound
	}
	return orb.Bound{
		Min: orb.Point{p[0] - dLon, p[1] - dLat},
		Max: orb.Point{p[0] + dLon, p[1] + dLat},
	}
}
