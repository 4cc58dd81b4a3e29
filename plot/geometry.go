package plot

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

const (
	// DefaultBufferMeters is the radius of the disc drawn around each cluster centroid.
	DefaultBufferMeters = 15.0

	// DefaultBufferSegments is the number of ring segments approximating the disc.
	DefaultBufferSegments = 64
)

// Centroid is the arithmetic mean of the points in degree space.
func Centroid(points []orb.Point) orb.Point {
	if len(points) == 0 {
		return orb.Point{}
	}
	var lon, lat float64
	for _, p := range points {
		lon += p[0]
		lat += p[1]
	}
	n := float64(len(points))
	return orb.Point{lon / n, lat / n}
}

// LocalProjection is an equirectangular tangent plane centred on Origin.
// Planar coordinates are metres east and north of the origin; at crop unit
// scale the distortion is far below a millimetre.
type LocalProjection struct {
	Origin orb.Point
	cosLat float64
}

// NewLocalProjection returns a projection centred on origin.
func NewLocalProjection(origin orb.Point) LocalProjection {
	return LocalProjection{Origin: origin, cosLat: math.Cos(deg2rad(origin[1]))}
}

// ToPlane maps lon/lat to metres.
func (lp LocalProjection) ToPlane(p orb.Point) orb.Point {
	return orb.Point{
		MeanEarthRadius * deg2rad(p[0]-lp.Origin[0]) * lp.cosLat,
		MeanEarthRadius * deg2rad(p[1]-lp.Origin[1]),
	}
}

// ToLonLat maps metres back to lon/lat.
func (lp LocalProjection) ToLonLat(p orb.Point) orb.Point {
	return orb.Point{
		lp.Origin[0] + rad2deg(p[0]/(MeanEarthRadius*lp.cosLat)),
		lp.Origin[1] + rad2deg(p[1]/MeanEarthRadius),
	}
}

// BufferPoint returns a closed counter-clockwise disc of radiusMeters around center.
func BufferPoint(center orb.Point, radiusMeters float64, segments int) orb.Polygon {
	if segments < 3 {
		segments = DefaultBufferSegments
	}
	ring := make(orb.Ring, segments+1)
	for i := 0; i < segments; i++ {
		theta := 2 * math.Pi * float64(i) / float64(segments)
		ring[i] = orb.Point{radiusMeters * math.Cos(theta), radiusMeters * math.Sin(theta)}
	}
	ring[segments] = ring[0]

	lp := NewLocalProjection(center)
	return project.Polygon(orb.Polygon{ring}, lp.ToLonLat)
}

// SynthesizedUnit pairs a staged crop unit with its plant.
type SynthesizedUnit struct {
	CropUnit CropUnit
	Plant    Plant
	Centroid orb.Point
}

// Synthesizer turns clusters into crop units and plants.
type Synthesizer struct {
	BufferMeters         float64
	Segments             int
	Species              string
	UnassignedParcelName string
	Classifier           MaturityClassifier
	NewID                func() string
}

// NewSynthesizer builds a synthesizer from config.
func NewSynthesizer(cfg *Config, classifier MaturityClassifier) *Synthesizer {
	return &Synthesizer{
		BufferMeters:         cfg.Geometry.BufferMeters,
		Segments:             cfg.Geometry.Segments,
		Species:              cfg.Naming.Species,
		UnassignedParcelName: cfg.Naming.UnassignedParcelName,
		Classifier:           classifier,
		NewID:                uuid.NewString,
	}
}

// CropUnitName formats "<parcel> - Cultivo <label>".
func CropUnitName(parcelName string, label int) string {
	return fmt.Sprintf("%s - Cultivo %d", parcelName, label)
}

// Synthesize builds one inactive crop unit and one inactive plant per non-empty
// cluster, tagged with generationID.
func (s *Synthesizer) Synthesize(generationID string, groups []ClusterGroup) ([]SynthesizedUnit, error) {
	units := make([]SynthesizedUnit, 0, len(groups))
	for _, g := range groups {
		if g.Label == Noise || len(g.Members) == 0 {
			continue
		}

		centroid := Centroid(g.Points())
		polygon, err := EncodeGeometry(orb.MultiPolygon{BufferPoint(centroid, s.BufferMeters, s.Segments)})
		if err != nil {
			return nil, err
		}
		location, err := EncodeGeometry(centroid)
		if err != nil {
			return nil, err
		}

		stateID, err := s.Classifier.Classify(g.Members)
		if err != nil {
			return nil, fmt.Errorf("classifying cluster %d: %w", g.Label, err)
		}

		parcelName := s.UnassignedParcelName
		var parcelID *string
		if p := g.Parcel(); p != nil {
			parcelName = p.Name
			id := p.ID
			parcelID = &id
		}

		unit := CropUnit{
			ID:           s.NewID(),
			Name:         CropUnitName(parcelName, g.Label),
			Species:      s.Species,
			ParcelID:     parcelID,
			Polygon:      polygon,
			GenerationID: generationID,
			ClusterLabel: g.Label,
		}
		units = append(units, SynthesizedUnit{
			CropUnit: unit,
			Plant: Plant{
				ID:              s.NewID(),
				CropUnitID:      unit.ID,
				MaturityStateID: stateID,
				Location:        location,
				GenerationID:    generationID,
			},
			Centroid: centroid,
		})
	}
	return units, nil
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

func rad2deg(r float64) float64 { return r * 180 / math.Pi }
