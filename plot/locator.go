package plot

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// LocatedReading is a reading with the parcel it fell in, if any.
type LocatedReading struct {
	TelemetryReading
	Parcel *Parcel
}

// Point returns the reading position as lon/lat.
func (r LocatedReading) Point() orb.Point {
	return orb.Point{r.Longitude, r.Latitude}
}

// ParcelID returns the assigned parcel id or nil.
func (r LocatedReading) ParcelID() *string {
	if r.Parcel == nil {
		return nil
	}
	id := r.Parcel.ID
	return &id
}

type parcelShape struct {
	parcel *Parcel
	shape  orb.MultiPolygon
	bound  orb.Bound
}

// LocateReadings assigns each reading to the first parcel, in slice order,
// whose boundary contains it. Overlaps are not disambiguated further.
// Readings outside every parcel, and invalid readings, get a nil parcel.
func LocateReadings(readings []TelemetryReading, parcels []Parcel) ([]LocatedReading, error) {
	shapes := make([]parcelShape, 0, len(parcels))
	for i := range parcels {
		mp, err := parcels[i].Shape()
		if err != nil {
			return nil, err
		}
		shapes = append(shapes, parcelShape{parcel: &parcels[i], shape: mp, bound: mp.Bound()})
	}

	located := make([]LocatedReading, len(readings))
	for i, r := range readings {
		located[i] = LocatedReading{TelemetryReading: r}
		if !r.Valid {
			continue
		}
		pt := orb.Point{r.Longitude, r.Latitude}
		for _, s := range shapes {
			if !s.bound.Contains(pt) {
				continue
			}
			if planar.MultiPolygonContains(s.shape, pt) {
				located[i].Parcel = s.parcel
				break
			}
		}
	}
	return located, nil
}
