package plot

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"gorm.io/datatypes"
)

// EncodeGeometry marshals an orb geometry into a GeoJSON column value.
func EncodeGeometry(g orb.Geometry) (datatypes.JSON, error) {
	data, err := geojson.NewGeometry(g).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding %s geometry: %w", g.GeoJSONType(), err)
	}
	return datatypes.JSON(data), nil
}

// DecodeGeometry parses a GeoJSON geometry column value.
func DecodeGeometry(data datatypes.JSON) (orb.Geometry, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty geometry")
	}
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, fmt.Errorf("decoding geometry: %w", err)
	}
	return g.Coordinates, nil
}

// NewParcel builds a parcel with an encoded boundary.
func NewParcel(id, name string, boundary orb.MultiPolygon) (Parcel, error) {
	data, err := EncodeGeometry(boundary)
	if err != nil {
		return Parcel{}, err
	}
	return Parcel{ID: id, Name: name, Boundary: data}, nil
}

// Shape decodes the parcel boundary. A single Polygon is promoted to a
// one-member MultiPolygon.
func (p Parcel) Shape() (orb.MultiPolygon, error) {
	g, err := DecodeGeometry(p.Boundary)
	if err != nil {
		return nil, fmt.Errorf("parcel %s: %w", p.ID, err)
	}
	switch shape := g.(type) {
	case orb.MultiPolygon:
		return shape, nil
	case orb.Polygon:
		return orb.MultiPolygon{shape}, nil
	default:
		return nil, fmt.Errorf("parcel %s: boundary is %s, want MultiPolygon", p.ID, g.GeoJSONType())
	}
}

// Shape decodes a crop unit boundary. Rows written as a bare Polygon are
// promoted to a one-member MultiPolygon.
func (c CropUnit) Shape() (orb.MultiPolygon, error) {
	g, err := DecodeGeometry(c.Polygon)
	if err != nil {
		return nil, fmt.Errorf("crop unit %s: %w", c.ID, err)
	}
	switch shape := g.(type) {
	case orb.MultiPolygon:
		if len(shape) == 0 {
			return nil, fmt.Errorf("crop unit %s: empty multipolygon", c.ID)
		}
		return shape, nil
	case orb.Polygon:
		return orb.MultiPolygon{shape}, nil
	default:
		return nil, fmt.Errorf("crop unit %s: polygon is %s", c.ID, g.GeoJSONType())
	}
}

// Outline returns the first member of the crop unit boundary.
func (c CropUnit) Outline() (orb.Polygon, error) {
	shape, err := c.Shape()
	if err != nil {
		return nil, err
	}
	return shape[0], nil
}

// Point decodes a plant location.
func (p Plant) Point() (orb.Point, error) {
	g, err := DecodeGeometry(p.Location)
	if err != nil {
		return orb.Point{}, fmt.Errorf("plant %s: %w", p.ID, err)
	}
	pt, ok := g.(orb.Point)
	if !ok {
		return orb.Point{}, fmt.Errorf("plant %s: location is %s", p.ID, g.GeoJSONType())
	}
	return pt, nil
}

// ParseParcelCollection reads parcels from a GeoJSON FeatureCollection.
// The id comes from the "id" or "lote_id" property, falling back to the feature id;
// the name from "name" or "nombre".
func ParseParcelCollection(data []byte) ([]Parcel, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing parcel collection: %w", err)
	}

	parcels := make([]Parcel, 0, len(fc.Features))
	for i, f := range fc.Features {
		id := stringProperty(f.Properties, "id", "lote_id")
		if id == "" && f.ID != nil {
			id = fmt.Sprint(f.ID)
		}
		if id == "" {
			return nil, fmt.Errorf("feature[%d] has no parcel id", i)
		}

		var boundary orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.MultiPolygon:
			boundary = g
		case orb.Polygon:
			boundary = orb.MultiPolygon{g}
		default:
			return nil, fmt.Errorf("feature[%d] (%s): unsupported geometry %T", i, id, f.Geometry)
		}

		parcel, err := NewParcel(id, stringProperty(f.Properties, "name", "nombre"), boundary)
		if err != nil {
			return nil, err
		}
		parcels = append(parcels, parcel)
	}
	return parcels, nil
}

func stringProperty(props geojson.Properties, keys ...string) string {
	for _, k := range keys {
		if v, ok := props[k]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// CropUnitCollection renders crop units as a FeatureCollection for map clients.
func CropUnitCollection(units []CropUnit) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for _, u := range units {
		shape, err := u.Shape()
		if err != nil {
			return nil, err
		}
		f := geojson.NewFeature(shape)
		f.ID = u.ID
		f.Properties["name"] = u.Name
		f.Properties["species"] = u.Species
		f.Properties["parcelId"] = u.ParcelID
		f.Properties["generationId"] = u.GenerationID
		fc.Append(f)
	}
	return fc, nil
}

// PlantCollection renders plants as a FeatureCollection for map clients.
func PlantCollection(plants []Plant) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	for _, p := range plants {
		pt, err := p.Point()
		if err != nil {
			return nil, err
		}
		f := geojson.NewFeature(pt)
		f.ID = p.ID
		f.Properties["cropUnitId"] = p.CropUnitID
		f.Properties["maturityStateId"] = p.MaturityStateID
		f.Properties["generationId"] = p.GenerationID
		fc.Append(f)
	}
	return fc, nil
}
