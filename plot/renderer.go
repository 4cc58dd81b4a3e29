package plot

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// MaxRasterPixels bounds the longest side of PNG output.
const MaxRasterPixels = 4096

// plant colors by maturity state name; anything else is drawn grey
var maturityColors = map[string]color.RGBA{
	"inmaduro":   {R: 0x7c, G: 0xb3, B: 0x42, A: 0xff},
	"transición": {R: 0xf9, G: 0xa8, B: 0x25, A: 0xff},
	"maduro":     {R: 0x8d, G: 0x3b, B: 0x12, A: 0xff},
	"enfermo":    {R: 0xc6, G: 0x28, B: 0x28, A: 0xff},
}

var (
	cropUnitFill   = color.RGBA{R: 0x2e, G: 0x7d, B: 0x32, A: 0x40}
	cropUnitStroke = color.RGBA{R: 0x1b, G: 0x5e, B: 0x20, A: 0xff}
	unknownState   = color.RGBA{R: 0x75, G: 0x75, B: 0x75, A: 0xff}
)

// MapRenderer draws the active generation as a plan view in metres around
// the centre of the crop units. Plants are displaced by Jitter so that plants
// sharing a location stay distinguishable.
type MapRenderer struct {
	Units       []CropUnit
	Plants      []Plant
	StateNames  map[string]string // maturity state id -> name
	Caption     string
	Scale       float64 // canvas mm per metre
	Padding     float64 // metres
	JitterDelta float64 // degrees
	PlantRadius float64 // metres
}

// NewMapRenderer creates a renderer with config defaults.
func NewMapRenderer(units []CropUnit, plants []Plant, states []MaturityState, cfg RenderConfig) *MapRenderer {
	names := make(map[string]string, len(states))
	for _, s := range states {
		names[s.ID] = s.Name
	}
	scale := cfg.Scale
	if scale <= 0 {
		scale = 10
	}
	return &MapRenderer{
		Units:       units,
		Plants:      plants,
		StateNames:  names,
		Scale:       scale,
		Padding:     10,
		JitterDelta: cfg.JitterDelta,
		PlantRadius: 1.5,
	}
}

type renderShape struct {
	outline orb.Polygon
	point   orb.Point
	color   color.RGBA
}

type layout struct {
	proj          LocalProjection
	units         []renderShape
	plants        []renderShape
	minX, minY    float64
	width, height float64
}

// RenderToSVG writes the map as SVG.
func (r *MapRenderer) RenderToSVG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}
	s := svg.New(w, l.width, l.height, nil)
	r.draw(s, l)
	return s.Close()
}

// RenderToPNG writes the map as PNG with the caption in the top-left corner.
func (r *MapRenderer) RenderToPNG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}
	dpmm := math.Min(4, MaxRasterPixels/math.Max(l.width, l.height))
	rast := rasterizer.New(l.width, l.height, canvas.DPMM(dpmm), canvas.DefaultColorSpace)
	r.draw(rast, l)
	if r.Caption != "" {
		drawCaption(rast, r.Caption)
	}
	return png.Encode(w, rast)
}

func (r *MapRenderer) layout() (*layout, error) {
	var all []orb.Point
	l := &layout{}

	for _, u := range r.Units {
		shape, err := u.Shape()
		if err != nil {
			return nil, fmt.Errorf("crop unit %s: %w", u.ID, err)
		}
		for _, poly := range shape {
			l.units = append(l.units, renderShape{outline: poly, color: cropUnitStroke})
			for _, ring := range poly {
				all = append(all, ring...)
			}
		}
	}
	for _, p := range r.Plants {
		pt, err := p.Point()
		if err != nil {
			return nil, fmt.Errorf("plant %s: %w", p.ID, err)
		}
		dLat, dLng := Jitter(p.ID, r.JitterDelta)
		pt = orb.Point{pt[0] + dLng, pt[1] + dLat}
		l.plants = append(l.plants, renderShape{point: pt, color: r.stateColor(p.MaturityStateID)})
		all = append(all, pt)
	}

	origin := orb.Point{}
	if len(all) > 0 {
		origin = orb.MultiPoint(all).Bound().Center()
	}
	l.proj = NewLocalProjection(origin)

	bound := orb.Bound{}
	for i, pt := range all {
		pp := l.proj.ToPlane(pt)
		if i == 0 {
			bound = orb.Bound{Min: pp, Max: pp}
		} else {
			bound = bound.Extend(pp)
		}
	}
	pad := r.Padding + r.PlantRadius
	l.minX = bound.Min[0] - pad
	l.minY = bound.Min[1] - pad
	l.width = (bound.Max[0] - bound.Min[0] + 2*pad) * r.Scale
	l.height = (bound.Max[1] - bound.Min[1] + 2*pad) * r.Scale
	return l, nil
}

func (r *MapRenderer) stateColor(stateID string) color.RGBA {
	if c, ok := maturityColors[strings.ToLower(r.StateNames[stateID])]; ok {
		return c
	}
	return unknownState
}

// canvasRenderer is implemented by the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

func (r *MapRenderer) draw(renderer canvasRenderer, l *layout) {
	toCanvas := func(pt orb.Point) (float64, float64) {
		pp := l.proj.ToPlane(pt)
		return (pp[0] - l.minX) * r.Scale, (pp[1] - l.minY) * r.Scale
	}

	bg := canvas.DefaultStyle
	bg.Fill = canvas.Paint{Color: canvas.White}
	bg.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(l.width, l.height), bg, canvas.Identity)

	unitStyle := canvas.DefaultStyle
	unitStyle.Fill = canvas.Paint{Color: cropUnitFill}
	unitStyle.Stroke = canvas.Paint{Color: cropUnitStroke}
	unitStyle.StrokeWidth = 0.2 * r.Scale
	for _, u := range l.units {
		for _, ring := range u.outline {
			if len(ring) < 3 {
				continue
			}
			p := &canvas.Path{}
			for i, pt := range ring {
				x, y := toCanvas(pt)
				if i == 0 {
					p.MoveTo(x, y)
				} else {
					p.LineTo(x, y)
				}
			}
			p.Close()
			renderer.RenderPath(p, unitStyle, canvas.Identity)
		}
	}

	for _, pl := range l.plants {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: pl.color}
		style.Stroke = canvas.Paint{Color: canvas.Black}
		style.StrokeWidth = 0.1 * r.Scale
		x, y := toCanvas(pl.point)
		renderer.RenderPath(canvas.Circle(r.PlantRadius*r.Scale).Translate(x, y), style, canvas.Identity)
	}
}

func drawCaption(img draw.Image, text string) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(8), Y: fixed.I(18)},
	}
	d.DrawString(text)
}
