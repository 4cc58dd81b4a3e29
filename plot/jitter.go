package plot

import (
	"slices"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// JitterHash is the polynomial rolling hash h = h*31 + unit over UTF-16 code
// units, wrapping at 32 bits.
func JitterHash(units []uint16) uint32 {
	var h uint32
	for _, u := range units {
		h = h*31 + uint32(u)
	}
	return h
}

// Jitter returns a deterministic (latOffset, lngOffset) pair in [-delta/2, delta/2)
// derived from id. The identifier is NFC-normalized and hashed as UTF-16 code
// units, forwards for the latitude and backwards for the longitude, so the
// result matches implementations that hash JavaScript strings.
func Jitter(id string, delta float64) (latOffset, lngOffset float64) {
	units := utf16.Encode([]rune(norm.NFC.String(id)))
	h1 := JitterHash(units)

	reversed := slices.Clone(units)
	slices.Reverse(reversed)
	h2 := JitterHash(reversed)

	latOffset = (float64(h1%1000)/1000 - 0.5) * delta
	lngOffset = (float64(h2%1000)/1000 - 0.5) * delta
	return latOffset, lngOffset
}
