package geo

import (
	"math"
	"math/rand/v2"

	"github.com/sells-group/site-finder/internal/model"
)

// Seed salts separate independent draws made for the same coordinate.
const (
	SaltArea        uint64 = 0x61726561 // area type and density share this stream
	SaltResidential uint64 = 0x72657369
)

// splitMix64 is a rand.Source with a 64-bit state. Two sources built from
// the same seed produce the same sequence.
type splitMix64 struct {
	state uint64
}

func (s *splitMix64) Uint64() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// CoordinateSeed derives a stable seed from a coordinate rounded to six
// decimal places (about 11 cm).
func CoordinateSeed(c model.Coordinate, salt uint64) uint64 {
	lat := uint64(int64(math.Round(c.Latitude * 1e6)))
	lon := uint64(int64(math.Round(c.Longitude * 1e6)))
	return lat*0x9e3779b97f4a7c15 ^ lon*0xc2b2ae3d27d4eb4f ^ salt
}

// NewRand returns a local generator seeded from the coordinate and salt.
// Callers never share the returned generator across goroutines.
func NewRand(c model.Coordinate, salt uint64) *rand.Rand {
	return rand.New(&splitMix64{state: CoordinateSeed(c, salt)})
}
