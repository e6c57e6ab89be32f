package synth

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// RandomSource supplies uniform draws in [0, 1).
type RandomSource interface {
	Float64() float64
}

type sharedSource struct{}

func (sharedSource) Float64() float64 { return rand.Float64() }

// NewSharedSource returns a goroutine-safe source backed by the runtime's global generator.
func NewSharedSource() RandomSource {
	return sharedSource{}
}

type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

// NewSeededSource returns a reproducible, goroutine-safe source.
func NewSeededSource(seed uint64) RandomSource {
	return &lockedSource{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewSource returns a seeded source when seed is non-zero and a time-seeded one otherwise.
func NewSource(seed uint64) RandomSource {
	if seed == 0 {
		return NewSeededSource(uint64(time.Now().UnixNano()))
	}
	return NewSeededSource(seed)
}

// uniform draws from [lo, hi).
func uniform(src RandomSource, lo, hi float64) float64 {
	return lo + src.Float64()*(hi-lo)
}

// nonZero draws from (0, 1); log(0) is undefined in the Box-Muller transform.
func nonZero(src RandomSource) float64 {
	for {
		if u := src.Float64(); u > 0 {
			return u
		}
	}
}

// StandardNormal draws from N(0, 1) with the Box-Muller transform.
func StandardNormal(src RandomSource) float64 {
	u := nonZero(src)
	v := nonZero(src)
	return math.Sqrt(-2.0*math.Log(u)) * math.Cos(2.0*math.Pi*v)
}
