// Package clockrand defines the two smallest core-out collaborators (spec
// §6.2): a monotonic clock and a seedable random source, used for
// retry/backoff jitter. Separating them from time.Now/math/rand call sites
// lets tests drive deterministic schedules, the same way the teacher's
// kernel/threads/intelligence/scheduling package isolates its
// TimeSeriesPredictor from wall-clock time via explicit RecordLatency calls.
package clockrand

import (
	"math/rand"
	"time"
)

// Clock supplies the current time. NowMillis should be monotonic where the
// platform provides one; System wraps time.Now().
type Clock interface {
	NowMillis() int64
	Now() time.Time
}

// Random supplies floats in [0, 1), used for jitter.
type Random interface {
	Float() float64
}

type systemClock struct{}

// System is the production Clock backed by time.Now().
var System Clock = systemClock{}

func (systemClock) NowMillis() int64 { return time.Now().UnixMilli() }
func (systemClock) Now() time.Time   { return time.Now() }

// SystemRandom is the production Random backed by math/rand's global source.
type SystemRandom struct{}

func (SystemRandom) Float() float64 { return rand.Float64() }

// Seeded returns a deterministic Random for tests.
func Seeded(seed int64) Random {
	return &seededRandom{r: rand.New(rand.NewSource(seed))}
}

type seededRandom struct {
	r *rand.Rand
}

func (s *seededRandom) Float() float64 { return s.r.Float64() }
