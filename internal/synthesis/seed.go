package synthesis

import (
	"math/rand/v2"
	"sync"

	"github.com/voxalabs/voxa-core/internal/engine"
)

const maxGeneratedSeed = 100_000_000

// GenerateSeed draws a seed uniformly from [1, 100000000]. It is a
// convenience for interfaces offering a "roll the dice" button; validation
// and dispatch accept any seed value.
func GenerateSeed() int64 {
	return 1 + rand.Int64N(maxGeneratedSeed)
}

// Seeder owns the engine's global random state. Seeding and starting the
// corresponding synthesis call form one critical section: no other
// request's seeding may interleave between the two.
type Seeder struct {
	mu  sync.Mutex
	eng engine.Engine
}

func NewSeeder(eng engine.Engine) *Seeder {
	return &Seeder{eng: eng}
}

// Seeded applies the seed and invokes start while holding the lock. The
// returned channels are the engine's; chunk production happens outside the
// critical section.
func (s *Seeder) Seeded(seed int64, start func() (<-chan engine.RawChunk, <-chan error)) (<-chan engine.RawChunk, <-chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eng.ApplySeed(seed)
	return start()
}
