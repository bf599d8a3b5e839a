package faker

import (
	"math/rand" // Using weak random for synthetic load only

	"github.com/google/uuid"

	"github.com/siqueiraa/LiftFlow/pkg/model"
)

const (
	DefaultMaxSkierID  = 100000 // Skier IDs are drawn from [1, 100000]
	DefaultMaxResortID = 10     // Resorts per season
	DefaultMaxLiftID   = 40     // Lifts per resort
	DefaultMaxTime     = 360    // Minutes in an operating day
	DefaultSeasonID    = "2025"
	DefaultDayID       = "1"
)

// Range is an inclusive integer interval.
type Range struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

func (r Range) pick(rng *rand.Rand) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.Intn(r.Max-r.Min+1) //nolint:gosec // Using weak random for synthetic load only
}

// Contains reports whether v lies in the interval.
func (r Range) Contains(v int) bool { return v >= r.Min && v <= r.Max }

// Ranges bound every synthetic field of a lift ride.
type Ranges struct {
	Skier    Range  `yaml:"skier"`
	Resort   Range  `yaml:"resort"`
	Lift     Range  `yaml:"lift"`
	Time     Range  `yaml:"time"`
	SeasonID string `yaml:"seasonID"`
	DayID    string `yaml:"dayID"`
}

// DefaultRanges matches the write endpoint's validation bounds.
func DefaultRanges() Ranges {
	return Ranges{
		Skier:    Range{Min: 1, Max: DefaultMaxSkierID},
		Resort:   Range{Min: 1, Max: DefaultMaxResortID},
		Lift:     Range{Min: 1, Max: DefaultMaxLiftID},
		Time:     Range{Min: 1, Max: DefaultMaxTime},
		SeasonID: DefaultSeasonID,
		DayID:    DefaultDayID,
	}
}

// Generator produces lift ride events with uniformly random fields.
// It is not safe for concurrent use.
type Generator struct {
	rng    *rand.Rand
	ranges Ranges
}

// NewGenerator returns a generator seeded with seed.
func NewGenerator(seed int64, ranges Ranges) *Generator {
	return &Generator{
		rng:    rand.New(rand.NewSource(seed)), //nolint:gosec // Using weak random for synthetic load only
		ranges: ranges,
	}
}

// Next returns a fresh event.
func (g *Generator) Next() model.LiftRideEvent {
	return model.LiftRideEvent{
		EventID: uuid.NewString(),
		LiftRide: model.LiftRide{
			Time:   g.ranges.Time.pick(g.rng),
			LiftID: g.ranges.Lift.pick(g.rng),
		},
		ResortID: g.ranges.Resort.pick(g.rng),
		SeasonID: g.ranges.SeasonID,
		DayID:    g.ranges.DayID,
		SkierID:  g.ranges.Skier.pick(g.rng),
	}
}
