package cache

import "go.uber.org/atomic"

// TierStats is a point-in-time view of one tier.
type TierStats struct {
	Tier   string `json:"tier" yaml:"tier"`
	Size   int    `json:"size" yaml:"size"`
	Hits   int64  `json:"hits" yaml:"hits"`
	Misses int64  `json:"misses" yaml:"misses"`
	Faults int64  `json:"faults,omitempty" yaml:"faults,omitempty"`
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
	faults atomic.Int64
}

func (c *counters) hit()   { c.hits.Inc() }
func (c *counters) miss()  { c.misses.Inc() }
func (c *counters) fault() { c.faults.Inc() }

func (c *counters) snapshot(t Tier) TierStats {
	return TierStats{
		Tier:   t.Name(),
		Size:   t.Size(),
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Faults: c.faults.Load(),
	}
}
