package engine

import (
	"math"
)

// Classification is the classifier's verdict for one timestep.
type Classification struct {
	Trusted       []SensorReading // present and unflagged, sorted by SensorID
	Flagged       []SensorID      // every configured sensor currently flagged
	NewlyFlagged  []SensorID
	Recovered     []SensorID
	Rehabilitated []SensorID
}

// Classifier tracks consecutive tolerance violations per sensor and decides
// which sensors are excluded from fusion.
type Classifier struct {
	tolerance         float64
	faultThreshold    int
	recoveryThreshold int

	order  []SensorID
	states map[SensorID]*SensorState
}

// NewClassifier creates a classifier with every configured sensor unflagged.
func NewClassifier(cfg Config) *Classifier {
	c := &Classifier{
		tolerance:         cfg.Tolerance,
		faultThreshold:    cfg.FaultThreshold,
		recoveryThreshold: cfg.RecoveryThreshold,
		order:             cloneIDs(cfg.Sensors),
		states:            make(map[SensorID]*SensorState, len(cfg.Sensors)),
	}
	sortIDs(c.order)
	c.Reset()
	return c
}

// Reset clears every counter and flag.
func (c *Classifier) Reset() {
	for _, id := range c.order {
		c.states[id] = &SensorState{SensorID: id}
	}
}

// Classify updates sensor states from the readings of one timestep.
// Without a prior estimate no counters move and nothing is flagged.
// history feeds the last-resort choice when every reporting sensor is flagged.
func (c *Classifier) Classify(prior float64, hasPrior bool, readings []SensorReading, history *History) Classification {
	var out Classification

	if hasPrior {
		for _, r := range readings {
			st, ok := c.states[r.SensorID]
			if !ok {
				continue
			}
			if math.Abs(r.Value-prior) > c.tolerance {
				st.Violations++
				st.ConsecutiveFaults++
				st.ConsecutiveOK = 0
				if !st.Flagged && st.ConsecutiveFaults >= c.faultThreshold {
					st.Flagged = true
					st.FlagCount++
					out.NewlyFlagged = append(out.NewlyFlagged, r.SensorID)
				}
				continue
			}

			st.ConsecutiveOK++
			st.ConsecutiveFaults = 0
			if st.Flagged && st.ConsecutiveOK >= c.recoveryThreshold {
				st.Flagged = false
				st.ConsecutiveOK = 0
				out.Recovered = append(out.Recovered, r.SensorID)
			}
		}
	}

	if id, ok := c.lastResort(readings, history); ok {
		st := c.states[id]
		st.Flagged = false
		st.ConsecutiveFaults = 0
		st.ConsecutiveOK = 0
		out.Rehabilitated = append(out.Rehabilitated, id)
	}

	for _, r := range readings {
		if st, ok := c.states[r.SensorID]; ok && !st.Flagged {
			out.Trusted = append(out.Trusted, r)
		}
	}
	for _, id := range c.order {
		if c.states[id].Flagged {
			out.Flagged = append(out.Flagged, id)
		}
	}

	return out
}

// lastResort picks the reporting sensor with the lowest cumulative deviation
// when every reporting sensor is flagged. Ties go to the lowest SensorID.
func (c *Classifier) lastResort(readings []SensorReading, history *History) (SensorID, bool) {
	if len(readings) == 0 {
		return 0, false
	}
	for _, r := range readings {
		if st, ok := c.states[r.SensorID]; ok && !st.Flagged {
			return 0, false
		}
	}

	var best SensorID
	bestDev := math.Inf(1)
	found := false
	for _, r := range readings {
		if _, ok := c.states[r.SensorID]; !ok {
			continue
		}
		var dev float64
		if history != nil {
			dev, _ = history.CumulativeDeviation(r.SensorID)
		}
		if !found || dev < bestDev || (dev == bestDev && r.SensorID < best) {
			best = r.SensorID
			bestDev = dev
			found = true
		}
	}
	return best, found
}

// clone returns an independent copy used for dry runs.
func (c *Classifier) clone() *Classifier {
	out := &Classifier{
		tolerance:         c.tolerance,
		faultThreshold:    c.faultThreshold,
		recoveryThreshold: c.recoveryThreshold,
		order:             cloneIDs(c.order),
		states:            make(map[SensorID]*SensorState, len(c.states)),
	}
	for id, st := range c.states {
		cp := *st
		out.states[id] = &cp
	}
	return out
}

// State returns a copy of one sensor's state.
func (c *Classifier) State(id SensorID) (SensorState, bool) {
	st, ok := c.states[id]
	if !ok {
		return SensorState{}, false
	}
	return *st, true
}

// States returns copies of every sensor state, sorted by SensorID.
func (c *Classifier) States() []SensorState {
	out := make([]SensorState, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.states[id])
	}
	return out
}
