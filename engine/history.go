package engine

// Trend classifies the movement of the fused estimate over the history window.
type Trend int

const (
	TrendLearning Trend = iota
	TrendStable
	TrendDriftingUp
	TrendDriftingDown
)

func (t Trend) String() string {
	switch t {
	case TrendLearning:
		return "learning"
	case TrendStable:
		return "stable"
	case TrendDriftingUp:
		return "drifting_up"
	case TrendDriftingDown:
		return "drifting_down"
	default:
		return "unknown"
	}
}

// minTrendPoints is the number of valid results needed before a slope is reported.
const minTrendPoints = 3

// History is a fixed-capacity ring of the most recent results, oldest first.
// Stored results share their slices with the caller; treat them as read-only.
type History struct {
	buf   []ConsensusResult
	start int
	size  int
}

// NewHistory creates a history holding at most capacity results.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]ConsensusResult, capacity)}
}

// Append stores r, evicting the oldest result when the window is full.
func (h *History) Append(r ConsensusResult) {
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = r
		h.size++
		return
	}
	h.buf[h.start] = r
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of stored results.
func (h *History) Len() int {
	return h.size
}

// Cap returns the window size.
func (h *History) Cap() int {
	return len(h.buf)
}

// At returns the i-th stored result, 0 being the oldest.
func (h *History) At(i int) ConsensusResult {
	if i < 0 || i >= h.size {
		panic("history index out of range")
	}
	return h.buf[(h.start+i)%len(h.buf)]
}

// Last returns the newest result.
func (h *History) Last() (ConsensusResult, bool) {
	if h.size == 0 {
		return ConsensusResult{}, false
	}
	return h.At(h.size - 1), true
}

// Results returns the stored results in timestamp order.
func (h *History) Results() []ConsensusResult {
	out := make([]ConsensusResult, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.At(i)
	}
	return out
}

// CumulativeDeviation sums |value - estimate| for id over the window and
// returns the number of results it appeared in.
func (h *History) CumulativeDeviation(id SensorID) (float64, int) {
	var sum float64
	var n int
	for i := 0; i < h.size; i++ {
		if d, ok := h.At(i).Deviations[id]; ok {
			sum += d
			n++
		}
	}
	return sum, n
}

// MeanDeviation is CumulativeDeviation divided by the sample count.
func (h *History) MeanDeviation(id SensorID) (float64, bool) {
	sum, n := h.CumulativeDeviation(id)
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Slope fits a least-squares line through the valid estimates of the window and
// returns its slope per timestamp unit along with the number of points used.
func (h *History) Slope() (float64, int) {
	var n int
	var x0 float64
	var sumX, sumY, sumXY, sumXX float64

	for i := 0; i < h.size; i++ {
		r := h.At(i)
		if !r.Valid() {
			continue
		}
		if n == 0 {
			x0 = float64(r.Timestamp)
		}
		x := float64(r.Timestamp) - x0
		sumX += x
		sumY += r.Estimate
		sumXY += x * r.Estimate
		sumXX += x * x
		n++
	}

	if n < 2 {
		return 0, n
	}
	fn := float64(n)
	den := fn*sumXX - sumX*sumX
	if den == 0 {
		return 0, n
	}
	return (fn*sumXY - sumX*sumY) / den, n
}

// Trend classifies Slope against maxSafeSlope.
func (h *History) Trend(maxSafeSlope float64) Trend {
	slope, n := h.Slope()
	switch {
	case n < minTrendPoints:
		return TrendLearning
	case slope > maxSafeSlope:
		return TrendDriftingUp
	case slope < -maxSafeSlope:
		return TrendDriftingDown
	default:
		return TrendStable
	}
}

// Reset drops every stored result.
func (h *History) Reset() {
	for i := range h.buf {
		h.buf[i] = ConsensusResult{}
	}
	h.start = 0
	h.size = 0
}
