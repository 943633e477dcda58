package metrics

// DefaultWindow caps the EMA sample count so the filter keeps tracking
// recent values instead of settling on a long-run mean.
const DefaultWindow = 60

// CalcEMA folds v into avg with an effective window of n samples.
func CalcEMA(avg float64, n int, v float64) float64 {
	mult := 2.0 / (float64(n) + 1.0)
	return avg + (v-avg)*mult
}

// SampleCounter counts samples up to a fixed limit and never decreases.
type SampleCounter struct {
	n     int
	limit int
}

func NewSampleCounter(limit int) SampleCounter {
	if limit <= 0 {
		limit = DefaultWindow
	}
	return SampleCounter{limit: limit}
}

// Next records one more sample and returns the capped count.
func (c *SampleCounter) Next() int {
	c.n = c.Peek()
	return c.n
}

// Peek returns what Next would return without recording a sample.
func (c *SampleCounter) Peek() int {
	if c.n+1 > c.limit {
		return c.limit
	}
	return c.n + 1
}

func (c *SampleCounter) Count() int {
	return c.n
}

// SmoothedMetric is an EMA value. It reads 0 before the first sample.
type SmoothedMetric struct {
	value float64
}

func (m *SmoothedMetric) Add(n int, v float64) {
	m.value = CalcEMA(m.value, n, v)
}

func (m *SmoothedMetric) Value() float64 {
	return m.value
}
