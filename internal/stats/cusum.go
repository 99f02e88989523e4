package stats

import (
	"encoding/json"
	"fmt"
	"math"
)

// varianceFloor prevents division blow-ups on near-constant streams.
const varianceFloor = 1e-4

// CUSUM is a one-sided cumulative-sum change-point detector. Each observation
// is standardized against the running mean (or a fixed PreMean when supplied)
// and the running sample variance, then accumulated as
//
//	S_n = max(0, S_{n-1} + z_n)
//
// The first crossing of Threshold latches ChangePointIndex.
type CUSUM struct {
	N                int64    `json:"n"`
	SumX             float64  `json:"sumX"`
	SumX2            float64  `json:"sumX2"`
	Stat             float64  `json:"stat"`
	MaxStat          float64  `json:"maxStat"`
	ChangePointIndex int      `json:"changePointIndex"` // -1 = none latched
	LastValue        *float64 `json:"lastValue,omitempty"`
	Threshold        float64  `json:"threshold"`
	PreMean          *float64 `json:"preMean,omitempty"`
}

// CUSUMResult is the query output after an update.
type CUSUMResult struct {
	Detected         bool
	Statistic        float64
	ChangePointIndex int
}

// NewCUSUM creates a detector with the given decision threshold.
func NewCUSUM(threshold float64) *CUSUM {
	return &CUSUM{Threshold: threshold, ChangePointIndex: -1}
}

// NewCUSUMWithPreMean creates a detector standardizing against a fixed
// pre-change mean rather than the running mean.
func NewCUSUMWithPreMean(threshold, preMean float64) *CUSUM {
	c := NewCUSUM(threshold)
	c.PreMean = &preMean
	return c
}

// Update folds in one observation and returns the current detection state.
// Detected is the instantaneous condition statistic > threshold; once a
// crossing happens, the change-point index stays latched.
func (c *CUSUM) Update(x float64) CUSUMResult {
	c.N++
	c.SumX += x
	c.SumX2 += x * x
	v := x
	c.LastValue = &v

	mean := c.SumX / float64(c.N)
	if c.PreMean != nil {
		mean = *c.PreMean
	}

	variance := varianceFloor
	if c.N >= 2 {
		sampleVar := (c.SumX2 - c.SumX*c.SumX/float64(c.N)) / float64(c.N-1)
		if sampleVar > variance {
			variance = sampleVar
		}
	}

	z := (x - mean) / math.Sqrt(variance)
	c.Stat = math.Max(0, c.Stat+z)
	if c.Stat > c.MaxStat {
		c.MaxStat = c.Stat
	}

	if c.Stat > c.Threshold && c.ChangePointIndex < 0 {
		c.ChangePointIndex = int(c.N)
	}

	return c.Result()
}

// Result returns the detection state without mutating the detector.
func (c *CUSUM) Result() CUSUMResult {
	return CUSUMResult{
		Detected:         c.Stat > c.Threshold,
		Statistic:        c.Stat,
		ChangePointIndex: c.ChangePointIndex,
	}
}

// Serialize encodes the state as JSON.
func (c *CUSUM) Serialize() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal cusum: %w", err)
	}
	return string(data), nil
}

// DeserializeCUSUM restores a CUSUM detector from its JSON form.
func DeserializeCUSUM(data string) (*CUSUM, error) {
	var c CUSUM
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("unmarshal cusum: %w", err)
	}
	return &c, nil
}
