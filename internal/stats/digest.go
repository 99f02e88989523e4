package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// DefaultCompression bounds the number of retained centroids. Higher values
// trade memory for tail accuracy; 100 keeps the 0.999 quantile usable on the
// trade-size streams we see while staying a few KB serialized.
const DefaultCompression = 100

// Centroid is one merged cluster of observations.
type Centroid struct {
	Mean  float64 `json:"m"`
	Count float64 `json:"c"`
}

// Digest is a merging t-digest: a serializable quantile sketch that keeps
// fine resolution at the tails and coarse resolution in the middle. Used for
// the per-token trade-size distribution (quantiles 0.5/0.95/0.99/0.999).
type Digest struct {
	Compression float64    `json:"compression"`
	Centroids   []Centroid `json:"centroids"` // sorted ascending by mean
	Total       float64    `json:"total"`
	MinValue    float64    `json:"min"`
	MaxValue    float64    `json:"max"`
}

// NewDigest creates an empty digest with the given compression.
func NewDigest(compression float64) *Digest {
	if compression <= 0 {
		compression = DefaultCompression
	}
	return &Digest{Compression: compression}
}

// Add folds one observation into the sketch.
func (d *Digest) Add(x float64) {
	if d.Total == 0 {
		d.MinValue = x
		d.MaxValue = x
	} else {
		d.MinValue = math.Min(d.MinValue, x)
		d.MaxValue = math.Max(d.MaxValue, x)
	}
	d.Centroids = append(d.Centroids, Centroid{Mean: x, Count: 1})
	d.Total++

	if float64(len(d.Centroids)) > 2*d.Compression {
		d.compress()
	}
}

// Quantile returns the approximate q-quantile (q in [0, 1]).
// Returns 0 for an empty digest.
func (d *Digest) Quantile(q float64) float64 {
	if d.Total == 0 {
		return 0
	}
	if q <= 0 {
		return d.MinValue
	}
	if q >= 1 {
		return d.MaxValue
	}
	d.compress()

	target := q * d.Total
	var cum float64
	for i, c := range d.Centroids {
		mid := cum + c.Count/2
		if target <= mid {
			if i == 0 {
				return interpolate(d.MinValue, 0, c.Mean, mid, target)
			}
			prev := d.Centroids[i-1]
			prevMid := cum - prev.Count/2
			return interpolate(prev.Mean, prevMid, c.Mean, mid, target)
		}
		cum += c.Count
	}
	return d.MaxValue
}

// compress merges adjacent centroids while respecting the t-digest size
// bound 4·n·q·(1−q)/δ, which keeps tail centroids small.
func (d *Digest) compress() {
	if len(d.Centroids) <= 1 {
		return
	}
	sort.Slice(d.Centroids, func(i, j int) bool {
		return d.Centroids[i].Mean < d.Centroids[j].Mean
	})

	merged := d.Centroids[:1]
	var before float64 // total count strictly before the last merged centroid
	for _, c := range d.Centroids[1:] {
		last := &merged[len(merged)-1]
		combined := last.Count + c.Count
		q := (before + combined/2) / d.Total
		limit := 4 * d.Total * q * (1 - q) / d.Compression
		if combined <= limit {
			last.Mean = (last.Mean*last.Count + c.Mean*c.Count) / combined
			last.Count = combined
		} else {
			before += last.Count
			merged = append(merged, c)
		}
	}
	d.Centroids = merged
}

// Serialize encodes the sketch as JSON, compressing first so the stored form
// is bounded.
func (d *Digest) Serialize() (string, error) {
	d.compress()
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal digest: %w", err)
	}
	return string(data), nil
}

// DeserializeDigest restores a digest from its JSON form.
func DeserializeDigest(data string) (*Digest, error) {
	var d Digest
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("unmarshal digest: %w", err)
	}
	if d.Compression <= 0 {
		d.Compression = DefaultCompression
	}
	return &d, nil
}

func interpolate(v1, w1, v2, w2, target float64) float64 {
	if w2 == w1 {
		return v2
	}
	frac := (target - w1) / (w2 - w1)
	return v1 + frac*(v2-v1)
}
