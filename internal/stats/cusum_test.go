package stats

import (
	"math/rand"
	"reflect"
	"testing"
)

func TestCUSUMNoChangeOnStableStream(t *testing.T) {
	t.Parallel()
	c := NewCUSUM(8)
	rng := rand.New(rand.NewSource(1))

	var res CUSUMResult
	for i := 0; i < 200; i++ {
		res = c.Update(10 + rng.NormFloat64())
	}
	if res.Detected {
		t.Errorf("stable stream should not detect: stat=%v", res.Statistic)
	}
	if res.ChangePointIndex != -1 {
		t.Errorf("change point index = %d, want -1", res.ChangePointIndex)
	}
}

func TestCUSUMDetectsLevelShift(t *testing.T) {
	t.Parallel()
	c := NewCUSUMWithPreMean(5, 10)
	rng := rand.New(rand.NewSource(2))

	for i := 0; i < 50; i++ {
		c.Update(10 + rng.NormFloat64())
	}
	var res CUSUMResult
	for i := 0; i < 30; i++ {
		res = c.Update(14 + rng.NormFloat64())
	}
	if !res.Detected {
		t.Fatalf("level shift should be detected: stat=%v", res.Statistic)
	}
	if res.ChangePointIndex <= 50 {
		t.Errorf("change point index = %d, want > 50", res.ChangePointIndex)
	}
}

func TestCUSUMChangePointLatches(t *testing.T) {
	t.Parallel()
	c := NewCUSUMWithPreMean(2, 0)
	for i := 0; i < 20; i++ {
		c.Update(1) // constant positive deviation drives the stat up
	}
	first := c.ChangePointIndex
	if first < 0 {
		t.Fatal("expected a change point")
	}
	// Stream reverting does not move the latched index.
	for i := 0; i < 50; i++ {
		c.Update(-5)
	}
	if c.ChangePointIndex != first {
		t.Errorf("change point moved from %d to %d", first, c.ChangePointIndex)
	}
}

func TestCUSUMVarianceFloor(t *testing.T) {
	t.Parallel()
	c := NewCUSUM(100)
	// A constant stream has zero sample variance; the floor keeps z finite.
	for i := 0; i < 10; i++ {
		res := c.Update(5)
		if res.Statistic != res.Statistic { // NaN check
			t.Fatal("statistic became NaN on constant stream")
		}
	}
}

func TestCUSUMSerializeRoundTrip(t *testing.T) {
	t.Parallel()
	c := NewCUSUMWithPreMean(4, 1.5)
	for i := 0; i < 25; i++ {
		c.Update(float64(i) * 0.3)
	}

	data, err := c.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	restored, err := DeserializeCUSUM(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if !reflect.DeepEqual(c, restored) {
		t.Errorf("round trip mismatch:\n  got  %+v\n  want %+v", restored, c)
	}
}
