package metrics

import (
	"math"
	"sync"
)

// WelfordState holds running statistics using Welford's online algorithm:
// mean and variance in O(1) space without storing observations.
type WelfordState struct {
	Count int     // n - number of observations
	Mean  float64 // running mean
	M2    float64 // sum of squared differences from mean
}

// NewWelfordState resumes from previously saved statistics
func NewWelfordState(mean, m2 float64, count int) *WelfordState {
	if count == 0 {
		return &WelfordState{}
	}
	return &WelfordState{Count: count, Mean: mean, M2: m2}
}

// Update adds a new observation.
func (w *WelfordState) Update(newValue float64) {
	w.Count++
	delta := newValue - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := newValue - w.Mean
	w.M2 += delta * delta2
}

// StdDev returns the population standard deviation, 0 with fewer than 2 observations.
func (w *WelfordState) StdDev() float64 {
	if w.Count < 2 {
		return 0
	}
	return math.Sqrt(w.M2 / float64(w.Count))
}

// KeyedStats keeps one WelfordState per key and is safe for concurrent use.
type KeyedStats struct {
	mu    sync.RWMutex
	stats map[string]*WelfordState
}

func NewKeyedStats() *KeyedStats {
	return &KeyedStats{stats: make(map[string]*WelfordState)}
}

func (k *KeyedStats) Observe(key string, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.stats[key]
	if !ok {
		s = &WelfordState{}
		k.stats[key] = s
	}
	s.Update(value)
}

// Mean returns the running mean for key when at least minCount observations exist.
func (k *KeyedStats) Mean(key string, minCount int) (float64, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.stats[key]
	if !ok || s.Count < minCount || s.Count == 0 {
		return 0, false
	}
	return s.Mean, true
}

// Snapshot copies the current state for every key.
func (k *KeyedStats) Snapshot() map[string]WelfordState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make(map[string]WelfordState, len(k.stats))
	for key, s := range k.stats {
		out[key] = *s
	}
	return out
}
