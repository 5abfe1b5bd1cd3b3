package delivery

import (
	"sync"
	"time"
)

const statsAlpha = 0.2

// TargetStat is a rolling view of one delivery target.
type TargetStat struct {
	SuccessRate float64       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	Attempts    int64         `json:"attempts"`
	LastAttempt time.Time     `json:"last_attempt"`
}

// TargetStats keeps exponentially weighted per-target success and latency.
type TargetStats struct {
	mu    sync.Mutex
	stats map[string]*TargetStat
}

func NewTargetStats() *TargetStats {
	return &TargetStats{stats: make(map[string]*TargetStat)}
}

// Record folds one attempt into the target's rolling stats.
func (t *TargetStats) Record(target string, success bool, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.stats[target]
	if !ok {
		s = &TargetStat{SuccessRate: 1}
		t.stats[target] = s
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	s.SuccessRate = (1-statsAlpha)*s.SuccessRate + statsAlpha*outcome
	if s.AvgLatency == 0 {
		s.AvgLatency = latency
	} else {
		s.AvgLatency = time.Duration((1-statsAlpha)*float64(s.AvgLatency) + statsAlpha*float64(latency))
	}
	s.Attempts++
	s.LastAttempt = time.Now()
}

// Snapshot returns a copy of all target stats.
func (t *TargetStats) Snapshot() map[string]TargetStat {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]TargetStat, len(t.stats))
	for target, s := range t.stats {
		out[target] = *s
	}
	return out
}
