package metrics

import (
	"time"

	"hivemind/internal/types"
)

// Default windows for the derived metrics.
const (
	DefaultVelocityWindow   = time.Hour
	DefaultInnovationWindow = 7 * 24 * time.Hour
)

// Snapshot is the metric block reported with each cycle's insights.
type Snapshot struct {
	KnowledgeVelocity int     `json:"knowledge_velocity"`
	ReuseRate         float64 `json:"reuse_rate"`
	InnovationIndex   float64 `json:"innovation_index"`
	RejectionRate     float64 `json:"rejection_rate"`
	Transfers         int     `json:"transfers"`
	Rejections        int     `json:"rejections"`
}

// Compute derives every metric from records as of now.
func Compute(records []types.TransferRecord, now time.Time, velocityWindow, innovationWindow time.Duration) Snapshot {
	s := Snapshot{
		KnowledgeVelocity: KnowledgeVelocity(records, now, velocityWindow),
		ReuseRate:         ReuseRate(records),
		InnovationIndex:   InnovationIndex(records, now, innovationWindow),
		RejectionRate:     RejectionRate(records),
	}
	for _, r := range records {
		switch r.Status {
		case types.TransferStatusTransferred:
			s.Transfers++
		case types.TransferStatusRejected:
			s.Rejections++
		}
	}
	return s
}

// inWindow counts transferred records younger than window. Records stamped
// after now count as inside the window.
func inWindow(records []types.TransferRecord, now time.Time, window time.Duration) int {
	cutoff := now.UnixMilli() - window.Milliseconds()
	n := 0
	for _, r := range records {
		if r.Status == types.TransferStatusTransferred && r.TimestampMillis > cutoff {
			n++
		}
	}
	return n
}

// KnowledgeVelocity is the number of successful transfers within window of now.
func KnowledgeVelocity(records []types.TransferRecord, now time.Time, window time.Duration) int {
	if window <= 0 {
		window = DefaultVelocityWindow
	}
	return inWindow(records, now, window)
}

// ReuseRate is successful transfers per distinct transferred pattern.
// An empty log yields 0.
func ReuseRate(records []types.TransferRecord) float64 {
	patterns := make(map[string]struct{})
	transfers := 0
	for _, r := range records {
		if r.Status != types.TransferStatusTransferred {
			continue
		}
		transfers++
		patterns[r.PatternID] = struct{}{}
	}
	if len(patterns) == 0 {
		return 0
	}
	return float64(transfers) / float64(len(patterns))
}

// InnovationIndex is the daily average of successful transfers within window.
func InnovationIndex(records []types.TransferRecord, now time.Time, window time.Duration) float64 {
	if window <= 0 {
		window = DefaultInnovationWindow
	}
	days := window.Hours() / 24
	return float64(inWindow(records, now, window)) / days
}

// RejectionRate is the share of records that ended rejected. An empty log yields 0.
func RejectionRate(records []types.TransferRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	rejected := 0
	for _, r := range records {
		if r.Status == types.TransferStatusRejected {
			rejected++
		}
	}
	return float64(rejected) / float64(len(records))
}
