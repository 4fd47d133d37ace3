package observability

import "sync/atomic"

// Stats aggregates delivery counters for the health worker and /healthz.
// All counters are atomic; Stats is safe for concurrent use.
type Stats struct {
	Stored        atomic.Uint64 // durable appends
	DeliveredLive atomic.Uint64 // pushes acknowledged within the timeout
	Fallbacks     atomic.Uint64 // pushes parked as delivery records
	Replayed      atomic.Uint64 // messages returned by catch-up
	Acked         atomic.Uint64 // acknowledgments processed
}

// Snapshot is the JSON-friendly view of the counters.
type Snapshot struct {
	Stored        uint64 `json:"stored"`
	DeliveredLive uint64 `json:"delivered_live"`
	Fallbacks     uint64 `json:"fallbacks"`
	Replayed      uint64 `json:"replayed"`
	Acked         uint64 `json:"acked"`
}

func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Stored:        s.Stored.Load(),
		DeliveredLive: s.DeliveredLive.Load(),
		Fallbacks:     s.Fallbacks.Load(),
		Replayed:      s.Replayed.Load(),
		Acked:         s.Acked.Load(),
	}
}
