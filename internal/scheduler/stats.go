package scheduler

import (
	"time"

	"shockstream"
)

const (
	processingSamples = 100
	minuteBuckets     = 10
)

// runStats is the scheduler's throughput bookkeeping. All fields are guarded
// by the scheduler lock.
type runStats struct {
	enqueued  int64
	processed int64
	failed    int64
	cancelled int64
	retried   int64

	// samples holds the processing durations of the last 100 completed items.
	samples []time.Duration
	// buckets holds per-minute completion counts, keyed by unix minute.
	buckets []minuteBucket
}

type minuteBucket struct {
	minute int64
	count  int
}

func (st *runStats) recordProcessed(d time.Duration) {
	st.processed++
	st.samples = append(st.samples, d)
	if len(st.samples) > processingSamples {
		st.samples = st.samples[len(st.samples)-processingSamples:]
	}

	minute := time.Now().Unix() / 60
	if n := len(st.buckets); n > 0 && st.buckets[n-1].minute == minute {
		st.buckets[n-1].count++
	} else {
		st.buckets = append(st.buckets, minuteBucket{minute: minute, count: 1})
		if len(st.buckets) > minuteBuckets {
			st.buckets = st.buckets[len(st.buckets)-minuteBuckets:]
		}
	}
}

// QueueStats is the externally visible statistics snapshot.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`

	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalProcessed int64 `json:"total_processed"`
	TotalFailed    int64 `json:"total_failed"`
	TotalCancelled int64 `json:"total_cancelled"`
	TotalRetried   int64 `json:"total_retried"`

	// AvgProcessingMs averages the last 100 completed dispatches.
	AvgProcessingMs float64 `json:"avg_processing_ms"`
	// CommandsPerMinute averages the last 10 one-minute buckets.
	CommandsPerMinute float64 `json:"commands_per_minute"`
	// SuccessRate is processed / (processed + failed), 1.0 when nothing ran.
	SuccessRate float64 `json:"success_rate"`

	Paused bool `json:"paused"`
}

// Stats returns a consistent snapshot of throughput statistics.
func (s *Scheduler) Stats() QueueStats {
	s.lk.lock()
	defer s.lk.unlock()

	out := QueueStats{
		TotalEnqueued:  s.stats.enqueued,
		TotalProcessed: s.stats.processed,
		TotalFailed:    s.stats.failed,
		TotalCancelled: s.stats.cancelled,
		TotalRetried:   s.stats.retried,
		Paused:         s.paused,
	}
	for _, it := range s.items {
		switch it.Status {
		case shockstream.StatusPending:
			out.Pending++
		case shockstream.StatusProcessing:
			out.Processing++
		}
	}

	if n := len(s.stats.samples); n > 0 {
		var total time.Duration
		for _, d := range s.stats.samples {
			total += d
		}
		out.AvgProcessingMs = float64(total.Milliseconds()) / float64(n)
	}

	if n := len(s.stats.buckets); n > 0 {
		sum := 0
		for _, b := range s.stats.buckets {
			sum += b.count
		}
		out.CommandsPerMinute = float64(sum) / float64(n)
	}

	terminalRuns := s.stats.processed + s.stats.failed
	if terminalRuns > 0 {
		out.SuccessRate = float64(s.stats.processed) / float64(terminalRuns)
	} else {
		out.SuccessRate = 1
	}
	return out
}
