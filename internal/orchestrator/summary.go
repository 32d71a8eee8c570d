package orchestrator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"datastack/internal/reconciler"

	"github.com/google/uuid"
)

// Result is the outcome of one planned action.
type Result struct {
	// Service is the service the action applied to.
	Service string

	// Action is what was attempted.
	Action reconciler.ActionType

	// Duration is how long the action took, zero for skipped actions.
	Duration time.Duration

	// Err is nil on success.
	Err error

	// Skipped is true when the action never ran, e.g. because a
	// dependency failed or the run was cancelled.
	Skipped bool
}

// Summary aggregates the outcome of a whole run. Partial success is a
// valid outcome: some services up, some failed, some skipped.
type Summary struct {
	// RunID uniquely identifies this run in logs.
	RunID string

	Results   []Result
	StartedAt time.Time
	Duration  time.Duration
}

// Succeeded reports whether every action completed without error.
func (s Summary) Succeeded() bool {
	for _, res := range s.Results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// Counts returns how many actions succeeded, failed, and were skipped.
func (s Summary) Counts() (succeeded, failed, skipped int) {
	for _, res := range s.Results {
		switch {
		case res.Skipped:
			skipped++
		case res.Err != nil:
			failed++
		default:
			succeeded++
		}
	}
	return succeeded, failed, skipped
}

// Failed returns the results that ended in an error, skips included.
func (s Summary) Failed() []Result {
	var out []Result
	for _, res := range s.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

func (s Summary) String() string {
	succeeded, failed, skipped := s.Counts()
	return fmt.Sprintf("%d succeeded, %d failed, %d skipped in %s",
		succeeded, failed, skipped, s.Duration.Round(time.Millisecond))
}

// summaryBuilder collects results from concurrent actions.
type summaryBuilder struct {
	mu      sync.Mutex
	summary Summary
}

func newSummaryBuilder() *summaryBuilder {
	return &summaryBuilder{summary: Summary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}}
}

func (b *summaryBuilder) record(res Result) {
	b.mu.Lock()
	b.summary.Results = append(b.summary.Results, res)
	b.mu.Unlock()
}

func (b *summaryBuilder) finish() Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.summary.Duration = time.Since(b.summary.StartedAt)
	sort.Slice(b.summary.Results, func(i, j int) bool {
		return b.summary.Results[i].Service < b.summary.Results[j].Service
	})
	return b.summary
}
