package extract

import (
	"sync"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// tracker forwards progress to a sink, never letting the percentage go
// backwards within one workflow run.
type tracker struct {
	mu      sync.Mutex
	sink    domain.ProgressSink
	record  func(domain.Progress)
	now     func() domain.Progress
	percent int
	done    bool
}

func (s *Service) newTracker(sink domain.ProgressSink) *tracker {
	return &tracker{
		sink:   sink,
		record: s.setProgress,
		now: func() domain.Progress {
			return domain.Progress{Timestamp: s.now()}
		},
	}
}

func (t *tracker) report(stage domain.Stage, percent int, status string) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	if percent < t.percent {
		percent = t.percent
	}
	t.percent = percent
	if stage == domain.StageComplete || stage == domain.StageError {
		t.done = true
	}
	p := t.now()
	p.Stage = stage
	p.Percent = percent
	p.Status = status
	t.mu.Unlock()

	t.record(p)
	if t.sink != nil {
		t.sink(p)
	}
}

// retryStatus is passed to the retrier so its waits show up as progress.
func (t *tracker) retryStatus(percent int) func(string) {
	return func(status string) {
		t.report(domain.StageRetrying, percent, status)
	}
}

func (t *tracker) fail(err error) {
	t.report(domain.StageError, t.current(), domain.UserMessage(err))
}

func (t *tracker) current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percent
}
