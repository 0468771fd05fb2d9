// Package profiler - Operation timers for test runs.
package profiler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Well-known operation names of a test run.
const (
	// OpDetect times the per-image detect step.
	OpDetect = "im_detect"
	// OpMisc times the per-image thresholding bookkeeping.
	OpMisc = "misc"
)

// TimeTracker tracks operation timing statistics.
type TimeTracker struct {
	name      string
	totalTime time.Duration
	minTime   time.Duration
	maxTime   time.Duration
	count     int64
}

// Stats is a snapshot of one tracker.
type Stats struct {
	Name    string
	Count   int64
	Total   time.Duration
	Min     time.Duration
	Max     time.Duration
	Average time.Duration
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", s.Name)
	enc.AddInt64("count", s.Count)
	enc.AddDuration("total", s.Total)
	enc.AddDuration("min", s.Min)
	enc.AddDuration("max", s.Max)
	enc.AddDuration("avg", s.Average)
	return nil
}

// Profiler times named operations. It is safe for concurrent use.
type Profiler struct {
	mu             sync.RWMutex
	operationTimes map[string]*TimeTracker
	now            func() time.Time
}

// New creates an empty Profiler.
func New() *Profiler {
	return &Profiler{
		operationTimes: make(map[string]*TimeTracker),
		now:            time.Now,
	}
}

// StartOperation starts timing an operation and returns the function that
// stops it.
//
// Example Usage:
// ```go
//
//	stop := p.StartOperation(profiler.OpDetect)
//	dets, err := detector.Detect(ctx, img, boxes)
//	stop()
//
// ```
func (p *Profiler) StartOperation(name string) func() {
	start := p.now()
	return func() {
		p.Record(name, p.now().Sub(start))
	}
}

// Record adds one completed operation.
func (p *Profiler) Record(name string, duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tracker, exists := p.operationTimes[name]
	if !exists {
		tracker = &TimeTracker{
			name:    name,
			minTime: duration,
			maxTime: duration,
		}
		p.operationTimes[name] = tracker
	}

	tracker.totalTime += duration
	tracker.count++

	if duration < tracker.minTime {
		tracker.minTime = duration
	}
	if duration > tracker.maxTime {
		tracker.maxTime = duration
	}
}

// Average returns the mean duration of an operation, zero if never recorded.
func (p *Profiler) Average(name string) time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()

	tracker, ok := p.operationTimes[name]
	if !ok || tracker.count == 0 {
		return 0
	}
	return tracker.totalTime / time.Duration(tracker.count)
}

// Stats returns a snapshot of every tracker, sorted by name.
func (p *Profiler) Stats() []Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Stats, 0, len(p.operationTimes))
	for _, t := range p.operationTimes {
		out = append(out, Stats{
			Name:    t.name,
			Count:   t.count,
			Total:   t.totalTime,
			Min:     t.minTime,
			Max:     t.maxTime,
			Average: t.totalTime / time.Duration(t.count),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Fields returns the stats as zap fields, one object per operation.
func (p *Profiler) Fields() []zap.Field {
	stats := p.Stats()
	fields := make([]zap.Field, len(stats))
	for i, s := range stats {
		fields[i] = zap.Object(s.Name, s)
	}
	return fields
}
