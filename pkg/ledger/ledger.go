// Package ledger keeps adaptive success statistics per backend, per
// backend+category, and per backend+parameter-value, weighted by an
// exponential moving average so recent outcomes dominate. The in-memory state
// is snapshotted to disk with atomic replace semantics.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sixshoes/ai-music-assistant-sub000/pkg/command"
)

// Entry is one scoped success statistic.
type Entry struct {
	SuccessRate float64   `json:"success_rate"`
	SampleCount int       `json:"sample_count"`
	LastUpdated time.Time `json:"last_updated"`
}

type outcome struct {
	backendID string
	success   bool
}

// Options configures a Ledger.
type Options struct {
	// Path is the snapshot file. Empty disables persistence.
	Path string
	// EMAWeight is the weight of the newest outcome. The default 0.2 makes
	// the last ~10 outcomes carry ~89% of the mass.
	EMAWeight float64
	// MinSamples is the sample count at which a tier is fully trusted.
	MinSamples int
	// RecencyWindow is the number of recent outcomes kept for the scorer's
	// recency bonus.
	RecencyWindow int
	// FlushDebounce is how long to wait after a write before snapshotting.
	// Zero means flush only on Flush/Close.
	FlushDebounce time.Duration
	Logger        zerolog.Logger
}

// Ledger is safe for concurrent use. Recording an outcome never blocks on
// IO; persistence happens on a debounced background flusher.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]Entry
	recent  []outcome
	dirty   bool

	path       string
	emaWeight  float64
	minSamples int
	window     int
	logger     zerolog.Logger

	writeCh chan struct{}
	done    chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// Open creates a ledger, loading the last durable snapshot when one exists.
func Open(opts Options) (*Ledger, error) {
	if opts.EMAWeight <= 0 || opts.EMAWeight >= 1 {
		opts.EMAWeight = 0.2
	}
	if opts.MinSamples <= 0 {
		opts.MinSamples = 5
	}
	if opts.RecencyWindow <= 0 {
		opts.RecencyWindow = 10
	}

	l := &Ledger{
		entries:    make(map[string]Entry),
		path:       opts.Path,
		emaWeight:  opts.EMAWeight,
		minSamples: opts.MinSamples,
		window:     opts.RecencyWindow,
		logger:     opts.Logger,
		writeCh:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	if l.path != "" {
		entries, err := loadSnapshot(l.path)
		if err != nil {
			return nil, err
		}
		if entries != nil {
			l.entries = entries
		}
	}

	if l.path != "" && opts.FlushDebounce > 0 {
		l.wg.Add(1)
		go l.flusher(opts.FlushDebounce)
	}
	return l, nil
}

func globalKey(backendID string) string { return backendID }

func categoryKey(backendID string, cat command.Category) string {
	return backendID + "|" + string(cat)
}

func paramScopedKey(backendID string, cat command.Category, pair string) string {
	return backendID + "|" + string(cat) + "|" + pair
}

// RecordOutcome folds one success/failure into all three tiers.
func (l *Ledger) RecordOutcome(backendID string, cat command.Category, params map[string]any, success bool) {
	now := time.Now().UTC()

	l.mu.Lock()
	l.update(globalKey(backendID), success, now)
	l.update(categoryKey(backendID, cat), success, now)
	for k, v := range params {
		l.update(paramScopedKey(backendID, cat, command.ParamKey(k, v)), success, now)
	}

	l.recent = append(l.recent, outcome{backendID: backendID, success: success})
	if len(l.recent) > l.window {
		l.recent = l.recent[len(l.recent)-l.window:]
	}
	l.dirty = true
	l.mu.Unlock()

	select {
	case l.writeCh <- struct{}{}:
	default:
	}
}

func (l *Ledger) update(key string, success bool, now time.Time) {
	value := 0.0
	if success {
		value = 1.0
	}
	e := l.entries[key]
	if e.SampleCount == 0 {
		e.SuccessRate = value
	} else {
		e.SuccessRate = e.SuccessRate*(1-l.emaWeight) + value*l.emaWeight
	}
	e.SampleCount++
	e.LastUpdated = now
	l.entries[key] = e
}

// SuccessRate returns the confidence-weighted blend across tiers for the
// backend: the most specific tier with enough samples dominates, deferring to
// coarser tiers when data is sparse. ok is false when no tier has data.
func (l *Ledger) SuccessRate(backendID string, cat command.Category, params map[string]any) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tiers := make([]Entry, 0, 3)
	if e, ok := l.bestParamEntry(backendID, cat, params); ok {
		tiers = append(tiers, e)
	}
	if e, ok := l.entries[categoryKey(backendID, cat)]; ok {
		tiers = append(tiers, e)
	}
	if e, ok := l.entries[globalKey(backendID)]; ok {
		tiers = append(tiers, e)
	}
	if len(tiers) == 0 {
		return 0, false
	}

	remaining := 1.0
	weighted := 0.0
	for _, e := range tiers {
		confidence := float64(e.SampleCount) / float64(l.minSamples)
		if confidence > 1 {
			confidence = 1
		}
		share := confidence * remaining
		weighted += share * e.SuccessRate
		remaining -= share
		if remaining <= 0 {
			break
		}
	}
	covered := 1 - remaining
	if covered <= 0 {
		return 0, false
	}
	return weighted / covered, true
}

// ParameterAffinity returns the success rate of the best-sampled
// parameter-scoped tier only. ok is false when no parameter tier has data.
func (l *Ledger) ParameterAffinity(backendID string, cat command.Category, params map[string]any) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.bestParamEntry(backendID, cat, params)
	if !ok {
		return 0, false
	}
	return e.SuccessRate, true
}

// bestParamEntry picks the parameter-scoped entry with the most samples.
// Pairs are visited in sorted order so equal sample counts resolve to the
// lexically smallest pair, keeping lookups deterministic. Caller holds l.mu.
func (l *Ledger) bestParamEntry(backendID string, cat command.Category, params map[string]any) (Entry, bool) {
	pairs := make([]string, 0, len(params))
	for k, v := range params {
		pairs = append(pairs, command.ParamKey(k, v))
	}
	sort.Strings(pairs)

	var best Entry
	found := false
	for _, pair := range pairs {
		e, ok := l.entries[paramScopedKey(backendID, cat, pair)]
		if !ok {
			continue
		}
		if !found || e.SampleCount > best.SampleCount {
			best = e
			found = true
		}
	}
	return best, found
}

// RecentShare returns the fraction of the recency window occupied by
// successful outcomes of the backend.
func (l *Ledger) RecentShare(backendID string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.recent) == 0 {
		return 0
	}
	hits := 0
	for _, o := range l.recent {
		if o.backendID == backendID && o.success {
			hits++
		}
	}
	return float64(hits) / float64(l.window)
}

// Entry returns the raw entry for a scope key, primarily for inspection.
func (l *Ledger) Entry(key string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return e, ok
}

// Keys returns all scope keys sorted lexically.
func (l *Ledger) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]string, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DescribeKey splits a scope key back into its parts for display.
func DescribeKey(key string) (backendID, category, param string) {
	parts := strings.SplitN(key, "|", 3)
	backendID = parts[0]
	if len(parts) > 1 {
		category = parts[1]
	}
	if len(parts) > 2 {
		param = parts[2]
	}
	return backendID, category, param
}

func (l *Ledger) flusher(debounce time.Duration) {
	defer l.wg.Done()
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-l.done:
			return
		case <-l.writeCh:
			timer.Reset(debounce)
		case <-timer.C:
			if err := l.Flush(); err != nil {
				l.logger.Error().Err(err).Msg("ledger snapshot failed; will retry on next write")
			}
		}
	}
}

// Close stops the background flusher and writes a final snapshot.
func (l *Ledger) Close() error {
	l.stopped.Do(func() { close(l.done) })
	l.wg.Wait()
	return l.Flush()
}

// PersistenceError reports a failed snapshot write. Outcome recording is
// unaffected; the snapshot is retried on the next write.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger snapshot %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
