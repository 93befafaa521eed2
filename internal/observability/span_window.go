package observability

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Span health verdicts reported by /v1/perf/spans.
const (
	HealthOK       = "ok"
	HealthSlow     = "slow"
	HealthErroring = "erroring"
)

// SpanStats summarizes the recent samples of one span name.
type SpanStats struct {
	Span        string  `json:"span"`
	Samples     int     `json:"samples"`
	Errors      int     `json:"errors"`
	ErrorRate   float64 `json:"error_rate"`
	LastMS      float64 `json:"last_ms"`
	LastStatus  string  `json:"last_status"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
	Health      string  `json:"health"`
}

// Indicator is the share of recent turns that ended with one outcome.
type Indicator struct {
	Name  string  `json:"name"`
	Count int     `json:"count"`
	Rate  float64 `json:"rate"`
}

type SpanSnapshot struct {
	GeneratedAt time.Time   `json:"generated_at"`
	WindowSize  int         `json:"window_size"`
	Spans       []SpanStats `json:"spans"`
	Indicators  []Indicator `json:"indicators,omitempty"`
}

type spanSample struct {
	ms     float64
	failed bool
}

// window is a fixed-capacity ring that overwrites its oldest entry.
type window[T any] struct {
	items []T
	head  int
	size  int
}

func newWindow[T any](capacity int) *window[T] {
	return &window[T]{items: make([]T, capacity)}
}

func (w *window[T]) push(v T) {
	w.items[w.head] = v
	w.head = (w.head + 1) % len(w.items)
	if w.size < len(w.items) {
		w.size++
	}
}

func (w *window[T]) newest() T {
	return w.items[(w.head-1+len(w.items))%len(w.items)]
}

func (w *window[T]) each(fn func(T)) {
	start := (w.head - w.size + len(w.items)) % len(w.items)
	for i := 0; i < w.size; i++ {
		fn(w.items[(start+i)%len(w.items)])
	}
}

// spanWindow keeps the last samples per span name and the last turn
// outcomes, each bounded by the same capacity.
type spanWindow struct {
	mu       sync.Mutex
	capacity int
	spans    map[string]*window[spanSample]
	turns    *window[string]
}

func newSpanWindow(capacity int) *spanWindow {
	if capacity <= 0 {
		capacity = 256
	}
	return &spanWindow{
		capacity: capacity,
		spans:    make(map[string]*window[spanSample]),
		turns:    newWindow[string](capacity),
	}
}

func (w *spanWindow) Observe(span string, ms float64, failed bool) {
	if span == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	series, ok := w.spans[span]
	if !ok {
		series = newWindow[spanSample](w.capacity)
		w.spans[span] = series
	}
	series.push(spanSample{ms: ms, failed: failed})
}

func (w *spanWindow) ObserveTurn(outcome string) {
	if outcome == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns.push(outcome)
}

func (w *spanWindow) Snapshot() SpanSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	stats := make([]SpanStats, 0, len(w.spans))
	for name, series := range w.spans {
		if series.size > 0 {
			stats = append(stats, summarize(name, series))
		}
	}
	slices.SortFunc(stats, func(a, b SpanStats) int {
		if a.Span < b.Span {
			return -1
		}
		if a.Span > b.Span {
			return 1
		}
		return 0
	})

	return SpanSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.capacity,
		Spans:       stats,
		Indicators:  w.turnIndicators(),
	}
}

func summarize(name string, series *window[spanSample]) SpanStats {
	durations := make([]float64, 0, series.size)
	errs := 0
	series.each(func(s spanSample) {
		durations = append(durations, s.ms)
		if s.failed {
			errs++
		}
	})
	slices.Sort(durations)

	last := series.newest()
	st := SpanStats{
		Span:        name,
		Samples:     series.size,
		Errors:      errs,
		ErrorRate:   round2(float64(errs) / float64(series.size)),
		LastMS:      round2(last.ms),
		LastStatus:  "ok",
		P50MS:       round2(quantile(durations, 0.50)),
		P95MS:       round2(quantile(durations, 0.95)),
		TargetP95MS: spanTargetP95MS(name),
	}
	if last.failed {
		st.LastStatus = "error"
	}

	switch {
	case errs > 0:
		st.Health = HealthErroring
	case st.TargetP95MS > 0 && st.P95MS > st.TargetP95MS:
		st.Health = HealthSlow
	default:
		st.Health = HealthOK
	}
	return st
}

func (w *spanWindow) turnIndicators() []Indicator {
	if w.turns.size == 0 {
		return nil
	}
	counts := make(map[string]int)
	w.turns.each(func(outcome string) { counts[outcome]++ })

	out := make([]Indicator, 0, len(counts))
	for outcome, n := range counts {
		out = append(out, Indicator{
			Name:  "turn_" + outcome,
			Count: n,
			Rate:  round2(float64(n) / float64(w.turns.size)),
		})
	}
	slices.SortFunc(out, func(a, b Indicator) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out
}

// quantile interpolates linearly between the closest ranks of sorted.
func quantile(sorted []float64, q float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case q <= 0:
		return sorted[0]
	case q >= 1:
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo+1 >= len(sorted) {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[lo+1]-sorted[lo])*(pos-float64(lo))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func spanTargetP95MS(span string) float64 {
	switch span {
	case SpanWebhook:
		return 12000
	case SpanModel:
		return 10000
	case SpanSend:
		return 2000
	case "memory_remember", "memory_forget":
		return 50
	default:
		return 0
	}
}
