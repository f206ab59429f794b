// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for aochat. It renders the text exposition format itself rather
// than pulling in prometheus/client_golang.
//
// # Counter naming convention
//
// Every counter uses a tab-separated string as its label key so that a single
// sync.Map can hold all label combinations without additional map nesting.
//
//	Sends                  →  key = "outcome"
//	Confirmed              →  key = "source"
//	Polls                  →  key = "outcome"
//	TransportErrors        →  key = "op"
//	Received / Evicted / LikelyExecuted / Duplicates  →  key = "" (no labels)
//	HTTPReqs               →  key = "method\tpath\tstatus"
//	HTTPDurMs / HTTPDurCnt →  key = "method\tpath"
//
// # Prometheus text output
//
// Calling Registry.Handler() returns an http.Handler that renders all counters
// in the Prometheus exposition format (text/plain; version=0.0.4).
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Label values used by the engine.
const (
	SendAccepted = "accepted"
	SendRejected = "rejected"
	SendInvalid  = "invalid"

	PollSkippedInflight = "skipped_inflight"
	PollUnchanged       = "unchanged"
	PollFetched         = "fetched"
	PollError           = "error"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Value returns the current count for key.
func (lc *labelCounter) Value(key string) int64 {
	v, ok := lc.vals.Load(key)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// Each calls fn for every key/value pair in key order.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	var keys []string
	lc.vals.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	for _, k := range keys {
		fn(k, lc.Value(k))
	}
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all aochat metrics. The zero value is ready to use.
type Registry struct {
	// Engine counters.
	Sends           labelCounter // key = outcome
	Confirmed       labelCounter // key = source
	Received        labelCounter
	Duplicates      labelCounter
	Evicted         labelCounter
	LikelyExecuted  labelCounter
	Polls           labelCounter // key = outcome
	TransportErrors labelCounter // key = op

	// Local HTTP surface counters.
	HTTPReqs   labelCounter
	HTTPDurMs  labelCounter // sum of request durations in milliseconds
	HTTPDurCnt labelCounter // number of requests (same key as HTTPDurMs, for avg)
}

// family describes one rendered metric family.
type family struct {
	name   string
	help   string
	c      *labelCounter
	labels []string // label names, matched positionally to the tab-split key
}

func (r *Registry) families() []family {
	return []family{
		{"aochat_sends_total", "Optimistic sends by outcome", &r.Sends, []string{"outcome"}},
		{"aochat_confirmed_total", "Own messages confirmed, by confirmation source", &r.Confirmed, []string{"source"}},
		{"aochat_received_total", "Messages from other senders added to the view", &r.Received, nil},
		{"aochat_duplicates_dropped_total", "Remote rows dropped as duplicates of displayed messages", &r.Duplicates, nil},
		{"aochat_evicted_total", "Messages evicted by the display cap", &r.Evicted, nil},
		{"aochat_likely_executed_total", "Pending sends whose origin slot has been passed", &r.LikelyExecuted, nil},
		{"aochat_polls_total", "Poll ticks by outcome", &r.Polls, []string{"outcome"}},
		{"aochat_transport_errors_total", "Failed remote calls by operation", &r.TransportErrors, []string{"op"}},
		{"aochat_http_requests_total", "Total HTTP requests by method, path, and status code", &r.HTTPReqs, []string{"method", "path", "status"}},
		{"aochat_http_request_duration_milliseconds_sum", "Sum of HTTP request durations in milliseconds", &r.HTTPDurMs, []string{"method", "path"}},
		{"aochat_http_request_duration_milliseconds_count", "Count of observed HTTP request durations", &r.HTTPDurCnt, []string{"method", "path"}},
	}
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var b strings.Builder
		for _, f := range r.families() {
			writeFamily(&b, f)
		}
		fmt.Fprint(w, b.String())
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeFamily writes a single Prometheus metric family to b. Families with no
// observations are omitted entirely.
func writeFamily(b *strings.Builder, f family) {
	var lines []string
	f.c.Each(func(key string, val int64) {
		lines = append(lines, fmt.Sprintf("%s%s %d\n", f.name, renderLabels(f.labels, key), val))
	})
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", f.name, f.help)
	fmt.Fprintf(b, "# TYPE %s counter\n", f.name)
	for _, l := range lines {
		b.WriteString(l)
	}
}

// renderLabels pairs names with the tab-separated parts of key.
func renderLabels(names []string, key string) string {
	if len(names) == 0 {
		return ""
	}
	parts := strings.SplitN(key, "\t", len(names))
	pairs := make([]string, len(names))
	for i, n := range names {
		v := ""
		if i < len(parts) {
			v = parts[i]
		}
		pairs[i] = fmt.Sprintf("%s=%q", n, v)
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// ─── Convenience key builders ─────────────────────────────────────────────────

// HTTPKey builds the label key used by HTTPReqs.
func HTTPKey(method, path, status string) string {
	return method + "\t" + path + "\t" + status
}

// HTTPDurKey builds the label key used by HTTPDurMs / HTTPDurCnt.
func HTTPDurKey(method, path string) string {
	return method + "\t" + path
}
