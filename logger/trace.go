package logger

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TraceContext represents a traced operation, generally one ParallelComm
// phase (resolve_shared_ents, exchange_ghost_cells, exchange_tags) on one
// rank.
type TraceContext struct {
	TraceID     string
	Operation   string
	StartTime   time.Time
	GoroutineID int
	mu          sync.Mutex
	spans       []TraceSpan
	isActive    bool
}

// TraceSpan represents a named interval within a trace, such as a single
// round of ghost-layer expansion or a single tuple-routing exchange.
type TraceSpan struct {
	Name        string
	StartTime   time.Time
	EndTime     time.Time
	GoroutineID int
	Attributes  map[string]string
}

var (
	activeTraces   = make(map[string]*TraceContext)
	activeTracesMu sync.RWMutex

	traceCounter uint64

	tracingEnabled atomic.Bool
)

// EnableTracing turns on phase tracing for ParallelComm operations.
func EnableTracing(enabled bool) {
	tracingEnabled.Store(enabled)
	if enabled {
		Info("parallel phase tracing enabled")
	} else {
		Info("parallel phase tracing disabled")
	}
}

// IsTracingEnabled returns whether tracing is enabled.
func IsTracingEnabled() bool {
	return tracingEnabled.Load()
}

// StartTrace begins a new trace context for a phase. rankInfo identifies
// the local rank and peer set (e.g. "rank=2 peers=[0,1,3]").
func StartTrace(operation string, rankInfo string) *TraceContext {
	if !IsTracingEnabled() {
		return nil
	}

	traceID := fmt.Sprintf("phase_%d_%d", time.Now().UnixNano(), atomic.AddUint64(&traceCounter, 1))

	ctx := &TraceContext{
		TraceID:     traceID,
		Operation:   operation,
		StartTime:   time.Now(),
		GoroutineID: getGoroutineID(),
		spans:       make([]TraceSpan, 0),
		isActive:    true,
	}

	activeTracesMu.Lock()
	activeTraces[traceID] = ctx
	activeTracesMu.Unlock()

	Trace("[PHASE_START] ID=%s Op=%s Rank=%s Goroutine=%d",
		traceID, operation, rankInfo, ctx.GoroutineID)

	return ctx
}

// StartSpan begins a new span within a trace, e.g. a single ghost-layer
// expansion round or a single tuple-routing round trip.
func (tc *TraceContext) StartSpan(name string, attributes ...string) {
	if tc == nil || !tc.isActive {
		return
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	span := TraceSpan{
		Name:        name,
		StartTime:   time.Now(),
		GoroutineID: getGoroutineID(),
		Attributes:  make(map[string]string),
	}

	for _, attr := range attributes {
		parts := strings.SplitN(attr, "=", 2)
		if len(parts) == 2 {
			span.Attributes[parts[0]] = parts[1]
		}
	}

	tc.spans = append(tc.spans, span)

	elapsed := time.Since(tc.StartTime)
	Trace("[SPAN_START] Trace=%s Span=%s Elapsed=%v Goroutine=%d Attrs=%v",
		tc.TraceID, name, elapsed, span.GoroutineID, span.Attributes)
}

// EndSpan completes the most recent open span with the given name.
func (tc *TraceContext) EndSpan(name string) {
	if tc == nil || !tc.isActive {
		return
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	for i := len(tc.spans) - 1; i >= 0; i-- {
		if tc.spans[i].Name == name && tc.spans[i].EndTime.IsZero() {
			tc.spans[i].EndTime = time.Now()
			duration := tc.spans[i].EndTime.Sub(tc.spans[i].StartTime)
			elapsed := time.Since(tc.StartTime)

			Trace("[SPAN_END] Trace=%s Span=%s Duration=%v Elapsed=%v Goroutine=%d",
				tc.TraceID, name, duration, elapsed, getGoroutineID())
			break
		}
	}
}

// EndTrace completes the phase trace and warns about any span left open,
// which usually indicates a rank that never returned from a collective.
func (tc *TraceContext) EndTrace() {
	if tc == nil || !tc.isActive {
		return
	}

	tc.mu.Lock()
	tc.isActive = false
	duration := time.Since(tc.StartTime)
	tc.mu.Unlock()

	activeTracesMu.Lock()
	delete(activeTraces, tc.TraceID)
	activeTracesMu.Unlock()

	tc.mu.Lock()
	defer tc.mu.Unlock()

	Trace("[PHASE_END] ID=%s Op=%s Duration=%v Spans=%d",
		tc.TraceID, tc.Operation, duration, len(tc.spans))

	for _, span := range tc.spans {
		if span.EndTime.IsZero() {
			Warn("[UNCLOSED_SPAN] Trace=%s Span=%s Started=%v Goroutine=%d",
				tc.TraceID, span.Name, span.StartTime, span.GoroutineID)
		}
	}
}

// LogLockOperation logs sharded-lock acquire/release for deadlock
// diagnosis across AcquireMany/ReleaseMany calls.
func LogLockOperation(traceID, lockType, lockName, operation string) {
	if !IsTracingEnabled() {
		return
	}

	goroutineID := getGoroutineID()

	buf := make([]byte, 1024)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	frames := strings.Split(stack, "\n")
	caller := "unknown"
	if len(frames) > 5 {
		for i := 4; i < len(frames); i += 2 {
			if !strings.Contains(frames[i], "logger.LogLockOperation") &&
				!strings.Contains(frames[i], "runtime.") {
				caller = strings.TrimSpace(frames[i])
				break
			}
		}
	}

	Trace("[LOCK_%s] Type=%s Name=%s Goroutine=%d Caller=%s TraceID=%s",
		strings.ToUpper(operation), lockType, lockName, goroutineID, caller, traceID)
}

// GetActiveTraces returns currently active phase traces, for a diagnostics
// endpoint to report ranks that appear to be stuck mid-collective.
func GetActiveTraces() []string {
	activeTracesMu.RLock()
	defer activeTracesMu.RUnlock()

	traces := make([]string, 0, len(activeTraces))
	for traceID, ctx := range activeTraces {
		duration := time.Since(ctx.StartTime)
		traces = append(traces, fmt.Sprintf("%s: %s (duration: %v)", traceID, ctx.Operation, duration))
	}
	return traces
}
