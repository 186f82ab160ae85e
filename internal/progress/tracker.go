// Package progress implements the ProgressTracker of spec §4.C: per-
// (session_id, step_id) progress with rate/ETA computation, pause/resume
// accounting, and best-effort subscriber fan-out.
//
// Grounded on original_source/migration_assistant/monitoring/progress_tracker.py:
// the tracking-key scheme (`session_id:step_id` or `session_id:session`),
// the bounded rate-history ring buffer (default 100, ETA averaged over the
// last 10), and the pause/resume cumulative-paused-time bookkeeping all
// carry over one-for-one; Python's asyncio-scoped callback list becomes a
// Go slice of func(Event) guarded by the tracker's own mutex, invoked
// synchronously in the emitter's goroutine per spec §9 ("Subscribers are
// invoked synchronously in the emitter's scope").
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/artemis/migrationctl/internal/model"
)

// EventType names a ProgressTracker lifecycle transition.
type EventType string

const (
	EventStarted   EventType = "started"
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventPaused    EventType = "paused"
	EventResumed   EventType = "resumed"
	EventCancelled EventType = "cancelled"
)

// Event is the payload delivered to every subscriber (spec §4.C).
type Event struct {
	Type      EventType
	SessionID string
	StepID    string
	Timestamp time.Time
	Current   int64
	Total     int64
	Unit      model.ProgressUnit
	Rate      *float64
	ETA       *float64
	Message   string
	Metadata  map[string]interface{}
}

// Subscriber receives progress events; a panic or error it raises must
// never abort the tracker (spec §4.C).
type Subscriber func(Event)

type trackState struct {
	total       int64
	current     int64
	unit        model.ProgressUnit
	startedAt   time.Time
	lastUpdate  time.Time
	lastCurrent int64
	paused      bool
	pausedAt    time.Time
	pausedTotal time.Duration
	rateHistory []float64
}

const defaultMaxHistory = 100
const etaSampleWindow = 10

// Tracker is the ProgressTracker component.
type Tracker struct {
	mu          sync.Mutex
	maxHistory  int
	sessions    map[string]*trackState
	subscribers []Subscriber
}

// New returns an empty Tracker with the default 100-sample rate history.
func New() *Tracker {
	return &Tracker{maxHistory: defaultMaxHistory, sessions: make(map[string]*trackState)}
}

func key(sessionID, stepID string) string {
	if stepID == "" {
		stepID = "session"
	}
	return sessionID + ":" + stepID
}

// Subscribe registers a subscriber for every future event.
func (t *Tracker) Subscribe(sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, sub)
}

// Start begins tracking (session_id, step_id) at total/unit.
func (t *Tracker) Start(sessionID, stepID string, total int64, unit model.ProgressUnit, message string) {
	k := key(sessionID, stepID)
	now := time.Now()

	t.mu.Lock()
	t.sessions[k] = &trackState{
		total:      total,
		unit:       unit,
		startedAt:  now,
		lastUpdate: now,
	}
	t.mu.Unlock()

	t.emit(Event{Type: EventStarted, SessionID: sessionID, StepID: stepID, Timestamp: now, Total: total, Unit: unit, Message: message})
}

// Update advances current for (session_id, step_id). current > total is
// rejected (spec §9's open question, resolved in SPEC_FULL.md as
// reject-don't-raise) so already-emitted percentage values stay valid.
// Updates to a paused tracker are silently ignored.
func (t *Tracker) Update(sessionID, stepID string, current int64, newTotal *int64, message string, metadata map[string]interface{}) error {
	k := key(sessionID, stepID)
	now := time.Now()

	t.mu.Lock()
	st, ok := t.sessions[k]
	if !ok {
		st = &trackState{startedAt: now, lastUpdate: now}
		t.sessions[k] = st
	}
	if st.paused {
		t.mu.Unlock()
		return nil
	}

	total := st.total
	if newTotal != nil {
		total = *newTotal
	}
	if current > total {
		t.mu.Unlock()
		return &migerr.InvalidStateError{Message: fmt.Sprintf("progress update current=%d exceeds total=%d", current, total)}
	}

	var rate *float64
	dt := now.Sub(st.lastUpdate).Seconds()
	if dt > 0 {
		r := float64(current-st.lastCurrent) / dt
		st.rateHistory = append(st.rateHistory, r)
		if len(st.rateHistory) > t.effectiveMaxHistory() {
			st.rateHistory = st.rateHistory[len(st.rateHistory)-t.effectiveMaxHistory():]
		}
		rate = &r
	}

	st.total = total
	st.current = current
	st.lastCurrent = current
	st.lastUpdate = now

	eta := computeETA(st)
	t.mu.Unlock()

	t.emit(Event{
		Type: EventProgress, SessionID: sessionID, StepID: stepID, Timestamp: now,
		Current: current, Total: total, Unit: st.unit, Rate: rate, ETA: eta,
		Message: message, Metadata: metadata,
	})
	return nil
}

func (t *Tracker) effectiveMaxHistory() int {
	if t.maxHistory <= 0 {
		return defaultMaxHistory
	}
	return t.maxHistory
}

func computeETA(st *trackState) *float64 {
	if len(st.rateHistory) == 0 || st.current >= st.total {
		return nil
	}
	n := etaSampleWindow
	if n > len(st.rateHistory) {
		n = len(st.rateHistory)
	}
	sample := st.rateHistory[len(st.rateHistory)-n:]
	var sum float64
	for _, r := range sample {
		sum += r
	}
	avg := sum / float64(len(sample))
	if avg <= 0 {
		return nil
	}
	eta := float64(st.total-st.current) / avg
	return &eta
}

// Complete sets current := total and emits "completed".
func (t *Tracker) Complete(sessionID, stepID, message string) {
	k := key(sessionID, stepID)
	now := time.Now()

	t.mu.Lock()
	st, ok := t.sessions[k]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.current = st.total
	total, current, unit := st.total, st.current, st.unit
	t.mu.Unlock()

	t.emit(Event{Type: EventCompleted, SessionID: sessionID, StepID: stepID, Timestamp: now, Current: current, Total: total, Unit: unit, Message: message})
}

// Fail emits "failed" without mutating current/total.
func (t *Tracker) Fail(sessionID, stepID, message string, errMetadata map[string]interface{}) {
	k := key(sessionID, stepID)
	now := time.Now()

	t.mu.Lock()
	st, ok := t.sessions[k]
	t.mu.Unlock()
	if !ok {
		st = &trackState{}
	}

	t.emit(Event{Type: EventFailed, SessionID: sessionID, StepID: stepID, Timestamp: now, Current: st.current, Total: st.total, Unit: st.unit, Message: message, Metadata: errMetadata})
}

// Pause marks a tracker paused; subsequent Update calls are ignored and no
// rate samples are recorded until Resume.
func (t *Tracker) Pause(sessionID, stepID string) {
	k := key(sessionID, stepID)
	now := time.Now()

	t.mu.Lock()
	st, ok := t.sessions[k]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.paused = true
	st.pausedAt = now
	total, current, unit := st.total, st.current, st.unit
	t.mu.Unlock()

	t.emit(Event{Type: EventPaused, SessionID: sessionID, StepID: stepID, Timestamp: now, Current: current, Total: total, Unit: unit})
}

// Resume clears the paused flag, folding the pause duration into the
// cumulative paused-time excluded from elapsed-time reporting.
func (t *Tracker) Resume(sessionID, stepID string) {
	k := key(sessionID, stepID)
	now := time.Now()

	t.mu.Lock()
	st, ok := t.sessions[k]
	if !ok {
		t.mu.Unlock()
		return
	}
	if st.paused {
		st.pausedTotal += now.Sub(st.pausedAt)
		st.paused = false
		st.lastUpdate = now
	}
	total, current, unit := st.total, st.current, st.unit
	t.mu.Unlock()

	t.emit(Event{Type: EventResumed, SessionID: sessionID, StepID: stepID, Timestamp: now, Current: current, Total: total, Unit: unit})
}

// Cancel removes all tracking state for the key, then emits "cancelled".
func (t *Tracker) Cancel(sessionID, stepID, message string) {
	k := key(sessionID, stepID)
	now := time.Now()

	t.mu.Lock()
	st, ok := t.sessions[k]
	delete(t.sessions, k)
	t.mu.Unlock()

	var total, current int64
	var unit model.ProgressUnit
	if ok {
		total, current, unit = st.total, st.current, st.unit
	}
	t.emit(Event{Type: EventCancelled, SessionID: sessionID, StepID: stepID, Timestamp: now, Current: current, Total: total, Unit: unit, Message: message})
}

// Metrics is the derived view spec §4.C's get_metrics exposes.
type Metrics struct {
	ElapsedSeconds      float64
	CompletionPercent   float64
	CurrentRate         float64
	AverageRate         float64
	ETASeconds          *float64
	Current             int64
	Total               int64
}

// GetMetrics returns the derived metrics for (session_id, step_id), or
// false if nothing is tracked under that key.
func (t *Tracker) GetMetrics(sessionID, stepID string) (Metrics, bool) {
	k := key(sessionID, stepID)
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.sessions[k]
	if !ok {
		return Metrics{}, false
	}

	elapsed := now.Sub(st.startedAt) - st.pausedTotal
	if st.paused {
		elapsed -= now.Sub(st.pausedAt)
	}
	if elapsed < 0 {
		elapsed = 0
	}

	var pct float64
	if st.total > 0 {
		pct = 100 * float64(st.current) / float64(st.total)
	}

	var current, avg float64
	if n := len(st.rateHistory); n > 0 {
		current = st.rateHistory[n-1]
		w := etaSampleWindow
		if w > n {
			w = n
		}
		sample := st.rateHistory[n-w:]
		var sum float64
		for _, r := range sample {
			sum += r
		}
		avg = sum / float64(len(sample))
	}

	return Metrics{
		ElapsedSeconds:    elapsed.Seconds(),
		CompletionPercent: pct,
		CurrentRate:       current,
		AverageRate:       avg,
		ETASeconds:        computeETA(st),
		Current:           st.current,
		Total:             st.total,
	}, true
}

// CleanupSession removes every key belonging to a session (every step plus
// the bare session-level key), called after a session reaches a terminal
// state.
func (t *Tracker) CleanupSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := sessionID + ":"
	for k := range t.sessions {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(t.sessions, k)
		}
	}
}

// emit delivers an event to every subscriber; a subscriber's own failure
// (panic) must not abort the tracker, matching the Python original's
// try/except around every callback invocation.
func (t *Tracker) emit(e Event) {
	t.mu.Lock()
	subs := append([]Subscriber(nil), t.subscribers...)
	t.mu.Unlock()

	for _, sub := range subs {
		safeInvoke(sub, e)
	}
}

func safeInvoke(sub Subscriber, e Event) {
	defer func() { recover() }()
	sub(e)
}
