// Package research tracks research tasks that run in the background
// while a turn continues with other work. A task's result is held until
// it can be injected into the conversation at the top of a turn; an
// optional notification channel lets a UI surface completions as they
// happen rather than polling.
package research

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ID identifies one research task.
type ID string

// Status is a task's current state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Task is one tracked research task.
type Task struct {
	ID        ID
	Query     string
	Status    Status
	Result    string
	StartedAt time.Time
	Injected  bool
}

// Elapsed returns how long the task has been running, measured from
// StartedAt to now.
func (t Task) Elapsed() time.Duration {
	return time.Since(t.StartedAt)
}

// ElapsedDisplay renders Elapsed in a short human-readable form, e.g.
// "45s" or "3m 20s".
func (t Task) ElapsedDisplay() string {
	secs := int64(t.Elapsed().Seconds())
	if secs < 60 {
		return fmt.Sprintf("%ds", secs)
	}
	return fmt.Sprintf("%dm %ds", secs/60, secs%60)
}

// CompletionNotification is sent (success or failure) when a task's
// terminal status is set.
type CompletionNotification struct {
	ID     ID
	Status Status
	Query  string
}

// notificationBuffer is the per-subscriber channel capacity, standing in
// for the bounded broadcast channel the manager was modeled on — enough
// slack for several concurrent research tasks to complete between one UI
// poll and the next without blocking the completing task.
const notificationBuffer = 16

var idCounter atomic.Uint32

// generateID returns a unique, sortable-by-arrival task id shaped
// research_<hex millis>_<hex counter>.
func generateID() ID {
	millis := time.Now().UnixMilli()
	counter := idCounter.Add(1)
	return ID(fmt.Sprintf("research_%x_%08x", millis, counter))
}

// Manager is a thread-safe registry of research tasks.
type Manager struct {
	mu    sync.Mutex
	tasks map[ID]*Task

	subMu sync.Mutex
	subs  []chan CompletionNotification
}

// NewManager returns an empty manager with no notification subscribers.
func NewManager() *Manager {
	return &Manager{tasks: make(map[ID]*Task)}
}

// Subscribe returns a channel that receives a CompletionNotification
// whenever any task completes or fails. The channel is buffered; a
// subscriber that falls behind the buffer silently misses the oldest
// notifications rather than stalling the task that completed (mirroring
// a lossy broadcast channel, not a guaranteed-delivery queue). Callers
// that need every notification should drain promptly.
func (m *Manager) Subscribe() <-chan CompletionNotification {
	ch := make(chan CompletionNotification, notificationBuffer)
	m.subMu.Lock()
	m.subs = append(m.subs, ch)
	m.subMu.Unlock()
	return ch
}

func (m *Manager) notify(n CompletionNotification) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- n:
		default:
			// subscriber's buffer is full; drop rather than block the
			// task that just completed.
		}
	}
}

// Register starts tracking a new pending research task and returns its
// id.
func (m *Manager) Register(query string) ID {
	id := generateID()
	m.mu.Lock()
	m.tasks[id] = &Task{
		ID:        id,
		Query:     query,
		Status:    StatusPending,
		StartedAt: time.Now(),
	}
	m.mu.Unlock()
	return id
}

// Complete marks a task successful with its result text. A call for an
// unknown id is a no-op.
func (m *Manager) Complete(id ID, result string) {
	m.setTerminal(id, StatusComplete, result)
}

// Fail marks a task failed with an error message. A call for an unknown
// id is a no-op.
func (m *Manager) Fail(id ID, errMsg string) {
	m.setTerminal(id, StatusFailed, errMsg)
}

func (m *Manager) setTerminal(id ID, status Status, result string) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		t.Status = status
		t.Result = result
	}
	var query string
	if ok {
		query = t.Query
	}
	m.mu.Unlock()

	if ok {
		m.notify(CompletionNotification{ID: id, Status: status, Query: query})
	}
}

// Get returns a copy of one task, or false if id is unknown.
func (m *Manager) Get(id ID) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// ListPending returns every task not yet injected, regardless of status.
func (m *Manager) ListPending() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if !t.Injected {
			out = append(out, *t)
		}
	}
	return out
}

// ListAll returns every tracked task, including injected ones.
func (m *Manager) ListAll() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, *t)
	}
	return out
}

// PendingCount returns how many tasks are still in progress.
func (m *Manager) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if t.Status == StatusPending {
			n++
		}
	}
	return n
}

// ReadyCount returns how many tasks have a terminal status but have not
// yet been taken for injection.
func (m *Manager) ReadyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.Injected && t.Status != StatusPending {
			n++
		}
	}
	return n
}

// TakeCompleted returns every task with a terminal status that hasn't
// been injected yet, marking them injected so a later call never returns
// them again.
func (m *Manager) TakeCompleted() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, t := range m.tasks {
		if !t.Injected && t.Status != StatusPending {
			t.Injected = true
			out = append(out, *t)
		}
	}
	return out
}

// Remove stops tracking a task entirely, returning it if it existed.
func (m *Manager) Remove(id ID) (Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	delete(m.tasks, id)
	return *t, true
}

// CleanupInjected drops every task already marked injected, freeing
// memory for a long-running session with many completed research tasks.
func (m *Manager) CleanupInjected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if t.Injected {
			delete(m.tasks, id)
		}
	}
}

// HasTasks reports whether the manager is tracking anything at all.
func (m *Manager) HasTasks() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks) > 0
}

// FormatStatusSummary renders a short status line for display, e.g.
// "🔍 2 researching | 📋 1 ready", or "" if there is nothing to report.
func (m *Manager) FormatStatusSummary() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, ready := 0, 0
	for _, t := range m.tasks {
		switch {
		case t.Status == StatusPending:
			pending++
		case !t.Injected:
			ready++
		}
	}
	if pending == 0 && ready == 0 {
		return ""
	}

	var parts []string
	if pending > 0 {
		parts = append(parts, fmt.Sprintf("🔍 %d researching", pending))
	}
	if ready > 0 {
		parts = append(parts, fmt.Sprintf("📋 %d ready", ready))
	}
	return strings.Join(parts, " | ")
}
