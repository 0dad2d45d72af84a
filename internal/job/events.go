package job

import (
	"log/slog"
	"sync"

	"github.com/okuzmin/vectorize-api/internal/domain"
)

// Event is one job lifecycle notification carrying a snapshot of the job at
// the moment of the change.
type Event struct {
	Job *domain.Job
}

// Observer receives job events. Handlers run synchronously on the job's
// execution goroutine, so per-job ordering of progress notifications is
// preserved; slow observers slow down that job only.
type Observer interface {
	HandleJobEvent(event Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(event Event)

// HandleJobEvent calls the wrapped function.
func (f ObserverFunc) HandleJobEvent(event Event) { f(event) }

// Notifier dispatches job events to registered observers. Publishes for the
// same job are already serialized by the orchestrator; the notifier only
// fans out.
type Notifier struct {
	mu        sync.RWMutex
	observers []Observer
	logger    *slog.Logger
}

// NewNotifier creates an empty notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger.With("component", "job_notifier")}
}

// Register adds an observer to receive all job events.
func (n *Notifier) Register(obs Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, obs)
	n.logger.Debug("registered job observer", "observer_count", len(n.observers))
}

// Publish delivers the event to every observer in registration order.
func (n *Notifier) Publish(event Event) {
	n.mu.RLock()
	observers := make([]Observer, len(n.observers))
	copy(observers, n.observers)
	n.mu.RUnlock()

	for _, obs := range observers {
		obs.HandleJobEvent(event)
	}
}
