package audit

import (
	"context"
	"sync"
	"time"
)

// queueSize bounds the pending entry queue. Entries beyond it are dropped.
const queueSize = 256

const writeTimeout = 5 * time.Second

// Logger is the logging surface the recorder needs.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder queues entries and writes them serially to a Repository.
// Record never blocks.
type Recorder struct {
	repo   Repository
	logger Logger
	queue  chan *Entry

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewRecorder creates a recorder writing to repo. Call Start before use.
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: noopLogger{},
		queue:  make(chan *Entry, queueSize),
		done:   make(chan struct{}),
	}
}

// SetLogger sets the logger for dropped entries and write failures.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Record enqueues an entry. It is dropped with a warning if the queue is full.
func (r *Recorder) Record(action, entityType, entityID, source string, details map[string]any) {
	if r == nil {
		return
	}
	e := &Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Source:     source,
		Details:    details,
		CreatedAt:  time.Now().UTC(),
	}

	select {
	case r.queue <- e:
	default:
		r.logger.Warn("audit queue full, dropping entry", "action", action, "entity_type", entityType)
	}
}

// Start runs the writer until ctx is cancelled or Stop is called.
func (r *Recorder) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Stop drains queued entries and waits for the writer to exit.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *Recorder) run(ctx context.Context) {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		case <-ctx.Done():
			r.drain()
			return
		case <-r.done:
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case e := <-r.queue:
			r.write(e)
		default:
			return
		}
	}
}

func (r *Recorder) write(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("audit log write failed", "action", e.Action, "entity_type", e.EntityType, "error", err)
	}
}
