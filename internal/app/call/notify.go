package call

import (
	"sync"

	"github.com/dkeye/consult/internal/core"
	"github.com/rs/zerolog/log"
)

// Notifier surfaces non-fatal problems and info to the participant, e.g. as toasts.
// Calls arrive in order on a goroutine of their own, so a Notifier may call back into
// the controller.
type Notifier interface {
	Warn(err error)
	Info(msg string)
}

// LogNotifier writes notifications to the global logger.
type LogNotifier struct{}

func (LogNotifier) Warn(err error)  { log.Warn().Err(err).Str("module", "call").Msg("call warning") }
func (LogNotifier) Info(msg string) { log.Info().Str("module", "call").Msg(msg) }

// Sink renders local preview and remote tracks. It is called from the controller loop
// and must not call controller methods.
type Sink interface {
	AttachLocal(*core.MediaStream)
	AttachRemote(core.RemoteTrack)
	// Detach releases every attached view.
	Detach()
}

type nopSink struct{}

func (nopSink) AttachLocal(*core.MediaStream) {}
func (nopSink) AttachRemote(core.RemoteTrack) {}
func (nopSink) Detach()                       {}

// hookQueue carries Notifier calls from the loop to the hook goroutine without blocking.
type hookQueue struct {
	mu    sync.Mutex
	items []func()
	wake  chan struct{}
}

func newHookQueue() *hookQueue {
	return &hookQueue{wake: make(chan struct{}, 1)}
}

func (q *hookQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *hookQueue) run() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()
	for _, fn := range items {
		fn()
	}
}
