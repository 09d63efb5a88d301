package account

import (
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/haldis/accountd/pkg/variant"
)

// flushDelay is the debounce window for property-change coalescing.
const flushDelay = 10 * time.Millisecond

// notifier coalesces property mutations into one batched notification per
// debounce window. A repeated mutation of the same key inside one window
// forces an immediate flush first, so two updates to one property are never
// collapsed into a single visible transition. Freeze/thaw bracket a
// critical section during which only recording happens; sections must not
// nest.
type notifier struct {
	mu       sync.Mutex
	delay    time.Duration
	emit     func(changes map[string]variant.Value)
	logger   zerolog.Logger
	pending  map[string]variant.Value
	frozen   bool
	timer    *time.Timer
	disposed bool
}

func newNotifier(delay time.Duration, logger zerolog.Logger, emit func(map[string]variant.Value)) *notifier {
	if delay <= 0 {
		delay = flushDelay
	}
	return &notifier{
		delay:   delay,
		emit:    emit,
		logger:  logger,
		pending: make(map[string]variant.Value),
	}
}

// changed records a property mutation. The emit callback runs outside the
// notifier lock, so subscribers may call back into the account.
func (n *notifier) changed(key string, value variant.Value) {
	n.mu.Lock()
	if n.disposed {
		n.mu.Unlock()
		return
	}
	if n.frozen {
		n.pending[key] = value
		n.mu.Unlock()
		return
	}

	var batch map[string]variant.Value
	if _, repeat := n.pending[key]; repeat {
		batch = n.takeLocked()
	}
	n.pending[key] = value
	if n.timer == nil {
		n.timer = time.AfterFunc(n.delay, n.timerFired)
	}
	n.mu.Unlock()

	if batch != nil {
		n.emit(batch)
	}
}

// takeLocked detaches the pending batch and cancels the timer. Caller holds
// the lock; the returned batch is emitted after unlocking.
func (n *notifier) takeLocked() map[string]variant.Value {
	if len(n.pending) == 0 {
		return nil
	}
	batch := n.pending
	n.pending = make(map[string]variant.Value)
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}

	if e := n.logger.Debug(); e.Enabled() {
		batchID, _ := gonanoid.New()
		keys := make([]string, 0, len(batch))
		for k := range batch {
			keys = append(keys, k)
		}
		e.Str("batch", batchID).Strs("properties", keys).Msg("Flushing property changes")
	}

	return batch
}

func (n *notifier) timerFired() {
	n.mu.Lock()
	n.timer = nil
	if n.disposed || n.frozen {
		n.mu.Unlock()
		return
	}
	batch := n.takeLocked()
	n.mu.Unlock()

	if batch != nil {
		n.emit(batch)
	}
}

// freeze opens a critical section. Panics when already frozen: nesting is a
// caller contract violation, not a recoverable state.
func (n *notifier) freeze() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.frozen {
		panic("account: property freeze/thaw sections must not nest")
	}
	n.frozen = true
}

// thaw closes the critical section and flushes once if anything is pending.
func (n *notifier) thaw() {
	n.mu.Lock()
	if !n.frozen {
		n.mu.Unlock()
		panic("account: thaw without matching freeze")
	}
	n.frozen = false
	batch := n.takeLocked()
	n.mu.Unlock()

	if batch != nil {
		n.emit(batch)
	}
}

// flush emits any pending batch immediately.
func (n *notifier) flush() {
	n.mu.Lock()
	batch := n.takeLocked()
	n.mu.Unlock()

	if batch != nil {
		n.emit(batch)
	}
}

// dispose cancels the timer and drops pending state.
func (n *notifier) dispose() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disposed = true
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.pending = nil
}
