package account

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haldis/accountd/pkg/variant"
)

type batchSink struct {
	mu      sync.Mutex
	batches []map[string]variant.Value
}

func (s *batchSink) emit(changes map[string]variant.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, changes)
}

func (s *batchSink) all() []map[string]variant.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]variant.Value, len(s.batches))
	copy(out, s.batches)
	return out
}

func newTestNotifier(sink *batchSink) *notifier {
	return newNotifier(testDebounce, zerolog.Nop(), sink.emit)
}

func TestNotifier_CoalescesDistinctKeys(t *testing.T) {
	sink := &batchSink{}
	n := newTestNotifier(sink)
	defer n.dispose()

	n.changed("A", variant.String("1"))
	n.changed("B", variant.String("2"))
	n.changed("C", variant.String("3"))
	waitFlush()

	batches := sink.all()
	require.Len(t, batches, 1, "distinct keys within the window coalesce")
	assert.Len(t, batches[0], 3)
}

func TestNotifier_RepeatKeyFlushesFirst(t *testing.T) {
	// Two mutations of one key inside the window must surface as two
	// distinct batches so no transition is lost.
	sink := &batchSink{}
	n := newTestNotifier(sink)
	defer n.dispose()

	n.changed("A", variant.String("old"))
	n.changed("B", variant.String("side"))
	n.changed("A", variant.String("new"))
	waitFlush()

	batches := sink.all()
	require.Len(t, batches, 2)
	assert.Equal(t, "old", batches[0]["A"].Str())
	assert.Equal(t, "side", batches[0]["B"].Str())
	assert.Equal(t, "new", batches[1]["A"].Str())
}

func TestNotifier_FreezeDefersEmission(t *testing.T) {
	sink := &batchSink{}
	n := newTestNotifier(sink)
	defer n.dispose()

	n.freeze()
	n.changed("A", variant.String("1"))
	n.changed("A", variant.String("2"))
	time.Sleep(3 * testDebounce)
	assert.Empty(t, sink.all(), "nothing may emit while frozen")

	n.thaw()
	batches := sink.all()
	require.Len(t, batches, 1, "thaw flushes exactly once")
	assert.Equal(t, "2", batches[0]["A"].Str(),
		"last write wins inside a frozen section")
}

func TestNotifier_ThawWithoutPendingEmitsNothing(t *testing.T) {
	sink := &batchSink{}
	n := newTestNotifier(sink)
	defer n.dispose()

	n.freeze()
	n.thaw()
	assert.Empty(t, sink.all())
}

func TestNotifier_NestedFreezePanics(t *testing.T) {
	sink := &batchSink{}
	n := newTestNotifier(sink)
	defer n.dispose()

	n.freeze()
	assert.Panics(t, func() { n.freeze() })
	n.thaw()
	assert.Panics(t, func() { n.thaw() })
}

func TestNotifier_FlushEmitsPendingImmediately(t *testing.T) {
	sink := &batchSink{}
	n := newTestNotifier(sink)
	defer n.dispose()

	n.changed("A", variant.Bool(true))
	n.flush()

	batches := sink.all()
	require.Len(t, batches, 1)
	assert.True(t, batches[0]["A"].Boolean())
}

func TestNotifier_DisposeDropsPending(t *testing.T) {
	sink := &batchSink{}
	n := newTestNotifier(sink)

	n.changed("A", variant.Bool(true))
	n.dispose()
	waitFlush()

	assert.Empty(t, sink.all())

	// Late mutations after disposal are ignored.
	n.changed("B", variant.Bool(false))
	waitFlush()
	assert.Empty(t, sink.all())
}
