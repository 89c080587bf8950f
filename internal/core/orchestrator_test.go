package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageTables is a PageExtractor backed by a fixed page -> result map.
type pageTables struct {
	tables map[int][]Table
	fail   map[int]error
	delay  map[int]time.Duration

	mu    sync.Mutex
	calls []int
}

func (p *pageTables) ExtractPage(ctx context.Context, doc Document, page int, mode DetectionMode) ([]Table, error) {
	p.mu.Lock()
	p.calls = append(p.calls, page)
	p.mu.Unlock()

	if d := p.delay[page]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := p.fail[page]; err != nil {
		return nil, err
	}
	return p.tables[page], nil
}

func (p *pageTables) called() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.calls...)
}

func oneRow(cells ...string) []Table {
	return []Table{{Rows: [][]string{cells}}}
}

// stepClock returns a time that advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

func drainAll(ch *ProgressChannel) []ProgressEvent {
	var out []ProgressEvent
	for {
		ev, ok := ch.Consume(context.Background(), time.Millisecond)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}

func assertSingleTerminalLast(t *testing.T, events []ProgressEvent) {
	t.Helper()
	require.NotEmpty(t, events)

	terminals := 0
	for _, ev := range events {
		if ev.Type.IsTerminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals, "exactly one terminal event")
	assert.True(t, events[len(events)-1].Type.IsTerminal(), "terminal event must be last")
}

func TestOrchestrator_CompletionWithTables(t *testing.T) {
	ext := &pageTables{tables: map[int][]Table{
		1: oneRow("a", "b"),
		3: oneRow("c"),
	}}
	o := NewOrchestrator(ext, WithProgressInterval(0))
	ch := NewProgressChannel()

	var persisted []Table
	persist := func(ctx context.Context, doc Document, tables []Table) ([]string, error) {
		persisted = tables
		return []string{"x.xlsx"}, nil
	}

	out := o.Run(context.Background(), ch, Document{Name: "doc.pdf"}, []int{1, 2, 3}, ModeLattice, persist)
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"x.xlsx"}, out.Artifacts)
	assert.Equal(t, 3, out.Processed)
	require.Len(t, persisted, 2)
	assert.Equal(t, 1, persisted[0].Page)
	assert.Equal(t, 3, persisted[1].Page)

	events := drainAll(ch)
	assertSingleTerminalLast(t, events)

	last := events[len(events)-1]
	assert.Equal(t, EventCompletion, last.Type)
	require.NotNil(t, last.Tables)
	assert.Equal(t, 2, *last.Tables)
	require.NotNil(t, last.ExtractionComplete)
	assert.True(t, *last.ExtractionComplete)
	assert.Equal(t, 100.0, last.Percentage)

	prev := -1.0
	for _, ev := range events {
		assert.GreaterOrEqual(t, ev.Percentage, prev, "percentage must not decrease")
		prev = ev.Percentage
	}
}

func TestOrchestrator_NoTablesIsSuccess(t *testing.T) {
	ext := &pageTables{}
	o := NewOrchestrator(ext)
	ch := NewProgressChannel()

	persistCalled := false
	persist := func(ctx context.Context, doc Document, tables []Table) ([]string, error) {
		persistCalled = true
		return nil, nil
	}

	out := o.Run(context.Background(), ch, Document{Name: "doc.pdf"}, []int{1, 2}, ModeStream, persist)
	require.NoError(t, out.Err)
	assert.False(t, persistCalled)

	events := drainAll(ch)
	assertSingleTerminalLast(t, events)

	last := events[len(events)-1]
	assert.Equal(t, EventCompletion, last.Type)
	assert.Equal(t, NoTablesMessage, last.Message)
	require.NotNil(t, last.Tables)
	assert.Equal(t, 0, *last.Tables)
}

func TestOrchestrator_FailFast(t *testing.T) {
	ext := &pageTables{
		tables: map[int][]Table{1: oneRow("a")},
		fail:   map[int]error{2: errors.New("corrupt content stream")},
	}
	o := NewOrchestrator(ext, WithProgressInterval(0))
	ch := NewProgressChannel()

	out := o.Run(context.Background(), ch, Document{Name: "doc.pdf"}, []int{1, 2, 3}, ModeLattice, nil)

	var ee *ExtractionError
	require.ErrorAs(t, out.Err, &ee)
	assert.Equal(t, 2, ee.Page)
	assert.Equal(t, []int{1, 2}, ext.called(), "page 3 must not be attempted")

	events := drainAll(ch)
	assertSingleTerminalLast(t, events)

	last := events[len(events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "corrupt content stream")
	assert.Equal(t, 1, last.Processed)
}

func TestOrchestrator_PersistFailureIsTerminalError(t *testing.T) {
	ext := &pageTables{tables: map[int][]Table{1: oneRow("a")}}
	o := NewOrchestrator(ext)
	ch := NewProgressChannel()

	persist := func(ctx context.Context, doc Document, tables []Table) ([]string, error) {
		return nil, errors.New("disk full")
	}

	out := o.Run(context.Background(), ch, Document{Name: "doc.pdf"}, []int{1}, ModeLattice, persist)
	require.Error(t, out.Err)

	events := drainAll(ch)
	assertSingleTerminalLast(t, events)
	assert.Equal(t, EventError, events[len(events)-1].Type)
}

func TestOrchestrator_CancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ext := PageExtractorFunc(func(_ context.Context, _ Document, page int, _ DetectionMode) ([]Table, error) {
		if page == 1 {
			cancel()
		}
		return oneRow("x"), nil
	})
	o := NewOrchestrator(ext)
	ch := NewProgressChannel()

	out := o.Run(ctx, ch, Document{Name: "doc.pdf"}, []int{1, 2, 3}, ModeLattice, nil)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Equal(t, 1, out.Processed)

	events := drainAll(ch)
	assertSingleTerminalLast(t, events)
	assert.Equal(t, EventError, events[len(events)-1].Type)
}

func TestOrchestrator_ThrottleKeepsFirstAndTerminal(t *testing.T) {
	pages := make([]int, 50)
	tables := make(map[int][]Table)
	for i := range pages {
		pages[i] = i + 1
		tables[i+1] = oneRow("r")
	}

	// Every clock read advances 1ms, far below the 5s interval.
	o := NewOrchestrator(&pageTables{tables: tables}, WithClock(stepClock(time.Millisecond)))
	ch := NewProgressChannel()

	out := o.Run(context.Background(), ch, Document{Name: "doc.pdf"}, pages, ModeLattice, nil)
	require.NoError(t, out.Err)

	events := drainAll(ch)
	require.Len(t, events, 2, "only the first and the terminal event survive")
	assert.Equal(t, EventProgress, events[0].Type)
	assert.Equal(t, 0, events[0].Processed)
	assert.Equal(t, EventCompletion, events[1].Type)
	assert.True(t, events[0].Timestamp.Before(events[1].Timestamp))
}

func TestOrchestrator_ThrottleAdmitsAfterInterval(t *testing.T) {
	pages := []int{1, 2, 3, 4}
	// Each clock read advances 2s and every publish reads the clock twice,
	// so against a 5s interval every other progress event passes.
	o := NewOrchestrator(&pageTables{}, WithClock(stepClock(2*time.Second)))
	ch := NewProgressChannel()

	o.Run(context.Background(), ch, Document{Name: "doc.pdf"}, pages, ModeLattice, nil)

	events := drainAll(ch)
	assertSingleTerminalLast(t, events)
	assert.Greater(t, len(events), 2)
	assert.Less(t, len(events), len(pages)+2)

	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Processed, events[i-1].Processed, "events must stay in publish order")
	}
}

func TestPublishThrottle(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	th := newPublishThrottle(5*time.Second, func() time.Time { return now })

	progress := ProgressEvent{Type: EventProgress}
	terminal := ProgressEvent{Type: EventError}

	assert.True(t, th.allow(progress), "first event")
	now = base.Add(time.Second)
	assert.False(t, th.allow(progress))
	assert.True(t, th.allow(terminal), "terminal ignores interval")
	now = base.Add(7 * time.Second)
	assert.True(t, th.allow(progress))
}

func TestOrchestrator_PanicBecomesExtractionError(t *testing.T) {
	ext := PageExtractorFunc(func(ctx context.Context, _ Document, page int, _ DetectionMode) ([]Table, error) {
		if page == 2 {
			panic("malformed object stream")
		}
		return oneRow("a"), nil
	})
	o := NewOrchestrator(ext, WithProgressInterval(0))
	ch := NewProgressChannel()

	out := o.Run(context.Background(), ch, Document{Name: "doc.pdf"}, []int{1, 2, 3}, ModeLattice, nil)
	require.Error(t, out.Err)

	var ee *ExtractionError
	require.ErrorAs(t, out.Err, &ee)
	assert.Equal(t, 2, ee.Page)
	assert.Contains(t, ee.Error(), "malformed object stream")
	assert.Equal(t, 1, out.Processed)

	events := drainAll(ch)
	assertSingleTerminalLast(t, events)
	assert.Equal(t, EventError, events[len(events)-1].Type)
}
