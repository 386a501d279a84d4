package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/fundscout/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type call struct {
	kind   string
	user   string
	name   string
	status string
	funds  []string
}

type fakeSink struct {
	mu    sync.Mutex
	calls []call
	err   error
	delay time.Duration
}

func (f *fakeSink) record(c call) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	return f.err
}

func (f *fakeSink) SaveFunds(_ context.Context, userID string, funds []model.Fund) error {
	names := make([]string, len(funds))
	for i, fd := range funds {
		names[i] = fd.Name
	}
	return f.record(call{kind: "funds", user: userID, funds: names})
}

func (f *fakeSink) UpdateFundStatus(_ context.Context, userID, name, status string) error {
	return f.record(call{kind: "status", user: userID, name: name, status: status})
}

func (f *fakeSink) SaveFundAnalysis(_ context.Context, userID, name string, _ *model.ApplicationAnalysis) error {
	return f.record(call{kind: "analysis", user: userID, name: name})
}

func (f *fakeSink) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func TestWriter_DebounceKeepsLatestSnapshot(t *testing.T) {
	sink := &fakeSink{}
	w := New(sink, Config{Debounce: 20 * time.Millisecond})

	w.Schedule("u1", []model.Fund{{Name: "A"}})
	w.Schedule("u1", []model.Fund{{Name: "A"}, {Name: "B"}})
	w.Schedule("u1", []model.Fund{{Name: "A"}, {Name: "B"}, {Name: "C"}})

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, w.Close(context.Background()))

	calls := sink.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"A", "B", "C"}, calls[0].funds)
}

func TestWriter_FlushWritesPendingImmediately(t *testing.T) {
	sink := &fakeSink{}
	w := New(sink, Config{Debounce: time.Hour})

	w.Schedule("u1", []model.Fund{{Name: "A"}})
	w.Schedule("u2", []model.Fund{{Name: "Z"}})
	require.NoError(t, w.Flush(context.Background()))

	calls := sink.snapshot()
	require.Len(t, calls, 2)
	users := []string{calls[0].user, calls[1].user}
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
	require.NoError(t, w.Close(context.Background()))
}

func TestWriter_SingleRecordWritesInOrder(t *testing.T) {
	sink := &fakeSink{delay: 2 * time.Millisecond}
	w := New(sink, Config{})

	w.WriteStatus("u1", "A", "CONTACTED")
	w.WriteAnalysis("u1", "A", &model.ApplicationAnalysis{Eligibility: "yes"})
	w.WriteStatus("u1", "A", "APPLIED")
	require.NoError(t, w.Close(context.Background()))

	calls := sink.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "CONTACTED", calls[0].status)
	assert.Equal(t, "analysis", calls[1].kind)
	assert.Equal(t, "APPLIED", calls[2].status)
}

func TestWriter_ErrorsAreSwallowed(t *testing.T) {
	sink := &fakeSink{err: errors.New("database is locked")}
	w := New(sink, Config{Debounce: time.Millisecond})

	w.WriteStatus("u1", "A", "CONTACTED")
	w.Schedule("u1", []model.Fund{{Name: "A"}})

	require.NoError(t, w.Close(context.Background()))
	assert.Len(t, sink.snapshot(), 2)
}

func TestWriter_DropsWritesAfterClose(t *testing.T) {
	sink := &fakeSink{}
	w := New(sink, Config{Debounce: time.Millisecond})
	require.NoError(t, w.Close(context.Background()))

	w.WriteStatus("u1", "A", "CONTACTED")
	w.Schedule("u1", []model.Fund{{Name: "A"}})
	require.NoError(t, w.Flush(context.Background()))

	assert.Empty(t, sink.snapshot())
}

func TestWriter_FlushHonorsContext(t *testing.T) {
	sink := &fakeSink{delay: 200 * time.Millisecond}
	w := New(sink, Config{})
	w.WriteStatus("u1", "A", "CONTACTED")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Flush(ctx), context.DeadlineExceeded)

	require.NoError(t, w.Close(context.Background()))
}
