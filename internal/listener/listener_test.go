package listener

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/metrics"
	"backup-sentinel/internal/pipeline"
)

type fakeSource struct {
	mu      sync.Mutex
	batches [][]Message
	acked   []string
	nacked  []string
	pulls   int
}

func (f *fakeSource) Receive(ctx context.Context, max int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

func (f *fakeSource) Ack(ctx context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return nil
}

func (f *fakeSource) Nack(ctx context.Context, ids ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, ids...)
	return nil
}

func (f *fakeSource) settled() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...), append([]string(nil), f.nacked...)
}

type fakeProcessor struct {
	mu       sync.Mutex
	seen     map[string]bool
	failFor  string
	failErr  error
	inFlight int
	maxSeen  int
	delay    time.Duration
}

func (p *fakeProcessor) Process(ctx context.Context, req backup.BackupRequest) (*pipeline.Result, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxSeen {
		p.maxSeen = p.inFlight
	}
	p.mu.Unlock()

	time.Sleep(p.delay)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--

	if req.DatabaseName == p.failFor {
		if p.failErr != nil {
			return nil, p.failErr
		}
		return nil, errors.New("history unavailable")
	}
	if p.seen == nil {
		p.seen = make(map[string]bool)
	}
	if p.seen[req.DatabaseName] {
		return &pipeline.Result{Duplicate: true}, nil
	}
	p.seen[req.DatabaseName] = true
	return &pipeline.Result{Event: &backup.BackupEvent{ID: "id-" + req.DatabaseName, Status: backup.BackupStatusCompleted}}, nil
}

func msg(id, payload string) Message {
	return Message{ID: id, AckID: "ack-" + id, Data: []byte(payload)}
}

func TestHandleSettlesMessages(t *testing.T) {
	src := &fakeSource{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	l := New(src, &fakeProcessor{failFor: "broken"}, Config{}, m, nil)
	ctx := context.Background()

	assert.Equal(t, ResultProcessed, l.Handle(ctx, msg("1", `{"databaseInstance":"i","databaseName":"orders"}`)))
	assert.Equal(t, ResultDuplicate, l.Handle(ctx, msg("2", `{"databaseInstance":"i","databaseName":"orders"}`)))
	assert.Equal(t, ResultMalformed, l.Handle(ctx, msg("3", `{oops`)))
	assert.Equal(t, ResultFailed, l.Handle(ctx, msg("4", `{"databaseInstance":"i","databaseName":"broken"}`)))

	acked, nacked := src.settled()
	assert.Equal(t, []string{"ack-1", "ack-2"}, acked)
	assert.Equal(t, []string{"ack-3", "ack-4"}, nacked)
	expected := `
# HELP backup_sentinel_messages_total Inbound messages by handling result
# TYPE backup_sentinel_messages_total counter
backup_sentinel_messages_total{result="duplicate"} 1
backup_sentinel_messages_total{result="failed"} 1
backup_sentinel_messages_total{result="malformed"} 1
backup_sentinel_messages_total{result="processed"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "backup_sentinel_messages_total"))
}

func TestHandleProcessingErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"database outage", backup.NewDatabaseError("failed to insert backup event", errors.New("connection refused")), ResultFailed},
		{"invalid request", backup.NewValidationError("invalid backup request", nil), ResultMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{}
			l := New(src, &fakeProcessor{failFor: "orders", failErr: tt.err}, Config{}, nil, nil)

			assert.Equal(t, tt.want, l.Handle(context.Background(), msg("1", `{"databaseInstance":"i","databaseName":"orders"}`)))
			acked, nacked := src.settled()
			assert.Empty(t, acked)
			assert.Equal(t, []string{"ack-1"}, nacked)
		})
	}
}

func TestHandleBatchBoundsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := &fakeSource{}
	proc := &fakeProcessor{delay: 20 * time.Millisecond}
	l := New(src, proc, Config{Workers: 2}, nil, nil)

	var batch []Message
	for _, db := range []string{"a", "b", "c", "d", "e"} {
		batch = append(batch, msg(db, `{"databaseInstance":"i","databaseName":"`+db+`"}`))
	}
	l.HandleBatch(context.Background(), batch)

	acked, nacked := src.settled()
	assert.Len(t, acked, 5)
	assert.Empty(t, nacked)
	assert.LessOrEqual(t, proc.maxSeen, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := &fakeSource{batches: [][]Message{{
		msg("1", `{"databaseInstance":"i","databaseName":"orders"}`),
		msg("2", `{"databaseInstance":"i","databaseName":"users"}`),
	}}}
	l := New(src, &fakeProcessor{}, Config{PollInterval: 5 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	require.Eventually(t, func() bool {
		acked, _ := src.settled()
		return len(acked) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
}
