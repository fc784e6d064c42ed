package settlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/observability/alerting"
	"AgentLedger-Chain/internal/outbox"
)

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, e alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAlerter) all() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

func transfer(amount uint64) outbox.Envelope {
	env := outbox.NewEnvelope(outbox.KindTransfer, "call-1", 3, "withdraw_from_agent", "alice")
	env.Transfer = &outbox.Transfer{Recipient: "0x52908400098527886E0F7030069857D2E4169EE7", Amount: coin.Coins{coin.NewUint64("uusd", amount)}}
	return env
}

func TestProcessorSettlesConcurrently(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := outbox.NewMemoryQueue(1024)
	var settled atomic.Int32
	settler := SettlerFunc(func(ctx context.Context, env outbox.Envelope) error {
		if err := (AuditSettler{}).Settle(ctx, env); err != nil {
			return err
		}
		settled.Add(1)
		return nil
	})
	processor := NewProcessor(settler, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		if err := queue.Publish(ctx, transfer(uint64(i+1))); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}
	if err := queue.Publish(ctx, outbox.NewEnvelope(outbox.KindEvent, "call-2", 4, "register_agent", "bob")); err != nil {
		t.Fatalf("publish event failed: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for int(settled.Load()) < total || processor.Stats().Events < 1 {
		select {
		case <-deadline:
			t.Fatalf("transfers not settled in time, settled %d", settled.Load())
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	if stats := processor.Stats(); stats.Settled != int64(total) || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestProcessorRetriesThenAlerts(t *testing.T) {
	queue := outbox.NewMemoryQueue(8)
	alerter := &recordingAlerter{}
	var calls atomic.Int32
	settler := SettlerFunc(func(context.Context, outbox.Envelope) error {
		calls.Add(1)
		return errors.New("rpc unavailable")
	})
	processor := NewProcessor(settler, queue, queue, WithMaxRetries(3), WithAlertDispatcher(alerter))

	env := transfer(10)
	ctx := context.Background()
	for attempt := 1; attempt <= 3; attempt++ {
		if err := processor.Handle(ctx, env); err != nil {
			t.Fatalf("attempt %d returned error: %v", attempt, err)
		}
		if attempt < 3 {
			if queue.Len() != 1 {
				t.Fatalf("attempt %d: expected requeue, queue len %d", attempt, queue.Len())
			}
			ctxPop, cancel := context.WithCancel(ctx)
			_ = queue.Consume(ctxPop, 1, func(_ context.Context, next outbox.Envelope) error {
				env = next
				cancel()
				return nil
			})
			if env.Attempts != attempt {
				t.Fatalf("expected attempts %d, got %d", attempt, env.Attempts)
			}
		}
	}
	if queue.Len() != 0 {
		t.Fatalf("terminal failure must not requeue")
	}
	events := alerter.all()
	if len(events) != 1 || events[0].Code != xerrors.CodeRetriesExhausted || events[0].Metadata["stage"] != "exhausted" {
		t.Fatalf("unexpected alerts: %+v", events)
	}
	if events[0].Subject != env.ID || events[0].Metadata["amount"] != "10uusd" {
		t.Fatalf("alert missing transfer details: %+v", events[0])
	}
	if stats := processor.Stats(); stats.Retried != 2 || stats.Failed != 1 || calls.Load() != 3 {
		t.Fatalf("unexpected stats: %+v calls=%d", stats, calls.Load())
	}
}

func TestProcessorDoesNotRetryNonRetryable(t *testing.T) {
	queue := outbox.NewMemoryQueue(1)
	alerter := &recordingAlerter{}
	processor := NewProcessor(AuditSettler{}, queue, queue, WithAlertDispatcher(alerter))

	env := transfer(1)
	env.Transfer = nil
	if err := processor.Handle(context.Background(), env); err != nil {
		t.Fatalf("handle returned error: %v", err)
	}
	if queue.Len() != 0 {
		t.Fatalf("non-retryable failure must not requeue")
	}
	events := alerter.all()
	if len(events) != 1 || events[0].Metadata["stage"] != "non_retryable" || events[0].Code != xerrors.CodeInvalidInput {
		t.Fatalf("unexpected alerts: %+v", events)
	}
}

func TestProcessorSkipsDuplicateDelivery(t *testing.T) {
	var calls atomic.Int32
	processor := NewProcessor(SettlerFunc(func(context.Context, outbox.Envelope) error {
		calls.Add(1)
		return nil
	}), nil, nil)

	env := transfer(5)
	for i := 0; i < 3; i++ {
		if err := processor.Handle(context.Background(), env); err != nil {
			t.Fatalf("handle failed: %v", err)
		}
	}
	if calls.Load() != 1 || processor.Stats().Duplicate != 2 {
		t.Fatalf("expected one settlement and two duplicates, got calls=%d stats=%+v", calls.Load(), processor.Stats())
	}
}

func TestStartRequiresConsumer(t *testing.T) {
	if err := NewProcessor(AuditSettler{}, nil, nil).Start(context.Background()); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("unexpected error: %v", err)
	}
}
