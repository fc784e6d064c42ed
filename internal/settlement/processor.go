package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/observability/alerting"
	"AgentLedger-Chain/internal/observability/metrics"
	"AgentLedger-Chain/internal/outbox"
	"AgentLedger-Chain/pkg/logger"
)

const (
	defaultMaxRetries = 3
	settledWindow     = 4096
)

// Stats 汇总处理器自启动以来的结果。
type Stats struct {
	Settled   int64 `json:"settled"`
	Retried   int64 `json:"retried"`
	Failed    int64 `json:"failed"`
	Events    int64 `json:"events"`
	Duplicate int64 `json:"duplicate"`
}

// Processor 负责从队列消费信封并交给 Settler。
type Processor struct {
	settler     Settler
	consumer    outbox.Consumer
	producer    outbox.Producer
	workerCount int
	maxRetries  int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	metrics     *metrics.Recorder

	mu       sync.Mutex
	settled  map[string]struct{}
	order    []string
	counters struct {
		settled, retried, failed, events, duplicate atomic.Int64
	}
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) { p.logger = l }
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithMaxRetries 设置单条指令的最大尝试次数。
func WithMaxRetries(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxRetries = n
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) { p.alerter = d }
}

// WithMetrics 配置指标记录器。
func WithMetrics(r *metrics.Recorder) ProcessorOption {
	return func(p *Processor) { p.metrics = r }
}

// NewProcessor 构造 Processor。producer 用于失败重投，通常与 consumer 是同一个队列。
func NewProcessor(settler Settler, consumer outbox.Consumer, producer outbox.Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		settler:     settler,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		maxRetries:  defaultMaxRetries,
		logger:      logger.Named("settlement"),
		settled:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动消费循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.settler == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "settlement processor not configured")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Stats 返回当前统计。
func (p *Processor) Stats() Stats {
	return Stats{
		Settled:   p.counters.settled.Load(),
		Retried:   p.counters.retried.Load(),
		Failed:    p.counters.failed.Load(),
		Events:    p.counters.events.Load(),
		Duplicate: p.counters.duplicate.Load(),
	}
}

// Handle 处理单个信封。返回错误表示需要队列重新投递。
func (p *Processor) Handle(ctx context.Context, env outbox.Envelope) error {
	if env.Kind != outbox.KindTransfer {
		p.counters.events.Add(1)
		logger.Audit().Info("ledger event",
			slog.String("call_id", env.CallID),
			slog.Uint64("height", env.Height),
			slog.String("action", env.Action),
			slog.String("caller", env.Caller),
			slog.Any("attributes", env.Attributes),
		)
		return nil
	}
	if p.alreadySettled(env.ID) {
		p.counters.duplicate.Add(1)
		p.logger.Debug("跳过重复投递", slog.String("envelope_id", env.ID))
		return nil
	}

	err := p.settler.Settle(ctx, env)
	if err == nil {
		p.markSettled(env.ID)
		p.counters.settled.Add(1)
		p.metrics.ObserveSettlement("settled")
		return nil
	}
	return p.handleFailure(ctx, env, err)
}

func (p *Processor) handleFailure(ctx context.Context, env outbox.Envelope, cause error) error {
	if _, ok := xerrors.From(cause); !ok {
		cause = xerrors.Wrap(xerrors.CodeSettlementFailure, cause, "settle transfer")
	}
	env.Attempts++
	retryable := xerrors.RetryableError(cause)
	terminal := !retryable || env.Attempts >= p.maxRetries

	logger.Audit().Warn("transfer settlement failed",
		slog.String("envelope_id", env.ID),
		slog.String("call_id", env.CallID),
		slog.Bool("terminal", terminal),
		slog.String("error", cause.Error()),
		slog.String("error_code", string(xerrors.CodeOf(cause))),
		slog.Int("attempts", env.Attempts),
		slog.Int("max_retries", p.maxRetries),
	)

	if terminal {
		p.counters.failed.Add(1)
		p.metrics.ObserveSettlement("failed")
		stage := "exhausted"
		if !retryable {
			stage = "non_retryable"
		}
		p.emitAlert(ctx, env, cause, stage)
		return nil
	}

	p.counters.retried.Add(1)
	p.metrics.ObserveSettlement("retry")
	if p.producer == nil {
		return cause
	}
	if err := p.producer.Publish(ctx, env); err != nil {
		wrapped := xerrors.Wrap(xerrors.CodeQueueFailure, err, fmt.Sprintf("requeue envelope %s", env.ID))
		p.emitAlert(ctx, env, wrapped, "requeue")
		return wrapped
	}
	return nil
}

func (p *Processor) alreadySettled(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.settled[id]
	return ok
}

func (p *Processor) markSettled(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled[id] = struct{}{}
	p.order = append(p.order, id)
	if len(p.order) > settledWindow {
		delete(p.settled, p.order[0])
		p.order = p.order[1:]
	}
}

func (p *Processor) emitAlert(ctx context.Context, env outbox.Envelope, cause error, stage string) {
	if p.alerter == nil {
		return
	}
	event := alerting.FromError("settlement", env.Action, env.ID, cause)
	if stage == "exhausted" {
		event.Code = xerrors.CodeRetriesExhausted
	}
	event.Attempts = env.Attempts
	event.MaxRetries = p.maxRetries
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["stage"] = stage
	event.Metadata["call_id"] = env.CallID
	event.Metadata["height"] = strconv.FormatUint(env.Height, 10)
	if env.Transfer != nil {
		event.Metadata["recipient"] = env.Transfer.Recipient
		event.Metadata["amount"] = env.Transfer.Amount.String()
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("envelope_id", env.ID), slog.String("stage", stage))
	}
}
