// Package host 承载账本引擎：串行化调用、分配块上下文、原子提交，
// 并在提交后把转账指令与事件交给 outbox。
package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
	"AgentLedger-Chain/internal/observability/alerting"
	"AgentLedger-Chain/internal/observability/metrics"
	"AgentLedger-Chain/internal/outbox"
	"AgentLedger-Chain/internal/registry"
	"AgentLedger-Chain/pkg/logger"
)

type blockMeta struct {
	Height    uint64 `json:"height"`
	Time      uint64 `json:"time"`
	OutboxSeq uint64 `json:"outbox_seq"`
}

var (
	metaItem = kv.NewItem[blockMeta]("host_meta")
	pending  = kv.NewMap[outbox.Envelope]("host_outbox", "outbox envelope")
)

func pendingID(seq uint64) string { return fmt.Sprintf("%020d", seq) }

// Result 是一次已提交调用的结果。
type Result struct {
	CallID   string             `json:"call_id"`
	Height   uint64             `json:"height"`
	Time     uint64             `json:"time"`
	Action   string             `json:"action"`
	Response *registry.Response `json:"response"`
}

// Runtime 串行执行账本调用。
type Runtime struct {
	mu       sync.RWMutex
	backend  kv.Backend
	contract *registry.Contract
	chainID  string
	clock    *BlockClock
	nextSeq  uint64

	producer outbox.Producer
	metrics  *metrics.Recorder
	alerter  alerting.Dispatcher
	logger   *slog.Logger
	now      func() time.Time
}

// Option 配置 Runtime。
type Option func(*Runtime)

// WithChainID 设置块上下文中的链标识。
func WithChainID(id string) Option {
	return func(r *Runtime) { r.chainID = id }
}

// WithProducer 设置提交后投递的队列。未设置时转账指令保留在待投递区。
func WithProducer(p outbox.Producer) Option {
	return func(r *Runtime) { r.producer = p }
}

// WithMetrics 配置指标记录器。
func WithMetrics(m *metrics.Recorder) Option {
	return func(r *Runtime) { r.metrics = m }
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(r *Runtime) { r.alerter = d }
}

// WithClock 替换时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New 从 backend 恢复块高度并构造 Runtime。
func New(backend kv.Backend, contract *registry.Contract, opts ...Option) (*Runtime, error) {
	if backend == nil || contract == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "runtime requires backend and contract")
	}
	r := &Runtime{
		backend:  backend,
		contract: contract,
		chainID:  "agentledger-1",
		logger:   logger.Named("host"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	meta, _, err := metaItem.Get(backend)
	if err != nil {
		return nil, err
	}
	r.clock = NewBlockClock(meta.Height, meta.Time, r.now)
	r.nextSeq = meta.OutboxSeq
	return r, nil
}

// Height 返回最近一次提交的块高度。
func (r *Runtime) Height() uint64 {
	h, _ := r.clock.Current()
	return h
}

// Instantiate 写入初始配置。
func (r *Runtime) Instantiate(ctx context.Context, caller string, msg registry.InstantiateMsg) (*Result, error) {
	return r.commit(ctx, "instantiate", caller, func(store kv.Store, env registry.Env) (*registry.Response, error) {
		return r.contract.Instantiate(store, env, registry.MessageInfo{Sender: caller}, msg)
	})
}

// EnsureInstantiated 在首次启动时写入初始配置，已初始化则跳过。
func (r *Runtime) EnsureInstantiated(ctx context.Context, caller string, msg registry.InstantiateMsg) error {
	_, err := r.Instantiate(ctx, caller, msg)
	if xerrors.IsCode(err, xerrors.CodeAlreadyExists) {
		return nil
	}
	return err
}

// Execute 执行一条消息并原子提交。失败时不写入任何状态。
func (r *Runtime) Execute(ctx context.Context, caller string, funds coin.Coins, msg registry.ExecuteMsg) (*Result, error) {
	action, err := msg.Action()
	if err != nil {
		r.metrics.ObserveCall("execute", "invalid", string(xerrors.CodeOf(err)), 0)
		return nil, err
	}
	return r.commit(ctx, action, caller, func(store kv.Store, env registry.Env) (*registry.Response, error) {
		return r.contract.Execute(store, env, registry.MessageInfo{Sender: caller, Funds: funds}, msg)
	})
}

func (r *Runtime) commit(ctx context.Context, action, caller string, call func(kv.Store, registry.Env) (*registry.Response, error)) (*Result, error) {
	started := time.Now()
	callID := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()

	height, blockTime := r.clock.Peek()
	env := registry.Env{ChainID: r.chainID, BlockHeight: height, BlockTime: blockTime}
	cache := kv.NewCache(r.backend)
	resp, err := call(cache, env)
	if err != nil {
		cache.Discard()
		r.finish(ctx, "execute", action, callID, started, err)
		return nil, err
	}

	envelopes := r.envelopes(callID, height, action, caller, resp)
	seq := r.nextSeq
	ids := make([]string, 0, len(envelopes))
	for _, e := range envelopes {
		seq++
		id := pendingID(seq)
		if err := pending.Save(cache, id, e); err != nil {
			cache.Discard()
			r.finish(ctx, "execute", action, callID, started, err)
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := metaItem.Save(cache, blockMeta{Height: height, Time: blockTime, OutboxSeq: seq}); err != nil {
		cache.Discard()
		r.finish(ctx, "execute", action, callID, started, err)
		return nil, err
	}
	if err := cache.Flush(ctx, r.backend); err != nil {
		cache.Discard()
		err = xerrors.Wrap(xerrors.CodeStorageFailure, err, "commit call")
		r.finish(ctx, "execute", action, callID, started, err)
		return nil, err
	}
	r.clock.Advance(height, blockTime)
	r.nextSeq = seq

	logger.Audit().Info("execute committed",
		slog.String("call_id", callID),
		slog.Uint64("height", height),
		slog.String("caller", caller),
		slog.String("action", action),
		slog.Any("attributes", resp.Attributes),
	)
	r.metrics.AddTransfers(len(resp.Transfers))
	r.finish(ctx, "execute", action, callID, started, nil)

	if r.producer != nil {
		r.deliver(ctx, ids, envelopes)
	}
	return &Result{CallID: callID, Height: height, Time: blockTime, Action: action, Response: resp}, nil
}

func (r *Runtime) envelopes(callID string, height uint64, action, caller string, resp *registry.Response) []outbox.Envelope {
	out := make([]outbox.Envelope, 0, len(resp.Transfers)+1)
	for _, t := range resp.Transfers {
		e := outbox.NewEnvelope(outbox.KindTransfer, callID, height, action, caller)
		e.Transfer = &outbox.Transfer{Recipient: t.Recipient, Amount: t.Amount}
		out = append(out, e)
	}
	e := outbox.NewEnvelope(outbox.KindEvent, callID, height, action, caller)
	for _, a := range resp.Attributes {
		e.Attributes = append(e.Attributes, outbox.Attribute{Key: a.Key, Value: a.Value})
	}
	return append(out, e)
}

// deliver 投递已提交的信封，成功后从待投递区删除。失败的保留到下次 Redeliver。
func (r *Runtime) deliver(ctx context.Context, ids []string, envelopes []outbox.Envelope) {
	done := kv.NewCache(r.backend)
	for i, e := range envelopes {
		if err := r.producer.Publish(ctx, e); err != nil {
			r.logger.Error("投递信封失败", slog.Any("error", err), slog.String("envelope_id", e.ID), slog.String("call_id", e.CallID))
			r.alert(ctx, alerting.FromError("host", e.Action, e.CallID, xerrors.Wrap(xerrors.CodeQueueFailure, err, "publish envelope")))
			break
		}
		if err := pending.Remove(done, ids[i]); err != nil {
			break
		}
	}
	if err := done.Flush(ctx, r.backend); err != nil {
		r.logger.Error("清理待投递区失败", slog.Any("error", err))
	}
}

// Redeliver 重新投递待投递区中的全部信封，返回成功投递的数量。
func (r *Runtime) Redeliver(ctx context.Context) (int, error) {
	if r.producer == nil {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		ids       []string
		envelopes []outbox.Envelope
	)
	err := pending.Range(r.backend, "", kv.Ascending, func(id string, e outbox.Envelope) (bool, error) {
		ids = append(ids, id)
		envelopes = append(envelopes, e)
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	before := len(ids)
	r.deliver(ctx, ids, envelopes)
	remaining, err := pending.Count(r.backend)
	if err != nil {
		return 0, err
	}
	return before - int(remaining), nil
}

// Pending 返回尚未投递的信封数量。
func (r *Runtime) Pending() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return pending.Count(r.backend)
}

// Query 在已提交状态上执行只读查询。
func (r *Runtime) Query(ctx context.Context, msg registry.QueryMsg) (any, error) {
	started := time.Now()
	action, err := msg.Action()
	if err != nil {
		r.metrics.ObserveCall("query", "invalid", string(xerrors.CodeOf(err)), 0)
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	height, blockTime := r.clock.Current()
	out, err := r.contract.Query(r.backend, registry.Env{ChainID: r.chainID, BlockHeight: height, BlockTime: blockTime}, msg)
	r.finish(ctx, "query", action, "", started, err)
	return out, err
}

func (r *Runtime) finish(ctx context.Context, kind, action, callID string, started time.Time, err error) {
	code := ""
	if err != nil {
		code = string(xerrors.CodeOf(err))
	}
	r.metrics.ObserveCall(kind, action, code, time.Since(started))
	if err == nil {
		return
	}
	r.logger.Debug("调用失败",
		slog.String("kind", kind),
		slog.String("action", action),
		slog.String("call_id", callID),
		slog.String("error_code", code),
		slog.String("error", err.Error()),
	)
	if xerrors.ShouldAlert(err) {
		r.alert(ctx, alerting.FromError("host", action, callID, err))
	}
}

func (r *Runtime) alert(ctx context.Context, event alerting.Event) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.Notify(ctx, event); err != nil {
		r.logger.Error("告警通知失败", slog.Any("error", err), slog.String("subject", event.Subject))
	}
}

// Close 关闭存储后端。
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backend.Close()
}
