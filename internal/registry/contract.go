// Package registry 实现代理注册与交易市场的账本和工作流引擎。
//
// 引擎是纯状态转换函数：给定存储、调用者、区块上下文和消息，
// 产生新的存储状态和响应。调用的原子性由宿主通过 kv.Cache 保证。
package registry

import (
	"strconv"
	"strings"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
)

// Env 是宿主提供的区块上下文。
type Env struct {
	ChainID     string `json:"chain_id"`
	BlockHeight uint64 `json:"block_height"`
	BlockTime   uint64 `json:"block_time"`
}

// MessageInfo 是调用者身份与随调用附带的资金。
type MessageInfo struct {
	Sender string     `json:"sender"`
	Funds  coin.Coins `json:"funds,omitempty"`
}

// Attribute 是响应中的键值属性。
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// TransferInstruction 是交由宿主在提交后执行的原生资产转账。
type TransferInstruction struct {
	Recipient string     `json:"recipient"`
	Amount    coin.Coins `json:"amount"`
}

// Response 是一次执行调用的结果。
type Response struct {
	Attributes []Attribute           `json:"attributes"`
	Transfers  []TransferInstruction `json:"transfers,omitempty"`
}

// Attr 返回第一个同名属性的值。
func (r *Response) Attr(key string) string {
	for _, a := range r.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func (r *Response) add(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

func (r *Response) addUint(key string, value uint64) *Response {
	return r.add(key, strconv.FormatUint(value, 10))
}

// Contract 是引擎入口，本身不持有状态。
type Contract struct {
	addresses AddressValidator
}

// Option 配置 Contract。
type Option func(*Contract)

// WithAddressValidator 替换提现收款地址的校验器。
func WithAddressValidator(v AddressValidator) Option {
	return func(c *Contract) {
		if v != nil {
			c.addresses = v
		}
	}
}

// New 创建合约实例。
func New(opts ...Option) *Contract {
	c := &Contract{addresses: EVMAddressValidator{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// callCtx 是单次执行的上下文，配置在调用结束时统一写回。
type callCtx struct {
	store     kv.Store
	env       Env
	info      MessageInfo
	cfg       Config
	resp      *Response
	addresses AddressValidator
}

func (c *callCtx) now() uint64 { return c.env.BlockTime }

// Instantiate 初始化配置。重复初始化会失败。
func (c *Contract) Instantiate(store kv.Store, env Env, info MessageInfo, msg InstantiateMsg) (*Response, error) {
	if _, ok, err := configItem.Get(store); err != nil {
		return nil, err
	} else if ok {
		return nil, xerrors.New(xerrors.CodeAlreadyExists, "contract already instantiated")
	}
	admin := strings.TrimSpace(msg.Admin)
	if admin == "" {
		admin = info.Sender
	}
	if admin == "" {
		return nil, xerrors.New(xerrors.CodeMisconfiguration, "admin is required")
	}
	if strings.TrimSpace(msg.SettlementDenom) == "" {
		return nil, xerrors.New(xerrors.CodeMisconfiguration, "settlement denom is required")
	}
	if msg.FeeBps > coin.BasisPoints {
		return nil, xerrors.Newf(xerrors.CodeMisconfiguration, "fee rate %d exceeds %d basis points", msg.FeeBps, coin.BasisPoints)
	}
	cfg := Config{
		Admin:           admin,
		SettlementDenom: msg.SettlementDenom,
		MinAgentBalance: msg.MinAgentBalance,
		FeeBps:          msg.FeeBps,
		NextAgentID:     1,
		NextServiceID:   1,
		NextTxID:        1,
	}
	if err := configItem.Save(store, cfg); err != nil {
		return nil, err
	}
	resp := &Response{}
	resp.add("method", "instantiate").add("admin", admin).add("settlement_denom", cfg.SettlementDenom).addUint("fee_bps", cfg.FeeBps)
	return resp, nil
}

// Execute 处理一条执行消息。返回错误时调用方必须丢弃 store 中的全部写入。
func (c *Contract) Execute(store kv.Store, env Env, info MessageInfo, msg ExecuteMsg) (*Response, error) {
	if strings.TrimSpace(info.Sender) == "" {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "caller identity is required")
	}
	if _, err := msg.Action(); err != nil {
		return nil, err
	}
	cfg, err := configItem.Load(store)
	if err != nil {
		return nil, err
	}
	call := &callCtx{
		store:     store,
		env:       env,
		info:      info,
		cfg:       cfg,
		resp:      &Response{},
		addresses: c.addresses,
	}
	if err := call.dispatch(msg); err != nil {
		return nil, err
	}
	if err := configItem.Save(store, call.cfg); err != nil {
		return nil, err
	}
	return call.resp, nil
}

func (c *callCtx) dispatch(msg ExecuteMsg) error {
	switch {
	case msg.RegisterAgent != nil:
		return c.registerAgent(*msg.RegisterAgent)
	case msg.UpdateAgent != nil:
		return c.updateAgent(*msg.UpdateAgent)
	case msg.DeactivateAgent != nil:
		return c.deactivateAgent(*msg.DeactivateAgent)
	case msg.FundAgent != nil:
		return c.fundAgent(*msg.FundAgent)
	case msg.WithdrawFromAgent != nil:
		return c.withdrawFromAgent(*msg.WithdrawFromAgent)
	case msg.AgentTransfer != nil:
		return c.agentTransfer(*msg.AgentTransfer)
	case msg.BatchAgentTransfer != nil:
		return c.batchAgentTransfer(*msg.BatchAgentTransfer)
	case msg.RequestService != nil:
		return c.requestService(*msg.RequestService)
	case msg.CompleteService != nil:
		return c.completeService(*msg.CompleteService)
	case msg.RefundService != nil:
		return c.refundService(*msg.RefundService)
	case msg.SendMessage != nil:
		return c.sendMessage(*msg.SendMessage)
	case msg.RespondToMessage != nil:
		return c.respondToMessage(*msg.RespondToMessage)
	case msg.CreatePurchaseOrder != nil:
		return c.createPurchaseOrder(*msg.CreatePurchaseOrder)
	case msg.UpdatePurchaseOrder != nil:
		return c.updatePurchaseOrder(*msg.UpdatePurchaseOrder)
	case msg.CreateInvoice != nil:
		return c.createInvoice(*msg.CreateInvoice)
	case msg.PayInvoice != nil:
		return c.payInvoice(*msg.PayInvoice)
	case msg.ConfirmReceipt != nil:
		return c.confirmReceipt(*msg.ConfirmReceipt)
	case msg.InitiateRefund != nil:
		return c.initiateRefund(*msg.InitiateRefund)
	case msg.ReconcileAccounts != nil:
		return c.reconcileAccounts(*msg.ReconcileAccounts)
	case msg.UpdateConfig != nil:
		return c.updateConfig(*msg.UpdateConfig)
	case msg.WithdrawFees != nil:
		return c.withdrawFees(*msg.WithdrawFees)
	case msg.RegisterServiceType != nil:
		return c.registerServiceType(*msg.RegisterServiceType)
	default:
		return xerrors.New(xerrors.CodeInvalidInput, "empty execute message")
	}
}

// Query 处理只读查询，返回可 JSON 编码的投影。
func (c *Contract) Query(store kv.Reader, env Env, msg QueryMsg) (any, error) {
	if _, err := msg.Action(); err != nil {
		return nil, err
	}
	q := &queryCtx{store: store, env: env}
	return q.dispatch(msg)
}
