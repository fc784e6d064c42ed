package registry

import (
	"reflect"
	"strings"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
)

// InstantiateMsg 是初始化参数。Admin 为空时使用调用者。
type InstantiateMsg struct {
	Admin           string      `json:"admin,omitempty"`
	SettlementDenom string      `json:"settlement_denom"`
	MinAgentBalance coin.Amount `json:"min_agent_balance"`
	FeeBps          uint64      `json:"fee_bps"`
}

// ExecuteMsg 是执行消息的标签联合，恰好一个字段非空。
type ExecuteMsg struct {
	RegisterAgent       *RegisterAgent       `json:"register_agent,omitempty"`
	UpdateAgent         *UpdateAgent         `json:"update_agent,omitempty"`
	DeactivateAgent     *DeactivateAgent     `json:"deactivate_agent,omitempty"`
	FundAgent           *FundAgent           `json:"fund_agent,omitempty"`
	WithdrawFromAgent   *WithdrawFromAgent   `json:"withdraw_from_agent,omitempty"`
	AgentTransfer       *AgentTransfer       `json:"agent_transfer,omitempty"`
	BatchAgentTransfer  *BatchAgentTransfer  `json:"batch_agent_transfer,omitempty"`
	RequestService      *RequestService      `json:"request_service,omitempty"`
	CompleteService     *CompleteService     `json:"complete_service,omitempty"`
	RefundService       *RefundService       `json:"refund_service,omitempty"`
	SendMessage         *SendMessage         `json:"send_message,omitempty"`
	RespondToMessage    *RespondToMessage    `json:"respond_to_message,omitempty"`
	CreatePurchaseOrder *CreatePurchaseOrder `json:"create_purchase_order,omitempty"`
	UpdatePurchaseOrder *UpdatePurchaseOrder `json:"update_purchase_order,omitempty"`
	CreateInvoice       *CreateInvoice       `json:"create_invoice,omitempty"`
	PayInvoice          *PayInvoice          `json:"pay_invoice,omitempty"`
	ConfirmReceipt      *ConfirmReceipt      `json:"confirm_receipt,omitempty"`
	InitiateRefund      *InitiateRefund      `json:"initiate_refund,omitempty"`
	ReconcileAccounts   *ReconcileAccounts   `json:"reconcile_accounts,omitempty"`
	UpdateConfig        *UpdateConfig        `json:"update_config,omitempty"`
	WithdrawFees        *WithdrawFees        `json:"withdraw_fees,omitempty"`
	RegisterServiceType *RegisterServiceType `json:"register_service_type,omitempty"`
}

// Action 返回被设置的变体名（JSON 标签），用于日志与指标。
func (m ExecuteMsg) Action() (string, error) {
	return variantOf(m, "execute")
}

// RegisterAgent 为调用者注册代理。附带资金必须与 InitialBalance 一致。
type RegisterAgent struct {
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Capabilities   []string   `json:"capabilities"`
	Endpoints      []string   `json:"service_endpoints"`
	InitialBalance *coin.Coin `json:"initial_balance,omitempty"`
}

// UpdateAgent 修改代理资料，nil 字段保持不变。
type UpdateAgent struct {
	AgentID      string    `json:"agent_id"`
	Name         *string   `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	Capabilities *[]string `json:"capabilities,omitempty"`
	Endpoints    *[]string `json:"service_endpoints,omitempty"`
}

// DeactivateAgent 停用代理。
type DeactivateAgent struct {
	AgentID string `json:"agent_id"`
}

// FundAgent 把附带资金存入代理钱包。
type FundAgent struct {
	AgentID string `json:"agent_id"`
}

// WithdrawFromAgent 从代理钱包提取到外部地址。
type WithdrawFromAgent struct {
	AgentID   string    `json:"agent_id"`
	Amount    coin.Coin `json:"amount"`
	Recipient string    `json:"recipient"`
}

// AgentTransfer 在两个代理钱包之间转账。
type AgentTransfer struct {
	FromAgentID string    `json:"from_agent_id"`
	ToAgentID   string    `json:"to_agent_id"`
	Amount      coin.Coin `json:"amount"`
	Memo        *string   `json:"memo,omitempty"`
}

// Transfer 是批量转账中的一项。
type Transfer struct {
	ToAgentID string    `json:"to_agent_id"`
	Amount    coin.Coin `json:"amount"`
	Memo      *string   `json:"memo,omitempty"`
}

// BatchAgentTransfer 从同一钱包一次转给多个代理，全部成功或全部失败。
type BatchAgentTransfer struct {
	FromAgentID string     `json:"from_agent_id"`
	Transfers   []Transfer `json:"transfers"`
}

// RequestService 请求服务并把付款锁入托管。
type RequestService struct {
	RequesterAgentID string    `json:"requester_agent_id"`
	ProviderAgentID  string    `json:"provider_agent_id"`
	ServiceType      string    `json:"service_type"`
	Payment          coin.Coin `json:"payment"`
	Parameters       string    `json:"parameters"`
}

// CompleteService 由提供方完成服务并结算托管。
type CompleteService struct {
	ServiceID string `json:"service_id"`
	Result    string `json:"result"`
}

// RefundService 退回托管付款。
type RefundService struct {
	ServiceID string `json:"service_id"`
	Reason    string `json:"reason"`
}

// SendMessage 向另一代理发送消息。
type SendMessage struct {
	FromAgentID      string      `json:"from_agent_id"`
	ToAgentID        string      `json:"to_agent_id"`
	MessageType      MessageType `json:"message_type"`
	Content          string      `json:"content"`
	RequiresResponse bool        `json:"requires_response"`
}

// RespondToMessage 回复需要响应的消息。
type RespondToMessage struct {
	MessageID       string `json:"message_id"`
	FromAgentID     string `json:"from_agent_id"`
	ResponseContent string `json:"response_content"`
}

// CreatePurchaseOrder 由买方创建草稿采购单。
type CreatePurchaseOrder struct {
	BuyerAgentID  string              `json:"buyer_agent_id"`
	SellerAgentID string              `json:"seller_agent_id"`
	Items         []PurchaseOrderItem `json:"items"`
	DeliveryTerms string              `json:"delivery_terms"`
	PaymentTerms  PaymentTerms        `json:"payment_terms"`
	Metadata      *string             `json:"metadata,omitempty"`
}

// UpdatePurchaseOrder 推进采购单状态。
type UpdatePurchaseOrder struct {
	POID           string              `json:"po_id"`
	Status         PurchaseOrderStatus `json:"status"`
	UpdaterAgentID string              `json:"updater_agent_id"`
	Notes          *string             `json:"notes,omitempty"`
}

// CreateInvoice 由卖方为已交付或进行中的采购单开票。
type CreateInvoice struct {
	POID          string            `json:"po_id"`
	SellerAgentID string            `json:"seller_agent_id"`
	LineItems     []InvoiceLineItem `json:"line_items"`
	TaxRate       *uint64           `json:"tax_rate,omitempty"`
	DiscountRate  *uint64           `json:"discount_rate,omitempty"`
	DueDate       uint64            `json:"due_date"`
	Metadata      *string           `json:"metadata,omitempty"`
}

// PayInvoice 由买方支付发票。
type PayInvoice struct {
	InvoiceID        string  `json:"invoice_id"`
	BuyerAgentID     string  `json:"buyer_agent_id"`
	PaymentReference *string `json:"payment_reference,omitempty"`
}

// ConfirmReceipt 记录收货并把采购单置为 Delivered。
type ConfirmReceipt struct {
	POID          string        `json:"po_id"`
	BuyerAgentID  string        `json:"buyer_agent_id"`
	ItemsReceived []ItemReceipt `json:"items_received"`
	Notes         *string       `json:"notes,omitempty"`
}

// InitiateRefund 对已支付发票发起退款请求，只发送通知。
type InitiateRefund struct {
	InvoiceID        string    `json:"invoice_id"`
	RequesterAgentID string    `json:"requester_agent_id"`
	Amount           coin.Coin `json:"amount"`
	Reason           string    `json:"reason"`
}

// ReconcileAccounts 按时间窗口重算代理财务。
type ReconcileAccounts struct {
	AgentID     string `json:"agent_id"`
	PeriodStart uint64 `json:"period_start"`
	PeriodEnd   uint64 `json:"period_end"`
}

// UpdateConfig 修改全局配置，仅管理员可用。
type UpdateConfig struct {
	SettlementDenom *string      `json:"settlement_denom,omitempty"`
	MinAgentBalance *coin.Amount `json:"min_agent_balance,omitempty"`
	FeeBps          *uint64      `json:"fee_bps,omitempty"`
}

// WithdrawFees 将累计的服务费转出。Amount 为空表示全部。
type WithdrawFees struct {
	Recipient string       `json:"recipient"`
	Amount    *coin.Amount `json:"amount,omitempty"`
}

// RegisterServiceType 登记服务类型及其最低价格与能力要求。
type RegisterServiceType struct {
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	MinPayment           coin.Amount `json:"min_payment"`
	RequiredCapabilities []string    `json:"required_capabilities"`
}

// QueryMsg 是查询消息的标签联合，恰好一个字段非空。
type QueryMsg struct {
	Config              *struct{}                 `json:"config,omitempty"`
	Agent               *AgentQuery               `json:"agent,omitempty"`
	ListAgents          *ListAgentsQuery          `json:"list_agents,omitempty"`
	AgentBalance        *AgentQuery               `json:"agent_balance,omitempty"`
	Service             *ServiceQuery             `json:"service,omitempty"`
	ListServices        *ListServicesQuery        `json:"list_services,omitempty"`
	AgentsByCapability  *AgentsByCapabilityQuery  `json:"agents_by_capability,omitempty"`
	TransactionHistory  *TransactionHistoryQuery  `json:"transaction_history,omitempty"`
	AgentMessages       *AgentMessagesQuery       `json:"agent_messages,omitempty"`
	Message             *MessageQuery             `json:"message,omitempty"`
	PurchaseOrder       *PurchaseOrderQuery       `json:"purchase_order,omitempty"`
	AgentPurchaseOrders *AgentPurchaseOrdersQuery `json:"agent_purchase_orders,omitempty"`
	Invoice             *InvoiceQuery             `json:"invoice,omitempty"`
	AgentInvoices       *AgentInvoicesQuery       `json:"agent_invoices,omitempty"`
	AccountSummary      *AccountSummaryQuery      `json:"account_summary,omitempty"`
	Receipts            *PurchaseOrderQuery       `json:"receipts,omitempty"`
	ServiceTypes        *struct{}                 `json:"service_types,omitempty"`
	ReputationHistory   *ReputationHistoryQuery   `json:"reputation_history,omitempty"`
}

// Action 返回被设置的查询名。
func (m QueryMsg) Action() (string, error) {
	return variantOf(m, "query")
}

// AgentQuery 按 id 查询代理。
type AgentQuery struct {
	AgentID string `json:"agent_id"`
}

// ListAgentsQuery 按 id 分页列出代理。
type ListAgentsQuery struct {
	StartAfter string  `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

// ServiceQuery 按 id 查询服务。
type ServiceQuery struct {
	ServiceID string `json:"service_id"`
}

// ListServicesQuery 按代理与状态过滤服务。
type ListServicesQuery struct {
	AgentID    *string        `json:"agent_id,omitempty"`
	Status     *ServiceStatus `json:"status,omitempty"`
	StartAfter string         `json:"start_after,omitempty"`
	Limit      *uint32        `json:"limit,omitempty"`
}

// AgentsByCapabilityQuery 查询带有某能力标签的代理。
type AgentsByCapabilityQuery struct {
	Capability string  `json:"capability"`
	StartAfter string  `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

// TransactionHistoryQuery 按 tx id 倒序查询代理的交易流水。
type TransactionHistoryQuery struct {
	AgentID    string  `json:"agent_id"`
	StartAfter *uint64 `json:"start_after,omitempty"`
	Limit      *uint32 `json:"limit,omitempty"`
}

// AgentMessagesQuery 查询代理的收件箱或发件箱。
type AgentMessagesQuery struct {
	AgentID     string       `json:"agent_id"`
	MessageType *MessageType `json:"message_type,omitempty"`
	StartAfter  string       `json:"start_after,omitempty"`
	Limit       *uint32      `json:"limit,omitempty"`
}

// MessageQuery 按 id 查询消息。
type MessageQuery struct {
	MessageID string `json:"message_id"`
}

// PurchaseOrderQuery 按 id 查询采购单。
type PurchaseOrderQuery struct {
	POID string `json:"po_id"`
}

// AgentPurchaseOrdersQuery 按角色与状态列出代理的采购单。
type AgentPurchaseOrdersQuery struct {
	AgentID    string               `json:"agent_id"`
	Role       AgentRole            `json:"role"`
	Status     *PurchaseOrderStatus `json:"status,omitempty"`
	StartAfter string               `json:"start_after,omitempty"`
	Limit      *uint32              `json:"limit,omitempty"`
}

// InvoiceQuery 按 id 查询发票。
type InvoiceQuery struct {
	InvoiceID string `json:"invoice_id"`
}

// AgentInvoicesQuery 按角色与支付状态列出代理的发票。
type AgentInvoicesQuery struct {
	AgentID    string    `json:"agent_id"`
	Role       AgentRole `json:"role"`
	Paid       *bool     `json:"paid,omitempty"`
	StartAfter string    `json:"start_after,omitempty"`
	Limit      *uint32   `json:"limit,omitempty"`
}

// AccountSummaryQuery 查询代理在时间窗口内的财务汇总。
type AccountSummaryQuery struct {
	AgentID     string  `json:"agent_id"`
	PeriodStart *uint64 `json:"period_start,omitempty"`
	PeriodEnd   *uint64 `json:"period_end,omitempty"`
}

// ReputationHistoryQuery 查询代理的信誉变化记录。
type ReputationHistoryQuery struct {
	AgentID string  `json:"agent_id"`
	Limit   *uint32 `json:"limit,omitempty"`
}

// variantOf 校验标签联合恰好设置了一个指针字段，并返回其 JSON 名称。
func variantOf(msg any, kind string) (string, error) {
	v := reflect.ValueOf(msg)
	t := v.Type()
	name := ""
	for i := 0; i < v.NumField(); i++ {
		if v.Field(i).IsNil() {
			continue
		}
		if name != "" {
			return "", xerrors.New(xerrors.CodeInvalidInput, kind+" message must contain exactly one variant")
		}
		name, _, _ = strings.Cut(t.Field(i).Tag.Get("json"), ",")
	}
	if name == "" {
		return "", xerrors.New(xerrors.CodeInvalidInput, "empty "+kind+" message")
	}
	return name, nil
}
