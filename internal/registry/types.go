package registry

import (
	"encoding/json"
	"strings"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
)

// Config 是全局唯一的配置记录，同时保存所有自增计数器。
type Config struct {
	Admin           string      `json:"admin"`
	SettlementDenom string      `json:"settlement_denom"`
	MinAgentBalance coin.Amount `json:"min_agent_balance"`
	FeeBps          uint64      `json:"fee_bps"`
	CollectedFees   coin.Amount `json:"collected_fees"`

	NextAgentID         uint64 `json:"next_agent_id"`
	NextServiceID       uint64 `json:"next_service_id"`
	NextTxID            uint64 `json:"next_tx_id"`
	NextMessageID       uint64 `json:"next_message_id"`
	NextPurchaseOrderID uint64 `json:"next_purchase_order_id"`
	NextInvoiceID       uint64 `json:"next_invoice_id"`
}

// Agent 是注册的经济主体。
type Agent struct {
	ID                string   `json:"agent_id"`
	Owner             string   `json:"owner"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Capabilities      []string `json:"capabilities"`
	Endpoints         []string `json:"service_endpoints"`
	WalletAddress     string   `json:"wallet_address"`
	Active            bool     `json:"is_active"`
	CreatedAt         uint64   `json:"created_at"`
	LastActive        uint64   `json:"last_active"`
	ServicesProvided  uint64   `json:"total_services_provided"`
	ServicesRequested uint64   `json:"total_services_requested"`
	ReputationScore   uint64   `json:"reputation_score"`
}

// AgentWallet 记录代理的余额。Balance 为总余额，Locked 为其中被托管锁定的部分。
type AgentWallet struct {
	AgentID string    `json:"agent_id"`
	Balance coin.Coin `json:"balance"`
	Locked  coin.Coin `json:"locked_balance"`
}

// Spendable 返回可自由支配的余额 Balance-Locked。
func (w AgentWallet) Spendable() coin.Amount {
	return w.Balance.Amount.SaturatingSub(w.Locked.Amount)
}

// ServiceStatus 是服务请求的状态。
type ServiceStatus string

const (
	ServicePending   ServiceStatus = "pending"
	ServiceCompleted ServiceStatus = "completed"
	ServiceRefunded  ServiceStatus = "refunded"
)

// Service 是代理之间的一次付费服务请求。
type Service struct {
	ID             string        `json:"service_id"`
	RequesterID    string        `json:"requester_agent_id"`
	ProviderID     string        `json:"provider_agent_id"`
	ServiceType    string        `json:"service_type"`
	Payment        coin.Coin     `json:"payment"`
	Status         ServiceStatus `json:"status"`
	Parameters     string        `json:"parameters"`
	Result         *string       `json:"result,omitempty"`
	CreatedAt      uint64        `json:"created_at"`
	CompletedAt    *uint64       `json:"completed_at,omitempty"`
	EscrowReleased bool          `json:"escrow_released"`
}

// ServiceTypeInfo 描述管理员登记的服务类型约束。
type ServiceTypeInfo struct {
	Name                 string      `json:"name"`
	Description          string      `json:"description"`
	MinPayment           coin.Amount `json:"min_payment"`
	RequiredCapabilities []string    `json:"required_capabilities"`
}

// TransactionType 是交易流水的类别。
type TransactionType string

const (
	TxDeposit        TransactionType = "deposit"
	TxWithdrawal     TransactionType = "withdrawal"
	TxTransfer       TransactionType = "transfer"
	TxServicePayment TransactionType = "service_payment"
	TxServiceRefund  TransactionType = "service_refund"
	TxFee            TransactionType = "fee"
)

// TransactionRecord 是不可变的交易流水。
type TransactionRecord struct {
	ID        uint64          `json:"tx_id"`
	Type      TransactionType `json:"tx_type"`
	From      *string         `json:"from,omitempty"`
	To        *string         `json:"to,omitempty"`
	Amount    coin.Coin       `json:"amount"`
	Memo      *string         `json:"memo,omitempty"`
	Timestamp uint64          `json:"timestamp"`
}

// MessageKind 是消息类型的枚举部分。
type MessageKind string

const (
	KindServiceRequest      MessageKind = "service_request"
	KindServiceResponse     MessageKind = "service_response"
	KindNegotiation         MessageKind = "negotiation"
	KindInformation         MessageKind = "information"
	KindAlert               MessageKind = "alert"
	KindPurchaseOrder       MessageKind = "purchase_order"
	KindInvoice             MessageKind = "invoice"
	KindPaymentNotification MessageKind = "payment_notification"
	KindReceiptConfirmation MessageKind = "receipt_confirmation"
	KindCustom              MessageKind = "custom"
)

var knownKinds = map[MessageKind]struct{}{
	KindServiceRequest: {}, KindServiceResponse: {}, KindNegotiation: {},
	KindInformation: {}, KindAlert: {}, KindPurchaseOrder: {}, KindInvoice: {},
	KindPaymentNotification: {}, KindReceiptConfirmation: {},
}

// MessageType 是带可选自定义标签的消息类型。
//
// JSON 形式为 "information" 或 {"custom":"RefundRequest"}。
type MessageType struct {
	Kind   MessageKind
	Custom string
}

// TypeOf 返回内置类型。
func TypeOf(kind MessageKind) MessageType { return MessageType{Kind: kind} }

// CustomType 返回自定义类型。
func CustomType(tag string) MessageType { return MessageType{Kind: KindCustom, Custom: tag} }

// Validate 校验类型合法。
func (t MessageType) Validate() error {
	if t.Kind == KindCustom {
		if strings.TrimSpace(t.Custom) == "" {
			return xerrors.New(xerrors.CodeInvalidInput, "custom message type requires a tag")
		}
		return nil
	}
	if _, ok := knownKinds[t.Kind]; !ok {
		return xerrors.New(xerrors.CodeInvalidInput, "unknown message type: "+string(t.Kind))
	}
	return nil
}

// String 返回可读形式。
func (t MessageType) String() string {
	if t.Kind == KindCustom {
		return "custom:" + t.Custom
	}
	return string(t.Kind)
}

// MarshalJSON 实现 json.Marshaler。
func (t MessageType) MarshalJSON() ([]byte, error) {
	if t.Kind == KindCustom {
		return json.Marshal(map[string]string{"custom": t.Custom})
	}
	return json.Marshal(string(t.Kind))
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var kind string
	if err := json.Unmarshal(data, &kind); err == nil {
		*t = MessageType{Kind: MessageKind(kind)}
		return nil
	}
	var custom struct {
		Custom *string `json:"custom"`
	}
	if err := json.Unmarshal(data, &custom); err != nil || custom.Custom == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "invalid message type: "+string(data))
	}
	*t = CustomType(*custom.Custom)
	return nil
}

// MessageResponse 是消息的唯一回复。
type MessageResponse struct {
	Content     string `json:"response_content"`
	RespondedAt uint64 `json:"responded_at"`
}

// AgentMessage 是代理之间或系统发出的消息。
type AgentMessage struct {
	ID               string           `json:"message_id"`
	Seq              uint64           `json:"seq"`
	From             string           `json:"from_agent_id"`
	To               string           `json:"to_agent_id"`
	Type             MessageType      `json:"message_type"`
	Content          string           `json:"content"`
	RequiresResponse bool             `json:"requires_response"`
	Timestamp        uint64           `json:"timestamp"`
	Response         *MessageResponse `json:"response,omitempty"`
}

// Direction 区分收件箱和发件箱。
type Direction uint8

const (
	Inbox Direction = iota + 1
	Outbox
)

// Role 区分采购单或发票中的买方与卖方。
type Role uint8

const (
	RoleBuyer Role = iota + 1
	RoleSeller
)

// AgentRole 是查询时的角色过滤。
type AgentRole string

const (
	AgentRoleBuyer  AgentRole = "buyer"
	AgentRoleSeller AgentRole = "seller"
	AgentRoleBoth   AgentRole = "both"
)

func (r AgentRole) roles() ([]Role, error) {
	switch r {
	case AgentRoleBuyer:
		return []Role{RoleBuyer}, nil
	case AgentRoleSeller:
		return []Role{RoleSeller}, nil
	case AgentRoleBoth, "":
		return []Role{RoleBuyer, RoleSeller}, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidInput, "unknown role: "+string(r))
	}
}

// PurchaseOrderStatus 是采购单状态。
type PurchaseOrderStatus string

const (
	PODraft      PurchaseOrderStatus = "draft"
	POSubmitted  PurchaseOrderStatus = "submitted"
	POAccepted   PurchaseOrderStatus = "accepted"
	PORejected   PurchaseOrderStatus = "rejected"
	POInProgress PurchaseOrderStatus = "in_progress"
	PODelivered  PurchaseOrderStatus = "delivered"
	POCompleted  PurchaseOrderStatus = "completed"
	POCancelled  PurchaseOrderStatus = "cancelled"
)

// PaymentType 是付款方式。
type PaymentType string

const (
	PaymentImmediate PaymentType = "immediate"
	PaymentNet       PaymentType = "net"
	PaymentDeposit   PaymentType = "deposit"
	PaymentMilestone PaymentType = "milestone"
)

// PaymentTerms 是采购单的付款条件。
type PaymentTerms struct {
	PaymentType       PaymentType `json:"payment_type"`
	DepositPercentage *uint64     `json:"deposit_percentage,omitempty"`
	NetDays           uint64      `json:"net_days"`
}

// PurchaseOrderItem 是采购单行项目。
type PurchaseOrderItem struct {
	ItemID      string      `json:"item_id"`
	Description string      `json:"description"`
	Quantity    uint64      `json:"quantity"`
	UnitPrice   coin.Amount `json:"unit_price"`
	Unit        string      `json:"unit"`
}

// PurchaseOrder 是买卖双方之间的采购协议。
type PurchaseOrder struct {
	ID            string              `json:"po_id"`
	Seq           uint64              `json:"seq"`
	BuyerID       string              `json:"buyer_agent_id"`
	SellerID      string              `json:"seller_agent_id"`
	Items         []PurchaseOrderItem `json:"items"`
	TotalAmount   coin.Amount         `json:"total_amount"`
	Status        PurchaseOrderStatus `json:"status"`
	CreatedAt     uint64              `json:"created_at"`
	UpdatedAt     uint64              `json:"updated_at"`
	DeliveryTerms string              `json:"delivery_terms"`
	PaymentTerms  PaymentTerms        `json:"payment_terms"`
	InvoiceID     *string             `json:"invoice_id,omitempty"`
	Metadata      *string             `json:"metadata,omitempty"`
}

// InvoiceLineItem 是发票行项目。
type InvoiceLineItem struct {
	Description string      `json:"description"`
	Quantity    uint64      `json:"quantity"`
	UnitPrice   coin.Amount `json:"unit_price"`
	POItemID    *string     `json:"po_item_id,omitempty"`
}

// Invoice 是卖方针对采购单开具的发票。
type Invoice struct {
	ID               string            `json:"invoice_id"`
	Seq              uint64            `json:"seq"`
	POID             string            `json:"po_id"`
	SellerID         string            `json:"seller_agent_id"`
	BuyerID          string            `json:"buyer_agent_id"`
	LineItems        []InvoiceLineItem `json:"line_items"`
	Subtotal         coin.Amount       `json:"subtotal"`
	TaxAmount        coin.Amount       `json:"tax_amount"`
	DiscountAmount   coin.Amount       `json:"discount_amount"`
	TotalAmount      coin.Amount       `json:"total_amount"`
	TaxBps           *uint64           `json:"tax_rate,omitempty"`
	DiscountBps      *uint64           `json:"discount_rate,omitempty"`
	Paid             bool              `json:"paid"`
	PaidAt           *uint64           `json:"paid_at,omitempty"`
	CreatedAt        uint64            `json:"created_at"`
	DueDate          uint64            `json:"due_date"`
	PaymentReference *string           `json:"payment_reference,omitempty"`
	Metadata         *string           `json:"metadata,omitempty"`
}

// ItemCondition 是收货时的货品状况。
type ItemCondition string

const (
	ConditionGood    ItemCondition = "good"
	ConditionDamaged ItemCondition = "damaged"
	ConditionMissing ItemCondition = "missing"
	ConditionWrong   ItemCondition = "wrong"
)

// ItemReceipt 是单个行项目的收货记录。
type ItemReceipt struct {
	POItemID         string        `json:"po_item_id"`
	QuantityReceived uint64        `json:"quantity_received"`
	Condition        ItemCondition `json:"condition"`
	Notes            *string       `json:"notes,omitempty"`
}

// Receipt 是买方确认的一次收货，一个采购单可有多次。
type Receipt struct {
	POID          string        `json:"po_id"`
	ConfirmedBy   string        `json:"confirmed_by"`
	ItemsReceived []ItemReceipt `json:"items_received"`
	ConfirmedAt   uint64        `json:"confirmed_at"`
	Notes         *string       `json:"notes,omitempty"`
}

// AgentFinancials 是代理的汇总财务数据，可通过对账完全重算。
type AgentFinancials struct {
	AgentID                string      `json:"agent_id"`
	TotalSales             coin.Amount `json:"total_sales"`
	TotalPurchases         coin.Amount `json:"total_purchases"`
	OutstandingReceivables coin.Amount `json:"outstanding_receivables"`
	OutstandingPayables    coin.Amount `json:"outstanding_payables"`
	CompletedOrders        uint64      `json:"completed_orders"`
	PendingOrders          uint64      `json:"pending_orders"`
	LastUpdated            uint64      `json:"last_updated"`
}

// ReputationKind 是信誉变化的原因类别。
type ReputationKind string

const (
	ReputationServiceCompleted ReputationKind = "service_completed"
	ReputationServiceRefunded  ReputationKind = "service_refunded"
)

// ReputationEvent 记录一次信誉分变化。
type ReputationEvent struct {
	AgentID   string         `json:"agent_id"`
	Kind      ReputationKind `json:"kind"`
	Delta     int64          `json:"delta"`
	Score     uint64         `json:"score"`
	Reason    string         `json:"reason"`
	Timestamp uint64         `json:"timestamp"`
}
