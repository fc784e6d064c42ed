package registry

import (
	"sort"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
)

// 分页限制。
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

func clampLimit(limit *uint32) int {
	if limit == nil || *limit == 0 {
		return DefaultLimit
	}
	if *limit > MaxLimit {
		return MaxLimit
	}
	return int(*limit)
}

// ConfigResponse 是 config 查询结果。
type ConfigResponse struct {
	Admin           string      `json:"admin"`
	SettlementDenom string      `json:"settlement_denom"`
	MinAgentBalance coin.Amount `json:"min_agent_balance"`
	FeeBps          uint64      `json:"fee_bps"`
	CollectedFees   coin.Amount `json:"collected_fees"`
	TotalAgents     uint64      `json:"total_agents"`
	TotalServices   uint64      `json:"total_services"`
}

// AgentResponse 是代理详情，附带总余额。
type AgentResponse struct {
	Agent
	Balance coin.Coin `json:"balance"`
}

// AgentInfo 是代理列表中的摘要。
type AgentInfo struct {
	AgentID         string    `json:"agent_id"`
	Name            string    `json:"name"`
	Active          bool      `json:"is_active"`
	Balance         coin.Coin `json:"balance"`
	ReputationScore uint64    `json:"reputation_score"`
}

// AgentsResponse 是代理列表。
type AgentsResponse struct {
	Agents []AgentInfo `json:"agents"`
}

// CapabilityResponse 是按能力查询的结果。
type CapabilityResponse struct {
	Capability string      `json:"capability"`
	Agents     []AgentInfo `json:"agents"`
}

// BalanceResponse 是钱包余额视图。
type BalanceResponse struct {
	AgentID   string    `json:"agent_id"`
	Balance   coin.Coin `json:"balance"`
	Locked    coin.Coin `json:"locked_balance"`
	Available coin.Coin `json:"available_balance"`
}

// ServiceInfo 是服务列表中的摘要。
type ServiceInfo struct {
	ServiceID   string        `json:"service_id"`
	ServiceType string        `json:"service_type"`
	Status      ServiceStatus `json:"status"`
	Payment     coin.Coin     `json:"payment"`
	CreatedAt   uint64        `json:"created_at"`
}

// ServicesResponse 是服务列表。
type ServicesResponse struct {
	Services []ServiceInfo `json:"services"`
}

// TransactionsResponse 是交易流水，按 tx id 倒序。
type TransactionsResponse struct {
	Transactions []TransactionRecord `json:"transactions"`
}

// MessagesResponse 是消息列表。
type MessagesResponse struct {
	Messages []AgentMessage `json:"messages"`
}

// PurchaseOrdersResponse 是采购单列表。
type PurchaseOrdersResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

// InvoicesResponse 是发票列表。
type InvoicesResponse struct {
	Invoices []Invoice `json:"invoices"`
}

// AccountSummary 是代理财务汇总。
type AccountSummary struct {
	AgentID                string      `json:"agent_id"`
	PeriodStart            uint64      `json:"period_start"`
	PeriodEnd              uint64      `json:"period_end"`
	TotalSales             coin.Amount `json:"total_sales"`
	TotalPurchases         coin.Amount `json:"total_purchases"`
	OutstandingReceivables coin.Amount `json:"outstanding_receivables"`
	OutstandingPayables    coin.Amount `json:"outstanding_payables"`
	CompletedOrders        uint64      `json:"completed_orders"`
	PendingOrders          uint64      `json:"pending_orders"`
}

// ReceiptsResponse 是采购单的收货记录。
type ReceiptsResponse struct {
	POID     string    `json:"po_id"`
	Receipts []Receipt `json:"receipts"`
}

// ServiceTypesResponse 是已登记的服务类型。
type ServiceTypesResponse struct {
	ServiceTypes []ServiceTypeInfo `json:"service_types"`
}

// ReputationHistoryResponse 是信誉变化历史，最新在前。
type ReputationHistoryResponse struct {
	AgentID string            `json:"agent_id"`
	Events  []ReputationEvent `json:"events"`
}

type queryCtx struct {
	store kv.Reader
	env   Env
}

func (q *queryCtx) dispatch(msg QueryMsg) (any, error) {
	switch {
	case msg.Config != nil:
		return q.config()
	case msg.Agent != nil:
		return q.agent(msg.Agent.AgentID)
	case msg.ListAgents != nil:
		return q.listAgents(*msg.ListAgents)
	case msg.AgentBalance != nil:
		return q.agentBalance(msg.AgentBalance.AgentID)
	case msg.Service != nil:
		return services.Load(q.store, msg.Service.ServiceID)
	case msg.ListServices != nil:
		return q.listServices(*msg.ListServices)
	case msg.AgentsByCapability != nil:
		return q.agentsByCapability(*msg.AgentsByCapability)
	case msg.TransactionHistory != nil:
		return q.transactionHistory(*msg.TransactionHistory)
	case msg.AgentMessages != nil:
		return q.agentMessages(*msg.AgentMessages)
	case msg.Message != nil:
		return messages.Load(q.store, msg.Message.MessageID)
	case msg.PurchaseOrder != nil:
		return orders.Load(q.store, msg.PurchaseOrder.POID)
	case msg.AgentPurchaseOrders != nil:
		return q.agentPurchaseOrders(*msg.AgentPurchaseOrders)
	case msg.Invoice != nil:
		return invoices.Load(q.store, msg.Invoice.InvoiceID)
	case msg.AgentInvoices != nil:
		return q.agentInvoices(*msg.AgentInvoices)
	case msg.AccountSummary != nil:
		return q.accountSummary(*msg.AccountSummary)
	case msg.Receipts != nil:
		return q.receipts(msg.Receipts.POID)
	case msg.ServiceTypes != nil:
		return q.serviceTypes()
	case msg.ReputationHistory != nil:
		return q.reputationHistory(*msg.ReputationHistory)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidInput, "empty query message")
	}
}

func (q *queryCtx) config() (ConfigResponse, error) {
	cfg, err := configItem.Load(q.store)
	if err != nil {
		return ConfigResponse{}, err
	}
	totalAgents, err := agents.Count(q.store)
	if err != nil {
		return ConfigResponse{}, err
	}
	totalServices, err := services.Count(q.store)
	if err != nil {
		return ConfigResponse{}, err
	}
	return ConfigResponse{
		Admin:           cfg.Admin,
		SettlementDenom: cfg.SettlementDenom,
		MinAgentBalance: cfg.MinAgentBalance,
		FeeBps:          cfg.FeeBps,
		CollectedFees:   cfg.CollectedFees,
		TotalAgents:     totalAgents,
		TotalServices:   totalServices,
	}, nil
}

func (q *queryCtx) agent(id string) (AgentResponse, error) {
	agent, err := loadAgent(q.store, id)
	if err != nil {
		return AgentResponse{}, err
	}
	wallet, err := wallets.Load(q.store, id)
	if err != nil {
		return AgentResponse{}, err
	}
	return AgentResponse{Agent: agent, Balance: wallet.Balance}, nil
}

func (q *queryCtx) agentInfo(agent Agent) (AgentInfo, error) {
	wallet, err := wallets.Load(q.store, agent.ID)
	if err != nil {
		return AgentInfo{}, err
	}
	return AgentInfo{
		AgentID:         agent.ID,
		Name:            agent.Name,
		Active:          agent.Active,
		Balance:         wallet.Balance,
		ReputationScore: agent.ReputationScore,
	}, nil
}

func (q *queryCtx) listAgents(msg ListAgentsQuery) (AgentsResponse, error) {
	limit := clampLimit(msg.Limit)
	out := AgentsResponse{Agents: []AgentInfo{}}
	err := agents.Range(q.store, msg.StartAfter, kv.Ascending, func(_ string, agent Agent) (bool, error) {
		info, err := q.agentInfo(agent)
		if err != nil {
			return false, err
		}
		out.Agents = append(out.Agents, info)
		return len(out.Agents) < limit, nil
	})
	return out, err
}

func (q *queryCtx) agentBalance(id string) (BalanceResponse, error) {
	wallet, err := wallets.Load(q.store, id)
	if err != nil {
		return BalanceResponse{}, err
	}
	return BalanceResponse{
		AgentID:   id,
		Balance:   wallet.Balance,
		Locked:    wallet.Locked,
		Available: coin.New(wallet.Balance.Denom, wallet.Spendable()),
	}, nil
}

func (q *queryCtx) listServices(msg ListServicesQuery) (ServicesResponse, error) {
	limit := clampLimit(msg.Limit)
	out := ServicesResponse{Services: []ServiceInfo{}}
	err := services.Range(q.store, msg.StartAfter, kv.Ascending, func(id string, svc Service) (bool, error) {
		if msg.AgentID != nil && svc.RequesterID != *msg.AgentID && svc.ProviderID != *msg.AgentID {
			return true, nil
		}
		if msg.Status != nil && svc.Status != *msg.Status {
			return true, nil
		}
		out.Services = append(out.Services, ServiceInfo{
			ServiceID:   id,
			ServiceType: svc.ServiceType,
			Status:      svc.Status,
			Payment:     svc.Payment,
			CreatedAt:   svc.CreatedAt,
		})
		return len(out.Services) < limit, nil
	})
	return out, err
}

func (q *queryCtx) agentsByCapability(msg AgentsByCapabilityQuery) (CapabilityResponse, error) {
	limit := clampLimit(msg.Limit)
	out := CapabilityResponse{Capability: msg.Capability, Agents: []AgentInfo{}}
	prefix := capabilityPrefix.Str(msg.Capability)
	var after []byte
	if msg.StartAfter != "" {
		after = prefix.Key(msg.StartAfter)
	}
	err := kv.ScanPrefix(q.store, prefix.Bytes(), after, kv.Ascending, func(key, _ []byte) (bool, error) {
		id, _ := prefix.TailOf(key)
		agent, err := loadAgent(q.store, id)
		if err != nil {
			return false, err
		}
		info, err := q.agentInfo(agent)
		if err != nil {
			return false, err
		}
		out.Agents = append(out.Agents, info)
		return len(out.Agents) < limit, nil
	})
	return out, err
}

func (q *queryCtx) transactionHistory(msg TransactionHistoryQuery) (TransactionsResponse, error) {
	if _, err := loadAgent(q.store, msg.AgentID); err != nil {
		return TransactionsResponse{}, err
	}
	limit := clampLimit(msg.Limit)
	out := TransactionsResponse{Transactions: []TransactionRecord{}}
	prefix := agentTxPrefix.Str(msg.AgentID)
	var after []byte
	if msg.StartAfter != nil {
		after = agentTxKey(msg.AgentID, *msg.StartAfter)
	}
	err := kv.ScanPrefix(q.store, prefix.Bytes(), after, kv.Descending, func(key, _ []byte) (bool, error) {
		txID, ok := prefix.Uint64Of(key)
		if !ok {
			return true, nil
		}
		rec, found, err := loadTransaction(q.store, txID)
		if err != nil {
			return false, err
		}
		if !found {
			return false, xerrors.Newf(xerrors.CodeStorageFailure, "transaction index references missing record %d", txID)
		}
		out.Transactions = append(out.Transactions, rec)
		return len(out.Transactions) < limit, nil
	})
	return out, err
}

// mergeIndexes 合并多个按序号排列的索引，按序号升序去重。
func mergeIndexes(r kv.Reader, prefixes []kv.Path, after uint64) ([]indexEntry, error) {
	seen := make(map[uint64]struct{})
	var out []indexEntry
	for _, prefix := range prefixes {
		entries, err := scanIndex(r, prefix, after)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if _, dup := seen[e.seq]; dup {
				continue
			}
			seen[e.seq] = struct{}{}
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

func (q *queryCtx) agentMessages(msg AgentMessagesQuery) (MessagesResponse, error) {
	if _, err := loadAgent(q.store, msg.AgentID); err != nil {
		return MessagesResponse{}, err
	}
	var after uint64
	if msg.StartAfter != "" {
		cursor, err := messages.Load(q.store, msg.StartAfter)
		if err != nil {
			return MessagesResponse{}, err
		}
		after = cursor.Seq
	}
	entries, err := mergeIndexes(q.store, []kv.Path{
		mailboxPath(msg.AgentID, Inbox),
		mailboxPath(msg.AgentID, Outbox),
	}, after)
	if err != nil {
		return MessagesResponse{}, err
	}
	limit := clampLimit(msg.Limit)
	out := MessagesResponse{Messages: []AgentMessage{}}
	for _, e := range entries {
		if len(out.Messages) >= limit {
			break
		}
		m, err := messages.Load(q.store, e.id)
		if err != nil {
			return out, err
		}
		if msg.MessageType != nil && m.Type != *msg.MessageType {
			continue
		}
		out.Messages = append(out.Messages, m)
	}
	return out, nil
}

func rolePaths(agentID string, role AgentRole, path func(string, Role) kv.Path) ([]kv.Path, error) {
	roles, err := role.roles()
	if err != nil {
		return nil, err
	}
	paths := make([]kv.Path, 0, len(roles))
	for _, r := range roles {
		paths = append(paths, path(agentID, r))
	}
	return paths, nil
}

func (q *queryCtx) agentPurchaseOrders(msg AgentPurchaseOrdersQuery) (PurchaseOrdersResponse, error) {
	if _, err := loadAgent(q.store, msg.AgentID); err != nil {
		return PurchaseOrdersResponse{}, err
	}
	paths, err := rolePaths(msg.AgentID, msg.Role, orderIndexPath)
	if err != nil {
		return PurchaseOrdersResponse{}, err
	}
	var after uint64
	if msg.StartAfter != "" {
		cursor, err := orders.Load(q.store, msg.StartAfter)
		if err != nil {
			return PurchaseOrdersResponse{}, err
		}
		after = cursor.Seq
	}
	entries, err := mergeIndexes(q.store, paths, after)
	if err != nil {
		return PurchaseOrdersResponse{}, err
	}
	limit := clampLimit(msg.Limit)
	out := PurchaseOrdersResponse{PurchaseOrders: []PurchaseOrder{}}
	for _, e := range entries {
		if len(out.PurchaseOrders) >= limit {
			break
		}
		po, err := orders.Load(q.store, e.id)
		if err != nil {
			return out, err
		}
		if msg.Status != nil && po.Status != *msg.Status {
			continue
		}
		out.PurchaseOrders = append(out.PurchaseOrders, po)
	}
	return out, nil
}

func (q *queryCtx) agentInvoices(msg AgentInvoicesQuery) (InvoicesResponse, error) {
	if _, err := loadAgent(q.store, msg.AgentID); err != nil {
		return InvoicesResponse{}, err
	}
	paths, err := rolePaths(msg.AgentID, msg.Role, invoiceIndexPath)
	if err != nil {
		return InvoicesResponse{}, err
	}
	var after uint64
	if msg.StartAfter != "" {
		cursor, err := invoices.Load(q.store, msg.StartAfter)
		if err != nil {
			return InvoicesResponse{}, err
		}
		after = cursor.Seq
	}
	entries, err := mergeIndexes(q.store, paths, after)
	if err != nil {
		return InvoicesResponse{}, err
	}
	limit := clampLimit(msg.Limit)
	out := InvoicesResponse{Invoices: []Invoice{}}
	for _, e := range entries {
		if len(out.Invoices) >= limit {
			break
		}
		inv, err := invoices.Load(q.store, e.id)
		if err != nil {
			return out, err
		}
		if msg.Paid != nil && inv.Paid != *msg.Paid {
			continue
		}
		out.Invoices = append(out.Invoices, inv)
	}
	return out, nil
}

func (q *queryCtx) accountSummary(msg AccountSummaryQuery) (AccountSummary, error) {
	if _, err := loadAgent(q.store, msg.AgentID); err != nil {
		return AccountSummary{}, err
	}
	f, err := loadFinancials(q.store, msg.AgentID, q.env.BlockTime)
	if err != nil {
		return AccountSummary{}, err
	}
	summary := AccountSummary{
		AgentID:                msg.AgentID,
		PeriodEnd:              maxTimestamp,
		TotalSales:             f.TotalSales,
		TotalPurchases:         f.TotalPurchases,
		OutstandingReceivables: f.OutstandingReceivables,
		OutstandingPayables:    f.OutstandingPayables,
		CompletedOrders:        f.CompletedOrders,
		PendingOrders:          f.PendingOrders,
	}
	if msg.PeriodStart != nil {
		summary.PeriodStart = *msg.PeriodStart
	}
	if msg.PeriodEnd != nil {
		summary.PeriodEnd = *msg.PeriodEnd
	}
	return summary, nil
}

func (q *queryCtx) receipts(poID string) (ReceiptsResponse, error) {
	if _, err := orders.Load(q.store, poID); err != nil {
		return ReceiptsResponse{}, err
	}
	out := ReceiptsResponse{POID: poID, Receipts: []Receipt{}}
	prefix := receiptPrefix.Str(poID)
	err := kv.ScanPrefix(q.store, prefix.Bytes(), nil, kv.Ascending, func(_, raw []byte) (bool, error) {
		var rec Receipt
		if err := decodeJSON(raw, &rec); err != nil {
			return false, err
		}
		out.Receipts = append(out.Receipts, rec)
		return true, nil
	})
	return out, err
}

func (q *queryCtx) serviceTypes() (ServiceTypesResponse, error) {
	out := ServiceTypesResponse{ServiceTypes: []ServiceTypeInfo{}}
	err := serviceTypes.Range(q.store, "", kv.Ascending, func(_ string, info ServiceTypeInfo) (bool, error) {
		out.ServiceTypes = append(out.ServiceTypes, info)
		return true, nil
	})
	return out, err
}

func (q *queryCtx) reputationHistory(msg ReputationHistoryQuery) (ReputationHistoryResponse, error) {
	if _, err := loadAgent(q.store, msg.AgentID); err != nil {
		return ReputationHistoryResponse{}, err
	}
	limit := clampLimit(msg.Limit)
	out := ReputationHistoryResponse{AgentID: msg.AgentID, Events: []ReputationEvent{}}
	prefix := reputationPrefix.Str(msg.AgentID)
	err := kv.ScanPrefix(q.store, prefix.Bytes(), nil, kv.Descending, func(_, raw []byte) (bool, error) {
		var ev ReputationEvent
		if err := decodeJSON(raw, &ev); err != nil {
			return false, err
		}
		out.Events = append(out.Events, ev)
		return len(out.Events) < limit, nil
	})
	return out, err
}
