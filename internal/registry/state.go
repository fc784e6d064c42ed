package registry

import (
	"encoding/json"

	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
)

func encodeJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "encode record")
	}
	return raw, nil
}

func decodeJSON(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "decode record")
	}
	return nil
}

// 存储布局。所有集合都是无状态的键描述符，实际数据只存在于调用传入的 kv.Store 中。
var (
	configItem   = kv.NewItem[Config]("config")
	agents       = kv.NewMap[Agent]("agents", "agent")
	agentOwners  = kv.NewMap[string]("agent_owners", "owner")
	wallets      = kv.NewMap[AgentWallet]("wallets", "wallet")
	services     = kv.NewMap[Service]("services", "service")
	serviceTypes = kv.NewMap[ServiceTypeInfo]("service_types", "service type")
	messages     = kv.NewMap[AgentMessage]("messages", "message")
	orders       = kv.NewMap[PurchaseOrder]("purchase_orders", "purchase order")
	invoices     = kv.NewMap[Invoice]("invoices", "invoice")
	financials   = kv.NewMap[AgentFinancials]("financials", "financials")

	txLogPrefix      = kv.Namespace("transactions")
	agentTxPrefix    = kv.Namespace("agent_transactions")
	capabilityPrefix = kv.Namespace("capability_index")
	mailboxPrefix    = kv.Namespace("mailbox")
	orderIndexPrefix = kv.Namespace("agent_orders")
	invoiceIdxPrefix = kv.Namespace("agent_invoices")
	receiptPrefix    = kv.Namespace("receipts")
	reputationPrefix = kv.Namespace("reputation_history")
)

// marker 是索引条目的占位值。
var marker = []byte{1}

func capabilityKey(tag, agentID string) []byte {
	return capabilityPrefix.Str(tag).Key(agentID)
}

func agentTxKey(agentID string, txID uint64) []byte {
	return agentTxPrefix.Str(agentID).Uint64(txID).Bytes()
}

func mailboxPath(agentID string, dir Direction) kv.Path {
	return mailboxPrefix.Str(agentID).Uint8(uint8(dir))
}

func orderIndexPath(agentID string, role Role) kv.Path {
	return orderIndexPrefix.Str(agentID).Uint8(uint8(role))
}

func invoiceIndexPath(agentID string, role Role) kv.Path {
	return invoiceIdxPrefix.Str(agentID).Uint8(uint8(role))
}

// nextSeq 返回 prefix 下最后一个数值键加一；前缀为空时返回 1。
func nextSeq(r kv.Reader, prefix kv.Path) (uint64, error) {
	var last uint64
	err := kv.ScanPrefix(r, prefix.Bytes(), nil, kv.Descending, func(key, _ []byte) (bool, error) {
		last, _ = prefix.Uint64Of(key)
		return false, nil
	})
	return last + 1, err
}

// indexEntry 是按序号排列的二级索引条目。
type indexEntry struct {
	seq uint64
	id  string
}

// scanIndex 读取 prefix 下 seq > after 的所有条目，升序。
func scanIndex(r kv.Reader, prefix kv.Path, after uint64) ([]indexEntry, error) {
	var afterKey []byte
	if after > 0 {
		afterKey = prefix.Uint64(after).Bytes()
	}
	var out []indexEntry
	err := kv.ScanPrefix(r, prefix.Bytes(), afterKey, kv.Ascending, func(key, value []byte) (bool, error) {
		seq, ok := prefix.Uint64Of(key)
		if !ok {
			return true, nil
		}
		out = append(out, indexEntry{seq: seq, id: string(value)})
		return true, nil
	})
	return out, err
}
