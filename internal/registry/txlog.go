package registry

import (
	"AgentLedger-Chain/internal/coin"
	"AgentLedger-Chain/internal/kv"
)

// record 追加一条交易流水，并为每个非空参与方建立 (agent_id, tx_id) 索引。
// 流水只追加，不提供修改或删除。
func (c *callCtx) record(kind TransactionType, from, to *string, amount coin.Coin, memo string) (uint64, error) {
	id := c.cfg.NextTxID
	c.cfg.NextTxID++

	rec := TransactionRecord{
		ID:        id,
		Type:      kind,
		From:      copyString(from),
		To:        copyString(to),
		Amount:    amount,
		Timestamp: c.now(),
	}
	if memo != "" {
		rec.Memo = &memo
	}
	raw, err := encodeJSON(rec)
	if err != nil {
		return 0, err
	}
	if err := c.store.Set(txLogPrefix.Uint64(id).Bytes(), raw); err != nil {
		return 0, err
	}
	for _, party := range []*string{from, to} {
		if party == nil {
			continue
		}
		if err := c.store.Set(agentTxKey(*party, id), marker); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func loadTransaction(r kv.Reader, id uint64) (TransactionRecord, bool, error) {
	var rec TransactionRecord
	raw, err := r.Get(txLogPrefix.Uint64(id).Bytes())
	if err != nil || raw == nil {
		return rec, false, err
	}
	if err := decodeJSON(raw, &rec); err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
