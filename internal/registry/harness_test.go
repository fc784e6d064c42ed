package registry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"AgentLedger-Chain/internal/coin"
	"AgentLedger-Chain/internal/kv"
)

const testDenom = "uusd"

// ledger 在内存后端上模拟宿主：每次执行使用独立的写缓冲，失败即丢弃。
type ledger struct {
	t        *testing.T
	backend  *kv.MemoryBackend
	contract *Contract
	env      Env
}

func newLedger(t *testing.T, feeBps uint64) *ledger {
	t.Helper()
	l := &ledger{
		t:        t,
		backend:  kv.NewMemoryBackend(),
		contract: New(),
		env:      Env{ChainID: "test-1", BlockHeight: 1, BlockTime: 1_700_000_000},
	}
	cache := kv.NewCache(l.backend)
	_, err := l.contract.Instantiate(cache, l.env, MessageInfo{Sender: "admin"}, InstantiateMsg{
		SettlementDenom: testDenom,
		FeeBps:          feeBps,
	})
	require.NoError(t, err)
	require.NoError(t, cache.Flush(context.Background(), l.backend))
	return l
}

func funds(n uint64) coin.Coins {
	return coin.Coins{coin.NewUint64(testDenom, n)}
}

func amount(n uint64) coin.Coin { return coin.NewUint64(testDenom, n) }

func (l *ledger) exec(sender string, attached coin.Coins, msg ExecuteMsg) (*Response, error) {
	l.env.BlockHeight++
	l.env.BlockTime += 5
	cache := kv.NewCache(l.backend)
	resp, err := l.contract.Execute(cache, l.env, MessageInfo{Sender: sender, Funds: attached}, msg)
	if err != nil {
		cache.Discard()
		return nil, err
	}
	require.NoError(l.t, cache.Flush(context.Background(), l.backend))
	return resp, nil
}

func (l *ledger) mustExec(sender string, attached coin.Coins, msg ExecuteMsg) *Response {
	l.t.Helper()
	resp, err := l.exec(sender, attached, msg)
	require.NoError(l.t, err)
	return resp
}

// query 执行查询并经 JSON 往返解码到 out，与外部调用者看到的结果一致。
func (l *ledger) query(msg QueryMsg, out any) {
	l.t.Helper()
	res, err := l.contract.Query(l.backend, l.env, msg)
	require.NoError(l.t, err)
	raw, err := json.Marshal(res)
	require.NoError(l.t, err)
	require.NoError(l.t, json.Unmarshal(raw, out))
}

func (l *ledger) register(owner, name string, initial uint64, caps ...string) string {
	l.t.Helper()
	msg := &RegisterAgent{Name: name, Description: name + " agent", Capabilities: caps}
	var attached coin.Coins
	if initial > 0 {
		c := amount(initial)
		msg.InitialBalance = &c
		attached = funds(initial)
	}
	resp := l.mustExec(owner, attached, ExecuteMsg{RegisterAgent: msg})
	id := resp.Attr("agent_id")
	require.NotEmpty(l.t, id)
	return id
}

func (l *ledger) balance(agentID string) BalanceResponse {
	l.t.Helper()
	var out BalanceResponse
	l.query(QueryMsg{AgentBalance: &AgentQuery{AgentID: agentID}}, &out)
	return out
}

func (l *ledger) agent(agentID string) AgentResponse {
	l.t.Helper()
	var out AgentResponse
	l.query(QueryMsg{Agent: &AgentQuery{AgentID: agentID}}, &out)
	return out
}

func (l *ledger) config() Config {
	l.t.Helper()
	cfg, err := configItem.Load(l.backend)
	require.NoError(l.t, err)
	return cfg
}

func (l *ledger) requestService(owner, requester, provider string, payment uint64) string {
	l.t.Helper()
	resp := l.mustExec(owner, nil, ExecuteMsg{RequestService: &RequestService{
		RequesterAgentID: requester,
		ProviderAgentID:  provider,
		ServiceType:      "analysis",
		Payment:          amount(payment),
		Parameters:       `{"depth":2}`,
	}})
	return resp.Attr("service_id")
}

func (l *ledger) history(agentID string) []TransactionRecord {
	l.t.Helper()
	limit := uint32(MaxLimit)
	var out TransactionsResponse
	l.query(QueryMsg{TransactionHistory: &TransactionHistoryQuery{AgentID: agentID, Limit: &limit}}, &out)
	return out.Transactions
}

func requireBalance(t *testing.T, got BalanceResponse, balance, locked uint64) {
	t.Helper()
	require.Equal(t, coin.NewAmount(balance).String(), got.Balance.Amount.String(), "balance")
	require.Equal(t, coin.NewAmount(locked).String(), got.Locked.Amount.String(), "locked")
}
