package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
)

func TestUpdateConfigIsAdminOnly(t *testing.T) {
	l := newLedger(t, 100)
	fee := uint64(300)

	_, err := l.exec("mallory", nil, ExecuteMsg{UpdateConfig: &UpdateConfig{FeeBps: &fee}})
	require.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
	require.Equal(t, uint64(100), l.config().FeeBps)

	resp := l.mustExec("admin", nil, ExecuteMsg{UpdateConfig: &UpdateConfig{FeeBps: &fee}})
	require.Equal(t, "300", resp.Attr("fee_bps"))
	require.Equal(t, uint64(300), l.config().FeeBps)
}

func TestUpdateConfigRejectsInvalidValues(t *testing.T) {
	l := newLedger(t, 100)

	tooHigh := uint64(coin.BasisPoints + 1)
	_, err := l.exec("admin", nil, ExecuteMsg{UpdateConfig: &UpdateConfig{FeeBps: &tooHigh}})
	require.Equal(t, xerrors.CodeMisconfiguration, xerrors.CodeOf(err))

	blank := "  "
	_, err = l.exec("admin", nil, ExecuteMsg{UpdateConfig: &UpdateConfig{SettlementDenom: &blank}})
	require.Equal(t, xerrors.CodeMisconfiguration, xerrors.CodeOf(err))

	full := uint64(coin.BasisPoints)
	l.mustExec("admin", nil, ExecuteMsg{UpdateConfig: &UpdateConfig{FeeBps: &full}})
	require.Equal(t, uint64(coin.BasisPoints), l.config().FeeBps)
}

func TestSettlementDenomLockedOnceAgentsExist(t *testing.T) {
	l := newLedger(t, 0)
	usdc := "uusdc"
	l.mustExec("admin", nil, ExecuteMsg{UpdateConfig: &UpdateConfig{SettlementDenom: &usdc}})
	require.Equal(t, "uusdc", l.config().SettlementDenom)

	l.mustExec("alice", nil, ExecuteMsg{RegisterAgent: &RegisterAgent{Name: "First"}})

	back := testDenom
	_, err := l.exec("admin", nil, ExecuteMsg{UpdateConfig: &UpdateConfig{SettlementDenom: &back}})
	require.Equal(t, xerrors.CodeMisconfiguration, xerrors.CodeOf(err))

	minBalance := coin.NewAmount(50)
	l.mustExec("admin", nil, ExecuteMsg{UpdateConfig: &UpdateConfig{SettlementDenom: &usdc, MinAgentBalance: &minBalance}})
	cfg := l.config()
	require.Equal(t, "uusdc", cfg.SettlementDenom)
	require.Equal(t, "50", cfg.MinAgentBalance.String())
}

func TestWithdrawFeesPaysOutCollectedFees(t *testing.T) {
	l := newLedger(t, 250)
	x := l.register("alice", "Requester", 3000)
	y := l.register("bob", "Provider", 0)

	for i := 0; i < 2; i++ {
		id := l.requestService("alice", x, y, 1000)
		l.mustExec("bob", nil, ExecuteMsg{CompleteService: &CompleteService{ServiceID: id, Result: "ok"}})
	}
	require.Equal(t, "50", l.config().CollectedFees.String())

	const recipient = "0x52908400098527886e0f7030069857d2e4169ee7"
	_, err := l.exec("alice", nil, ExecuteMsg{WithdrawFees: &WithdrawFees{Recipient: recipient}})
	require.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))

	_, err = l.exec("admin", nil, ExecuteMsg{WithdrawFees: &WithdrawFees{Recipient: "not-an-address"}})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))

	tooMuch := coin.NewAmount(51)
	_, err = l.exec("admin", nil, ExecuteMsg{WithdrawFees: &WithdrawFees{Recipient: recipient, Amount: &tooMuch}})
	var ledgerErr *xerrors.Error
	require.ErrorAs(t, err, &ledgerErr)
	require.Equal(t, xerrors.CodeInsufficientBalance, ledgerErr.Code())
	require.Equal(t, "51", ledgerErr.Metadata()["required"])
	require.Equal(t, "50", ledgerErr.Metadata()["available"])

	part := coin.NewAmount(20)
	resp := l.mustExec("admin", nil, ExecuteMsg{WithdrawFees: &WithdrawFees{Recipient: recipient, Amount: &part}})
	require.Equal(t, "30", resp.Attr("remaining"))
	require.Len(t, resp.Transfers, 1)
	require.Equal(t, "0x52908400098527886E0F7030069857D2E4169EE7", resp.Transfers[0].Recipient)
	require.Equal(t, "20", resp.Transfers[0].Amount[0].Amount.String())

	resp = l.mustExec("admin", nil, ExecuteMsg{WithdrawFees: &WithdrawFees{Recipient: recipient}})
	require.Equal(t, "30", resp.Attr("amount"))
	require.True(t, l.config().CollectedFees.IsZero())

	_, err = l.exec("admin", nil, ExecuteMsg{WithdrawFees: &WithdrawFees{Recipient: recipient}})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))
}

func TestBatchAgentTransfer(t *testing.T) {
	l := newLedger(t, 0)
	from := l.register("alice", "Payer", 1000)
	b := l.register("bob", "B", 0)
	c := l.register("carol", "C", 0)

	memo := "bonus"
	resp := l.mustExec("alice", nil, ExecuteMsg{BatchAgentTransfer: &BatchAgentTransfer{
		FromAgentID: from,
		Transfers: []Transfer{
			{ToAgentID: b, Amount: amount(300)},
			{ToAgentID: c, Amount: amount(200), Memo: &memo},
		},
	}})
	require.Equal(t, "500", resp.Attr("total_amount"))
	require.Equal(t, "2", resp.Attr("transfer_count"))

	requireBalance(t, l.balance(from), 500, 0)
	requireBalance(t, l.balance(b), 300, 0)
	requireBalance(t, l.balance(c), 200, 0)

	var memos []string
	for _, tx := range l.history(from) {
		if tx.Type == TxTransfer && tx.Memo != nil {
			memos = append(memos, *tx.Memo)
		}
	}
	require.ElementsMatch(t, []string{"Batch transfer 1/2", "bonus"}, memos)
}

func TestBatchAgentTransferIsAllOrNothing(t *testing.T) {
	l := newLedger(t, 0)
	from := l.register("alice", "Payer", 400)
	b := l.register("bob", "B", 0)
	c := l.register("carol", "C", 0)
	before := l.config().NextTxID

	_, err := l.exec("alice", nil, ExecuteMsg{BatchAgentTransfer: &BatchAgentTransfer{
		FromAgentID: from,
		Transfers: []Transfer{
			{ToAgentID: b, Amount: amount(300)},
			{ToAgentID: c, Amount: amount(200)},
		},
	}})
	require.Equal(t, xerrors.CodeInsufficientBalance, xerrors.CodeOf(err))
	requireBalance(t, l.balance(from), 400, 0)
	requireBalance(t, l.balance(b), 0, 0)
	require.Equal(t, before, l.config().NextTxID)

	_, err = l.exec("alice", nil, ExecuteMsg{BatchAgentTransfer: &BatchAgentTransfer{
		FromAgentID: from,
		Transfers:   []Transfer{{ToAgentID: from, Amount: amount(1)}},
	}})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))

	_, err = l.exec("alice", nil, ExecuteMsg{BatchAgentTransfer: &BatchAgentTransfer{FromAgentID: from}})
	require.Equal(t, xerrors.CodeInvalidInput, xerrors.CodeOf(err))

	_, err = l.exec("bob", nil, ExecuteMsg{BatchAgentTransfer: &BatchAgentTransfer{
		FromAgentID: from,
		Transfers:   []Transfer{{ToAgentID: b, Amount: amount(1)}},
	}})
	require.Equal(t, xerrors.CodeUnauthorized, xerrors.CodeOf(err))
}
