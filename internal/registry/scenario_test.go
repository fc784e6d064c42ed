package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	xerrors "AgentLedger-Chain/internal/errors"
)

func TestFundThenOverdrawReportsAmounts(t *testing.T) {
	l := newLedger(t, 0)
	x := l.register("alice", "Agent X", 0)
	requireBalance(t, l.balance(x), 0, 0)

	l.mustExec("alice", funds(500), ExecuteMsg{FundAgent: &FundAgent{AgentID: x}})
	got := l.balance(x)
	requireBalance(t, got, 500, 0)
	require.Equal(t, "500", got.Available.Amount.String())

	_, err := l.exec("alice", nil, ExecuteMsg{WithdrawFromAgent: &WithdrawFromAgent{
		AgentID:   x,
		Amount:    amount(600),
		Recipient: "0x52908400098527886E0F7030069857D2E4169EE7",
	}})
	require.Error(t, err)
	require.Equal(t, xerrors.CodeInsufficientBalance, xerrors.CodeOf(err))
	e, _ := xerrors.From(err)
	require.Equal(t, "600", e.Metadata()["required"])
	require.Equal(t, "500", e.Metadata()["available"])
	require.Contains(t, err.Error(), "required=600")
	requireBalance(t, l.balance(x), 500, 0)
}

func TestCompleteServiceSplitsFee(t *testing.T) {
	l := newLedger(t, 250)
	x := l.register("alice", "Requester", 2000)
	y := l.register("bob", "Provider", 0)

	svc := l.requestService("alice", x, y, 1000)
	requireBalance(t, l.balance(x), 2000, 1000)

	resp := l.mustExec("bob", nil, ExecuteMsg{CompleteService: &CompleteService{ServiceID: svc, Result: "done"}})
	require.Equal(t, "25", resp.Attr("fee"))
	require.Equal(t, "975", resp.Attr("provider_payment"))

	requireBalance(t, l.balance(x), 1000, 0)
	requireBalance(t, l.balance(y), 975, 0)
	require.Equal(t, "25", l.config().CollectedFees.String())

	var payments, fees int
	for _, tx := range l.history(x) {
		switch tx.Type {
		case TxServicePayment:
			payments++
			require.Equal(t, "975", tx.Amount.Amount.String())
		case TxFee:
			fees++
			require.Equal(t, "25", tx.Amount.Amount.String())
			require.Nil(t, tx.To)
		}
	}
	require.Equal(t, 1, payments)
	require.Equal(t, 1, fees)

	provider := l.agent(y)
	require.Equal(t, InitialReputation+ReputationOnSuccess, provider.ReputationScore)
	require.Equal(t, uint64(1), provider.ServicesProvided)
}

func TestProviderRefundPenalizesReputation(t *testing.T) {
	l := newLedger(t, 250)
	x := l.register("alice", "Requester", 1500)
	y := l.register("bob", "Provider", 0)

	svc := l.requestService("alice", x, y, 1000)
	requireBalance(t, l.balance(x), 1500, 1000)

	l.mustExec("bob", nil, ExecuteMsg{RefundService: &RefundService{ServiceID: svc, Reason: "capacity"}})
	requireBalance(t, l.balance(x), 1500, 0)
	require.Equal(t, InitialReputation-ReputationOnRefund, l.agent(y).ReputationScore)

	var svcOut Service
	l.query(QueryMsg{Service: &ServiceQuery{ServiceID: svc}}, &svcOut)
	require.Equal(t, ServiceRefunded, svcOut.Status)
	require.True(t, svcOut.EscrowReleased)
}

func TestPurchaseOrderToPaidInvoice(t *testing.T) {
	l := newLedger(t, 0)
	b := l.register("buyer", "Buyer", 1000)
	s := l.register("seller", "Seller", 0)

	resp := l.mustExec("buyer", nil, ExecuteMsg{CreatePurchaseOrder: &CreatePurchaseOrder{
		BuyerAgentID:  b,
		SellerAgentID: s,
		Items: []PurchaseOrderItem{
			{ItemID: "widget", Quantity: 2, UnitPrice: amount(100).Amount, Unit: "pcs"},
			{ItemID: "gadget", Quantity: 1, UnitPrice: amount(100).Amount, Unit: "pcs"},
		},
		DeliveryTerms: "FOB",
		PaymentTerms:  PaymentTerms{PaymentType: PaymentNet, NetDays: 30},
	}})
	po := resp.Attr("po_id")
	require.Equal(t, "300", resp.Attr("total_amount"))

	l.mustExec("buyer", nil, ExecuteMsg{UpdatePurchaseOrder: &UpdatePurchaseOrder{POID: po, Status: POSubmitted, UpdaterAgentID: b}})
	l.mustExec("seller", nil, ExecuteMsg{UpdatePurchaseOrder: &UpdatePurchaseOrder{POID: po, Status: POAccepted, UpdaterAgentID: s}})

	var buyerSummary, sellerSummary AccountSummary
	l.query(QueryMsg{AccountSummary: &AccountSummaryQuery{AgentID: b}}, &buyerSummary)
	l.query(QueryMsg{AccountSummary: &AccountSummaryQuery{AgentID: s}}, &sellerSummary)
	require.Equal(t, "300", buyerSummary.OutstandingPayables.String())
	require.Equal(t, "300", sellerSummary.OutstandingReceivables.String())

	l.mustExec("seller", nil, ExecuteMsg{UpdatePurchaseOrder: &UpdatePurchaseOrder{POID: po, Status: POInProgress, UpdaterAgentID: s}})
	taxBps, discountBps := uint64(1000), uint64(0)
	resp = l.mustExec("seller", nil, ExecuteMsg{CreateInvoice: &CreateInvoice{
		POID:          po,
		SellerAgentID: s,
		LineItems:     []InvoiceLineItem{{Description: "order", Quantity: 3, UnitPrice: amount(100).Amount}},
		TaxRate:       &taxBps,
		DiscountRate:  &discountBps,
		DueDate:       l.env.BlockTime + 86400,
	}})
	inv := resp.Attr("invoice_id")
	require.Equal(t, "330", resp.Attr("total_amount"))

	l.mustExec("buyer", nil, ExecuteMsg{PayInvoice: &PayInvoice{InvoiceID: inv, BuyerAgentID: b}})
	requireBalance(t, l.balance(b), 670, 0)
	requireBalance(t, l.balance(s), 330, 0)

	var invoice Invoice
	l.query(QueryMsg{Invoice: &InvoiceQuery{InvoiceID: inv}}, &invoice)
	require.True(t, invoice.Paid)
	require.Equal(t, "30", invoice.TaxAmount.String())

	var order PurchaseOrder
	l.query(QueryMsg{PurchaseOrder: &PurchaseOrderQuery{POID: po}}, &order)
	require.Equal(t, POCompleted, order.Status)
	require.NotNil(t, order.InvoiceID)
	require.Equal(t, inv, *order.InvoiceID)
}

func TestReconcileIsIdempotent(t *testing.T) {
	l := newLedger(t, 0)
	b := l.register("buyer", "Buyer", 1000)
	s := l.register("seller", "Seller", 0)

	for i := 0; i < 3; i++ {
		resp := l.mustExec("buyer", nil, ExecuteMsg{CreatePurchaseOrder: &CreatePurchaseOrder{
			BuyerAgentID:  b,
			SellerAgentID: s,
			Items:         []PurchaseOrderItem{{ItemID: "x", Quantity: 1, UnitPrice: amount(50).Amount}},
			PaymentTerms:  PaymentTerms{PaymentType: PaymentImmediate},
		}})
		if i > 0 {
			l.mustExec("buyer", nil, ExecuteMsg{UpdatePurchaseOrder: &UpdatePurchaseOrder{POID: resp.Attr("po_id"), Status: POSubmitted, UpdaterAgentID: b}})
		}
	}

	reconcile := ExecuteMsg{ReconcileAccounts: &ReconcileAccounts{AgentID: s, PeriodStart: 0, PeriodEnd: maxTimestamp}}
	first := l.mustExec("seller", nil, reconcile)
	before, err := financials.Load(l.backend, s)
	require.NoError(t, err)

	second := l.mustExec("seller", nil, reconcile)
	after, err := financials.Load(l.backend, s)
	require.NoError(t, err)

	require.Equal(t, first.Attributes, second.Attributes)
	before.LastUpdated, after.LastUpdated = 0, 0
	require.Equal(t, before, after)
	require.Equal(t, uint64(2), after.PendingOrders)
}
