package registry

import (
	"math"
	"strconv"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
)

const maxTimestamp = math.MaxUint64

func loadFinancials(r kv.Reader, agentID string, now uint64) (AgentFinancials, error) {
	f, ok, err := financials.Get(r, agentID)
	if err != nil {
		return f, err
	}
	if !ok {
		f = AgentFinancials{AgentID: agentID, LastUpdated: now}
	}
	return f, nil
}

// addSales 在采购单被接受时累加卖方的销售额与应收款。
func (c *callCtx) addSales(agentID string, amount coin.Amount) error {
	f, err := loadFinancials(c.store, agentID, c.now())
	if err != nil {
		return err
	}
	if f.TotalSales, err = f.TotalSales.Add(amount); err != nil {
		return err
	}
	if f.OutstandingReceivables, err = f.OutstandingReceivables.Add(amount); err != nil {
		return err
	}
	f.PendingOrders++
	f.LastUpdated = c.now()
	return financials.Save(c.store, agentID, f)
}

// addPurchases 在采购单被接受时累加买方的采购额与应付款。
func (c *callCtx) addPurchases(agentID string, amount coin.Amount) error {
	f, err := loadFinancials(c.store, agentID, c.now())
	if err != nil {
		return err
	}
	if f.TotalPurchases, err = f.TotalPurchases.Add(amount); err != nil {
		return err
	}
	if f.OutstandingPayables, err = f.OutstandingPayables.Add(amount); err != nil {
		return err
	}
	f.PendingOrders++
	f.LastUpdated = c.now()
	return financials.Save(c.store, agentID, f)
}

func inWindow(ts, start, end uint64) bool {
	return ts >= start && ts <= end
}

// recompute 依据 [start, end] 内创建的发票与采购单全量重算代理的未结款项和订单计数。
// 累计销售额与采购额保持不变。结果只取决于当前存储内容，重复执行得到相同结果。
func (c *callCtx) recompute(agentID string, start, end uint64) (AgentFinancials, error) {
	f, err := loadFinancials(c.store, agentID, c.now())
	if err != nil {
		return f, err
	}
	f.OutstandingReceivables = coin.Zero()
	f.OutstandingPayables = coin.Zero()
	f.CompletedOrders = 0
	f.PendingOrders = 0

	for _, role := range []Role{RoleSeller, RoleBuyer} {
		entries, err := scanIndex(c.store, invoiceIndexPath(agentID, role), 0)
		if err != nil {
			return f, err
		}
		for _, e := range entries {
			inv, ok, err := invoices.Get(c.store, e.id)
			if err != nil {
				return f, err
			}
			if !ok || inv.Paid || !inWindow(inv.CreatedAt, start, end) {
				continue
			}
			if role == RoleSeller {
				f.OutstandingReceivables, err = f.OutstandingReceivables.Add(inv.TotalAmount)
			} else {
				f.OutstandingPayables, err = f.OutstandingPayables.Add(inv.TotalAmount)
			}
			if err != nil {
				return f, err
			}
		}
	}

	for _, role := range []Role{RoleBuyer, RoleSeller} {
		entries, err := scanIndex(c.store, orderIndexPath(agentID, role), 0)
		if err != nil {
			return f, err
		}
		for _, e := range entries {
			po, ok, err := orders.Get(c.store, e.id)
			if err != nil {
				return f, err
			}
			if !ok || !inWindow(po.CreatedAt, start, end) {
				continue
			}
			switch po.Status {
			case POCompleted:
				f.CompletedOrders++
			case PODraft, POCancelled:
			default:
				f.PendingOrders++
			}
		}
	}

	f.LastUpdated = c.now()
	return f, financials.Save(c.store, agentID, f)
}

func (c *callCtx) reconcileAccounts(msg ReconcileAccounts) error {
	if _, err := c.loadOwnedAgent(msg.AgentID); err != nil {
		return err
	}
	if msg.PeriodStart > msg.PeriodEnd {
		return xerrors.New(xerrors.CodeInvalidInput, "period_start must not be after period_end")
	}
	f, err := c.recompute(msg.AgentID, msg.PeriodStart, msg.PeriodEnd)
	if err != nil {
		return err
	}
	c.resp.add("method", "reconcile_accounts").
		add("agent_id", msg.AgentID).
		add("outstanding_receivables", f.OutstandingReceivables.String()).
		add("outstanding_payables", f.OutstandingPayables.String()).
		add("completed_orders", strconv.FormatUint(f.CompletedOrders, 10)).
		add("pending_orders", strconv.FormatUint(f.PendingOrders, 10))
	return nil
}
