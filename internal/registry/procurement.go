package registry

import (
	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
)

// transitions 是采购单允许的状态迁移及其执行方。
var transitions = map[[2]PurchaseOrderStatus]Role{
	{PODraft, POSubmitted}:     RoleBuyer,
	{POSubmitted, POAccepted}:  RoleSeller,
	{POSubmitted, PORejected}:  RoleSeller,
	{POAccepted, POInProgress}: RoleSeller,
}

// CheckTransition 校验 actor 能否将采购单从 from 推进到 to。
func CheckTransition(from, to PurchaseOrderStatus, actor Role) error {
	want, ok := transitions[[2]PurchaseOrderStatus{from, to}]
	if !ok {
		return xerrors.New(xerrors.CodeInvalidTransition,
			"invalid status transition from "+string(from)+" to "+string(to))
	}
	if want != actor {
		name := "buyer"
		if want == RoleSeller {
			name = "seller"
		}
		return xerrors.New(xerrors.CodeUnauthorized, "only the "+name+" can move a purchase order to "+string(to))
	}
	return nil
}

func lineTotal(unitPrice coin.Amount, quantity uint64) (coin.Amount, error) {
	return unitPrice.MulUint64(quantity)
}

func (c *callCtx) createPurchaseOrder(msg CreatePurchaseOrder) error {
	buyer, err := c.loadOwnedAgent(msg.BuyerAgentID)
	if err != nil {
		return err
	}
	if !buyer.Active {
		return xerrors.New(xerrors.CodeInactiveEntity, "agent is not active: "+buyer.ID)
	}
	if msg.BuyerAgentID == msg.SellerAgentID {
		return xerrors.New(xerrors.CodeInvalidInput, "buyer and seller must be different agents")
	}
	seller, err := c.loadActiveAgent(msg.SellerAgentID)
	if err != nil {
		return err
	}
	if len(msg.Items) == 0 {
		return xerrors.New(xerrors.CodeInvalidInput, "purchase order requires at least one item")
	}
	total := coin.Zero()
	for _, item := range msg.Items {
		line, err := lineTotal(item.UnitPrice, item.Quantity)
		if err != nil {
			return err
		}
		if total, err = total.Add(line); err != nil {
			return err
		}
	}

	c.cfg.NextPurchaseOrderID++
	seq := c.cfg.NextPurchaseOrderID
	now := c.now()
	po := PurchaseOrder{
		ID:            PurchaseOrderID(seq, now),
		Seq:           seq,
		BuyerID:       buyer.ID,
		SellerID:      seller.ID,
		Items:         msg.Items,
		TotalAmount:   total,
		Status:        PODraft,
		CreatedAt:     now,
		UpdatedAt:     now,
		DeliveryTerms: msg.DeliveryTerms,
		PaymentTerms:  msg.PaymentTerms,
		Metadata:      msg.Metadata,
	}
	if err := orders.Save(c.store, po.ID, po); err != nil {
		return err
	}
	if err := c.store.Set(orderIndexPath(buyer.ID, RoleBuyer).Uint64(seq).Bytes(), []byte(po.ID)); err != nil {
		return err
	}
	if err := c.store.Set(orderIndexPath(seller.ID, RoleSeller).Uint64(seq).Bytes(), []byte(po.ID)); err != nil {
		return err
	}

	err = c.notifyJSON(buyer.ID, seller.ID, TypeOf(KindPurchaseOrder), map[string]any{
		"po_id":          po.ID,
		"buyer":          buyer.ID,
		"total_amount":   total.String(),
		"items_count":    len(po.Items),
		"delivery_terms": po.DeliveryTerms,
	}, true)
	if err != nil {
		return err
	}
	c.resp.add("method", "create_purchase_order").
		add("po_id", po.ID).
		add("buyer", buyer.ID).
		add("seller", seller.ID).
		add("total_amount", total.String())
	return nil
}

func (c *callCtx) updatePurchaseOrder(msg UpdatePurchaseOrder) error {
	po, err := orders.Load(c.store, msg.POID)
	if err != nil {
		return err
	}
	if _, err := c.loadOwnedAgent(msg.UpdaterAgentID); err != nil {
		return err
	}
	var actor Role
	var counterparty string
	switch msg.UpdaterAgentID {
	case po.BuyerID:
		actor, counterparty = RoleBuyer, po.SellerID
	case po.SellerID:
		actor, counterparty = RoleSeller, po.BuyerID
	default:
		return xerrors.New(xerrors.CodeUnauthorized, "only the buyer or seller can update purchase order "+po.ID)
	}
	if err := CheckTransition(po.Status, msg.Status, actor); err != nil {
		return err
	}

	po.Status = msg.Status
	po.UpdatedAt = c.now()
	if err := orders.Save(c.store, po.ID, po); err != nil {
		return err
	}
	err = c.notifyJSON(msg.UpdaterAgentID, counterparty, TypeOf(KindPurchaseOrder), map[string]any{
		"po_id":      po.ID,
		"new_status": po.Status,
		"updated_by": msg.UpdaterAgentID,
		"notes":      msg.Notes,
	}, false)
	if err != nil {
		return err
	}
	if po.Status == POAccepted {
		if err := c.addPurchases(po.BuyerID, po.TotalAmount); err != nil {
			return err
		}
		if err := c.addSales(po.SellerID, po.TotalAmount); err != nil {
			return err
		}
	}
	c.resp.add("method", "update_purchase_order").
		add("po_id", po.ID).
		add("new_status", string(po.Status)).
		add("updated_by", msg.UpdaterAgentID)
	return nil
}

func (c *callCtx) createInvoice(msg CreateInvoice) error {
	po, err := orders.Load(c.store, msg.POID)
	if err != nil {
		return err
	}
	if _, err := c.loadOwnedAgent(msg.SellerAgentID); err != nil {
		return err
	}
	if msg.SellerAgentID != po.SellerID {
		return xerrors.New(xerrors.CodeUnauthorized, "only the seller of "+po.ID+" can invoice it")
	}
	if po.Status != PODelivered && po.Status != POInProgress {
		return xerrors.New(xerrors.CodeInvalidState, "can only invoice delivered or in-progress orders")
	}
	if po.InvoiceID != nil {
		return xerrors.New(xerrors.CodeInvalidState, "purchase order already invoiced: "+*po.InvoiceID)
	}
	if len(msg.LineItems) == 0 {
		return xerrors.New(xerrors.CodeInvalidInput, "invoice requires at least one line item")
	}

	subtotal := coin.Zero()
	for _, item := range msg.LineItems {
		line, err := lineTotal(item.UnitPrice, item.Quantity)
		if err != nil {
			return err
		}
		if subtotal, err = subtotal.Add(line); err != nil {
			return err
		}
	}
	tax, discount := coin.Zero(), coin.Zero()
	if msg.TaxRate != nil {
		if tax, err = subtotal.MulBps(*msg.TaxRate); err != nil {
			return err
		}
	}
	if msg.DiscountRate != nil {
		if discount, err = subtotal.MulBps(*msg.DiscountRate); err != nil {
			return err
		}
	}
	gross, err := subtotal.Add(tax)
	if err != nil {
		return err
	}
	total, err := gross.Sub(discount)
	if err != nil {
		return err
	}

	c.cfg.NextInvoiceID++
	seq := c.cfg.NextInvoiceID
	now := c.now()
	inv := Invoice{
		ID:             InvoiceID(seq, now),
		Seq:            seq,
		POID:           po.ID,
		SellerID:       po.SellerID,
		BuyerID:        po.BuyerID,
		LineItems:      msg.LineItems,
		Subtotal:       subtotal,
		TaxAmount:      tax,
		DiscountAmount: discount,
		TotalAmount:    total,
		TaxBps:         msg.TaxRate,
		DiscountBps:    msg.DiscountRate,
		CreatedAt:      now,
		DueDate:        msg.DueDate,
		Metadata:       msg.Metadata,
	}
	if err := invoices.Save(c.store, inv.ID, inv); err != nil {
		return err
	}
	po.InvoiceID = &inv.ID
	po.UpdatedAt = now
	if err := orders.Save(c.store, po.ID, po); err != nil {
		return err
	}
	if err := c.store.Set(invoiceIndexPath(inv.SellerID, RoleSeller).Uint64(seq).Bytes(), []byte(inv.ID)); err != nil {
		return err
	}
	if err := c.store.Set(invoiceIndexPath(inv.BuyerID, RoleBuyer).Uint64(seq).Bytes(), []byte(inv.ID)); err != nil {
		return err
	}

	err = c.notifyJSON(inv.SellerID, inv.BuyerID, TypeOf(KindInvoice), map[string]any{
		"invoice_id":   inv.ID,
		"po_id":        po.ID,
		"seller":       inv.SellerID,
		"total_amount": total.String(),
		"due_date":     inv.DueDate,
	}, true)
	if err != nil {
		return err
	}
	c.resp.add("method", "create_invoice").
		add("invoice_id", inv.ID).
		add("po_id", po.ID).
		add("total_amount", total.String())
	return nil
}

func (c *callCtx) payInvoice(msg PayInvoice) error {
	inv, err := invoices.Load(c.store, msg.InvoiceID)
	if err != nil {
		return err
	}
	if _, err := c.loadOwnedAgent(msg.BuyerAgentID); err != nil {
		return err
	}
	if msg.BuyerAgentID != inv.BuyerID {
		return xerrors.New(xerrors.CodeUnauthorized, "only the buyer can pay invoice "+inv.ID)
	}
	if inv.Paid {
		return xerrors.New(xerrors.CodeInvalidState, "invoice already paid")
	}

	if err := c.debit(inv.BuyerID, inv.TotalAmount); err != nil {
		return err
	}
	if err := c.credit(inv.SellerID, inv.TotalAmount); err != nil {
		return err
	}

	now := c.now()
	inv.Paid = true
	inv.PaidAt = &now
	inv.PaymentReference = msg.PaymentReference
	if err := invoices.Save(c.store, inv.ID, inv); err != nil {
		return err
	}
	po, err := orders.Load(c.store, inv.POID)
	if err != nil {
		return err
	}
	po.Status = POCompleted
	po.UpdatedAt = now
	if err := orders.Save(c.store, po.ID, po); err != nil {
		return err
	}

	payment := coin.New(c.cfg.SettlementDenom, inv.TotalAmount)
	if _, err := c.record(TxServicePayment, &inv.BuyerID, &inv.SellerID, payment, "Payment for invoice "+inv.ID); err != nil {
		return err
	}
	for _, party := range []string{inv.BuyerID, inv.SellerID} {
		if _, err := c.recompute(party, 0, maxTimestamp); err != nil {
			return err
		}
	}

	err = c.notifyJSON(inv.BuyerID, inv.SellerID, TypeOf(KindPaymentNotification), map[string]any{
		"invoice_id":        inv.ID,
		"po_id":             inv.POID,
		"payer":             inv.BuyerID,
		"amount":            inv.TotalAmount.String(),
		"payment_reference": inv.PaymentReference,
	}, false)
	if err != nil {
		return err
	}
	c.resp.add("method", "pay_invoice").
		add("invoice_id", inv.ID).
		add("amount", inv.TotalAmount.String())
	return nil
}

func (c *callCtx) confirmReceipt(msg ConfirmReceipt) error {
	po, err := orders.Load(c.store, msg.POID)
	if err != nil {
		return err
	}
	if _, err := c.loadOwnedAgent(msg.BuyerAgentID); err != nil {
		return err
	}
	if msg.BuyerAgentID != po.BuyerID {
		return xerrors.New(xerrors.CodeUnauthorized, "only the buyer can confirm receipt of "+po.ID)
	}

	now := c.now()
	prefix := receiptPrefix.Str(po.ID)
	seq, err := nextSeq(c.store, prefix)
	if err != nil {
		return err
	}
	raw, err := encodeJSON(Receipt{
		POID:          po.ID,
		ConfirmedBy:   msg.BuyerAgentID,
		ItemsReceived: msg.ItemsReceived,
		ConfirmedAt:   now,
		Notes:         msg.Notes,
	})
	if err != nil {
		return err
	}
	if err := c.store.Set(prefix.Uint64(seq).Bytes(), raw); err != nil {
		return err
	}

	po.Status = PODelivered
	po.UpdatedAt = now
	if err := orders.Save(c.store, po.ID, po); err != nil {
		return err
	}
	err = c.notifyJSON(po.BuyerID, po.SellerID, TypeOf(KindReceiptConfirmation), map[string]any{
		"po_id":             po.ID,
		"confirmed_by":      po.BuyerID,
		"confirmation_time": now,
	}, false)
	if err != nil {
		return err
	}
	c.resp.add("method", "confirm_receipt").
		add("po_id", po.ID).
		add("confirmed_by", po.BuyerID).
		addUint("receipt_seq", seq)
	return nil
}

// RefundRequestTag 是退款请求通知使用的自定义消息类型标签。
const RefundRequestTag = "RefundRequest"

// initiateRefund 仅向对手方发送退款请求通知，不移动资金。
func (c *callCtx) initiateRefund(msg InitiateRefund) error {
	inv, err := invoices.Load(c.store, msg.InvoiceID)
	if err != nil {
		return err
	}
	if _, err := c.loadOwnedAgent(msg.RequesterAgentID); err != nil {
		return err
	}
	var counterparty string
	switch msg.RequesterAgentID {
	case inv.BuyerID:
		counterparty = inv.SellerID
	case inv.SellerID:
		counterparty = inv.BuyerID
	default:
		return xerrors.New(xerrors.CodeUnauthorized, "only the buyer or seller can request a refund")
	}
	if !inv.Paid {
		return xerrors.New(xerrors.CodeInvalidState, "cannot refund unpaid invoice")
	}
	if err := msg.Amount.RequireDenom(c.cfg.SettlementDenom); err != nil {
		return err
	}
	if err := msg.Amount.RequirePositive(); err != nil {
		return err
	}
	if inv.TotalAmount.LT(msg.Amount.Amount) {
		return xerrors.New(xerrors.CodeInvalidInput, "refund exceeds invoice total",
			xerrors.WithMetadata("requested", msg.Amount.Amount.String()),
			xerrors.WithMetadata("invoice_total", inv.TotalAmount.String()))
	}

	err = c.notifyJSON(msg.RequesterAgentID, counterparty, CustomType(RefundRequestTag), map[string]any{
		"refund_request": map[string]any{
			"invoice_id":       inv.ID,
			"requested_by":     msg.RequesterAgentID,
			"amount":           msg.Amount.Amount.String(),
			"reason":           msg.Reason,
			"original_payment": inv.TotalAmount.String(),
		},
	}, true)
	if err != nil {
		return err
	}
	c.resp.add("method", "initiate_refund").
		add("invoice_id", inv.ID).
		add("requested_by", msg.RequesterAgentID).
		add("amount", msg.Amount.Amount.String()).
		add("counterparty", counterparty)
	return nil
}
