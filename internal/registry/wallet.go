package registry

import (
	"fmt"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
)

func insufficient(required, available coin.Amount) error {
	return xerrors.New(xerrors.CodeInsufficientBalance, "",
		xerrors.WithMetadata("required", required.String()),
		xerrors.WithMetadata("available", available.String()))
}

func (c *callCtx) loadWallet(agentID string) (AgentWallet, error) {
	return wallets.Load(c.store, agentID)
}

// credit 增加总余额。
func (c *callCtx) credit(agentID string, amount coin.Amount) error {
	w, err := c.loadWallet(agentID)
	if err != nil {
		return err
	}
	next, err := w.Balance.Amount.Add(amount)
	if err != nil {
		return err
	}
	w.Balance.Amount = next
	return wallets.Save(c.store, agentID, w)
}

// debit 从可支配余额中扣减，不得触及托管锁定部分。
func (c *callCtx) debit(agentID string, amount coin.Amount) error {
	w, err := c.loadWallet(agentID)
	if err != nil {
		return err
	}
	if spendable := w.Spendable(); spendable.LT(amount) {
		return insufficient(amount, spendable)
	}
	next, err := w.Balance.Amount.Sub(amount)
	if err != nil {
		return err
	}
	w.Balance.Amount = next
	return wallets.Save(c.store, agentID, w)
}

// lock 将可支配余额中的 amount 转入托管锁定。
func (c *callCtx) lock(agentID string, amount coin.Amount) error {
	w, err := c.loadWallet(agentID)
	if err != nil {
		return err
	}
	if spendable := w.Spendable(); spendable.LT(amount) {
		return insufficient(amount, spendable)
	}
	next, err := w.Locked.Amount.Add(amount)
	if err != nil {
		return err
	}
	w.Locked.Amount = next
	return wallets.Save(c.store, agentID, w)
}

// unlockAndSettle 消耗托管资金：总余额与锁定额同时减少 amount。
func (c *callCtx) unlockAndSettle(agentID string, amount coin.Amount) error {
	w, err := c.loadWallet(agentID)
	if err != nil {
		return err
	}
	locked, err := w.Locked.Amount.Sub(amount)
	if err != nil {
		return err
	}
	balance, err := w.Balance.Amount.Sub(amount)
	if err != nil {
		return err
	}
	w.Locked.Amount, w.Balance.Amount = locked, balance
	return wallets.Save(c.store, agentID, w)
}

// releaseLock 解除托管，资金回到可支配余额。
func (c *callCtx) releaseLock(agentID string, amount coin.Amount) error {
	w, err := c.loadWallet(agentID)
	if err != nil {
		return err
	}
	locked, err := w.Locked.Amount.Sub(amount)
	if err != nil {
		return err
	}
	w.Locked.Amount = locked
	return wallets.Save(c.store, agentID, w)
}

func (c *callCtx) fundAgent(msg FundAgent) error {
	agent, err := c.loadActiveAgent(msg.AgentID)
	if err != nil {
		return err
	}
	amount, err := c.info.Funds.MustPay(c.cfg.SettlementDenom)
	if err != nil {
		return err
	}
	if err := c.credit(agent.ID, amount); err != nil {
		return err
	}
	if err := c.touch(&agent); err != nil {
		return err
	}
	deposit := coin.New(c.cfg.SettlementDenom, amount)
	if _, err := c.record(TxDeposit, nil, &agent.ID, deposit, "Funding from "+c.info.Sender); err != nil {
		return err
	}
	c.resp.add("method", "fund_agent").add("agent_id", agent.ID).add("amount", amount.String())
	return nil
}

func (c *callCtx) withdrawFromAgent(msg WithdrawFromAgent) error {
	agent, err := c.loadOwnedAgent(msg.AgentID)
	if err != nil {
		return err
	}
	if err := msg.Amount.RequireDenom(c.cfg.SettlementDenom); err != nil {
		return err
	}
	if err := msg.Amount.RequirePositive(); err != nil {
		return err
	}
	recipient, err := c.addresses.Normalize(msg.Recipient)
	if err != nil {
		return err
	}
	if err := c.debit(agent.ID, msg.Amount.Amount); err != nil {
		return err
	}
	if err := c.touch(&agent); err != nil {
		return err
	}
	if _, err := c.record(TxWithdrawal, &agent.ID, nil, msg.Amount, "Withdrawal to "+recipient); err != nil {
		return err
	}
	c.resp.Transfers = append(c.resp.Transfers, TransferInstruction{Recipient: recipient, Amount: coin.Coins{msg.Amount}})
	c.resp.add("method", "withdraw_from_agent").
		add("agent_id", agent.ID).
		add("amount", msg.Amount.Amount.String()).
		add("recipient", recipient)
	return nil
}

func (c *callCtx) agentTransfer(msg AgentTransfer) error {
	from, err := c.loadOwnedAgent(msg.FromAgentID)
	if err != nil {
		return err
	}
	if msg.FromAgentID == msg.ToAgentID {
		return xerrors.New(xerrors.CodeInvalidInput, "cannot transfer to the same agent")
	}
	to, err := c.loadActiveAgent(msg.ToAgentID)
	if err != nil {
		return err
	}
	if err := msg.Amount.RequireDenom(c.cfg.SettlementDenom); err != nil {
		return err
	}
	if err := msg.Amount.RequirePositive(); err != nil {
		return err
	}
	if err := c.debit(from.ID, msg.Amount.Amount); err != nil {
		return err
	}
	if err := c.credit(to.ID, msg.Amount.Amount); err != nil {
		return err
	}
	if err := c.touch(&from); err != nil {
		return err
	}
	if err := c.touch(&to); err != nil {
		return err
	}
	memo := "Agent transfer"
	if msg.Memo != nil {
		memo = *msg.Memo
	}
	txID, err := c.record(TxTransfer, &from.ID, &to.ID, msg.Amount, memo)
	if err != nil {
		return err
	}
	c.resp.add("method", "agent_transfer").
		add("from", from.ID).
		add("to", to.ID).
		add("amount", msg.Amount.Amount.String()).
		addUint("tx_id", txID)
	return nil
}

func (c *callCtx) batchAgentTransfer(msg BatchAgentTransfer) error {
	from, err := c.loadOwnedAgent(msg.FromAgentID)
	if err != nil {
		return err
	}
	if len(msg.Transfers) == 0 {
		return xerrors.New(xerrors.CodeInvalidInput, "batch transfer requires at least one transfer")
	}
	total := coin.Zero()
	for i, t := range msg.Transfers {
		if t.ToAgentID == from.ID {
			return xerrors.Newf(xerrors.CodeInvalidInput, "transfer %d targets the sending agent", i)
		}
		if err := t.Amount.RequireDenom(c.cfg.SettlementDenom); err != nil {
			return err
		}
		if err := t.Amount.RequirePositive(); err != nil {
			return err
		}
		if _, err := c.loadActiveAgent(t.ToAgentID); err != nil {
			return err
		}
		if total, err = total.Add(t.Amount.Amount); err != nil {
			return err
		}
	}

	if err := c.debit(from.ID, total); err != nil {
		return err
	}
	for i, t := range msg.Transfers {
		if err := c.credit(t.ToAgentID, t.Amount.Amount); err != nil {
			return err
		}
		to, err := loadAgent(c.store, t.ToAgentID)
		if err != nil {
			return err
		}
		if err := c.touch(&to); err != nil {
			return err
		}
		memo := fmt.Sprintf("Batch transfer %d/%d", i+1, len(msg.Transfers))
		if t.Memo != nil {
			memo = *t.Memo
		}
		if _, err := c.record(TxTransfer, &from.ID, &t.ToAgentID, t.Amount, memo); err != nil {
			return err
		}
	}
	if err := c.touch(&from); err != nil {
		return err
	}
	c.resp.add("method", "batch_agent_transfer").
		add("from", from.ID).
		add("total_amount", total.String()).
		add("transfer_count", fmt.Sprint(len(msg.Transfers)))
	return nil
}
