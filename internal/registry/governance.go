package registry

import (
	"strings"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
)

func (c *callCtx) requireAdmin() error {
	if c.info.Sender != c.cfg.Admin {
		return xerrors.New(xerrors.CodeUnauthorized, "admin only")
	}
	return nil
}

func (c *callCtx) updateConfig(msg UpdateConfig) error {
	if err := c.requireAdmin(); err != nil {
		return err
	}
	if msg.SettlementDenom != nil {
		denom := strings.TrimSpace(*msg.SettlementDenom)
		if denom == "" {
			return xerrors.New(xerrors.CodeMisconfiguration, "settlement denom must not be empty")
		}
		// 已有钱包以旧币种记账，更换币种会破坏钱包币种一致性。
		if denom != c.cfg.SettlementDenom && c.cfg.NextAgentID > 1 {
			return xerrors.New(xerrors.CodeMisconfiguration, "settlement denom cannot change after agents are registered")
		}
		c.cfg.SettlementDenom = denom
	}
	if msg.MinAgentBalance != nil {
		c.cfg.MinAgentBalance = *msg.MinAgentBalance
	}
	if msg.FeeBps != nil {
		if *msg.FeeBps > coin.BasisPoints {
			return xerrors.Newf(xerrors.CodeMisconfiguration, "fee rate %d exceeds %d basis points", *msg.FeeBps, coin.BasisPoints)
		}
		c.cfg.FeeBps = *msg.FeeBps
	}
	c.resp.add("method", "update_config").
		add("settlement_denom", c.cfg.SettlementDenom).
		add("min_agent_balance", c.cfg.MinAgentBalance.String()).
		addUint("fee_bps", c.cfg.FeeBps)
	return nil
}

func (c *callCtx) withdrawFees(msg WithdrawFees) error {
	if err := c.requireAdmin(); err != nil {
		return err
	}
	recipient, err := c.addresses.Normalize(msg.Recipient)
	if err != nil {
		return err
	}
	amount := c.cfg.CollectedFees
	if msg.Amount != nil {
		amount = *msg.Amount
	}
	if amount.IsZero() {
		return xerrors.New(xerrors.CodeInvalidInput, "no fees to withdraw")
	}
	if c.cfg.CollectedFees.LT(amount) {
		return insufficient(amount, c.cfg.CollectedFees)
	}
	if c.cfg.CollectedFees, err = c.cfg.CollectedFees.Sub(amount); err != nil {
		return err
	}
	c.resp.Transfers = append(c.resp.Transfers, TransferInstruction{
		Recipient: recipient,
		Amount:    coin.Coins{coin.New(c.cfg.SettlementDenom, amount)},
	})
	c.resp.add("method", "withdraw_fees").
		add("recipient", recipient).
		add("amount", amount.String()).
		add("remaining", c.cfg.CollectedFees.String())
	return nil
}

func (c *callCtx) registerServiceType(msg RegisterServiceType) error {
	if err := c.requireAdmin(); err != nil {
		return err
	}
	name := strings.TrimSpace(msg.Name)
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidInput, "service type name must not be empty")
	}
	required, err := normalizeTags(msg.RequiredCapabilities)
	if err != nil {
		return err
	}
	info := ServiceTypeInfo{
		Name:                 name,
		Description:          msg.Description,
		MinPayment:           msg.MinPayment,
		RequiredCapabilities: required,
	}
	if err := serviceTypes.Save(c.store, name, info); err != nil {
		return err
	}
	c.resp.add("method", "register_service_type").add("name", name)
	return nil
}
