package registry

import (
	"strings"
	"unicode/utf8"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/kv"
)

func loadAgent(r kv.Reader, id string) (Agent, error) {
	return agents.Load(r, id)
}

func (c *callCtx) loadActiveAgent(id string) (Agent, error) {
	agent, err := loadAgent(c.store, id)
	if err != nil {
		return agent, err
	}
	if !agent.Active {
		return agent, xerrors.New(xerrors.CodeInactiveEntity, "agent is not active: "+id)
	}
	return agent, nil
}

// loadOwnedAgent 读取代理并要求调用者是其所有者。
func (c *callCtx) loadOwnedAgent(id string) (Agent, error) {
	agent, err := loadAgent(c.store, id)
	if err != nil {
		return agent, err
	}
	if err := c.requireOwner(agent); err != nil {
		return agent, err
	}
	return agent, nil
}

func (c *callCtx) requireOwner(agent Agent) error {
	if agent.Owner != c.info.Sender {
		return xerrors.New(xerrors.CodeUnauthorized, "caller does not own agent "+agent.ID)
	}
	return nil
}

// normalizeTags 去除空白与重复的能力标签，标签长度不得超过 MaxTagLength。
func normalizeTags(tags []string) ([]string, error) {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, xerrors.Newf(xerrors.CodeInvalidInput, "capability tag exceeds %d characters", MaxTagLength)
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}

// saveAgent 写入代理，并在能力标签变化时同步维护能力索引。
func (c *callCtx) saveAgent(prev []string, agent Agent) error {
	next := make(map[string]struct{}, len(agent.Capabilities))
	for _, tag := range agent.Capabilities {
		next[tag] = struct{}{}
	}
	for _, tag := range prev {
		if _, keep := next[tag]; !keep {
			if err := c.store.Delete(capabilityKey(tag, agent.ID)); err != nil {
				return err
			}
		}
	}
	for tag := range next {
		if err := c.store.Set(capabilityKey(tag, agent.ID), marker); err != nil {
			return err
		}
	}
	return agents.Save(c.store, agent.ID, agent)
}

// touch 刷新代理的最近活跃时间并保存。
func (c *callCtx) touch(agent *Agent) error {
	agent.LastActive = c.now()
	return agents.Save(c.store, agent.ID, *agent)
}

func (c *callCtx) registerAgent(msg RegisterAgent) error {
	if err := ValidateName(msg.Name); err != nil {
		return err
	}
	if exists, err := agentOwners.Has(c.store, c.info.Sender); err != nil {
		return err
	} else if exists {
		return xerrors.New(xerrors.CodeAlreadyExists, "agent already exists for owner "+c.info.Sender)
	}

	capabilities, err := normalizeTags(msg.Capabilities)
	if err != nil {
		return err
	}

	id := AgentID(c.info.Sender, c.cfg.NextAgentID)
	c.cfg.NextAgentID++
	if exists, err := agents.Has(c.store, id); err != nil {
		return err
	} else if exists {
		return xerrors.New(xerrors.CodeAlreadyExists, "agent id collision: "+id)
	}

	agent := Agent{
		ID:              id,
		Owner:           c.info.Sender,
		Name:            msg.Name,
		Description:     msg.Description,
		Capabilities:    capabilities,
		Endpoints:       msg.Endpoints,
		WalletAddress:   WalletAddress(id),
		Active:          true,
		CreatedAt:       c.now(),
		LastActive:      c.now(),
		ReputationScore: InitialReputation,
	}
	wallet := AgentWallet{
		AgentID: id,
		Balance: coin.New(c.cfg.SettlementDenom, coin.Zero()),
		Locked:  coin.New(c.cfg.SettlementDenom, coin.Zero()),
	}

	// 随注册附带的资金必须与初始余额完全一致，不允许合约留存未入账的资金。
	requested := coin.Zero()
	if msg.InitialBalance != nil {
		if err := msg.InitialBalance.RequireDenom(c.cfg.SettlementDenom); err != nil {
			return err
		}
		requested = msg.InitialBalance.Amount
	}
	for _, f := range c.info.Funds {
		if f.Denom != c.cfg.SettlementDenom && !f.IsZero() {
			return xerrors.New(xerrors.CodeInvalidInput, "unsupported denom attached: "+f.Denom)
		}
	}
	attached, err := c.info.Funds.AmountOf(c.cfg.SettlementDenom)
	if err != nil {
		return err
	}
	if !attached.Equal(requested) {
		return xerrors.New(xerrors.CodeInvalidInput, "attached funds must equal the initial balance",
			xerrors.WithMetadata("required", requested.String()),
			xerrors.WithMetadata("attached", attached.String()))
	}
	wallet.Balance.Amount = requested
	initial := requested.String()

	if err := c.saveAgent(nil, agent); err != nil {
		return err
	}
	if err := agentOwners.Save(c.store, c.info.Sender, id); err != nil {
		return err
	}
	if err := wallets.Save(c.store, id, wallet); err != nil {
		return err
	}
	if !wallet.Balance.IsZero() {
		if _, err := c.record(TxDeposit, nil, &id, wallet.Balance, "Initial agent funding"); err != nil {
			return err
		}
	}

	c.resp.add("method", "register_agent").
		add("agent_id", id).
		add("owner", c.info.Sender).
		add("wallet_address", agent.WalletAddress).
		add("initial_balance", initial)
	return nil
}

func (c *callCtx) updateAgent(msg UpdateAgent) error {
	agent, err := c.loadOwnedAgent(msg.AgentID)
	if err != nil {
		return err
	}
	prevTags := agent.Capabilities
	if msg.Name != nil {
		if err := ValidateName(*msg.Name); err != nil {
			return err
		}
		agent.Name = *msg.Name
	}
	if msg.Description != nil {
		agent.Description = *msg.Description
	}
	if msg.Capabilities != nil {
		if agent.Capabilities, err = normalizeTags(*msg.Capabilities); err != nil {
			return err
		}
	}
	if msg.Endpoints != nil {
		agent.Endpoints = *msg.Endpoints
	}
	agent.LastActive = c.now()
	if err := c.saveAgent(prevTags, agent); err != nil {
		return err
	}
	c.resp.add("method", "update_agent").add("agent_id", agent.ID)
	return nil
}

func (c *callCtx) deactivateAgent(msg DeactivateAgent) error {
	agent, err := c.loadOwnedAgent(msg.AgentID)
	if err != nil {
		return err
	}
	wallet, err := wallets.Load(c.store, agent.ID)
	if err != nil {
		return err
	}
	if !wallet.Locked.IsZero() {
		return xerrors.New(xerrors.CodeInvalidState, "cannot deactivate agent with locked balance",
			xerrors.WithMetadata("locked", wallet.Locked.Amount.String()))
	}
	agent.Active = false
	if err := c.touch(&agent); err != nil {
		return err
	}
	c.resp.add("method", "deactivate_agent").add("agent_id", agent.ID)
	return nil
}
