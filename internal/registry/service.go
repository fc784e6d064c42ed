package registry

import (
	"math"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
)

func (c *callCtx) requestService(msg RequestService) error {
	requester, err := c.loadOwnedAgent(msg.RequesterAgentID)
	if err != nil {
		return err
	}
	if !requester.Active {
		return xerrors.New(xerrors.CodeInactiveEntity, "agent is not active: "+requester.ID)
	}
	if msg.RequesterAgentID == msg.ProviderAgentID {
		return xerrors.New(xerrors.CodeInvalidInput, "agent cannot request a service from itself")
	}
	provider, err := c.loadActiveAgent(msg.ProviderAgentID)
	if err != nil {
		return err
	}
	if err := msg.Payment.RequireDenom(c.cfg.SettlementDenom); err != nil {
		return err
	}
	if err := msg.Payment.RequirePositive(); err != nil {
		return err
	}
	if err := c.checkServiceType(msg.ServiceType, msg.Payment.Amount, provider); err != nil {
		return err
	}
	if err := c.lock(requester.ID, msg.Payment.Amount); err != nil {
		return err
	}

	id := ServiceID(requester.ID, provider.ID, c.cfg.NextServiceID)
	c.cfg.NextServiceID++
	svc := Service{
		ID:          id,
		RequesterID: requester.ID,
		ProviderID:  provider.ID,
		ServiceType: msg.ServiceType,
		Payment:     msg.Payment,
		Status:      ServicePending,
		Parameters:  msg.Parameters,
		CreatedAt:   c.now(),
	}
	if err := services.Save(c.store, id, svc); err != nil {
		return err
	}
	requester.ServicesRequested++
	if err := c.touch(&requester); err != nil {
		return err
	}
	if err := c.touch(&provider); err != nil {
		return err
	}
	c.resp.add("method", "request_service").
		add("service_id", id).
		add("requester", requester.ID).
		add("provider", provider.ID).
		add("payment", msg.Payment.Amount.String())
	return nil
}

// checkServiceType 对已登记的服务类型执行最低价格和能力约束；未登记的类型不受限制。
func (c *callCtx) checkServiceType(name string, payment coin.Amount, provider Agent) error {
	info, ok, err := serviceTypes.Get(c.store, name)
	if err != nil || !ok {
		return err
	}
	if payment.LT(info.MinPayment) {
		return xerrors.New(xerrors.CodeInvalidInput, "payment below minimum for service type "+name,
			xerrors.WithMetadata("min_payment", info.MinPayment.String()))
	}
	have := make(map[string]struct{}, len(provider.Capabilities))
	for _, tag := range provider.Capabilities {
		have[tag] = struct{}{}
	}
	for _, need := range info.RequiredCapabilities {
		if _, ok := have[need]; !ok {
			return xerrors.New(xerrors.CodeInvalidInput, "provider lacks capability "+need+" required by "+name)
		}
	}
	return nil
}

func (c *callCtx) loadPendingService(id string) (Service, error) {
	svc, err := services.Load(c.store, id)
	if err != nil {
		return svc, err
	}
	if svc.Status != ServicePending || svc.EscrowReleased {
		return svc, xerrors.New(xerrors.CodeInvalidState, "invalid service status: "+string(svc.Status))
	}
	return svc, nil
}

func (c *callCtx) completeService(msg CompleteService) error {
	svc, err := c.loadPendingService(msg.ServiceID)
	if err != nil {
		return err
	}
	provider, err := c.loadOwnedAgent(svc.ProviderID)
	if err != nil {
		return err
	}

	payment := svc.Payment.Amount
	fee, err := payment.MulBps(c.cfg.FeeBps)
	if err != nil {
		return err
	}
	net, err := payment.Sub(fee)
	if err != nil {
		return err
	}
	if err := c.unlockAndSettle(svc.RequesterID, payment); err != nil {
		return err
	}
	if err := c.credit(provider.ID, net); err != nil {
		return err
	}
	if c.cfg.CollectedFees, err = c.cfg.CollectedFees.Add(fee); err != nil {
		return err
	}

	now := c.now()
	svc.Status = ServiceCompleted
	svc.Result = &msg.Result
	svc.CompletedAt = &now
	svc.EscrowReleased = true
	if err := services.Save(c.store, svc.ID, svc); err != nil {
		return err
	}

	provider.ServicesProvided++
	if err := c.adjustReputation(&provider, ReputationServiceCompleted, int64(ReputationOnSuccess), "Service "+svc.ID+" completed"); err != nil {
		return err
	}
	if err := c.touch(&provider); err != nil {
		return err
	}

	denom := svc.Payment.Denom
	if _, err := c.record(TxServicePayment, &svc.RequesterID, &svc.ProviderID, coin.New(denom, net), "Service "+svc.ID+" completed"); err != nil {
		return err
	}
	if !fee.IsZero() {
		if _, err := c.record(TxFee, &svc.RequesterID, nil, coin.New(denom, fee), "Service fee for "+svc.ID); err != nil {
			return err
		}
	}
	c.resp.add("method", "complete_service").
		add("service_id", svc.ID).
		add("provider_payment", net.String()).
		add("fee", fee.String())
	return nil
}

func (c *callCtx) refundService(msg RefundService) error {
	svc, err := c.loadPendingService(msg.ServiceID)
	if err != nil {
		return err
	}
	requester, err := loadAgent(c.store, svc.RequesterID)
	if err != nil {
		return err
	}
	provider, err := loadAgent(c.store, svc.ProviderID)
	if err != nil {
		return err
	}
	byProvider := provider.Owner == c.info.Sender
	if !byProvider && requester.Owner != c.info.Sender {
		return xerrors.New(xerrors.CodeUnauthorized, "only the requester or provider may refund service "+svc.ID)
	}

	if err := c.releaseLock(requester.ID, svc.Payment.Amount); err != nil {
		return err
	}
	now := c.now()
	svc.Status = ServiceRefunded
	svc.Result = &msg.Reason
	svc.CompletedAt = &now
	svc.EscrowReleased = true
	if err := services.Save(c.store, svc.ID, svc); err != nil {
		return err
	}

	if byProvider {
		if err := c.adjustReputation(&provider, ReputationServiceRefunded, -int64(ReputationOnRefund), msg.Reason); err != nil {
			return err
		}
		if err := c.touch(&provider); err != nil {
			return err
		}
	} else if err := c.touch(&requester); err != nil {
		return err
	}

	if _, err := c.record(TxServiceRefund, &svc.ProviderID, &svc.RequesterID, svc.Payment, "Refund: "+msg.Reason); err != nil {
		return err
	}
	c.resp.add("method", "refund_service").
		add("service_id", svc.ID).
		add("refunded_by", c.info.Sender).
		add("amount", svc.Payment.Amount.String())
	return nil
}

// adjustReputation 以饱和方式调整信誉分，并追加一条信誉历史。调用方负责保存代理。
func (c *callCtx) adjustReputation(agent *Agent, kind ReputationKind, delta int64, reason string) error {
	switch {
	case delta >= 0:
		if agent.ReputationScore > math.MaxUint64-uint64(delta) {
			agent.ReputationScore = math.MaxUint64
		} else {
			agent.ReputationScore += uint64(delta)
		}
	case agent.ReputationScore < uint64(-delta):
		agent.ReputationScore = 0
	default:
		agent.ReputationScore -= uint64(-delta)
	}

	prefix := reputationPrefix.Str(agent.ID)
	seq, err := nextSeq(c.store, prefix)
	if err != nil {
		return err
	}
	raw, err := encodeJSON(ReputationEvent{
		AgentID:   agent.ID,
		Kind:      kind,
		Delta:     delta,
		Score:     agent.ReputationScore,
		Reason:    reason,
		Timestamp: c.now(),
	})
	if err != nil {
		return err
	}
	return c.store.Set(prefix.Uint64(seq).Bytes(), raw)
}
