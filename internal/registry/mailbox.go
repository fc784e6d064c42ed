package registry

import (
	"strconv"

	xerrors "AgentLedger-Chain/internal/errors"
)

// notify 写入一条消息并更新双方的收发件箱索引，不校验所有权。
// 业务流程通过它向对手方投递通知。
func (c *callCtx) notify(from, to string, kind MessageType, content string, requiresResponse bool) (string, error) {
	c.cfg.NextMessageID++
	seq := c.cfg.NextMessageID
	id := MessageID(seq)
	msg := AgentMessage{
		ID:               id,
		Seq:              seq,
		From:             from,
		To:               to,
		Type:             kind,
		Content:          content,
		RequiresResponse: requiresResponse,
		Timestamp:        c.now(),
	}
	if err := messages.Save(c.store, id, msg); err != nil {
		return "", err
	}
	if err := c.store.Set(mailboxPath(from, Outbox).Uint64(seq).Bytes(), []byte(id)); err != nil {
		return "", err
	}
	if err := c.store.Set(mailboxPath(to, Inbox).Uint64(seq).Bytes(), []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}

// notifyJSON 以 JSON 编码通知内容。
func (c *callCtx) notifyJSON(from, to string, kind MessageType, content any, requiresResponse bool) error {
	raw, err := encodeJSON(content)
	if err != nil {
		return err
	}
	_, err = c.notify(from, to, kind, string(raw), requiresResponse)
	return err
}

func (c *callCtx) sendMessage(msg SendMessage) error {
	from, err := c.loadOwnedAgent(msg.FromAgentID)
	if err != nil {
		return err
	}
	if !from.Active {
		return xerrors.New(xerrors.CodeInactiveEntity, "agent is not active: "+from.ID)
	}
	if _, err := c.loadActiveAgent(msg.ToAgentID); err != nil {
		return err
	}
	if err := msg.MessageType.Validate(); err != nil {
		return err
	}
	id, err := c.notify(from.ID, msg.ToAgentID, msg.MessageType, msg.Content, msg.RequiresResponse)
	if err != nil {
		return err
	}
	c.resp.add("method", "send_message").
		add("message_id", id).
		add("from_agent", from.ID).
		add("to_agent", msg.ToAgentID).
		add("requires_response", strconv.FormatBool(msg.RequiresResponse))
	return nil
}

func (c *callCtx) respondToMessage(msg RespondToMessage) error {
	stored, err := messages.Load(c.store, msg.MessageID)
	if err != nil {
		return err
	}
	if stored.To != msg.FromAgentID {
		return xerrors.New(xerrors.CodeUnauthorized, "only the message recipient can respond")
	}
	if _, err := c.loadOwnedAgent(msg.FromAgentID); err != nil {
		return err
	}
	if !stored.RequiresResponse {
		return xerrors.New(xerrors.CodeInvalidState, "message does not require a response")
	}
	if stored.Response != nil {
		return xerrors.New(xerrors.CodeInvalidState, "message has already been responded to")
	}
	stored.Response = &MessageResponse{Content: msg.ResponseContent, RespondedAt: c.now()}
	if err := messages.Save(c.store, stored.ID, stored); err != nil {
		return err
	}
	c.resp.add("method", "respond_to_message").
		add("message_id", stored.ID).
		add("responder_agent", msg.FromAgentID).
		addUint("responded_at", c.now())
	return nil
}
