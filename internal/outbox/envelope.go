// Package outbox 承载已提交调用产生的转账指令与事件，
// 由宿主在提交后投递，结算进程从队列消费。
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"AgentLedger-Chain/internal/coin"
	xerrors "AgentLedger-Chain/internal/errors"
)

// Kind 区分信封内容。
type Kind string

const (
	KindTransfer Kind = "transfer"
	KindEvent    Kind = "event"
)

// Transfer 是一条待执行的原生资产转账。
type Transfer struct {
	Recipient string     `json:"recipient"`
	Amount    coin.Coins `json:"amount"`
}

// Attribute 复制调用响应中的属性。
type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Envelope 是队列中传递的单条消息。
type Envelope struct {
	ID         string      `json:"id"`
	Kind       Kind        `json:"kind"`
	CallID     string      `json:"call_id"`
	Height     uint64      `json:"height"`
	Action     string      `json:"action"`
	Caller     string      `json:"caller"`
	Transfer   *Transfer   `json:"transfer,omitempty"`
	Attributes []Attribute `json:"attributes,omitempty"`
	Attempts   int         `json:"attempts"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewEnvelope 分配 ID 与创建时间。
func NewEnvelope(kind Kind, callID string, height uint64, action, caller string) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		CallID:    callID,
		Height:    height,
		Action:    action,
		Caller:    caller,
		CreatedAt: time.Now().UTC(),
	}
}

// Encode 序列化信封。
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "encode envelope")
	}
	return data, nil
}

// Decode 反序列化信封。
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "decode envelope")
	}
	return e, nil
}

// Handler 处理来自队列的信封。
type Handler func(ctx context.Context, env Envelope) error

// Producer 负责向队列投递信封。
type Producer interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// Consumer 负责从队列中消费信封。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
