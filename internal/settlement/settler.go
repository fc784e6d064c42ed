// Package settlement 消费已提交调用产生的转账指令，并交给外部结算通道执行。
package settlement

import (
	"context"
	"log/slog"

	xerrors "AgentLedger-Chain/internal/errors"
	"AgentLedger-Chain/internal/outbox"
	"AgentLedger-Chain/pkg/logger"
)

// Settler 执行一条转账指令。实现需要对同一信封 ID 幂等。
type Settler interface {
	Settle(ctx context.Context, env outbox.Envelope) error
}

// SettlerFunc 允许普通函数充当 Settler。
type SettlerFunc func(ctx context.Context, env outbox.Envelope) error

// Settle 实现 Settler。
func (f SettlerFunc) Settle(ctx context.Context, env outbox.Envelope) error { return f(ctx, env) }

// AuditSettler 只把转账写入审计日志，适用于没有外部链路的部署。
type AuditSettler struct{}

// Settle 记录一条审计日志。
func (AuditSettler) Settle(_ context.Context, env outbox.Envelope) error {
	if env.Transfer == nil {
		return xerrors.New(xerrors.CodeInvalidInput, "envelope carries no transfer")
	}
	logger.Audit().Info("transfer settled",
		slog.String("envelope_id", env.ID),
		slog.String("call_id", env.CallID),
		slog.Uint64("height", env.Height),
		slog.String("action", env.Action),
		slog.String("recipient", env.Transfer.Recipient),
		slog.String("amount", env.Transfer.Amount.String()),
	)
	return nil
}
