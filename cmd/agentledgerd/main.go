package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"AgentLedger-Chain/internal/api"
	"AgentLedger-Chain/internal/auth"
	"AgentLedger-Chain/internal/config"
	"AgentLedger-Chain/internal/host"
	"AgentLedger-Chain/internal/observability/alerting"
	"AgentLedger-Chain/internal/observability/metrics"
	"AgentLedger-Chain/internal/outbox"
	"AgentLedger-Chain/internal/registry"
	"AgentLedger-Chain/internal/settlement"
	"AgentLedger-Chain/internal/storage"
	"AgentLedger-Chain/pkg/logger"
)

// main 是账本守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(cfg, os.Args[2:]); err != nil {
			log.Fatalf("签发令牌失败: %v", err)
		}
		return
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("agentledgerd 运行失败: %v", err)
	}
}

// issueToken 为运维人员签发访问令牌：agentledgerd token <caller> [permission...]。
func issueToken(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return errors.New("用法: agentledgerd token <caller> [permission...]")
	}
	svc, err := auth.NewService(cfg.AuthServiceConfig())
	if err != nil {
		return err
	}
	token, expires, err := svc.IssueToken(args[0], args[1:]...)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n# expires %s\n", token, expires.Format(time.RFC3339))
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("agentledgerd")

	backend, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	lg.Info("状态后端已就绪", "driver", cfg.Storage.Driver)

	var recorder *metrics.Recorder
	if cfg.Observability.MetricsEnabled {
		if cfg.Observability.RuntimeMetrics {
			recorder = metrics.NewWithRuntime()
		} else {
			recorder = metrics.New(nil)
		}
	}
	alerter := buildAlerter(cfg.Alerting)

	opts := []host.Option{
		host.WithChainID(cfg.Registry.ChainID),
		host.WithMetrics(recorder),
		host.WithAlertDispatcher(alerter),
	}

	var queue outbox.Queue
	if !cfg.Settlement.Disabled || cfg.Queue.Driver != "memory" {
		queue, err = outbox.Open(ctx, cfg.Queue)
		if err != nil {
			backend.Close()
			return err
		}
		defer func() {
			if err := queue.Close(); err != nil {
				lg.Warn("关闭队列失败", "error", err)
			}
		}()
		opts = append(opts, host.WithProducer(queue))
	}

	rt, err := host.New(backend, registry.New(), opts...)
	if err != nil {
		backend.Close()
		return err
	}
	defer rt.Close()

	if err := rt.EnsureInstantiated(ctx, cfg.Registry.Admin, cfg.Genesis()); err != nil {
		return fmt.Errorf("初始化账本失败: %w", err)
	}

	var processor *settlement.Processor
	if queue != nil && !cfg.Settlement.Disabled {
		processor = settlement.NewProcessor(settlement.AuditSettler{}, queue, queue,
			settlement.WithWorkerCount(cfg.Settlement.Workers),
			settlement.WithMaxRetries(cfg.Settlement.MaxRetries),
			settlement.WithAlertDispatcher(alerter),
			settlement.WithMetrics(recorder),
		)
		go func() {
			if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("结算处理器异常退出", "error", err)
			}
		}()
	}

	if queue != nil {
		go redeliverLoop(ctx, rt, cfg.RedeliverInterval())
	}

	if recorder != nil && cfg.Observability.MetricsAddress != "" {
		go func() {
			if err := recorder.StartServer(ctx, cfg.Observability.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", "error", err)
			}
		}()
	}

	authSvc, err := auth.NewService(cfg.AuthServiceConfig())
	if err != nil {
		return err
	}
	serverOpts := []api.Option{api.WithAuth(authSvc), api.WithMetrics(recorder)}
	if processor != nil {
		serverOpts = append(serverOpts, api.WithSettlementStats(processor))
	}
	server := api.NewServer(cfg.Server.Address, rt, serverOpts...)

	lg.Info("agentledgerd 已启动",
		"chain_id", cfg.Registry.ChainID,
		"height", rt.Height(),
		"auth", authSvc.Mode(),
		"queue", cfg.Queue.Driver,
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// redeliverLoop 启动时以及之后每个周期重投未确认的 outbox 信封。
func redeliverLoop(ctx context.Context, rt *host.Runtime, interval time.Duration) {
	lg := logger.Named("outbox")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := rt.Redeliver(ctx)
		if err != nil {
			lg.Warn("重投 outbox 失败", "error", err)
		} else if n > 0 {
			lg.Info("已重投 outbox 信封", "count", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func buildAlerter(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.WebhookURL,
			Client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}
