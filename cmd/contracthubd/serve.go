package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ContractHub/internal/addressbook"
	"ContractHub/internal/api"
	"ContractHub/internal/artifact"
	"ContractHub/internal/config"
	"ContractHub/internal/contract"
	"ContractHub/internal/gateway"
	"ContractHub/internal/job"
	"ContractHub/internal/ledger"
	"ContractHub/internal/observability/alerting"
	"ContractHub/internal/observability/metrics"
	"ContractHub/internal/storage/mysql"
	"ContractHub/internal/web3/accounts"
	"ContractHub/internal/web3/provider"
	"ContractHub/pkg/logger"

	"github.com/spf13/cobra"
)

func newServeCommand(root *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "启动 API 服务与任务处理器",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), root.cfg)
		},
	}
}

// closers 按注册的逆序释放资源。
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Named("contracthubd")
	var cleanup closers
	defer cleanup.run()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	registry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	cleanup.add(registry.Close)
	client, err := registry.DefaultClient()
	if err != nil {
		return err
	}
	backend := client.Backend()
	if backend == nil {
		return errors.New("默认链未提供可用连接")
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("读取链 ID 失败: %w", err)
	}

	keyring := accounts.NewKeyring(chainID)
	for _, key := range cfg.Web3.Accounts.ResolveKeys() {
		addr, err := keyring.AddHex(key)
		if err != nil {
			return err
		}
		log.Info("已加载签名账户", slog.String("address", addr.Hex()))
	}

	artifacts, err := artifact.Load(cfg.Contracts.Manifest)
	if err != nil {
		return err
	}

	dbs := newDBPool(cfg)
	cleanup.add(dbs.close)

	store, err := openJobStore(ctx, cfg, dbs)
	if err != nil {
		return err
	}
	queue, err := openQueue(ctx, cfg.JobQueue)
	if err != nil {
		_ = store.Close()
		return err
	}
	jobs := job.NewService(store, queue, cfg.Storage.JobStore.Retries)
	cleanup.add(func() {
		if err := jobs.Close(); err != nil {
			log.Error("关闭任务服务失败", slog.Any("error", err))
		}
	})

	book, err := openAddressBook(ctx, cfg.AddressBook)
	if err != nil {
		return err
	}
	cleanup.add(func() { _ = book.Close() })

	history, err := openLedger(ctx, cfg, dbs)
	if err != nil {
		return err
	}
	cleanup.add(func() { _ = history.Close() })

	depth := registry.Confirmations(registry.DefaultChain())
	if depth == 0 {
		depth = cfg.Web3.Confirmations
	}
	collector := metrics.New()
	gw, err := gateway.New(ctx, backend, keyring, artifacts,
		gateway.WithAddressBook(book),
		gateway.WithLedger(history),
		gateway.WithMetrics(collector),
		gateway.WithRecoveryPollInterval(cfg.Web3.PollInterval()),
		gateway.WithHandleOptions(
			contract.WithConfirmations(depth),
			contract.WithPollInterval(cfg.Web3.PollInterval()),
		),
	)
	if err != nil {
		return err
	}

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	processor := job.NewProcessor(gw, store, queue, queue,
		job.WithWorkerCount(cfg.JobQueue.Worker),
		job.WithRecoveryHandler(gw),
		job.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, jobs,
		api.WithContracts(gw),
		api.WithLedger(history),
		api.WithChain(client),
		api.WithMetrics(collector),
	)
	log.Info("ContractHub 启动完成",
		slog.String("chain", client.Name()),
		slog.String("chain_id", chainID.String()),
		slog.Int("contracts", len(artifacts)),
		slog.String("queue", cfg.JobQueue.Driver),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dbPool 在任务存储与账本使用同一 DSN 时复用连接池。
type dbPool struct {
	cfg  *config.Config
	open map[string]*sql.DB
}

func newDBPool(cfg *config.Config) *dbPool {
	return &dbPool{cfg: cfg, open: make(map[string]*sql.DB)}
}

func (p *dbPool) get(ctx context.Context, dsn string) (*sql.DB, error) {
	if db, ok := p.open[dsn]; ok {
		return db, nil
	}
	js := p.cfg.Storage.JobStore
	db, err := mysql.Open(ctx, mysql.Config{
		DSN:             dsn,
		MaxOpenConns:    js.MaxOpenConns,
		MaxIdleConns:    js.MaxIdleConns,
		ConnMaxLifetime: js.ConnMaxLifetime(),
		ConnMaxIdleTime: js.ConnMaxIdleTime(),
	})
	if err != nil {
		return nil, err
	}
	if err := mysql.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	p.open[dsn] = db
	return db, nil
}

// close 关闭所有连接池，sql.DB 允许重复 Close。
func (p *dbPool) close() {
	for dsn, db := range p.open {
		_ = db.Close()
		delete(p.open, dsn)
	}
}

func openJobStore(ctx context.Context, cfg *config.Config, dbs *dbPool) (job.Store, error) {
	switch cfg.Storage.JobStore.Driver {
	case "memory":
		return job.NewMemoryStore(), nil
	case "mysql":
		db, err := dbs.get(ctx, cfg.Storage.JobStore.DSN)
		if err != nil {
			return nil, err
		}
		return job.NewMySQLStore(db)
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func openQueue(ctx context.Context, cfg config.JobQueueConfig) (job.Queue, error) {
	switch cfg.Driver {
	case "memory":
		return job.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return job.NewRedisQueue(ctx, job.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return job.NewRabbitMQQueue(job.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func openAddressBook(ctx context.Context, cfg config.AddressBookConfig) (addressbook.Book, error) {
	switch cfg.Driver {
	case "memory":
		return addressbook.NewMemory(), nil
	case "redis":
		return addressbook.NewRedis(ctx, addressbook.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Key,
		})
	default:
		return nil, fmt.Errorf("未知的地址簿驱动: %s", cfg.Driver)
	}
}

func openLedger(ctx context.Context, cfg *config.Config, dbs *dbPool) (ledger.Ledger, error) {
	switch cfg.Storage.Ledger.Driver {
	case "memory":
		return ledger.NewMemoryLedger(cfg.Storage.Ledger.Path)
	case "mysql":
		db, err := dbs.get(ctx, cfg.Storage.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		return ledger.NewMySQLLedger(db)
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}
