package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ContractHub/internal/config"
	"ContractHub/pkg/logger"

	"github.com/spf13/cobra"
)

// rootCommand 持有所有子命令共享的参数。
type rootCommand struct {
	cmd     *cobra.Command
	cfgFile string
	cfg     *config.Config
}

// main 是 ContractHub 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "contracthubd 运行失败: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *rootCommand {
	root := &rootCommand{}
	root.cmd = &cobra.Command{
		Use:           "contracthubd",
		Short:         "部署与调用 EVM 合约的任务服务",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return root.load()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	root.cmd.PersistentFlags().StringVarP(&root.cfgFile, "config", "c", "",
		"配置文件路径，默认读取 $"+config.EnvConfigPath+" 或 "+config.DefaultPath)

	serve := newServeCommand(root)
	root.cmd.AddCommand(serve, newEncodeCommand(root), newContractsCommand(root), newMigrateCommand(root))
	// 未指定子命令时启动服务。
	root.cmd.RunE = serve.RunE
	return root
}

func (r *rootCommand) load() error {
	cfg, err := config.Load(config.ResolvePath(r.cfgFile))
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Service:     "contracthubd",
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	r.cfg = cfg
	return nil
}
