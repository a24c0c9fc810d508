package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"ContractHub/internal/artifact"
	"ContractHub/internal/gateway"

	"github.com/spf13/cobra"
)

func newEncodeCommand(root *rootCommand) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "encode <method> [args...]",
		Short: "离线生成函数调用数据",
		Long:  "按合约清单中的 ABI 编码调用数据。参数若是合法 JSON（数字、数组、布尔）则按 JSON 解析，否则按字符串处理。",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arts, err := artifact.Load(root.cfg.Contracts.Manifest)
			if err != nil {
				return err
			}
			gw, err := gateway.New(cmd.Context(), nil, nil, arts)
			if err != nil {
				return err
			}
			data, err := gw.Encode(name, gateway.CallRequest{Method: args[0], Args: parseCLIArgs(args[1:])})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), data)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "contract", "", "合约名称")
	_ = cmd.MarkFlagRequired("contract")
	return cmd
}

func newContractsCommand(root *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "contracts",
		Short: "列出合约清单及声明的函数",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			arts, err := artifact.Load(root.cfg.Contracts.Manifest)
			if err != nil {
				return err
			}
			gw, err := gateway.New(cmd.Context(), nil, nil, arts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(gw.Contracts())
		},
	}
}

func newMigrateCommand(root *rootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "对 MySQL 执行内置的数据库迁移",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dsns := make([]string, 0, 2)
			if root.cfg.Storage.JobStore.Driver == "mysql" {
				dsns = append(dsns, root.cfg.Storage.JobStore.DSN)
			}
			if root.cfg.Storage.Ledger.Driver == "mysql" && !slices.Contains(dsns, root.cfg.Storage.Ledger.DSN) {
				dsns = append(dsns, root.cfg.Storage.Ledger.DSN)
			}
			if len(dsns) == 0 {
				return fmt.Errorf("未配置 MySQL 存储，无需迁移")
			}
			pool := newDBPool(root.cfg)
			defer pool.close()
			for _, dsn := range dsns {
				if _, err := pool.get(cmd.Context(), dsn); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已完成 %d 个数据库的迁移\n", len(dsns))
			return nil
		},
	}
}

// parseCLIArgs 将命令行参数转换为 ABI 参数，数字保留为 json.Number。
func parseCLIArgs(raw []string) []any {
	out := make([]any, len(raw))
	for i, arg := range raw {
		dec := json.NewDecoder(strings.NewReader(arg))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil && !dec.More() {
			if _, isString := v.(string); !isString {
				out[i] = v
				continue
			}
		}
		out[i] = arg
	}
	return out
}
