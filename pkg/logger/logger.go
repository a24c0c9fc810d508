package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 描述全局日志的输出方式，Service 非空时附加到每条日志。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Service     string
	Audit       AuditConfig
}

// AuditConfig 控制审计日志，文件按大小滚动。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

const (
	defaultMaxSizeMB  = 100
	defaultMaxBackups = 7
	defaultMaxAgeDays = 30
)

var (
	current atomic.Pointer[slog.Logger]
	audit   atomic.Pointer[slog.Logger]

	mu      sync.Mutex
	closers []io.Closer
)

// Init 按配置重建全局日志与审计日志，并释放上一次初始化打开的文件。
// 可以重复调用，命令行子命令和测试都会用到。
func Init(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var opened []io.Closer
	handler, err := buildHandler(cfg.Format, cfg.OutputPaths, &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}, &opened)
	if err != nil {
		closeAll(opened)
		return err
	}
	base := slog.New(handler)
	if cfg.Service != "" {
		base = base.With(slog.String("service", cfg.Service))
	}

	auditLog := base.With(slog.String("stream", "audit"))
	if cfg.Audit.Enabled {
		w, err := newRollingFile(cfg.Audit)
		if err != nil {
			closeAll(opened)
			return err
		}
		opened = append(opened, w)
		auditLog = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
		if cfg.Service != "" {
			auditLog = auditLog.With(slog.String("service", cfg.Service))
		}
	}

	mu.Lock()
	previous := closers
	closers = opened
	current.Store(base)
	audit.Store(auditLog)
	mu.Unlock()

	slog.SetDefault(base)
	closeAll(previous)
	return nil
}

// ParseLevel 解析日志级别，空字符串视为 info。
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions, opened *[]io.Closer) (slog.Handler, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		switch strings.ToLower(out) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			w, err := newRollingFile(AuditConfig{Path: out})
			if err != nil {
				return nil, err
			}
			*opened = append(*opened, w)
			writers = append(writers, w)
		}
	}

	writer := writers[0]
	if len(writers) > 1 {
		writer = io.MultiWriter(writers...)
	}
	switch strings.ToLower(format) {
	case "text":
		return slog.NewTextHandler(writer, opts), nil
	case "", "json":
		return slog.NewJSONHandler(writer, opts), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// newRollingFile 打开按大小滚动的日志文件，未设置的参数取默认值。
func newRollingFile(cfg AuditConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("log file path cannot be empty")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = defaultMaxSizeMB
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = defaultMaxBackups
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = defaultMaxAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}, nil
}

func closeAll(cs []io.Closer) error {
	var err error
	for _, c := range cs {
		err = errors.Join(err, c.Close())
	}
	return err
}

// L 返回全局日志，未初始化时输出到标准输出。
func L() *slog.Logger {
	if l := current.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// Audit 返回审计日志，记录已确认的合约操作与任务结果。
func Audit() *slog.Logger {
	if l := audit.Load(); l != nil {
		return l
	}
	return L()
}

// Named 返回带 component 字段的子日志。
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// Sync 关闭日志文件，之后的写入会重新打开文件。
func Sync() error {
	mu.Lock()
	cs := closers
	closers = nil
	mu.Unlock()
	return closeAll(cs)
}

// Discard 返回丢弃所有记录的日志，供测试注入。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
