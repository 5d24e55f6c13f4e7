// Package obslog holds the process-wide zap logger.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const defaultLogFile = "logs/cheese-bot.log"

// 전역 로거. Replace 전에는 Nop.
var global atomic.Pointer[zap.Logger]

func init() { global.Store(zap.NewNop()) }

// L는 전역 로거를 반환.
func L() *zap.Logger { return global.Load() }

// Replace swaps the global logger and returns a func restoring the previous one.
func Replace(l *zap.Logger) func() {
	if l == nil {
		l = zap.NewNop()
	}
	prev := global.Swap(l)
	return func() { global.Store(prev) }
}

type Options struct {
	Level    string
	Console  bool
	ToFile   bool
	FilePath string
	Caller   bool
	// Format is legacy, json or console.
	Format string
}

func OptionsFromEnv() Options {
	flag := func(k, def string) bool { return strings.EqualFold(envOr(k, def), "true") }
	return Options{
		Level:    envOr("LOG_LEVEL", "info"),
		Console:  flag("LOG_TO_CONSOLE", "true"),
		ToFile:   flag("LOG_TO_FILE", "false"),
		FilePath: envOr("LOG_FILE", defaultLogFile),
		Caller:   flag("LOG_CALLER", "false"),
		Format:   envOr("LOG_FORMAT", "legacy"),
	}
}

// Build는 콘솔/파일 코어를 묶어 로거를 만든다. With neither sink enabled it
// falls back to a development console logger on stdout.
func Build(opts Options) (*zap.Logger, error) {
	level := parseLevel(opts.Level)
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	encCfg, ok := encoderConfigs[format]
	if !ok {
		format = "legacy"
		encCfg = encoderConfigs[format]
	}
	encoder := func() zapcore.Encoder {
		if format == "json" {
			return zapcore.NewJSONEncoder(encCfg())
		}
		return zapcore.NewConsoleEncoder(encCfg())
	}

	var sinks []zapcore.WriteSyncer
	if opts.Console {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if opts.ToFile {
		f, err := openLogFile(opts.FilePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, f)
	}

	cores := make([]zapcore.Core, 0, len(sinks))
	for _, ws := range sinks {
		cores = append(cores, zapcore.NewCore(encoder(), ws, level))
	}
	if len(cores) == 0 {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.Lock(os.Stdout), level))
	}

	zopts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if opts.Caller || format == "legacy" {
		zopts = append(zopts, zap.AddCaller())
	}
	return zap.New(zapcore.NewTee(cores...), zopts...), nil
}

func openLogFile(path string) (zapcore.WriteSyncer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultLogFile
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return zapcore.AddSync(f), nil
}

func parseLevel(s string) zapcore.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

// 인코더 설정들
var encoderConfigs = map[string]func() zapcore.EncoderConfig{
	"legacy": func() zapcore.EncoderConfig {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.ConsoleSeparator = " | "
		return cfg
	},
	"console": func() zapcore.EncoderConfig {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return cfg
	},
	"json": func() zapcore.EncoderConfig {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		return cfg
	},
}
