package logging

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const maxComponentLen = 16

type Config struct {
	Level  string
	Format string
}

var (
	baseLogger *zap.Logger
	sugar      *zap.SugaredLogger
	sessionID  atomic.Value
	tick       uint64
)

func init() {
	baseLogger = zap.NewNop()
	sugar = baseLogger.Sugar()
}

func InitFromEnv() error {
	cfg := Config{
		Level:  os.Getenv("LOG_LEVEL"),
		Format: os.Getenv("LOG_FORMAT"),
	}
	return Init(cfg)
}

func Init(cfg Config) error {
	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	if level == "" {
		level = "info"
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = "console"
	}

	var zapCfg zap.Config
	switch format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %s", cfg.Format)
	}

	atomLevel := zap.NewAtomicLevel()
	if err := atomLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %s", cfg.Level)
	}
	zapCfg.Level = atomLevel

	logger, err := zapCfg.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}

	baseLogger = logger
	sugar = logger.Sugar()
	return nil
}

// SetLogger 替换底层 logger，主要用于测试
func SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseLogger = logger
	sugar = logger.Sugar()
}

func Sync() {
	if baseLogger != nil {
		_ = baseLogger.Sync()
	}
}

// SetSessionID 设置混音会话 id，空字符串忽略
func SetSessionID(id string) {
	if strings.TrimSpace(id) == "" {
		return
	}
	sessionID.Store(id)
}

func NewSessionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "session-unknown"
	}
	return hex.EncodeToString(buf)
}

// NextTick 每次混音 Update 调用一次
func NextTick() uint64 {
	return atomic.AddUint64(&tick, 1)
}

func CurrentTick() uint64 {
	return atomic.LoadUint64(&tick)
}

func Debugf(format string, args ...interface{}) {
	withFields(format).Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	withFields(format).Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	withFields(format).Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	withFields(format).Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	withFields(format).Fatalf(format, args...)
}

// withFields 附加会话、帧号与组件字段；尚未设置或尚未推进的字段省略
func withFields(format string) *zap.SugaredLogger {
	fields := make([]interface{}, 0, 6)
	if sid, _ := sessionID.Load().(string); sid != "" {
		fields = append(fields, "session_id", sid)
	}
	if n := atomic.LoadUint64(&tick); n > 0 {
		fields = append(fields, "tick", n)
	}
	if c := componentOf(format); c != "" {
		fields = append(fields, "component", c)
	}
	if len(fields) == 0 {
		return sugar
	}
	return sugar.With(fields...)
}

// componentOf 取 "Mixer: ..." 形式日志的前缀作为组件名
func componentOf(format string) string {
	i := strings.IndexByte(format, ':')
	if i <= 0 || i > maxComponentLen {
		return ""
	}
	name := format[:i]
	if strings.ContainsAny(name, " \t%") {
		return ""
	}
	return name
}
