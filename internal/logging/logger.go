// Package logging provides config-driven categorized logging for hivemind.
// Every category is a named child of one zap logger; categories can be
// switched off individually from the logging section of the config.
// Until Initialize or Use is called every logger is a no-op.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hivemind/internal/config"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot        Category = "boot"        // Boot/initialization
	CategoryConfig      Category = "config"      // Configuration loading
	CategoryPerformance Category = "performance" // Performance metrics, slow operations

	// Memory and knowledge
	CategoryStore     Category = "store"     // Per-agent memory stores
	CategoryKnowledge Category = "knowledge" // Global knowledge repository, graph, watcher
	CategoryTeam      Category = "team"      // Team handles and registry

	// Curation engine
	CategorySimilarity  Category = "similarity"  // Snapshot comparison
	CategoryMiner       Category = "miner"       // Pattern mining and meta synthesis
	CategoryDistributor Category = "distributor" // Beneficiary selection and delivery
	CategoryMetrics     Category = "metrics"     // Transfer log and derived metrics
	CategoryCuration    Category = "curation"    // Cycle state machine
)

// Logger is a category-scoped logger with printf-style methods.
type Logger struct {
	category Category
	zl       *zap.Logger
	sugar    *zap.SugaredLogger // nil when the category is disabled
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex

	root     = zap.NewNop()
	settings config.LoggingConfig
	rootMu   sync.RWMutex
)

// Initialize builds the root zap logger from the logging config.
func Initialize(cfg config.LoggingConfig) error {
	level, err := ParseLevel(cfg.EffectiveLevel())
	if err != nil {
		return err
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	if strings.EqualFold(cfg.Format, "console") || strings.EqualFold(cfg.Format, "text") {
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
	} else {
		zc.OutputPaths = []string{"stderr"}
	}

	l, err := zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	Use(l, cfg)

	boot := Get(CategoryBoot)
	boot.Info("=== hivemind logging initialized ===")
	boot.Debug("Log level: %s, format: %s", level, zc.Encoding)
	if len(cfg.Categories) > 0 {
		enabled := 0
		for _, on := range cfg.Categories {
			if on {
				enabled++
			}
		}
		boot.Debug("Category filter: %d/%d enabled", enabled, len(cfg.Categories))
	}
	return nil
}

// Use installs a pre-built zap logger as the root and resets category loggers.
func Use(l *zap.Logger, cfg config.LoggingConfig) {
	if l == nil {
		l = zap.NewNop()
	}
	rootMu.Lock()
	root = l
	settings = cfg
	rootMu.Unlock()

	loggersMu.Lock()
	loggers = make(map[Category]*Logger)
	loggersMu.Unlock()
}

// Root returns the root zap logger.
func Root() *zap.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return root
}

// Sync flushes buffered log entries.
func Sync() error {
	return Root().Sync()
}

// ParseLevel maps a config level name onto a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return settings.IsCategoryEnabled(string(category))
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category, zl: zap.NewNop()}
	if IsCategoryEnabled(category) {
		l.zl = Root().Named(string(category))
		l.sugar = l.zl.Sugar()
	}
	loggers[category] = l
	return l
}

// Zap returns the category's structured zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// With returns a structured zap logger for the category carrying fields.
func (l *Logger) With(fields ...zap.Field) *zap.Logger {
	return l.zl.With(fields...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreWarn logs a warning to the store category
func StoreWarn(format string, args ...interface{}) {
	Get(CategoryStore).Warn(format, args...)
}

// Knowledge logs to the knowledge category
func Knowledge(format string, args ...interface{}) {
	Get(CategoryKnowledge).Info(format, args...)
}

// KnowledgeDebug logs debug to the knowledge category
func KnowledgeDebug(format string, args ...interface{}) {
	Get(CategoryKnowledge).Debug(format, args...)
}

// KnowledgeWarn logs a warning to the knowledge category
func KnowledgeWarn(format string, args ...interface{}) {
	Get(CategoryKnowledge).Warn(format, args...)
}

// Miner logs to the miner category
func Miner(format string, args ...interface{}) {
	Get(CategoryMiner).Info(format, args...)
}

// MinerDebug logs debug to the miner category
func MinerDebug(format string, args ...interface{}) {
	Get(CategoryMiner).Debug(format, args...)
}

// Distributor logs to the distributor category
func Distributor(format string, args ...interface{}) {
	Get(CategoryDistributor).Info(format, args...)
}

// DistributorDebug logs debug to the distributor category
func DistributorDebug(format string, args ...interface{}) {
	Get(CategoryDistributor).Debug(format, args...)
}

// Curation logs to the curation category
func Curation(format string, args ...interface{}) {
	Get(CategoryCuration).Info(format, args...)
}

// CurationDebug logs debug to the curation category
func CurationDebug(format string, args ...interface{}) {
	Get(CategoryCuration).Debug(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(CategoryPerformance).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
