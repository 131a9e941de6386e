package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType defines the type of audit event
type AuditEventType string

const (
	// Cycle lifecycle
	AuditCycleStart    AuditEventType = "cycle_start"
	AuditCycleState    AuditEventType = "cycle_state"
	AuditCycleComplete AuditEventType = "cycle_complete"

	// Distribution
	AuditTransfer         AuditEventType = "transfer"
	AuditTransferRejected AuditEventType = "transfer_rejected"

	// Global knowledge
	AuditPatternPersist AuditEventType = "pattern_persist"
	AuditPatternLoad    AuditEventType = "pattern_load"

	// Memory
	AuditMemoryIngest AuditEventType = "memory_ingest"

	// Errors
	AuditErrorContained AuditEventType = "error_contained"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`
	EventType  AuditEventType         `json:"event"`
	Category   string                 `json:"cat"`
	CycleID    string                 `json:"cycle"`
	AgentID    string                 `json:"agent"`
	PatternID  string                 `json:"pattern"`
	Target     string                 `json:"target"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms"`
	Error      string                 `json:"error"`
	Message    string                 `json:"msg"`
	Fields     map[string]interface{} `json:"fields"`
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditMu   sync.RWMutex
	auditCore *zap.Logger
	auditFile *os.File
)

// AuditLogger writes audit events as JSON lines through a dedicated zap core.
type AuditLogger struct {
	cycleID  string
	category Category
}

// InitAudit opens the audit trail at path. An empty path leaves auditing disabled.
func InitAudit(path string) error {
	if path == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "" // events carry their own millisecond timestamp
	enc.LevelKey = ""
	enc.CallerKey = ""
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(file), zapcore.InfoLevel)
	auditCore = zap.New(core)
	return nil
}

// UseAudit installs a pre-built audit logger, for tests.
func UseAudit(l *zap.Logger) {
	auditMu.Lock()
	defer auditMu.Unlock()
	auditCore = l
}

// CloseAudit flushes and closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditCore != nil {
		_ = auditCore.Sync()
		auditCore = nil
	}
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditForCycle creates an audit logger scoped to a curation cycle
func AuditForCycle(cycleID string) *AuditLogger {
	return &AuditLogger{cycleID: cycleID, category: CategoryCuration}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.RLock()
	core := auditCore
	auditMu.RUnlock()
	if core == nil {
		return
	}

	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.CycleID == "" {
		event.CycleID = a.cycleID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}

	fields := []zap.Field{
		zap.Int64("ts", event.Timestamp),
		zap.String("event", string(event.EventType)),
		zap.Bool("success", event.Success),
	}
	for _, kv := range []struct{ key, value string }{
		{"cat", event.Category},
		{"cycle", event.CycleID},
		{"agent", event.AgentID},
		{"pattern", event.PatternID},
		{"target", event.Target},
		{"error", event.Error},
	} {
		if kv.value != "" {
			fields = append(fields, zap.String(kv.key, kv.value))
		}
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("dur_ms", event.DurationMs))
	}
	if len(event.Fields) > 0 {
		fields = append(fields, zap.Any("fields", event.Fields))
	}
	core.Info(event.Message, fields...)
}

// CycleState records a state transition of a curation cycle.
func (a *AuditLogger) CycleState(state string, success bool, dur time.Duration) {
	a.Log(AuditEvent{
		EventType:  AuditCycleState,
		Target:     state,
		Success:    success,
		DurationMs: dur.Milliseconds(),
		Message:    fmt.Sprintf("state %s", state),
	})
}

// Transfer records one delivery attempt outcome.
func (a *AuditLogger) Transfer(patternID, toAgent string, success bool, attempts int, errMsg string) {
	eventType := AuditTransfer
	if !success {
		eventType = AuditTransferRejected
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryDistributor),
		AgentID:   toAgent,
		PatternID: patternID,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"attempts": attempts},
	})
}

// PatternPersist records a pattern written to the global repository.
func (a *AuditLogger) PatternPersist(patternID, path string, err error) {
	ev := AuditEvent{
		EventType: AuditPatternPersist,
		Category:  string(CategoryKnowledge),
		PatternID: patternID,
		Target:    path,
		Success:   err == nil,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}
