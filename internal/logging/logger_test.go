package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"hivemind/internal/config"
)

func observe(t *testing.T, cfg config.LoggingConfig) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	Use(zap.New(core), cfg)
	t.Cleanup(func() { Use(nil, config.LoggingConfig{}) })
	return logs
}

func TestCategoryLoggersAreNamed(t *testing.T) {
	logs := observe(t, config.LoggingConfig{})

	Get(CategoryStore).Info("stored %d episodes", 3)
	Miner("mined %s", "retry")
	Get(CategoryDistributor).Error("failed: %v", "boom")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "store", entries[0].LoggerName)
	assert.Equal(t, "stored 3 episodes", entries[0].Message)
	assert.Equal(t, "miner", entries[1].LoggerName)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestDisabledCategoryIsSilent(t *testing.T) {
	logs := observe(t, config.LoggingConfig{Categories: map[string]bool{"store": false}})

	Store("should not appear")
	StoreDebug("nor this")
	Knowledge("this should")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "knowledge", logs.All()[0].LoggerName)
	assert.False(t, IsCategoryEnabled(CategoryStore))
	assert.True(t, IsCategoryEnabled(CategoryCuration))
}

func TestUninitializedLoggerIsNoop(t *testing.T) {
	Use(nil, config.LoggingConfig{})
	assert.NotPanics(t, func() {
		Get(CategoryCuration).Warn("nothing %d", 1)
		Get(CategoryCuration).With(zap.String("k", "v")).Info("structured")
	})
}

func TestStructuredWith(t *testing.T) {
	logs := observe(t, config.LoggingConfig{})

	Get(CategoryCuration).With(zap.String("cycle", "c1")).Info("cycle complete", zap.Int("patterns", 2))

	entries := logs.FilterField(zap.String("cycle", "c1")).All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].ContextMap()["patterns"])
}

func TestTimerThreshold(t *testing.T) {
	logs := observe(t, config.LoggingConfig{})

	timer := StartTimer(CategoryStore, "Slow.Op")
	time.Sleep(2 * time.Millisecond)
	elapsed := timer.StopWithThreshold(time.Nanosecond)

	assert.Greater(t, elapsed, time.Duration(0))
	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, "performance", warns[0].LoggerName)
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"WARNING": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestInitializeWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hivemind.log")
	require.NoError(t, Initialize(config.LoggingConfig{Level: "info", Format: "json", File: path}))
	t.Cleanup(func() { Use(nil, config.LoggingConfig{}) })

	Curation("cycle %s complete", "c9")
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "cycle c9 complete")
	assert.Contains(t, string(data), `"logger":"curation"`)
}

func TestAuditWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	require.NoError(t, InitAudit(path))

	a := AuditForCycle("cycle-1")
	a.CycleState("Mining", true, 5*time.Millisecond)
	a.Transfer("p1", "agent-b", false, 2, "store unavailable")
	CloseAudit()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Equal(t, "cycle_state", events[0]["event"])
	assert.Equal(t, "cycle-1", events[0]["cycle"])
	assert.Equal(t, "Mining", events[0]["target"])
	assert.Equal(t, "transfer_rejected", events[1]["event"])
	assert.Equal(t, "store unavailable", events[1]["error"])
	assert.Equal(t, false, events[1]["success"])
}

func TestAuditDisabledIsNoop(t *testing.T) {
	CloseAudit()
	require.NoError(t, InitAudit(""))
	assert.NotPanics(t, func() {
		Audit().PatternPersist("p", "/tmp/x", nil)
	})
}
