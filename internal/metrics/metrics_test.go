package metrics

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivemind/internal/types"
)

func rec(pattern string, status types.TransferStatus, ts time.Time) types.TransferRecord {
	return types.TransferRecord{PatternID: pattern, ToAgent: "x", Status: status, TimestampMillis: ts.UnixMilli()}
}

func TestReuseRateEmptyIsZero(t *testing.T) {
	assert.Zero(t, ReuseRate(nil))
	assert.Zero(t, ReuseRate([]types.TransferRecord{rec("p", types.TransferStatusRejected, time.Now())}))
}

func TestReuseRate(t *testing.T) {
	now := time.Now()
	records := []types.TransferRecord{
		rec("p1", types.TransferStatusTransferred, now),
		rec("p1", types.TransferStatusTransferred, now),
		rec("p1", types.TransferStatusTransferred, now),
		rec("p2", types.TransferStatusTransferred, now),
		rec("p3", types.TransferStatusRejected, now),
	}
	assert.InDelta(t, 2.0, ReuseRate(records), 1e-9)
}

func TestKnowledgeVelocityWindow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []types.TransferRecord{
		rec("a", types.TransferStatusTransferred, now.Add(-10*time.Minute)),
		rec("b", types.TransferStatusTransferred, now.Add(-59*time.Minute)),
		rec("c", types.TransferStatusTransferred, now.Add(-time.Hour)), // exactly on the edge: outside
		rec("d", types.TransferStatusTransferred, now.Add(-2*time.Hour)),
		rec("e", types.TransferStatusRejected, now.Add(-time.Minute)),
	}
	assert.Equal(t, 2, KnowledgeVelocity(records, now, time.Hour))
	assert.Equal(t, 2, KnowledgeVelocity(records, now, 0), "zero window falls back to one hour")
}

func TestInnovationIndex(t *testing.T) {
	now := time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC)
	var records []types.TransferRecord
	for i := 0; i < 14; i++ {
		records = append(records, rec("p", types.TransferStatusTransferred, now.Add(-time.Duration(i)*12*time.Hour)))
	}
	records = append(records, rec("old", types.TransferStatusTransferred, now.Add(-8*24*time.Hour)))
	assert.InDelta(t, 2.0, InnovationIndex(records, now, DefaultInnovationWindow), 1e-9)
	assert.Zero(t, InnovationIndex(nil, now, 0))
}

func TestRejectionRate(t *testing.T) {
	now := time.Now()
	assert.Zero(t, RejectionRate(nil))
	records := []types.TransferRecord{
		rec("a", types.TransferStatusTransferred, now),
		rec("b", types.TransferStatusRejected, now),
		rec("c", types.TransferStatusTransferred, now),
		rec("d", types.TransferStatusRejected, now),
	}
	assert.InDelta(t, 0.5, RejectionRate(records), 1e-9)

	s := Compute(records, now, time.Hour, DefaultInnovationWindow)
	assert.Equal(t, 2, s.Transfers)
	assert.Equal(t, 2, s.Rejections)
	assert.Equal(t, 2, s.KnowledgeVelocity)
}

func TestTransferLogMonotonic(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := []time.Time{base, base.Add(time.Second), base.Add(-time.Minute), base.Add(2 * time.Second)}
	i := 0
	l := NewTransferLog(WithClock(func() time.Time {
		t := ticks[i%len(ticks)]
		i++
		return t
	}))

	var last int64
	for range ticks {
		r := l.Append(types.TransferRecord{PatternID: "p", Status: types.TransferStatusTransferred})
		assert.GreaterOrEqual(t, r.TimestampMillis, last)
		last = r.TimestampMillis
	}
	assert.Equal(t, 4, l.Len())
	assert.Equal(t, base.Add(time.Second).UnixMilli(), l.Records()[2].TimestampMillis)
}

func TestTransferLogConcurrentAppend(t *testing.T) {
	l := NewTransferLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(types.TransferRecord{PatternID: "p", Status: types.TransferStatusTransferred})
		}()
	}
	wg.Wait()

	records := l.Records()
	require.Len(t, records, 50)
	for i := 1; i < len(records); i++ {
		assert.GreaterOrEqual(t, records[i].TimestampMillis, records[i-1].TimestampMillis)
	}
}

func TestTransferLogSince(t *testing.T) {
	l := NewTransferLog()
	l.Append(types.TransferRecord{PatternID: "a"})
	mark := l.Len()
	l.Append(types.TransferRecord{PatternID: "b"})

	since := l.Since(mark)
	require.Len(t, since, 1)
	assert.Equal(t, "b", since[0].PatternID)
	assert.Nil(t, l.Since(5))
}

func TestTransferLogSinkPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "transfers.jsonl")

	l, err := OpenTransferLog(path)
	require.NoError(t, err)
	first := l.Append(types.TransferRecord{PatternID: "p1", FromAgents: []string{"a", "b"}, ToAgent: "c", Status: types.TransferStatusTransferred, Attempts: 1})
	l.Append(types.TransferRecord{PatternID: "p1", ToAgent: "d", Status: types.TransferStatusRejected, Attempts: 2, Error: "boom"})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	// A torn trailing line from a crash is skipped.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{\"pattern_id\":")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, err := OpenTransferLog(path, WithClock(func() time.Time { return time.Unix(0, 0) }))
	require.NoError(t, err)
	defer reopened.Close()

	records := reopened.Records()
	require.Len(t, records, 2)
	assert.Equal(t, first, records[0])
	assert.Equal(t, "boom", records[1].Error)

	// The clock is behind the loaded history; stamps still never go back.
	r := reopened.Append(types.TransferRecord{PatternID: "p2"})
	assert.GreaterOrEqual(t, r.TimestampMillis, records[1].TimestampMillis)
}
