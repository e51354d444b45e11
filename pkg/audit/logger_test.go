package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/ledgerclient"
)

// fakeLedger records submitted events and can be told to fail.
type fakeLedger struct {
	mu       sync.Mutex
	events   []contracts.BlockchainEvent
	failNext atomic.Int32
	trail    []contracts.BlockchainEvent
	verified map[string]bool
	slow     time.Duration
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{verified: make(map[string]bool)}
}

func (f *fakeLedger) LogEvent(_ context.Context, event *contracts.BlockchainEvent) (*ledgerclient.LogResult, error) {
	if f.slow > 0 {
		time.Sleep(f.slow)
	}
	if f.failNext.Load() > 0 {
		f.failNext.Add(-1)
		return nil, contracts.Faultf(contracts.FaultPermanent, "ledger.events", "retries exhausted")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return &ledgerclient.LogResult{
		TransactionHash: fmt.Sprintf("0x%04d", len(f.events)),
		BlockNumber:     int64(100 + len(f.events)),
		Status:          "confirmed",
	}, nil
}

func (f *fakeLedger) GetAuditTrail(_ context.Context, transactionID string, _ ledgerclient.TrailFilter) ([]contracts.BlockchainEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []contracts.BlockchainEvent
	for _, e := range f.trail {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeLedger) VerifyEvent(_ context.Context, transactionHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ok, known := f.verified[transactionHash]
	if !known {
		return false, errors.New("unknown hash")
	}
	return ok, nil
}

func (f *fakeLedger) submitted() []contracts.BlockchainEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]contracts.BlockchainEvent(nil), f.events...)
}

func TestSyncLogEnrichesAndMirrors(t *testing.T) {
	ledger := newFakeLedger()
	mirror := NewMirrorStore()
	logger := NewLogger(ledger, mirror, 8, nil)

	event := NewEvent("tx-1", contracts.EventTransactionInitiated, map[string]any{"property_id": "p1"})
	logged, err := logger.Log(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, "0x0001", logged.TransactionHash)
	assert.Equal(t, int64(101), logged.BlockNumber)

	mirrored := logger.GetTransactionEvents("tx-1")
	require.Len(t, mirrored, 1)
	assert.Equal(t, "0x0001", mirrored[0].TransactionHash)
	assert.NoError(t, mirror.VerifyChain())
}

func TestSyncLogLedgerFailureDoesNotMirror(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failNext.Store(1)
	mirror := NewMirrorStore()
	logger := NewLogger(ledger, mirror, 8, nil)

	_, err := logger.Log(context.Background(), NewEvent("tx-1", contracts.EventDisputeRaised, nil))
	require.Error(t, err)
	assert.Equal(t, 0, mirror.Len())
}

func TestEnqueueRequiresRunningLoop(t *testing.T) {
	logger := NewLogger(newFakeLedger(), NewMirrorStore(), 8, nil)
	err := logger.Enqueue(NewEvent("tx-1", contracts.EventTransactionInitiated, nil))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestAsyncQueueDrainsInOrder(t *testing.T) {
	ledger := newFakeLedger()
	logger := NewLogger(ledger, NewMirrorStore(), 32, nil)
	logger.Start(context.Background())

	for i := 0; i < 10; i++ {
		err := logger.Enqueue(NewEvent("tx-1", contracts.EventTaskAssigned, map[string]any{"seq": i}))
		require.NoError(t, err)
	}
	logger.Close()

	submitted := ledger.submitted()
	require.Len(t, submitted, 10)
	for i, e := range submitted {
		assert.Equal(t, i, e.Payload["seq"], "FIFO order")
	}
}

func TestQueueFullRejects(t *testing.T) {
	ledger := newFakeLedger()
	ledger.slow = 50 * time.Millisecond
	logger := NewLogger(ledger, NewMirrorStore(), 1, nil)
	logger.Start(context.Background())
	defer logger.Close()

	// Saturate: one event in flight, one queued, the next must bounce.
	var sawFull bool
	for i := 0; i < 10; i++ {
		if err := logger.Enqueue(NewEvent("tx-1", contracts.EventTaskAssigned, nil)); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	assert.True(t, sawFull)
}

func TestAsyncFailureSkipsEvent(t *testing.T) {
	ledger := newFakeLedger()
	ledger.failNext.Store(1)
	logger := NewLogger(ledger, NewMirrorStore(), 8, nil)
	logger.Start(context.Background())

	require.NoError(t, logger.Enqueue(NewEvent("tx-1", contracts.EventTaskAssigned, nil)))
	require.NoError(t, logger.Enqueue(NewEvent("tx-1", contracts.EventVerificationCompleted, nil)))
	logger.Close()

	// The first event failed and was skipped; the queue kept moving.
	submitted := ledger.submitted()
	require.Len(t, submitted, 1)
	assert.Equal(t, contracts.EventVerificationCompleted, submitted[0].EventType)
}

func TestEnqueueRacingCloseNeverPanics(t *testing.T) {
	logger := NewLogger(newFakeLedger(), NewMirrorStore(), 4, nil)
	logger.Start(context.Background())

	// Producers hammer the queue while Close shuts it down. Once the
	// logger stops, every producer sees ErrNotRunning, never a send on
	// the closed channel.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := logger.Enqueue(NewEvent("tx-1", contracts.EventTaskAssigned, nil))
				if errors.Is(err, ErrNotRunning) {
					return
				}
			}
		}()
	}

	time.Sleep(time.Millisecond)
	logger.Close()
	wg.Wait()

	err := logger.Enqueue(NewEvent("tx-1", contracts.EventTaskAssigned, nil))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestCloseIsIdempotent(t *testing.T) {
	logger := NewLogger(newFakeLedger(), NewMirrorStore(), 8, nil)
	logger.Start(context.Background())
	logger.Close()
	logger.Close()

	err := logger.Enqueue(NewEvent("tx-1", contracts.EventTaskAssigned, nil))
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestGetAuditTrailVerification(t *testing.T) {
	ledger := newFakeLedger()
	ledger.trail = []contracts.BlockchainEvent{
		{ID: "e1", TransactionID: "tx-1", TransactionHash: "0xaaa"},
		{ID: "e2", TransactionID: "tx-1", TransactionHash: "0xbbb"},
		{ID: "e3", TransactionID: "tx-2", TransactionHash: "0xccc"},
	}
	ledger.verified["0xaaa"] = true
	ledger.verified["0xbbb"] = false

	logger := NewLogger(ledger, NewMirrorStore(), 8, nil)

	entries, err := logger.GetAuditTrail(context.Background(), "tx-1", TrailQuery{IncludeVerification: true})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Verified)
	assert.False(t, entries[1].Verified)
}

func TestMirrorChainDetectsTampering(t *testing.T) {
	mirror := NewMirrorStore()
	for i := 0; i < 3; i++ {
		_, err := mirror.Append(contracts.BlockchainEvent{
			ID:            fmt.Sprintf("e%d", i),
			TransactionID: "tx-1",
			EventType:     contracts.EventTaskAssigned,
		})
		require.NoError(t, err)
	}
	require.NoError(t, mirror.VerifyChain())

	mirror.entries[1].Event.TransactionID = "tx-evil"
	err := mirror.VerifyChain()
	assert.ErrorIs(t, err, ErrChainBroken)
}
