package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearhold-labs/clearhold/core/pkg/contracts"
	"github.com/clearhold-labs/clearhold/core/pkg/ledgerclient"
)

var (
	ErrQueueFull  = errors.New("audit queue is full")
	ErrNotRunning = errors.New("audit logger background loop is not running")
)

// LedgerRPC is the slice of the ledger client the logger needs.
type LedgerRPC interface {
	LogEvent(ctx context.Context, event *contracts.BlockchainEvent) (*ledgerclient.LogResult, error)
	GetAuditTrail(ctx context.Context, transactionID string, filter ledgerclient.TrailFilter) ([]contracts.BlockchainEvent, error)
	VerifyEvent(ctx context.Context, transactionHash string) (bool, error)
}

// TrailQuery filters GetAuditTrail reads.
type TrailQuery struct {
	EventType contracts.EventType
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int

	// IncludeVerification re-verifies each unverified entry's hash
	// against the ledger before returning it.
	IncludeVerification bool
}

// Logger records escrow events on the external ledger and mirrors them
// locally. Synchronous logging returns the enriched record; asynchronous
// logging enqueues and returns immediately, so callers needing the
// ledger hash must query later.
type Logger struct {
	rpc    LedgerRPC
	mirror *MirrorStore
	log    *slog.Logger

	mu      sync.Mutex
	queue   chan contracts.BlockchainEvent
	running bool
	wg      sync.WaitGroup
}

// NewLogger creates a Logger. queueCapacity bounds the async queue; a
// full queue rejects Enqueue rather than blocking producers.
func NewLogger(rpc LedgerRPC, mirror *MirrorStore, queueCapacity int, log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	return &Logger{
		rpc:    rpc,
		mirror: mirror,
		log:    log,
		queue:  make(chan contracts.BlockchainEvent, queueCapacity),
	}
}

// NewEvent builds an event with identity and timestamp filled in.
func NewEvent(transactionID string, eventType contracts.EventType, payload map[string]any) contracts.BlockchainEvent {
	return contracts.BlockchainEvent{
		ID:            uuid.New().String(),
		TransactionID: transactionID,
		EventType:     eventType,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}

// Log writes one event synchronously: ledger first, then the local
// mirror. It returns the event enriched with the ledger hash and block
// number, or the error after the client's retries are exhausted.
func (l *Logger) Log(ctx context.Context, event contracts.BlockchainEvent) (*contracts.BlockchainEvent, error) {
	result, err := l.rpc.LogEvent(ctx, &event)
	if err != nil {
		return nil, err
	}
	event.TransactionHash = result.TransactionHash
	event.BlockNumber = result.BlockNumber

	if _, err := l.mirror.Append(event); err != nil {
		// The ledger already accepted the event; a mirror failure is
		// local-only and must not fail the write.
		l.log.Error("audit mirror append failed", "event_id", event.ID, "err", err)
	}
	return &event, nil
}

// Enqueue schedules an event for asynchronous logging. The background
// loop must be running. The send stays under the mutex: Close flips
// running and closes the channel under the same lock, so no send can
// hit a closed queue.
func (l *Logger) Enqueue(event contracts.BlockchainEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return ErrNotRunning
	}

	select {
	case l.queue <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the single-consumer background loop. Events drain in
// FIFO order; one failing event is logged and skipped, never stalling
// the queue.
func (l *Logger) Start(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for event := range l.queue {
			if _, err := l.Log(ctx, event); err != nil {
				l.log.Error("async audit event failed",
					"event_id", event.ID,
					"event_type", event.EventType,
					"tx_id", event.TransactionID,
					"err", err)
			}
		}
	}()
}

// Close stops accepting new events and blocks until every event already
// queued has been processed. Queued-but-unprocessed events do not
// survive a crash; crash durability for the queue is an explicit
// non-feature and callers who need a guaranteed record use Log.
func (l *Logger) Close() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
}

// QueueDepth reports how many events are waiting (for health surfaces).
func (l *Logger) QueueDepth() int { return len(l.queue) }

// GetAuditTrail queries the external ledger (the source of truth) with
// optional filters, verifying entry hashes when requested.
func (l *Logger) GetAuditTrail(ctx context.Context, transactionID string, q TrailQuery) ([]contracts.BlockchainEvent, error) {
	entries, err := l.rpc.GetAuditTrail(ctx, transactionID, ledgerclient.TrailFilter{
		EventType: q.EventType,
		From:      q.From,
		To:        q.To,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		return nil, err
	}

	if q.IncludeVerification {
		for i := range entries {
			if entries[i].Verified || entries[i].TransactionHash == "" {
				continue
			}
			ok, err := l.rpc.VerifyEvent(ctx, entries[i].TransactionHash)
			if err != nil {
				return nil, err
			}
			entries[i].Verified = ok
		}
	}
	return entries, nil
}

// GetTransactionEvents reads only the local mirror. Faster than the
// ledger, but async events that have not drained yet will be missing.
func (l *Logger) GetTransactionEvents(transactionID string) []contracts.BlockchainEvent {
	return l.mirror.ByTransaction(transactionID)
}

// VerifyEvent asks the ledger directly whether a hash is authentic.
// Used for dispute resolution.
func (l *Logger) VerifyEvent(ctx context.Context, transactionHash string) (bool, error) {
	return l.rpc.VerifyEvent(ctx, transactionHash)
}

// Checkpoint returns the mirror's current Merkle checkpoint, verifying
// the chain first so a corrupt mirror can never anchor a root.
func (l *Logger) Checkpoint() (*Checkpoint, error) {
	if err := l.mirror.VerifyChain(); err != nil {
		return nil, err
	}
	return l.mirror.Checkpoint()
}
