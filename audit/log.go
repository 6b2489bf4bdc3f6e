package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mwhitlock/authcore/internal"
)

var (
	// ErrCorrupt is returned by VerifyChain when recomputation disagrees
	// with stored state. Match with errors.Is; the concrete value is a
	// *CorruptionError naming the offending sequence.
	ErrCorrupt = errors.New("audit chain corrupt")

	// ErrSequenceConflict is returned by Store.Append when the sequence
	// number was claimed by a concurrent writer. Append retries on it.
	ErrSequenceConflict = errors.New("audit sequence conflict")

	// ErrRangeEmpty is returned when a verify range addresses sequences
	// that do not exist.
	ErrRangeEmpty = errors.New("audit range empty")
)

// CorruptionError pinpoints the first entry whose stored hash, previous-hash
// link, or sequence number fails verification.
type CorruptionError struct {
	Sequence uint64
	Reason   string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("audit chain corrupt at sequence %d: %s", e.Sequence, e.Reason)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupt }

// Store persists chain entries. Append must reject an already-claimed
// sequence with ErrSequenceConflict so that Log can serialize appends
// optimistically across concurrent writers.
type Store interface {
	// Head returns the highest stored entry, or found=false for an empty chain.
	Head(ctx context.Context) (Entry, bool, error)
	// Append persists the entry. The implementation must guarantee at most
	// one entry per sequence number.
	Append(ctx context.Context, e Entry) error
	// Range returns entries with from <= sequence <= to, ascending.
	Range(ctx context.Context, from, to uint64) ([]Entry, error)
}

const appendRetryLimit = 16

// Log appends to and verifies a hash chain held in a Store. Safe for
// concurrent use; contention is resolved by sequence CAS, not locking.
type Log struct {
	store Store
	now   func() time.Time
}

// NewLog wraps a Store. The zero clock defaults to time.Now.
func NewLog(store Store) *Log {
	return &Log{store: store, now: time.Now}
}

// WithClock overrides the timestamp source. Test hook.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Append records an action in the chain and returns the stored entry.
// The sequence number and hash are assigned here; callers supply only the
// observable facts.
func (l *Log) Append(ctx context.Context, actor, action string, metadata map[string]string) (Entry, error) {
	occurred := l.now().UTC()

	for attempt := 0; attempt < appendRetryLimit; attempt++ {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}

		head, found, err := l.store.Head(ctx)
		if err != nil {
			return Entry{}, err
		}

		entry := Entry{
			ID:         internal.NewAuditID(occurred),
			Actor:      actor,
			Action:     action,
			Metadata:   cloneMetadata(metadata),
			OccurredAt: occurred,
			PrevHash:   GenesisHash,
		}
		if found {
			entry.Sequence = head.Sequence + 1
			entry.PrevHash = head.Hash
		}
		entry.Hash = ComputeHash(entry.PrevHash, entry)

		err = l.store.Append(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrSequenceConflict) {
			return Entry{}, err
		}
		// Lost the race for this sequence; re-read the head and retry.
	}

	return Entry{}, fmt.Errorf("audit append contention: %w", ErrSequenceConflict)
}

// VerifyChain recomputes hashes for sequences [from, to] and fails with a
// *CorruptionError at the first mismatch. Verifying from a non-zero sequence
// anchors on the stored predecessor hash.
func (l *Log) VerifyChain(ctx context.Context, from, to uint64) error {
	if to < from {
		return fmt.Errorf("invalid verify range [%d, %d]", from, to)
	}

	prevHash := GenesisHash
	if from > 0 {
		anchor, err := l.store.Range(ctx, from-1, from-1)
		if err != nil {
			return err
		}
		if len(anchor) == 0 {
			return fmt.Errorf("%w: missing anchor entry %d", ErrRangeEmpty, from-1)
		}
		prevHash = anchor[0].Hash
	}

	entries, err := l.store.Range(ctx, from, to)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return ErrRangeEmpty
	}

	expected := from
	for _, e := range entries {
		if e.Sequence != expected {
			return &CorruptionError{Sequence: expected, Reason: "sequence gap"}
		}
		if e.PrevHash != prevHash {
			return &CorruptionError{Sequence: e.Sequence, Reason: "previous-hash link broken"}
		}
		if recomputed := ComputeHash(prevHash, e); recomputed != e.Hash {
			return &CorruptionError{Sequence: e.Sequence, Reason: "stored hash mismatch"}
		}
		prevHash = e.Hash
		expected++
	}

	return nil
}

func cloneMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
