package txrunner

import (
	"context"
	"sync"
	"time"

	id "unionvote/pkg/domain"
	dErrors "unionvote/pkg/domain-errors"
)

// numShards spreads instances over a fixed set of locks. Two instances that
// hash to the same shard serialize their exclusive work; that is harmless.
const numShards = 128

// Memory serializes in-process work with sharded RW mutexes. It provides
// isolation, not rollback: the memory stores apply writes immediately.
type Memory struct {
	shards  [numShards]sync.RWMutex
	timeout time.Duration
}

type MemoryOption func(*Memory)

func WithMemoryTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.timeout = d
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type heldKey struct{}

type held struct {
	owner *Memory
	shard uint32
	mode  Mode
}

func (m *Memory) RunInTx(ctx context.Context, votingID id.VotingID, mode Mode, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	shard := hashString(votingID.String()) % numShards

	// Re-entrant on the same shard: join the outer scope.
	if h, ok := ctx.Value(heldKey{}).(held); ok && h.owner == m && h.shard == shard {
		if h.mode == Shared && mode == Exclusive {
			return dErrors.New(dErrors.CodeInternal, "cannot upgrade a shared voting lock to exclusive")
		}
		return fn(ctx)
	}

	ctx, cancel := withTimeout(ctx, m.timeout)
	defer cancel()

	lock := &m.shards[shard]
	if mode == Exclusive {
		lock.Lock()
		defer lock.Unlock()
	} else {
		lock.RLock()
		defer lock.RUnlock()
	}

	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	return fn(context.WithValue(ctx, heldKey{}, held{owner: m, shard: shard, mode: mode}))
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
