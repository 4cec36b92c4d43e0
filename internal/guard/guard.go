package guard

import (
	"context"
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"access-verifier/internal/client"
)

const (
	numShards = 32

	inProgressPrefix = "access:inprogress:"
	decidedPrefix    = "access:decided:"

	inProgressTTL = 30 * time.Second
)

// DuplicateGuard ensures at most one decision runs per attempt id. Two
// layers back the guarantee: murmur3-sharded in-process marks for the
// common single-instance case, and Redis SET NX marks for horizontally
// scaled deployments. A third layer, the decided cache, lets ingress
// drop evidence that straggles in after an attempt has been decided.
type DuplicateGuard struct {
	shards     [numShards]shard
	hasherPool sync.Pool

	redis      *client.RedisClient
	decidedTTL time.Duration
	logger     *zap.Logger
}

type shard struct {
	mu    sync.Mutex
	marks map[string]struct{}
}

func NewDuplicateGuard(redis *client.RedisClient, decidedTTL time.Duration, logger *zap.Logger) *DuplicateGuard {
	g := &DuplicateGuard{
		redis:      redis,
		decidedTTL: decidedTTL,
		logger:     logger,
	}
	for i := range g.shards {
		g.shards[i].marks = make(map[string]struct{})
	}
	g.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}
	return g
}

func (g *DuplicateGuard) shardFor(attemptID string) *shard {
	hasher := g.hasherPool.Get().(hash.Hash64)
	defer g.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(attemptID))
	return &g.shards[hasher.Sum64()%numShards]
}

// TryBegin claims the attempt for decisioning. Exactly one caller wins;
// everyone else gets false until End releases the claim. The Redis mark
// carries a TTL so a crashed holder cannot wedge the attempt forever.
func (g *DuplicateGuard) TryBegin(ctx context.Context, attemptID string) bool {
	sh := g.shardFor(attemptID)
	sh.mu.Lock()
	if _, held := sh.marks[attemptID]; held {
		sh.mu.Unlock()
		return false
	}
	sh.marks[attemptID] = struct{}{}
	sh.mu.Unlock()

	if g.redis == nil {
		return true
	}

	acquired, err := g.redis.SetNX(ctx, inProgressPrefix+attemptID, "1", inProgressTTL)
	if err != nil {
		// Redis being down must not stall decisions; the local mark
		// still protects this instance.
		g.logger.Warn("Cross-process guard unavailable, proceeding on local mark",
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
		return true
	}
	if !acquired {
		g.releaseLocal(attemptID)
		g.logger.Debug("Attempt already in progress on another instance",
			zap.String("attempt_id", attemptID),
		)
		return false
	}
	return true
}

// End releases the claim taken by TryBegin. Call only after the audit
// write has completed, so a duplicate arriving in between still sees
// the mark.
func (g *DuplicateGuard) End(ctx context.Context, attemptID string) {
	g.releaseLocal(attemptID)
	if g.redis != nil {
		if err := g.redis.Del(ctx, inProgressPrefix+attemptID); err != nil {
			g.logger.Warn("Failed to clear cross-process guard mark",
				zap.String("attempt_id", attemptID),
				zap.Error(err),
			)
		}
	}
}

func (g *DuplicateGuard) releaseLocal(attemptID string) {
	sh := g.shardFor(attemptID)
	sh.mu.Lock()
	delete(sh.marks, attemptID)
	sh.mu.Unlock()
}

// MarkDecided records that the attempt reached a terminal decision.
// Ingress consults this to drop late evidence.
func (g *DuplicateGuard) MarkDecided(ctx context.Context, attemptID string) {
	if g.redis == nil {
		return
	}
	if err := g.redis.Set(ctx, decidedPrefix+attemptID, "1", g.decidedTTL); err != nil {
		g.logger.Warn("Failed to cache decided mark",
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
	}
}

// WasDecided reports whether the attempt already has a decision. Errors
// degrade to false: the audit sink's idempotent write catches whatever
// slips through.
func (g *DuplicateGuard) WasDecided(ctx context.Context, attemptID string) bool {
	if g.redis == nil {
		return false
	}
	decided, err := g.redis.Exists(ctx, decidedPrefix+attemptID)
	if err != nil {
		g.logger.Warn("Failed to check decided cache",
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
		return false
	}
	return decided
}
