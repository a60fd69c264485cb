package repository

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/runac/internal/domain/types"
	"github.com/okian/runac/pkg/metrics"
)

// In-memory rating leaderboard backed by a treap.
//
// Ordering: score DESC, then user seq ASC. "less" means ranks earlier, so
// in-order traversal yields the board from best to worst.

// scoreScale fixes ratings to micro-points so float noise does not split ties.
const scoreScale = 1_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	switch {
	case math.IsNaN(x):
		return 0
	case x*scoreScale >= math.MaxInt64:
		return scoreFP(math.MaxInt64)
	case x*scoreScale <= math.MinInt64:
		return scoreFP(math.MinInt64)
	}
	return scoreFP(math.Round(x * scoreScale))
}

func toFloat(x scoreFP) float64 {
	return float64(x) / scoreScale
}

// member is the stored state for one user on the board.
type member struct {
	score scoreFP
	name  string
	tier  string
}

type node struct {
	seq   int64
	score scoreFP
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

func less(aScore scoreFP, aSeq int64, bScore scoreFP, bSeq int64) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aSeq < bSeq
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, seq int64, score scoreFP, prio uint64) *node {
	if n == nil {
		return &node{seq: seq, score: score, prio: prio, size: 1}
	}
	if less(score, seq, n.score, n.seq) {
		n.left = insert(n.left, seq, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, seq, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, seq int64, score scoreFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && seq == n.seq:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, seq, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, seq, score)
		}
	case less(score, seq, n.score, n.seq):
		n.left = deleteNode(n.left, seq, score)
	default:
		n.right = deleteNode(n.right, seq, score)
	}
	fix(n)
	return n
}

// collect appends up to limit entries in board order. limit < 0 means all.
func collect(n *node, limit int, members map[int64]member, out *[]types.Entry) {
	if n == nil || (limit >= 0 && len(*out) >= limit) {
		return
	}
	collect(n.left, limit, members, out)
	if limit < 0 || len(*out) < limit {
		if m, ok := members[n.seq]; ok {
			*out = append(*out, types.Entry{UserSeq: n.seq, Name: m.name, Score: toFloat(m.score), Tier: m.tier})
		}
	}
	collect(n.right, limit, members, out)
}

// snapshot is an immutable rank index, rebuilt lazily after writes.
type snapshot struct {
	bySeq map[int64]types.Entry
}

// Leaderboard ranks users by rating. Safe for concurrent use.
type Leaderboard struct {
	mu      sync.RWMutex
	root    *node
	members map[int64]member

	snap  atomic.Pointer[snapshot]
	dirty atomic.Bool
}

// NewLeaderboard returns an empty board.
func NewLeaderboard() *Leaderboard {
	lb := &Leaderboard{
		members: make(map[int64]member),
	}
	lb.dirty.Store(true)
	return lb
}

// Upsert sets a user's score, name and tier, replacing any previous entry.
func (l *Leaderboard) Upsert(_ context.Context, e types.Entry) {
	ns := toFixedPoint(e.Score)

	l.mu.Lock()
	if old, ok := l.members[e.UserSeq]; ok {
		l.root = deleteNode(l.root, e.UserSeq, old.score)
	}
	l.members[e.UserSeq] = member{score: ns, name: e.Name, tier: e.Tier}
	l.root = insert(l.root, e.UserSeq, ns, rand.Uint64())
	count := len(l.members)
	l.mu.Unlock()

	l.dirty.Store(true)
	metrics.UpdateLeaderboardUsers(count)
}

// Remove drops a user. Unknown users are ignored.
func (l *Leaderboard) Remove(_ context.Context, seq int64) {
	l.mu.Lock()
	if old, ok := l.members[seq]; ok {
		l.root = deleteNode(l.root, seq, old.score)
		delete(l.members, seq)
	}
	count := len(l.members)
	l.mu.Unlock()

	l.dirty.Store(true)
	metrics.UpdateLeaderboardUsers(count)
}

// Replace swaps the whole board for entries in one step.
func (l *Leaderboard) Replace(_ context.Context, entries []types.Entry) {
	start := time.Now()

	members := make(map[int64]member, len(entries))
	var root *node
	for _, e := range entries {
		ns := toFixedPoint(e.Score)
		if old, ok := members[e.UserSeq]; ok {
			root = deleteNode(root, e.UserSeq, old.score)
		}
		members[e.UserSeq] = member{score: ns, name: e.Name, tier: e.Tier}
		root = insert(root, e.UserSeq, ns, rand.Uint64())
	}

	l.mu.Lock()
	l.root = root
	l.members = members
	l.mu.Unlock()

	l.dirty.Store(true)
	metrics.UpdateLeaderboardUsers(len(members))
	metrics.RecordLeaderboardRebuild(float64(time.Since(start).Microseconds()) / 1000)
}

// Rank returns a user's entry with its rank, or ErrNotFound.
func (l *Leaderboard) Rank(_ context.Context, seq int64) (types.Entry, error) {
	e, ok := l.current().bySeq[seq]
	if !ok {
		return types.Entry{}, ErrNotFound
	}
	return e, nil
}

// TopN returns the best n entries in board order.
func (l *Leaderboard) TopN(_ context.Context, n int) ([]types.Entry, error) {
	if n < 1 {
		metrics.RecordErrorByComponent("leaderboard", "invalid_limit")
		return nil, ErrInvalidLimit
	}

	l.mu.RLock()
	out := make([]types.Entry, 0, min(n, len(l.members)))
	collect(l.root, n, l.members, &out)
	l.mu.RUnlock()

	assignRanksWithTies(out)
	return out, nil
}

// Count returns the number of ranked users.
func (l *Leaderboard) Count(_ context.Context) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.members)
}

// current returns the rank index, rebuilding it if a write happened since
// the last build.
func (l *Leaderboard) current() *snapshot {
	if s := l.snap.Load(); s != nil && !l.dirty.Load() {
		return s
	}

	l.mu.RLock()
	l.dirty.Store(false)
	all := make([]types.Entry, 0, len(l.members))
	collect(l.root, -1, l.members, &all)
	l.mu.RUnlock()

	assignRanksWithTies(all)
	s := &snapshot{bySeq: make(map[int64]types.Entry, len(all))}
	for _, e := range all {
		s.bySeq[e.UserSeq] = e
	}
	l.snap.Store(s)
	return s
}

// assignRanksWithTies gives equal scores the same rank. Ranks are dense, so
// the next distinct score takes the next consecutive rank.
func assignRanksWithTies(entries []types.Entry) {
	rank := 0
	for i := range entries {
		if i == 0 || entries[i].Score != entries[i-1].Score {
			rank++
		}
		entries[i].Rank = rank
	}
}
