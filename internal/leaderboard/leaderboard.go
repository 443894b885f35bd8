// Package leaderboard keeps accounts ordered by score for ranking queries.
package leaderboard

import (
	"sync"

	"github.com/google/btree"
)

const btreeDegree = 16

// Entry is one ranked account. Lower scores rank first; ties order by username.
type Entry struct {
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

func lessEntry(a, b Entry) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Username < b.Username
}

// Change describes the outcome of an Update. Ranks are zero-based; OldRank
// is -1 when the user had no entry before.
type Change struct {
	OldRank int
	NewRank int
	Changed bool
}

// Within reports whether the user entered, moved within, or left the top band.
func (c Change) Within(band int) bool {
	if !c.Changed {
		return false
	}
	return c.NewRank < band || (c.OldRank >= 0 && c.OldRank < band)
}

// Board is a mutex-guarded ordered index with a username lookup table.
type Board struct {
	mu     sync.Mutex
	tree   *btree.BTreeG[Entry]
	byName map[string]Entry
}

// New returns an empty board.
func New() *Board {
	return &Board{
		tree:   btree.NewG(btreeDegree, lessEntry),
		byName: make(map[string]Entry),
	}
}

// Update moves username to score. Updating to the current score is a no-op.
func (b *Board) Update(username string, score float64) Change {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, exists := b.byName[username]
	if exists && old.Score == score {
		rank := b.rankLocked(old)
		return Change{OldRank: rank, NewRank: rank}
	}

	change := Change{OldRank: -1, Changed: true}
	if exists {
		change.OldRank = b.rankLocked(old)
		b.tree.Delete(old)
	}
	next := Entry{Username: username, Score: score}
	b.tree.ReplaceOrInsert(next)
	b.byName[username] = next
	change.NewRank = b.rankLocked(next)
	return change
}

// Remove drops username from the board.
func (b *Board) Remove(username string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	old, ok := b.byName[username]
	if !ok {
		return false
	}
	b.tree.Delete(old)
	delete(b.byName, username)
	return true
}

// Rank returns the zero-based rank of username, or -1 if absent.
func (b *Board) Rank(username string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.byName[username]
	if !ok {
		return -1
	}
	return b.rankLocked(entry)
}

func (b *Board) rankLocked(target Entry) int {
	rank := 0
	b.tree.AscendLessThan(target, func(Entry) bool {
		rank++
		return true
	})
	return rank
}

// Top returns the best k entries in rank order.
func (b *Board) Top(k int) []Entry {
	if k <= 0 {
		return []Entry{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, min(k, b.tree.Len()))
	b.tree.Ascend(func(e Entry) bool {
		out = append(out, e)
		return len(out) < k
	})
	return out
}

// All returns every entry in rank order.
func (b *Board) All() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, b.tree.Len())
	b.tree.Ascend(func(e Entry) bool {
		out = append(out, e)
		return true
	})
	return out
}

// Len returns the number of ranked accounts.
func (b *Board) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tree.Len()
}
