// Package catalogue maintains an in-memory, queryable view of the base
// material catalogue restricted to the active matching scope.
package catalogue

import (
	"sort"
	"sync"

	"github.com/sells-group/material-audit/internal/model"
	"github.com/sells-group/material-audit/internal/similarity"
)

// Alias is a prepared alias tuple ready for scoring.
type Alias struct {
	Name similarity.Prepared
	Raw  model.MaterialAlias
}

// Entry is one indexed base material with its prepared form and aliases.
type Entry struct {
	Material model.BaseMaterial
	Prepared similarity.Prepared
	Aliases  []Alias
}

// Index is a read-mostly keyword index over a scoped catalogue view.
// Rebuilds take the single writer lock; queries share the read lock.
type Index struct {
	mu      sync.RWMutex
	scope   model.MatchingScope
	entries []Entry
	posting map[string][]int // keyword/token -> entry positions
	byID    map[int64]int
}

// New returns an empty index. Call Rebuild before querying.
func New() *Index {
	return &Index{posting: map[string][]int{}}
}

// Rebuild replaces the indexed view with the given scoped catalogue. Any
// previous view is discarded; the scope is recorded so callers can detect
// staleness with Scope.
func (ix *Index) Rebuild(scope model.MatchingScope, materials []model.BaseMaterial, aliases []model.MaterialAlias) {
	byBase := make(map[int64][]Alias, len(aliases))
	for _, a := range aliases {
		byBase[a.BaseMaterialID] = append(byBase[a.BaseMaterialID], Alias{
			Name: similarity.Prepare(a.AliasName, a.AliasSpecification, ""),
			Raw:  a,
		})
	}

	entries := make([]Entry, 0, len(materials))
	posting := make(map[string][]int)
	byID := make(map[int64]int, len(materials))
	for _, m := range materials {
		e := Entry{
			Material: m,
			Prepared: similarity.Prepare(m.Name, m.Specification, m.Unit),
			Aliases:  byBase[m.ID],
		}
		pos := len(entries)
		entries = append(entries, e)
		byID[m.ID] = pos

		seen := map[string]struct{}{}
		index := func(tokens []string) {
			for _, t := range tokens {
				if _, dup := seen[t]; dup {
					continue
				}
				seen[t] = struct{}{}
				posting[t] = append(posting[t], pos)
			}
		}
		index(e.Prepared.Name.Tokens)
		for _, al := range e.Aliases {
			index(al.Name.Name.Tokens)
		}
	}

	ix.mu.Lock()
	ix.scope = scope
	ix.entries = entries
	ix.posting = posting
	ix.byID = byID
	ix.mu.Unlock()
}

// Scope returns the scope the current view was built for.
func (ix *Index) Scope() model.MatchingScope {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.scope
}

// Len returns the number of indexed entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// ByID returns the indexed entry for a base material id.
func (ix *Index) ByID(id int64) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	pos, ok := ix.byID[id]
	if !ok {
		return Entry{}, false
	}
	return ix.entries[pos], true
}

// CandidatesFor returns up to k entries whose indexed name or alias tokens
// overlap the query's keywords, ranked by overlap count. When the query
// yields no keywords (very short names), raw tokens are used instead.
func (ix *Index) CandidatesFor(tokens []string, keywords map[string]struct{}, k int) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	lookup := make([]string, 0, len(keywords))
	for kw := range keywords {
		lookup = append(lookup, kw)
	}
	if len(lookup) == 0 {
		dedup := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			if _, dup := dedup[t]; dup {
				continue
			}
			dedup[t] = struct{}{}
			lookup = append(lookup, t)
		}
	}
	if len(lookup) == 0 {
		return nil
	}

	overlap := map[int]int{}
	for _, key := range lookup {
		for _, pos := range ix.posting[key] {
			overlap[pos]++
		}
	}
	if len(overlap) == 0 {
		return nil
	}

	// Rank before capping so a deep posting list cannot crowd out the
	// entries sharing the most keywords, and so identical queries always
	// yield identical candidate sets.
	positions := make([]int, 0, len(overlap))
	for pos := range overlap {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		if overlap[positions[i]] != overlap[positions[j]] {
			return overlap[positions[i]] > overlap[positions[j]]
		}
		return positions[i] < positions[j]
	})
	if k > 0 && len(positions) > k {
		positions = positions[:k]
	}

	out := make([]Entry, len(positions))
	for i, pos := range positions {
		out[i] = ix.entries[pos]
	}
	return out
}
