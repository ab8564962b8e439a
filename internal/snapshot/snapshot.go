// Package snapshot holds the latest quote per (exchange, token, market).
// Writers replace whole quotes; readers take a point-in-time View.
package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Store is the shared quote map.
type Store struct {
	mu     sync.RWMutex
	quotes map[domain.QuoteKey]domain.PriceQuote
}

// New returns an empty Store.
func New() *Store {
	return &Store{quotes: make(map[domain.QuoteKey]domain.PriceQuote)}
}

// Update merges quotes, keeping the newer one per key. It returns how many
// quotes were applied.
func (s *Store) Update(quotes ...domain.PriceQuote) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	applied := 0
	for _, q := range quotes {
		k := q.Key()
		if cur, ok := s.quotes[k]; ok && cur.Timestamp.After(q.Timestamp) {
			continue
		}
		s.quotes[k] = q
		applied++
	}
	return applied
}

// Prune drops quotes stamped before cutoff and returns how many were removed.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, q := range s.quotes {
		if q.Timestamp.Before(cutoff) {
			delete(s.quotes, k)
			n++
		}
	}
	return n
}

// Delete clears the given slots and returns how many held a quote.
func (s *Store) Delete(keys ...domain.QuoteKey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range keys {
		if _, ok := s.quotes[k]; ok {
			delete(s.quotes, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored quotes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.quotes)
}

// Read returns a consistent copy of the store.
func (s *Store) Read() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byToken := make(map[domain.TokenSymbol][]domain.PriceQuote)
	for _, q := range s.quotes {
		byToken[q.Token] = append(byToken[q.Token], q)
	}
	for _, qs := range byToken {
		sortQuotes(qs)
	}
	return View{byToken: byToken}
}

// View is an immutable snapshot copy indexed by token.
type View struct {
	byToken map[domain.TokenSymbol][]domain.PriceQuote
}

// NewView builds a View directly from quotes, for callers that do not need
// a shared Store.
func NewView(quotes ...domain.PriceQuote) View {
	s := New()
	s.Update(quotes...)
	return s.Read()
}

// Quotes returns the quotes of token ordered by exchange then market. The
// slice is a copy.
func (v View) Quotes(token domain.TokenSymbol) []domain.PriceQuote {
	qs := v.byToken[token]
	out := make([]domain.PriceQuote, len(qs))
	copy(out, qs)
	return out
}

// Tokens returns every token present in the view, sorted.
func (v View) Tokens() []domain.TokenSymbol {
	out := make([]domain.TokenSymbol, 0, len(v.byToken))
	for t := range v.byToken {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the total quote count.
func (v View) Len() int {
	n := 0
	for _, qs := range v.byToken {
		n += len(qs)
	}
	return n
}

// Where returns a view containing only quotes for which keep is true.
func (v View) Where(keep func(domain.PriceQuote) bool) View {
	out := make(map[domain.TokenSymbol][]domain.PriceQuote, len(v.byToken))
	for t, qs := range v.byToken {
		var kept []domain.PriceQuote
		for _, q := range qs {
			if keep(q) {
				kept = append(kept, q)
			}
		}
		if len(kept) > 0 {
			out[t] = kept
		}
	}
	return View{byToken: out}
}

func sortQuotes(qs []domain.PriceQuote) {
	sort.Slice(qs, func(i, j int) bool {
		if qs[i].Exchange != qs[j].Exchange {
			return qs[i].Exchange < qs[j].Exchange
		}
		return qs[i].Market < qs[j].Market
	})
}
