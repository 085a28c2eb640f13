package resolver

import (
	"sync"

	"github.com/AdguardTeam/golibs/errors"
)

// Group is an ordered sequence of NameServers that share resolver
// options. A lookup against a non-empty group completes as soon as the
// first upstream returns a non-empty answer, or once every upstream has
// answered (with an answer or an error) — whichever comes first. There
// is no stable preference between members.
type Group struct {
	Members []*NameServer
}

// groupResult carries one member's outcome; when nothing wins, the caller
// reports whichever result arrived last.
type groupResult struct {
	lookup *Lookup
	err    error
}

// Lookup races opts against every member and returns the first non-empty
// answer. If no member produces a non-empty answer, it returns the last
// result to arrive (answer or error), matching the "else return the last
// result" fallback.
func (g *Group) Lookup(name string, opts LookupOptions) (*Lookup, error) {
	if len(g.Members) == 0 {
		return nil, ErrEmptyGroup
	}

	results := make(chan groupResult, len(g.Members))
	for _, ns := range g.Members {
		ns := ns
		go func() {
			lookup, err := ns.Lookup(name, opts)
			results <- groupResult{lookup: lookup, err: err}
		}()
	}

	var last groupResult
	for i := 0; i < len(g.Members); i++ {
		r := <-results
		last = r
		if r.err == nil && !r.lookup.Empty() {
			// Best-effort cancellation: remaining goroutines finish on
			// their own schedule and their results are discarded by
			// simply not being read further (the buffered channel
			// absorbs them without blocking the senders).
			return r.lookup, nil
		}
	}

	return last.lookup, last.err
}

// ErrEmptyGroup is returned by Lookup when the group has no members.
var ErrEmptyGroup = errors.Error("resolver: nameserver group has no members")

// Close closes every member's transport, aggregating errors.
func (g *Group) Close() error {
	var mu sync.Mutex
	var errs []error
	var wg sync.WaitGroup
	for _, ns := range g.Members {
		ns := ns
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ns.Close(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
