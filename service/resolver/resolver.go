// Package resolver maps counterparty addresses to administrative labels,
// caching results for the lifetime of one sync session.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/brojonat/comchain/service/ledger"
	"github.com/brojonat/comchain/service/metrics"
)

// LabelLookup resolves a batch of addresses in one backend call.
// Unknown addresses are absent from the result.
type LabelLookup interface {
	LookupLabels(ctx context.Context, addresses []string) (map[string]string, error)
}

type entry struct {
	label string
	found bool
}

// call is one batch lookup in flight. done is closed once the lookup
// finished and err is set.
type call struct {
	done chan struct{}
	err  error
}

// Session is a resolution cache. Entries are only ever added, and an
// address is sent to the backend at most once per session, including
// addresses the backend does not know. Safe for concurrent use.
type Session struct {
	lookup  LabelLookup
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.Mutex
	entries  map[string]entry
	inflight map[string]*call
}

// NewSession creates an empty session cache.
func NewSession(lookup LabelLookup, m *metrics.Metrics, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		lookup:   lookup,
		metrics:  m,
		logger:   logger,
		entries:  make(map[string]entry),
		inflight: make(map[string]*call),
	}
}

// Resolve returns labels for the requested addresses. Misses are fetched
// with exactly one batch call; addresses already being fetched by a
// concurrent caller are waited on rather than fetched again. The system
// address is never looked up and never returned.
//
// If the batch call fails nothing is cached for the missed addresses and
// the error is returned.
func (s *Session) Resolve(ctx context.Context, addresses []string) (map[string]string, error) {
	requested := make([]string, 0, len(addresses))
	seen := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		addr = ledger.NormalizeAddress(addr)
		if addr == "" || addr == ledger.SystemAddress {
			continue
		}
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		requested = append(requested, addr)
	}

	var (
		misses []string
		waits  = make(map[*call]struct{})
		mine   *call
		hits   int
	)

	s.mu.Lock()
	for _, addr := range requested {
		if _, ok := s.entries[addr]; ok {
			hits++
			continue
		}
		if c, ok := s.inflight[addr]; ok {
			waits[c] = struct{}{}
			continue
		}
		misses = append(misses, addr)
	}
	if len(misses) > 0 {
		mine = &call{done: make(chan struct{})}
		for _, addr := range misses {
			s.inflight[addr] = mine
		}
	}
	s.mu.Unlock()

	s.metrics.RecordResolverLookups("hit", hits)
	s.metrics.RecordResolverLookups("miss", len(misses))
	s.metrics.RecordResolverLookups("wait", len(requested)-hits-len(misses))

	if mine != nil {
		if err := s.fetch(ctx, mine, misses); err != nil {
			return nil, err
		}
	}

	for c := range waits {
		select {
		case <-c.done:
			if c.err != nil {
				return nil, fmt.Errorf("concurrent label lookup failed: %w", c.err)
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	result := make(map[string]string, len(requested))
	s.mu.Lock()
	for _, addr := range requested {
		if e, ok := s.entries[addr]; ok && e.found {
			result[addr] = e.label
		}
	}
	s.mu.Unlock()
	return result, nil
}

func (s *Session) fetch(ctx context.Context, c *call, misses []string) error {
	labels, err := s.lookup.LookupLabels(ctx, misses)

	s.mu.Lock()
	for _, addr := range misses {
		delete(s.inflight, addr)
		if err != nil {
			continue
		}
		label, found := labels[addr]
		s.entries[addr] = entry{label: label, found: found}
	}
	c.err = err
	close(c.done)
	s.mu.Unlock()

	if err != nil {
		s.logger.WarnContext(ctx, "label lookup failed",
			"addresses", len(misses),
			"error", err,
		)
		return fmt.Errorf("failed to look up labels: %w", err)
	}

	s.logger.DebugContext(ctx, "resolved counterparty labels",
		"requested", len(misses),
		"found", len(labels),
	)
	return nil
}

// Len reports how many addresses the session has settled.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
