// SPDX-License-Identifier: MIT
package tuner

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	applog "radio/internal/log"
)

// maxConcurrentConnects bounds parallel device bring-up on shared USB hubs.
const maxConcurrentConnects = 4

// Discoverer enumerates the tuners currently attached.
type Discoverer interface {
	Discover(ctx context.Context) ([]Tuner, error)
}

// DiscovererFunc adapts a function to the Discoverer interface.
type DiscovererFunc func(ctx context.Context) ([]Tuner, error)

func (f DiscovererFunc) Discover(ctx context.Context) ([]Tuner, error) {
	return f(ctx)
}

// Manager owns the set of known tuners. One mutex guards the collection;
// device operations run outside it.
type Manager struct {
	discoverers []Discoverer

	mu     sync.Mutex
	tuners map[string]Tuner
	order  []string
}

// NewManager creates a manager that discovers through each discoverer in turn.
func NewManager(discoverers ...Discoverer) *Manager {
	return &Manager{
		discoverers: discoverers,
		tuners:      make(map[string]Tuner),
	}
}

// Discover enumerates attached tuners and adds any not already known. It
// returns the full collection in discovery order.
func (m *Manager) Discover(ctx context.Context) ([]Tuner, error) {
	var found []Tuner
	for _, d := range m.discoverers {
		ts, err := d.Discover(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover tuners: %w", err)
		}
		found = append(found, ts...)
	}

	m.mu.Lock()
	for _, t := range found {
		if _, ok := m.tuners[t.ID()]; ok {
			continue
		}
		m.tuners[t.ID()] = t
		m.order = append(m.order, t.ID())
		applog.Infof("Manager: discovered tuner %s (%s)", t.ID(), t.Name())
	}
	m.mu.Unlock()

	return m.Tuners(), nil
}

// Add registers t. A tuner with the same ID is an error.
func (m *Manager) Add(t Tuner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tuners[t.ID()]; ok {
		return fmt.Errorf("tuner %s already registered", t.ID())
	}
	m.tuners[t.ID()] = t
	m.order = append(m.order, t.ID())
	return nil
}

// Tuners returns the known tuners in discovery order.
func (m *Manager) Tuners() []Tuner {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Tuner, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tuners[id])
	}
	return out
}

// Get looks up a tuner by ID.
func (m *Manager) Get(id string) (Tuner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tuners[id]
	return t, ok
}

// ConnectAll connects every disconnected tuner concurrently. Every tuner is
// attempted; the first failure is returned.
func (m *Manager) ConnectAll(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(maxConcurrentConnects)

	for _, t := range m.Tuners() {
		if t.State() != Disconnected {
			continue
		}
		g.Go(func() error {
			if err := t.Connect(ctx); err != nil {
				applog.Errorf("Manager: connect %s: %v", t.ID(), err)
				return fmt.Errorf("connect %s: %w", t.ID(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// DisconnectAll disconnects every tuner and reports all failures together.
func (m *Manager) DisconnectAll() error {
	var result *multierror.Error
	for _, t := range m.Tuners() {
		if err := t.Disconnect(); err != nil {
			applog.Errorf("Manager: disconnect %s: %v", t.ID(), err)
			result = multierror.Append(result, fmt.Errorf("disconnect %s: %w", t.ID(), err))
		}
	}
	return result.ErrorOrNil()
}

// Close disconnects everything and forgets the collection.
func (m *Manager) Close() error {
	err := m.DisconnectAll()

	m.mu.Lock()
	clear(m.tuners)
	m.order = nil
	m.mu.Unlock()

	applog.Debugf("Manager: closed")
	return err
}
