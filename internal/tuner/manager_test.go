// SPDX-License-Identifier: MIT
package tuner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTuner is a Tuner with scripted connect/disconnect outcomes.
type fakeTuner struct {
	*Base
	connectErr    error
	disconnectErr error
	connects      atomic.Int32
	disconnects   atomic.Int32
}

func newFakeTuner(id string) *fakeTuner {
	return &fakeTuner{Base: NewBase(id, "fake "+id, testBounds, testDefaults)}
}

func (f *fakeTuner) Connect(context.Context) error {
	f.connects.Add(1)
	if f.connectErr != nil {
		f.SetState(Error)
		return f.connectErr
	}
	f.SetState(Connected)
	return nil
}

func (f *fakeTuner) Disconnect() error {
	f.disconnects.Add(1)
	f.SetState(Disconnected)
	return f.disconnectErr
}

func (f *fakeTuner) Start() error {
	if !f.CompareAndSetState(Connected, Running) {
		return ErrNotConnected
	}
	return nil
}

func (f *fakeTuner) Stop() error {
	f.CompareAndSetState(Running, Connected)
	return nil
}

func (f *fakeTuner) Reset() error { return f.Stop() }

var _ Tuner = (*fakeTuner)(nil)

func staticDiscoverer(ts ...Tuner) Discoverer {
	return DiscovererFunc(func(context.Context) ([]Tuner, error) { return ts, nil })
}

func TestManagerDiscover(t *testing.T) {
	a, b := newFakeTuner("a"), newFakeTuner("b")
	m := NewManager(staticDiscoverer(a, b))

	got, err := m.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID())
	assert.Equal(t, "b", got[1].ID())

	// Rediscovery keeps existing instances and order.
	got, err = m.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 2)

	tn, ok := m.Get("b")
	require.True(t, ok)
	assert.Same(t, b, tn.(*fakeTuner))

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestManagerDiscoverError(t *testing.T) {
	boom := errors.New("usb unavailable")
	m := NewManager(DiscovererFunc(func(context.Context) ([]Tuner, error) { return nil, boom }))

	_, err := m.Discover(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Tuners())
}

func TestManagerAddDuplicate(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Add(newFakeTuner("a")))
	assert.Error(t, m.Add(newFakeTuner("a")))
}

func TestManagerConnectAll(t *testing.T) {
	a, b, c := newFakeTuner("a"), newFakeTuner("b"), newFakeTuner("c")
	b.connectErr = ErrNotFound
	m := NewManager(staticDiscoverer(a, b, c))
	_, err := m.Discover(context.Background())
	require.NoError(t, err)

	err = m.ConnectAll(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)

	// Every tuner was attempted despite the failure.
	assert.Equal(t, Connected, a.State())
	assert.Equal(t, Error, b.State())
	assert.Equal(t, Connected, c.State())

	// Connected tuners are skipped on the next pass.
	b.connectErr = nil
	b.SetState(Disconnected)
	require.NoError(t, m.ConnectAll(context.Background()))
	assert.Equal(t, int32(1), a.connects.Load())
	assert.Equal(t, int32(2), b.connects.Load())
}

func TestManagerDisconnectAllAggregates(t *testing.T) {
	a, b, c := newFakeTuner("a"), newFakeTuner("b"), newFakeTuner("c")
	errA := errors.New("a stuck")
	errC := errors.New("c stuck")
	a.disconnectErr = errA
	c.disconnectErr = errC

	m := NewManager(staticDiscoverer(a, b, c))
	_, err := m.Discover(context.Background())
	require.NoError(t, err)

	err = m.DisconnectAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)

	for _, ft := range []*fakeTuner{a, b, c} {
		assert.Equal(t, int32(1), ft.disconnects.Load())
	}
}

func TestManagerClose(t *testing.T) {
	a := newFakeTuner("a")
	m := NewManager(staticDiscoverer(a))
	_, err := m.Discover(context.Background())
	require.NoError(t, err)
	require.NoError(t, m.ConnectAll(context.Background()))

	require.NoError(t, m.Close())
	assert.Equal(t, Disconnected, a.State())
	assert.Empty(t, m.Tuners())
}
