// SPDX-License-Identifier: MIT
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	applog "radio/internal/log"
	"radio/internal/tuner"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	applog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

type fakeToken struct {
	err     error
	expired bool
}

func (t *fakeToken) Wait() bool                     { return !t.expired }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.expired }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	open         bool
	connectErr   error
	publishToken *fakeToken
	messages     []message
	disconnected bool
}

func (c *fakeClient) Connect() paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.open = true
	}
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	c.disconnected = true
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishToken != nil {
		return c.publishToken
	}
	c.messages = append(c.messages, message{topic, qos, retained, payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) sent() []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message(nil), c.messages...)
}

type stubTuner struct{ *tuner.Base }

func (s *stubTuner) Connect(context.Context) error { s.SetState(tuner.Connected); return nil }
func (s *stubTuner) Disconnect() error             { s.SetState(tuner.Disconnected); return nil }
func (s *stubTuner) Start() error                  { s.SetState(tuner.Running); return nil }
func (s *stubTuner) Stop() error                   { s.SetState(tuner.Connected); return nil }
func (s *stubTuner) Reset() error                  { return s.Stop() }

func newStubTuner(id string) *stubTuner {
	bounds := tuner.Bounds{MinFrequency: 24_000_000, MaxFrequency: 1_766_000_000, MinSampleRate: 225_001, MaxSampleRate: 3_200_000}
	defaults := tuner.Settings{Frequency: 162_550_000, SampleRate: 2_048_000, Gain: 29.7, PPM: -2}
	return &stubTuner{tuner.NewBase(id, "Stub "+id, bounds, defaults)}
}

var fixedNow = time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

func newTestPublisher(t *testing.T, opts Options) (*StatusPublisher, *fakeClient) {
	t.Helper()
	require.NoError(t, opts.normalize())
	c := &fakeClient{}
	p := newPublisher(opts, c)
	p.now = func() time.Time { return fixedNow }
	return p, c
}

func TestOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
		topic   string
	}{
		{"missing broker", Options{}, true, ""},
		{"qos out of range", Options{Broker: "tcp://localhost:1883", QoS: 3}, true, ""},
		{"defaults", Options{Broker: "tcp://localhost:1883"}, false, DefaultTopic},
		{"trailing slash trimmed", Options{Broker: "tcp://localhost:1883", Topic: "shack/sdr/"}, false, "shack/sdr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.opts
			err := o.normalize()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.topic, o.Topic)
			assert.True(t, strings.HasPrefix(o.ClientID, "radio-"))
			assert.Equal(t, DefaultConnectTimeout, o.ConnectTimeout)
			assert.Equal(t, DefaultPublishTimeout, o.PublishTimeout)
		})
	}
}

func TestNewBuildsClient(t *testing.T) {
	p, err := New(Options{Broker: "tcp://127.0.0.1:1", ClientID: "radio-test", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "radio/tuners/rtlsdr-0", p.Topic("rtlsdr-0"))

	_, err = New(Options{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConnect(t *testing.T) {
	p, c := newTestPublisher(t, Options{Broker: "tcp://broker:1883"})
	require.NoError(t, p.Connect())
	assert.True(t, c.IsConnectionOpen())

	p, c = newTestPublisher(t, Options{Broker: "tcp://broker:1883"})
	c.connectErr = errors.New("refused")
	err := p.Connect()
	assert.ErrorContains(t, err, "refused")
}

func TestListenerPublishesRetainedStatus(t *testing.T) {
	p, c := newTestPublisher(t, Options{Broker: "tcp://broker:1883", Topic: "shack", QoS: 1})
	require.NoError(t, p.Connect())

	tu := newStubTuner("rtlsdr-0")
	tu.SetStatusListener(p.Listener(tu))
	require.NoError(t, tu.Connect(context.Background()))
	require.NoError(t, tu.Start())

	msgs := c.sent()
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.Equal(t, "shack/rtlsdr-0", m.topic)
		assert.Equal(t, byte(1), m.qos)
		assert.True(t, m.retained)
	}

	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[1].payload, &got))
	assert.Equal(t, "rtlsdr-0", got["id"])
	assert.Equal(t, "Stub rtlsdr-0", got["name"])
	assert.Equal(t, "running", got["state"])
	assert.Equal(t, 162550000.0, got["frequency"])
	assert.Equal(t, 2048000.0, got["sample_rate"])
	assert.Equal(t, 29.7, got["gain"])
	assert.Equal(t, -2.0, got["ppm"])
	assert.Equal(t, "2026-10-19T08:30:00Z", got["timestamp"])
	assert.Equal(t, uint64(2), p.Published())
}

func TestPublishSkippedWhenDisconnected(t *testing.T) {
	p, c := newTestPublisher(t, Options{Broker: "tcp://broker:1883"})

	require.NoError(t, p.Publish(StatusOf(newStubTuner("a"), tuner.Connected, fixedNow)))
	assert.Empty(t, c.sent())
	assert.Equal(t, uint64(1), p.Skipped())

	// Nothing retained, so Close has nothing to clear.
	require.NoError(t, p.Close())
	assert.Empty(t, c.sent())
	assert.True(t, c.disconnected)
}

func TestPublishFailures(t *testing.T) {
	p, c := newTestPublisher(t, Options{Broker: "tcp://broker:1883"})
	require.NoError(t, p.Connect())

	c.publishToken = &fakeToken{expired: true}
	err := p.Publish(StatusOf(newStubTuner("a"), tuner.Connected, fixedNow))
	assert.ErrorIs(t, err, ErrPublishTimeout)

	c.publishToken = &fakeToken{err: errors.New("not authorized")}
	err = p.Publish(StatusOf(newStubTuner("a"), tuner.Connected, fixedNow))
	assert.ErrorContains(t, err, "not authorized")
	assert.Zero(t, p.Published())
}

func TestCloseClearsRetainedStatus(t *testing.T) {
	p, c := newTestPublisher(t, Options{Broker: "tcp://broker:1883"})
	require.NoError(t, p.Connect())

	require.NoError(t, p.Publish(StatusOf(newStubTuner("a"), tuner.Connected, fixedNow)))
	require.NoError(t, p.Publish(StatusOf(newStubTuner("b"), tuner.Connected, fixedNow)))
	require.NoError(t, p.Publish(StatusOf(newStubTuner("a"), tuner.Running, fixedNow)))

	require.NoError(t, p.Close())

	msgs := c.sent()
	require.Len(t, msgs, 5)
	cleared := map[string]bool{}
	for _, m := range msgs[3:] {
		assert.Empty(t, m.payload)
		assert.True(t, m.retained)
		cleared[m.topic] = true
	}
	assert.Equal(t, map[string]bool{"radio/tuners/a": true, "radio/tuners/b": true}, cleared)
	assert.True(t, c.disconnected)
}
