// SPDX-License-Identifier: MIT
//
// Package mqtt announces tuner status on an MQTT broker. Each tuner owns a
// retained topic so late subscribers see the current state immediately.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	applog "radio/internal/log"
	"radio/internal/tuner"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

const (
	DefaultTopic          = "radio/tuners"
	DefaultConnectTimeout = 5 * time.Second
	DefaultPublishTimeout = 2 * time.Second

	disconnectQuiesce = 250 // ms
)

var (
	ErrInvalidConfig  = errors.New("mqtt: invalid configuration")
	ErrConnectTimeout = errors.New("mqtt: connect timeout")
	ErrPublishTimeout = errors.New("mqtt: publish timeout")
)

// Client is the part of paho.Client the publisher uses.
type Client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
}

// Options configures a StatusPublisher.
type Options struct {
	Broker         string // e.g. tcp://localhost:1883
	Topic          string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

func (o *Options) normalize() error {
	if strings.TrimSpace(o.Broker) == "" {
		return fmt.Errorf("%w: broker is required", ErrInvalidConfig)
	}
	if o.QoS > 2 {
		return fmt.Errorf("%w: qos %d not in 0..2", ErrInvalidConfig, o.QoS)
	}
	o.Topic = strings.TrimRight(o.Topic, "/")
	if o.Topic == "" {
		o.Topic = DefaultTopic
	}
	if o.ClientID == "" {
		o.ClientID = "radio-" + uuid.NewString()
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = DefaultPublishTimeout
	}
	return nil
}

// Status is the retained JSON document for one tuner.
type Status struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Frequency  uint32    `json:"frequency"`
	SampleRate uint32    `json:"sample_rate"`
	Gain       float64   `json:"gain"`
	PPM        float64   `json:"ppm"`
	AGC        bool      `json:"agc"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusOf snapshots t as if it were in state.
func StatusOf(t tuner.Tuner, state tuner.State, now time.Time) Status {
	s := t.Settings()
	return Status{
		ID:         t.ID(),
		Name:       t.Name(),
		State:      state.String(),
		Frequency:  s.Frequency,
		SampleRate: s.SampleRate,
		Gain:       s.Gain,
		PPM:        s.PPM,
		AGC:        s.AGC,
		Timestamp:  now,
	}
}

// StatusPublisher publishes tuner status changes.
type StatusPublisher struct {
	opts   Options
	client Client
	now    func() time.Time

	mu    sync.Mutex
	known map[string]struct{} // tuners with a retained message

	published atomic.Uint64
	skipped   atomic.Uint64
}

// New creates a publisher backed by a paho client. Call Connect before use.
func New(opts Options) (*StatusPublisher, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	co := paho.NewClientOptions()
	co.AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	co.SetCleanSession(true)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	co.SetConnectRetryInterval(2 * time.Second)
	co.SetMaxReconnectInterval(30 * time.Second)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	co.OnConnect = func(paho.Client) {
		applog.Infof("MQTT: Connected to %s as %s", opts.Broker, opts.ClientID)
	}
	co.OnConnectionLost = func(_ paho.Client, err error) {
		applog.Warnf("MQTT: Connection to %s lost, reconnecting: %v", opts.Broker, err)
	}

	return newPublisher(opts, paho.NewClient(co)), nil
}

func newPublisher(opts Options, client Client) *StatusPublisher {
	return &StatusPublisher{
		opts:   opts,
		client: client,
		now:    time.Now,
		known:  make(map[string]struct{}),
	}
}

// Connect opens the broker connection.
func (p *StatusPublisher) Connect() error {
	applog.Infof("MQTT: Connecting to %s", p.opts.Broker)
	token := p.client.Connect()
	if !token.WaitTimeout(p.opts.ConnectTimeout) {
		return ErrConnectTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect %s: %w", p.opts.Broker, err)
	}
	return nil
}

// Topic returns the retained topic for a tuner.
func (p *StatusPublisher) Topic(id string) string {
	return p.opts.Topic + "/" + id
}

// Publish sends s as the retained status of its tuner. Nothing is sent
// while the broker connection is down.
func (p *StatusPublisher) Publish(s Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("mqtt: encode status: %w", err)
	}
	sent, err := p.send(p.Topic(s.ID), payload)
	if sent {
		p.mu.Lock()
		p.known[s.ID] = struct{}{}
		p.mu.Unlock()
	}
	return err
}

func (p *StatusPublisher) send(topic string, payload []byte) (bool, error) {
	if !p.client.IsConnectionOpen() {
		p.skipped.Add(1)
		applog.Debugf("MQTT: Not connected, skipping %s", topic)
		return false, nil
	}

	token := p.client.Publish(topic, p.opts.QoS, true, payload)
	if !token.WaitTimeout(p.opts.PublishTimeout) {
		return false, fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return false, fmt.Errorf("mqtt: publish %s: %w", topic, err)
	}
	p.published.Add(1)
	return true, nil
}

// Listener returns a tuner.StatusListener that publishes t's status on
// every transition. Publish failures are logged.
func (p *StatusPublisher) Listener(t tuner.Tuner) tuner.StatusListener {
	return func(id string, _, to tuner.State) {
		if err := p.Publish(StatusOf(t, to, p.now())); err != nil {
			applog.Warnf("MQTT: Status of %s not published: %v", id, err)
		}
	}
}

// Published returns the number of messages acknowledged by the broker.
func (p *StatusPublisher) Published() uint64 {
	return p.published.Load()
}

// Skipped returns the number of messages not sent because the connection
// was down.
func (p *StatusPublisher) Skipped() uint64 {
	return p.skipped.Load()
}

// Close clears every retained status this publisher created and
// disconnects.
func (p *StatusPublisher) Close() error {
	p.mu.Lock()
	ids := make([]string, 0, len(p.known))
	for id := range p.known {
		ids = append(ids, id)
	}
	p.known = make(map[string]struct{})
	p.mu.Unlock()

	var result *multierror.Error
	for _, id := range ids {
		if _, err := p.send(p.Topic(id), []byte{}); err != nil {
			result = multierror.Append(result, err)
		}
	}

	p.client.Disconnect(disconnectQuiesce)
	applog.Infof("MQTT: Disconnected from %s", p.opts.Broker)
	return result.ErrorOrNil()
}
