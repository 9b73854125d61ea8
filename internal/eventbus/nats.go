/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus onto NATS so that
// external systems (building automation, monitoring) can observe and
// inject announcements events.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/hermod_pa/internal/events"
)

// subjectPrefix namespaces every bridged event on the wire.
const subjectPrefix = "hermod.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string

	// Connection options
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus implements a NATS-backed event bus. Local subscribers always
// receive locally published events; when the connection is up, events are
// additionally mirrored to NATS subjects and remote events are delivered to
// local subscribers.
type NATSBus struct {
	conn   *nats.Conn
	logger zerolog.Logger
	nodeID string

	mu      sync.RWMutex
	subs    map[events.EventType][]events.Subscriber
	remotes map[events.EventType]*nats.Subscription
}

// NewNATSBus connects to NATS and returns a bridged event bus.
// A failed connection degrades to local-only delivery rather than erroring;
// the bridge stays local for the lifetime of the process.
func NewNATSBus(cfg NATSConfig, logger zerolog.Logger) (*NATSBus, error) {
	nb := &NATSBus{
		logger:  logger,
		nodeID:  generateNodeID(),
		subs:    make(map[events.EventType][]events.Subscriber),
		remotes: make(map[events.EventType]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.Name("hermod-pa-" + nb.nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected, events stay local until reconnect")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, using local-only event delivery")
		return nb, nil
	}

	nb.conn = conn
	logger.Info().Str("url", conn.ConnectedUrl()).Str("node_id", nb.nodeID).Msg("NATS event bridge connected")
	return nb, nil
}

// Subscribe registers a subscriber for an event type. The first subscriber
// for a type also opens the matching NATS subject so remote events flow in.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	sub := make(events.Subscriber, 8)
	nb.subs[eventType] = append(nb.subs[eventType], sub)

	if nb.conn != nil {
		if _, exists := nb.remotes[eventType]; !exists {
			subject := subjectPrefix + string(eventType)
			remote, err := nb.conn.Subscribe(subject, func(m *nats.Msg) {
				nb.deliverRemote(eventType, m.Data)
			})
			if err != nil {
				nb.logger.Error().Err(err).Str("subject", subject).Msg("NATS subscribe failed")
			} else {
				nb.remotes[eventType] = remote
			}
		}
	}

	return sub
}

// deliverRemote fans a remote NATS message out to local subscribers.
func (nb *NATSBus) deliverRemote(eventType events.EventType, data []byte) {
	msg, err := unmarshalNATSMessage(data)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("drop undecodable NATS message")
		return
	}

	// Skip our own publishes echoed back by the server.
	if msg.NodeID == nb.nodeID {
		return
	}

	nb.deliverLocal(eventType, msg.Payload)

	nb.logger.Debug().
		Str("event_type", string(eventType)).
		Str("source_node", msg.NodeID).
		Msg("delivered remote event to local subscribers")
}

// deliverLocal hands payload to every tracked subscriber without blocking.
func (nb *NATSBus) deliverLocal(eventType events.EventType, payload events.Payload) {
	nb.mu.RLock()
	subs := append([]events.Subscriber(nil), nb.subs[eventType]...)
	nb.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
			nb.logger.Warn().Str("event_type", string(eventType)).Msg("subscriber channel full, dropping event")
		}
	}
}

// Publish sends an event payload to local subscribers and mirrors it to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.deliverLocal(eventType, payload)

	if nb.conn == nil || !nb.conn.IsConnected() {
		return
	}

	data, err := marshalNATSMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("marshal NATS message failed")
		return
	}

	subject := subjectPrefix + string(eventType)
	if err := nb.conn.Publish(subject, data); err != nil {
		nb.logger.Error().Err(err).Str("subject", subject).Msg("NATS publish failed")
	}
}

// Unsubscribe removes a subscriber. The last local subscriber for a type
// also drops the matching NATS subject.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	subs := nb.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	nb.subs[eventType] = subs
	close(sub)

	if len(nb.subs[eventType]) == 0 {
		if remote, exists := nb.remotes[eventType]; exists {
			if err := remote.Unsubscribe(); err != nil {
				nb.logger.Debug().Err(err).Str("event_type", string(eventType)).Msg("NATS unsubscribe failed")
			}
			delete(nb.remotes, eventType)
		}
	}
}

// Close drains the NATS connection. Local subscriber channels stay open;
// owners close them through Unsubscribe.
func (nb *NATSBus) Close() error {
	nb.mu.Lock()
	for eventType, remote := range nb.remotes {
		_ = remote.Unsubscribe()
		delete(nb.remotes, eventType)
	}
	conn := nb.conn
	nb.conn = nil
	nb.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := conn.Drain(); err != nil {
		conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// marshalNATSMessage converts payload to NATS message format.
func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
		MessageID: uuid.New().String(),
	}
	return json.Marshal(msg)
}

// unmarshalNATSMessage parses a NATS message.
func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "hermod"
	}
	return fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
}
