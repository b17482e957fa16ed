// Package relay publishes persisted chat events to NATS for consumers outside
// the chat process, such as search indexing or push notifications.
package relay

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"github.com/Tyrowin/gochat/internal/chat"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// Event is the body published for every relayed chat event.
type Event struct {
	Event string          `json:"event"`
	Room  string          `json:"room"`
	Data  json.RawMessage `json:"data"`
	At    time.Time       `json:"at"`
}

// NATS implements chat.Relay on a core NATS connection.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

var _ chat.Relay = (*NATS)(nil)

// Connect dials the NATS server. The connection reconnects forever.
func Connect(cfg Config) (*NATS, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay: nats url missing")
	}
	if cfg.Name == "" {
		cfg.Name = "gochat"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "chat"
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "relay: connect %s", cfg.URL)
	}
	return &NATS{nc: nc, prefix: cfg.SubjectPrefix}, nil
}

// Subject returns the subject events for room and event are published on.
func (r *NATS) Subject(room, event string) string {
	return r.prefix + "." + token(room) + "." + token(event)
}

// Publish implements chat.Relay.
func (r *NATS) Publish(ctx context.Context, room, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "relay: encode payload")
	}
	body, err := json.Marshal(Event{Event: event, Room: room, Data: data, At: time.Now().UTC()})
	if err != nil {
		return errors.Wrap(err, "relay: encode event")
	}
	return errors.Wrap(r.nc.Publish(r.Subject(room, event), body), "relay: publish")
}

// Subscribe delivers every relayed event whose subject matches pattern, for
// example "chat.general.*" or "chat.>".
func (r *NATS) Subscribe(pattern string, fn func(Event)) (*nats.Subscription, error) {
	sub, err := r.nc.Subscribe(pattern, func(m *nats.Msg) {
		var ev Event
		if json.Unmarshal(m.Data, &ev) == nil {
			fn(ev)
		}
	})
	return sub, errors.Wrapf(err, "relay: subscribe %s", pattern)
}

// Flush waits until the server has processed everything published so far.
func (r *NATS) Flush() error {
	return r.nc.Flush()
}

// Close drains the connection.
func (r *NATS) Close() error {
	return r.nc.Drain()
}

var subjectEscaper = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_")

func token(s string) string {
	if s == "" {
		return "_"
	}
	return subjectEscaper.Replace(s)
}
