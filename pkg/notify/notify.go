// Package notify publishes storage events to interested subscribers.
//
// The server emits an event after every successful save so downstream
// consumers (dashboards, alerting, derived-candle workers) can react
// without polling the store.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/zeromicro/go-zero/core/logx"

	"mdstore/pkg/data"
)

// StoredEvent describes a completed save for one stream and date.
type StoredEvent struct {
	Security string    `msgpack:"security" json:"security"`
	DataType string    `msgpack:"dataType" json:"dataType"`
	Arg      string    `msgpack:"arg,omitempty" json:"arg,omitempty"`
	Date     string    `msgpack:"date" json:"date"`
	Count    int       `msgpack:"count" json:"count"`
	At       time.Time `msgpack:"at" json:"at"`
}

// Publisher delivers storage events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishStored(key data.StreamKey, date time.Time, count int) error
	Close()
}

// --- NATS ---

// NATSPublisher publishes events over a NATS connection.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// NewNATSPublisher connects to the given NATS URL. The subject prefix
// defaults to "mdstore" when empty.
func NewNATSPublisher(url, prefix string) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = "mdstore"
	}
	conn, err := nats.Connect(url,
		nats.Name("mdstore-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("notify: connect %s: %w", url, err)
	}
	return &NATSPublisher{conn: conn, prefix: prefix}, nil
}

// PublishStored emits a stored event on <prefix>.stored.<symbol>.<type>.
func (p *NATSPublisher) PublishStored(key data.StreamKey, date time.Time, count int) error {
	evt := StoredEvent{
		Security: key.Security.String(),
		DataType: key.Type.String(),
		Date:     date.UTC().Format("2006_01_02"),
		Count:    count,
		At:       time.Now().UTC(),
	}
	if key.Type.IsCandle() {
		evt.Arg = key.TypeArg().ArgString()
	}
	payload, err := msgpack.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: marshal stored event: %w", err)
	}
	subject := fmt.Sprintf("%s.stored.%s.%s",
		p.prefix, subjectToken(key.Security.Symbol), subjectToken(key.Type.String()))
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("notify: publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection so queued events flush before shutdown.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		logx.Errorf("notify: drain: %v", err)
	}
}

// subjectToken makes a value safe to embed in a NATS subject.
func subjectToken(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}

// --- Noop ---

// NoopPublisher discards all events. Used when notifications are not
// configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishStored(data.StreamKey, time.Time, int) error { return nil }
func (NoopPublisher) Close()                                            {}
