// Package events publishes search notifications on NATS.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/site-finder/internal/model"
)

// DefaultSubject is the subject search-completed events are published on.
const DefaultSubject = "sitefinder.search.completed"

// SearchCompleted is published after a search is persisted.
type SearchCompleted struct {
	SearchID   string    `json:"search_id"`
	Query      string    `json:"query"`
	TotalCount int       `json:"total_count"`
	TopScore   float64   `json:"top_score"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewSearchCompleted summarizes persisted results.
func NewSearchCompleted(r *model.SearchResults) SearchCompleted {
	return SearchCompleted{
		SearchID:   r.ID,
		Query:      r.Params.Query,
		TotalCount: r.TotalCount,
		TopScore:   r.TopScore(),
		Timestamp:  r.Timestamp,
	}
}

// Publisher sends search notifications.
type Publisher interface {
	PublishSearchCompleted(ctx context.Context, ev SearchCompleted) error
	Close() error
}

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSPublisher publishes JSON events on a NATS subject.
type NATSPublisher struct {
	conn    Conn
	subject string
}

// NewNATSPublisher wraps an established connection.
func NewNATSPublisher(conn Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// Connect dials NATS with reconnect handling and returns a publisher.
func Connect(url, subject string) (*NATSPublisher, error) {
	log := zap.L().With(zap.String("nats_url", url))
	nc, err := nats.Connect(url,
		nats.Name("site-finder"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("events: nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("events: nats reconnected", zap.String("server", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("events: nats connection closed")
		}),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "events: connect %s", url)
	}
	return NewNATSPublisher(nc, subject), nil
}

// PublishSearchCompleted encodes ev and publishes it, waiting for the server
// to acknowledge the flush.
func (p *NATSPublisher) PublishSearchCompleted(ctx context.Context, ev SearchCompleted) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal search completed")
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return eris.Wrapf(err, "events: publish %s", p.subject)
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return eris.Wrap(err, "events: flush")
	}
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return eris.Wrap(p.conn.Drain(), "events: drain")
}

// Noop discards events. It is used when no NATS URL is configured.
type Noop struct{}

// PublishSearchCompleted implements Publisher.
func (Noop) PublishSearchCompleted(context.Context, SearchCompleted) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }
