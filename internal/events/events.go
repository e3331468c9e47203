// Package events publishes task progress to NATS.
//
// Snapshots are published to subjects of the form:
//
//	{prefix}.{task_id}.progress
//	{prefix}.{task_id}.completed
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/excelmind/internal/config"
)

// DefaultSubjectPrefix is used when no prefix is configured.
const DefaultSubjectPrefix = "excelmind.tasks"

// Kind is the last subject token.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindCompleted Kind = "completed"
)

// Publisher sends task events. Implementations must be safe for concurrent
// use.
type Publisher interface {
	Publish(ctx context.Context, taskID string, kind Kind, payload any) error
	Close() error
}

// Subject returns the subject for one task event.
func Subject(prefix, taskID string, kind Kind) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return fmt.Sprintf("%s.%s.%s", prefix, taskID, kind)
}

// NATS publishes over a NATS connection.
type NATS struct {
	nc     *nats.Conn
	prefix string
	owned  bool
	logger *zap.Logger
}

// NewNATS wraps an existing connection. Close does not close nc.
func NewNATS(nc *nats.Conn, prefix string, logger *zap.Logger) *NATS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATS{nc: nc, prefix: prefix, logger: logger}
}

// Connect dials url and returns a publisher that owns the connection.
func Connect(url, prefix string, logger *zap.Logger) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.Name("excelmind"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	p := NewNATS(nc, prefix, logger)
	p.owned = true
	return p, nil
}

// Publish marshals payload to JSON and publishes it.
func (p *NATS) Publish(ctx context.Context, taskID string, kind Kind, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", kind, err)
	}
	subject := Subject(p.prefix, taskID, kind)
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s event: %w", kind, err)
	}
	p.logger.Debug("published task event", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}

// Close drains the connection if the publisher owns it.
func (p *NATS) Close() error {
	if !p.owned {
		return nil
	}
	return p.nc.Drain()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, Kind, any) error { return nil }
func (Nop) Close() error                                      { return nil }

// FromSettings connects when events are enabled and returns Nop otherwise.
func FromSettings(cfg config.EventsConfig, logger *zap.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	return Connect(cfg.URL, cfg.SubjectPrefix, logger)
}

var (
	_ Publisher = (*NATS)(nil)
	_ Publisher = Nop{}
)
