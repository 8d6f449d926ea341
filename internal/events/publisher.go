// Package events publishes turn-completed notifications to an AMQP broker so
// external graders or analytics pipelines can follow classroom activity. The
// publish is strictly best-effort: a broker outage never fails a turn.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// TurnEvent describes one completed user/assistant exchange.
type TurnEvent struct {
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	AssignmentID   string    `json:"assignmentId,omitempty"`
	Model          string    `json:"model"`
	UserSeq        int       `json:"userSeq"`
	AssistantSeq   int       `json:"assistantSeq"`
	Attachments    int       `json:"attachments"`
	CompletedAt    time.Time `json:"completedAt"`
}

// Publisher is the sink for turn events. A nil *TurnPublisher is valid and
// drops everything, so callers never need to branch on configuration.
type Publisher interface {
	PublishTurn(ctx context.Context, ev TurnEvent)
}

const defaultExchange = "classchat.turns"

// TurnPublisher publishes turn events to a fanout exchange. The connection is
// dialed lazily and re-dialed after failures.
type TurnPublisher struct {
	url      string
	exchange string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewTurnPublisher validates the broker URL; it does not dial yet, so startup
// succeeds even while the broker is down.
func NewTurnPublisher(url, exchange string, logger *slog.Logger) (*TurnPublisher, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	if exchange == "" {
		exchange = defaultExchange
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnPublisher{url: url, exchange: exchange, logger: logger}, nil
}

// PublishTurn sends the event, logging and dropping it on any failure.
func (p *TurnPublisher) PublishTurn(ctx context.Context, ev TurnEvent) {
	if p == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("encode turn event", "error", err)
		return
	}
	if err := p.publish(ctx, body); err != nil {
		p.logger.Warn("publish turn event",
			"error", err,
			"conversationId", ev.ConversationID,
		)
	}
}

func (p *TurnPublisher) publish(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now().UTC(),
		Body:        body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// channel returns the open channel, dialing and declaring the exchange when
// needed. Caller holds p.mu.
func (p *TurnPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	p.conn = conn
	p.ch = ch
	return ch, nil
}

// reset drops the cached connection. Caller holds p.mu.
func (p *TurnPublisher) reset() {
	if p.ch != nil {
		p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// Close shuts the broker connection down.
func (p *TurnPublisher) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
}
