// Package eventbus re-publishes model diffs onto an AMQP exchange so
// external web/API consumers can subscribe to changes without polling
// Controller.GetModelFiles. It implements model.Listener, so it plugs into
// the same in-process fan-out as any other listener (spec.md §4.1) — it's
// just another way for a client to observe the model.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tidalsync/tidalsync/internal/slogutil"
	"github.com/tidalsync/tidalsync/lib/model"
)

// Publisher publishes one JSON message per model change to a fanout
// exchange.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      interface {
		Warn(msg string, args ...any)
	}
}

// Dial connects to the AMQP broker at url and declares exchange as a
// fanout exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, channel: ch, exchange: exchange, log: slogutil.For("eventbus")}, nil
}

// event is the wire shape published for every change.
type event struct {
	Change string          `json:"change"`
	Old    *model.ModelFile `json:"old,omitempty"`
	New    *model.ModelFile `json:"new,omitempty"`
}

// FileAdded implements model.Listener.
func (p *Publisher) FileAdded(f *model.ModelFile) { p.publish(event{Change: "added", New: f}) }

// FileRemoved implements model.Listener.
func (p *Publisher) FileRemoved(f *model.ModelFile) { p.publish(event{Change: "removed", Old: f}) }

// FileUpdated implements model.Listener.
func (p *Publisher) FileUpdated(old, new *model.ModelFile) {
	p.publish(event{Change: "updated", Old: old, New: new})
}

func (p *Publisher) publish(e event) {
	body, err := json.Marshal(e)
	if err != nil {
		p.log.Warn("failed to marshal model event", slogutil.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = p.channel.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		// Listeners must not block the reconciliation loop (spec.md §4.1);
		// a publish failure is logged and dropped rather than retried here.
		p.log.Warn("failed to publish model event", slogutil.Error(err))
	}
}

// Close tears down the channel and connection.
func (p *Publisher) Close() error {
	_ = p.channel.Close()
	return p.conn.Close()
}
