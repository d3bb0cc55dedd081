package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	effectsExchange   = "sraws.effects"
	effectsQueue      = "sraws.effects"
	effectsRoutingKey = "effect"
)

type effectMessage struct {
	EffectID string `json:"effectId"`
	Kind     string `json:"kind"`
}

// AMQPBus carries claimed effect ids over RabbitMQ so any instance can process them.
type AMQPBus struct {
	conn      *amqp.Connection
	publishCh *amqp.Channel
	consumeCh *amqp.Channel
	log       *zap.Logger
}

// DialAMQP connects and declares the effects exchange and queue.
func DialAMQP(url string, log *zap.Logger) (*AMQPBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	bus := &AMQPBus{conn: conn, log: log}

	if bus.publishCh, err = conn.Channel(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if bus.consumeCh, err = conn.Channel(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}

	if err := bus.publishCh.ExchangeDeclare(effectsExchange, "direct", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := bus.publishCh.QueueDeclare(effectsQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	if err := bus.publishCh.QueueBind(effectsQueue, effectsRoutingKey, effectsExchange, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}
	if err := bus.consumeCh.Qos(16, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return bus, nil
}

func encodeEffect(effect *models.Effect) ([]byte, error) {
	return json.Marshal(effectMessage{EffectID: effect.ID.Hex(), Kind: effect.Kind})
}

func decodeEffectID(body []byte) (primitive.ObjectID, error) {
	var msg effectMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return primitive.NilObjectID, err
	}
	return repositories.ParseID(msg.EffectID)
}

func (b *AMQPBus) Publish(ctx context.Context, effect *models.Effect) error {
	body, err := encodeEffect(effect)
	if err != nil {
		return err
	}
	return b.publishCh.PublishWithContext(ctx, effectsExchange, effectsRoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Consume hands every delivered effect id to handle until ctx is cancelled. Messages are always
// acked: a failed effect is retried by the relay from its outbox state, not by redelivery.
func (b *AMQPBus) Consume(ctx context.Context, handle func(ctx context.Context, id primitive.ObjectID) error) error {
	msgs, err := b.consumeCh.Consume(effectsQueue, "sraws-effects-"+uuid.NewString()[:8], false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		b.log.Info("effect consumer started")
		for {
			select {
			case <-ctx.Done():
				b.log.Info("effect consumer stopped")
				return
			case msg, ok := <-msgs:
				if !ok {
					b.log.Warn("effect queue closed")
					return
				}
				b.handleDelivery(ctx, msg, handle)
			}
		}
	}()
	return nil
}

func (b *AMQPBus) handleDelivery(ctx context.Context, msg amqp.Delivery, handle func(ctx context.Context, id primitive.ObjectID) error) {
	defer func() {
		if err := msg.Ack(false); err != nil {
			b.log.Warn("ack effect message failed", zap.Error(err))
		}
	}()

	id, err := decodeEffectID(msg.Body)
	if err != nil {
		b.log.Error("malformed effect message", zap.String("messageId", msg.MessageId), zap.Error(err))
		return
	}
	if err := handle(ctx, id); err != nil {
		b.log.Error("effect handling failed", zap.String("effectId", id.Hex()), zap.Error(err))
	}
}

func (b *AMQPBus) Close() error {
	return b.conn.Close()
}
