package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

const RunCompletedType = "model_run.completed"

// RunCompleted announces that every file of a model run is in the ledger
// and its station predictions can be processed.
type RunCompleted struct {
	ID           string    `json:"id"`
	Model        string    `json:"model"`
	Projection   string    `json:"projection"`
	RunID        int64     `json:"run_id"`
	RunTimestamp time.Time `json:"run_timestamp"`
	Files        int       `json:"files"`
	CompletedAt  time.Time `json:"completed_at"`
}

type Publisher interface {
	RunCompleted(ctx context.Context, e RunCompleted) error
	Close() error
}

// NewPublisher returns a Kafka publisher, or a noop when no brokers are
// configured.
func NewPublisher(brokers []string, topic string) Publisher {
	if len(brokers) == 0 || topic == "" {
		return Noop{}
	}
	return &KafkaPublisher{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}}
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer messageWriter
}

func (p *KafkaPublisher) RunCompleted(ctx context.Context, e RunCompleted) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	msg, err := runCompletedMessage(e)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish run completed: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func runCompletedMessage(e RunCompleted) (kafkago.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize run completed: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(strconv.FormatInt(e.RunID, 10)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(RunCompletedType)},
			{Key: "event_id", Value: []byte(e.ID)},
			{Key: "model", Value: []byte(e.Model)},
		},
	}, nil
}

type Noop struct{}

func (Noop) RunCompleted(context.Context, RunCompleted) error { return nil }
func (Noop) Close() error                                     { return nil }
