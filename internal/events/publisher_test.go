package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestNewPublisherWithoutBrokersIsNoop(t *testing.T) {
	assert.IsType(t, Noop{}, NewPublisher(nil, "nwp.runs"))
	assert.IsType(t, Noop{}, NewPublisher([]string{"localhost:9092"}, ""))
	assert.IsType(t, &KafkaPublisher{}, NewPublisher([]string{"localhost:9092"}, "nwp.runs"))
}

func TestRunCompletedMessage(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{writer: w}
	runTS := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

	err := p.RunCompleted(context.Background(), RunCompleted{
		Model:        "RDPS",
		Projection:   "ps10km",
		RunID:        42,
		RunTimestamp: runTS,
		Files:        425,
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "42", string(msg.Key))

	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, RunCompletedType, headers["event_type"])
	assert.Equal(t, "RDPS", headers["model"])
	_, err = uuid.Parse(headers["event_id"])
	assert.NoError(t, err, "event id should be a uuid")

	var got RunCompleted
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, headers["event_id"], got.ID)
	assert.Equal(t, 425, got.Files)
	assert.True(t, got.RunTimestamp.Equal(runTS))
}

func TestRunCompletedWrapsWriterErrors(t *testing.T) {
	p := &KafkaPublisher{writer: &recordingWriter{err: errors.New("leader not available")}}
	err := p.RunCompleted(context.Background(), RunCompleted{Model: "GFS", RunID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish run completed")
}
