package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishUsesDefaultTopicAndEncodesJSON(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w, "events", "snappy")

	err := p.Publish(context.Background(), "", []byte("m1"), map[string]string{"type": "model.trained"}, map[string]string{"event": "model.trained"})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "events", msg.Topic)
	assert.Equal(t, []byte("m1"), msg.Key)
	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "model.trained", body["type"])
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event", msg.Headers[0].Key)
}

func TestPublishErrors(t *testing.T) {
	p := NewProducerWithWriter(&recordingWriter{}, "", "gzip")
	assert.Error(t, p.Publish(context.Background(), "", nil, "x", nil))

	boom := errors.New("broker down")
	p = NewProducerWithWriter(&recordingWriter{err: boom}, "t", "gzip")
	assert.ErrorIs(t, p.Publish(context.Background(), "", nil, []byte("x"), nil), boom)

	_, err := NewProducer()
	assert.Error(t, err)
}
