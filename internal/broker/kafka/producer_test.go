package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/BearBump/DispatchBox/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	last []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.last = append([]kafka.Message{}, msgs...)
	return w.err
}

func TestProducer_PublishOrderDispatched(t *testing.T) {
	fw := &fakeWriter{}
	p := newProducerWithWriter(fw)

	payload, err := json.Marshal(messages.OrderDispatched{
		OrderID:      101,
		CourierID:    1,
		TrackNumber:  "T-A",
		DispatchedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "order.dispatched", []byte("101"), payload))
	require.Len(t, fw.last, 1)
	require.Equal(t, "order.dispatched", fw.last[0].Topic)
	require.Equal(t, []byte("101"), fw.last[0].Key)

	var got messages.OrderDispatched
	require.NoError(t, json.Unmarshal(fw.last[0].Value, &got))
	require.Equal(t, uint64(101), got.OrderID)
	require.Equal(t, "T-A", got.TrackNumber)
}

func TestNewProducer(t *testing.T) {
	p := NewProducer([]string{"localhost:0"})
	require.NotNil(t, p)
}
