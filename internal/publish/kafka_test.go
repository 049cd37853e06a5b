package publish

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bc-pathway-engine/internal/domain"
	"github.com/bc-pathway-engine/internal/service"
)

type mockWriter struct {
	mock.Mock
	batches [][]kafka.Message
}

func (m *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.batches = append(m.batches, msgs)
	args := m.Called(len(msgs))
	return args.Error(0)
}

func (m *mockWriter) Close() error {
	return m.Called().Error(0)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testResult(n int) *service.Result {
	res := &service.Result{
		RunID:    "run-42",
		Range:    domain.DateRange{Start: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2020, 12, 31, 0, 0, 0, 0, time.UTC)},
		Failures: map[string]error{"RT": errors.New("timeout"), "CT": errors.New("timeout")},
	}
	for i := 0; i < n; i++ {
		key := domain.PatientKey{PatientID: string(rune('A' + i)), SecondaryID: "N", Rank: 1}
		res.Rows = append(res.Rows, domain.NewUnknownCharacterization(key))
	}
	return res
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.Anything).Return(nil)
	p := newKafkaPublisher(w, "bc-pathway.characterizations", 2, quietLogger())

	err := p.Publish(context.Background(), testResult(3))

	require.NoError(t, err)
	require.Len(t, w.batches, 2, "three rows and the completion event in batches of two")

	var msgs []kafka.Message
	for _, b := range w.batches {
		msgs = append(msgs, b...)
	}
	require.Len(t, msgs, 4)

	first := msgs[0]
	assert.Equal(t, "A/N/1", string(first.Key))
	assert.Equal(t, EventRowCharacterized, header(first, "event-type"))
	assert.Equal(t, "run-42", header(first, "run-id"))

	var event Event
	require.NoError(t, json.Unmarshal(first.Value, &event))
	assert.Equal(t, "run-42", event.RunID)
	require.NotNil(t, event.Row)
	assert.Equal(t, "A", event.Row.Key.PatientID)
	assert.Equal(t, domain.PathwayUnknown, event.Row.Pathway)

	last := msgs[3]
	assert.Equal(t, "run-42", string(last.Key))
	assert.Equal(t, EventRunCompleted, header(last, "event-type"))
	require.NoError(t, json.Unmarshal(last.Value, &event))
	assert.Equal(t, 3, event.Rows)
	assert.Equal(t, []string{"CT", "RT"}, event.Failures)
	assert.Nil(t, event.Row)
}

func TestKafkaPublisher_WriteFailure(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.Anything).Return(errors.New("broker down")).Once()
	p := newKafkaPublisher(w, "topic", 10, quietLogger())

	err := p.Publish(context.Background(), testResult(1))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "run-42")
	assert.Contains(t, err.Error(), "broker down")
	w.AssertNumberOfCalls(t, "WriteMessages", 1)
}

func TestKafkaPublisher_Close(t *testing.T) {
	w := &mockWriter{}
	w.On("Close").Return(nil)
	p := newKafkaPublisher(w, "topic", 0, quietLogger())

	assert.NoError(t, p.Close())
	assert.Equal(t, 100, p.batchSize)
	w.AssertExpectations(t)
}

func TestNew(t *testing.T) {
	p, err := New(domain.KafkaConfig{Topic: "t"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, NoopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), testResult(1)))

	p, err = New(domain.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &KafkaPublisher{}, p)
	assert.NoError(t, p.Close())

	_, err = NewKafkaPublisher(domain.KafkaConfig{}, quietLogger())
	assert.Error(t, err)
}
