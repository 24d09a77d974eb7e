package output

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoker/internal/config"
	"invoker/pkg/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func sampleEvent(i int) *models.InvocationEvent {
	return &models.InvocationEvent{
		Hash:      fmt.Sprintf("0x%064x", i),
		Kind:      models.EventKindSend,
		Method:    "transfer(address,uint256)",
		To:        "0x0000000000000000000000000000000000abcdef",
		Data:      "0xa9059cbb",
		Type:      "dynamic_fee",
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}
}

func TestFilePublisher_WritesJSONLines(t *testing.T) {
	publisher, err := NewFilePublisher(t.TempDir(), quietLogger())
	require.NoError(t, err)

	require.NoError(t, publisher.Publish(context.Background(), sampleEvent(1)))
	require.NoError(t, publisher.Publish(context.Background(), sampleEvent(2)))
	require.NoError(t, publisher.Publish(context.Background(), nil))

	path := publisher.Path()
	require.NoError(t, publisher.Close())
	assert.Empty(t, publisher.Path())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var hashes []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event models.InvocationEvent
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		hashes = append(hashes, event.Hash)
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{sampleEvent(1).Hash, sampleEvent(2).Hash}, hashes)
}

func TestFilePublisher_PublishAfterClose(t *testing.T) {
	publisher, err := NewFilePublisher(t.TempDir(), quietLogger())
	require.NoError(t, err)
	require.NoError(t, publisher.Close())
	require.NoError(t, publisher.Close())

	assert.Error(t, publisher.Publish(context.Background(), sampleEvent(1)))
}

func TestKafkaPublisher_Publish(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var event models.InvocationEvent
		if err := json.Unmarshal(val, &event); err != nil {
			return err
		}
		if event.Method != "transfer(address,uint256)" {
			return fmt.Errorf("unexpected method %q", event.Method)
		}
		return nil
	})

	publisher := NewKafkaPublisherWithProducer(producer, "contract_invocations", quietLogger())
	assert.Equal(t, "contract_invocations", publisher.Topic())
	require.NoError(t, publisher.Publish(context.Background(), sampleEvent(1)))
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_PublishFailure(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	publisher := NewKafkaPublisherWithProducer(producer, "contract_invocations", quietLogger())
	err := publisher.Publish(context.Background(), sampleEvent(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisher_CanceledContext(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	publisher := NewKafkaPublisherWithProducer(producer, "contract_invocations", quietLogger())
	assert.ErrorIs(t, publisher.Publish(ctx, sampleEvent(1)), context.Canceled)
	require.NoError(t, publisher.Close())
}

func TestNewPublisher(t *testing.T) {
	publisher, err := NewPublisher(nil, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, NoopPublisher{}, publisher)

	publisher, err = NewPublisher(&config.OutputConfig{Format: FormatNone}, quietLogger())
	require.NoError(t, err)
	assert.NoError(t, publisher.Publish(context.Background(), sampleEvent(1)))

	publisher, err = NewPublisher(&config.OutputConfig{Format: FormatJSON, Directory: t.TempDir()}, quietLogger())
	require.NoError(t, err)
	assert.IsType(t, &FilePublisher{}, publisher)
	require.NoError(t, publisher.Close())

	_, err = NewPublisher(&config.OutputConfig{Format: FormatKafka}, quietLogger())
	assert.Error(t, err)

	_, err = NewPublisher(&config.OutputConfig{Format: "parquet"}, quietLogger())
	assert.Error(t, err)
}
