package output

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"invoker/internal/config"
	"invoker/pkg/models"

	"github.com/sirupsen/logrus"
)

// 输出格式
const (
	FormatJSON  = "json"
	FormatKafka = "kafka"
	FormatNone  = "none"
)

// Publisher 调用事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event *models.InvocationEvent) error
	Close() error
}

// NewPublisher 按配置创建发布器
func NewPublisher(outputConfig *config.OutputConfig, logger *logrus.Logger) (Publisher, error) {
	if outputConfig == nil {
		return NoopPublisher{}, nil
	}

	switch outputConfig.Format {
	case FormatKafka:
		if outputConfig.Kafka == nil {
			return nil, fmt.Errorf("kafka 输出缺少配置")
		}
		topic := outputConfig.Kafka.Topics[config.TopicInvocations]
		if topic == "" {
			topic = "contract_invocations"
		}
		return NewKafkaPublisher(outputConfig.Kafka.Brokers, topic, logger)
	case FormatJSON, "":
		return NewFilePublisher(outputConfig.Directory, logger)
	case FormatNone:
		return NoopPublisher{}, nil
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", outputConfig.Format)
	}
}

// FilePublisher 以 JSON Lines 写入本地文件
type FilePublisher struct {
	mu     sync.Mutex
	file   *os.File
	logger *logrus.Logger
}

// NewFilePublisher 在输出目录下创建带时间戳的事件文件
func NewFilePublisher(outputPath string, logger *logrus.Logger) (*FilePublisher, error) {
	if outputPath == "" {
		outputPath = "./outputs"
	}
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	path := filepath.Join(outputPath, fmt.Sprintf("invocations_%s.json", timestamp))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("创建事件文件失败: %w", err)
	}

	logger.Infof("事件输出文件: %s", path)
	return &FilePublisher{file: file, logger: logger}, nil
}

// Publish 写入一行事件
func (o *FilePublisher) Publish(ctx context.Context, event *models.InvocationEvent) error {
	if event == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	data = append(data, '\n')

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return fmt.Errorf("事件文件已关闭")
	}
	if _, err := o.file.Write(data); err != nil {
		return fmt.Errorf("写入事件文件失败: %w", err)
	}
	// 强制刷新到磁盘
	if err := o.file.Sync(); err != nil {
		return fmt.Errorf("刷新事件文件失败: %w", err)
	}
	return nil
}

// Path 事件文件路径
func (o *FilePublisher) Path() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.file == nil {
		return ""
	}
	return o.file.Name()
}

// Close 关闭文件
func (o *FilePublisher) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.file == nil {
		return nil
	}
	err := o.file.Close()
	o.file = nil
	if err != nil {
		return fmt.Errorf("关闭事件文件失败: %w", err)
	}
	return nil
}

// NoopPublisher 丢弃所有事件
type NoopPublisher struct{}

// Publish 不做任何事
func (NoopPublisher) Publish(context.Context, *models.InvocationEvent) error { return nil }

// Close 不做任何事
func (NoopPublisher) Close() error { return nil }
