package config

import (
	"fmt"
	"strings"
	"time"

	"invoker/internal/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，如 INVOKER_REGISTRY_DSN 覆盖 registry.dsn
const EnvPrefix = "INVOKER"

// Config 主配置
type Config struct {
	Nodes    []*NodeConfig      `mapstructure:"nodes"`
	Handler  *HandlerConfig     `mapstructure:"handler"`
	Registry *RegistryConfig    `mapstructure:"registry"`
	Journal  *JournalConfig     `mapstructure:"journal"`
	Output   *OutputConfig      `mapstructure:"output"`
	Decoder  *DecoderConfig     `mapstructure:"decoder"`
	Logging  *logging.LogConfig `mapstructure:"logging"`
	API      *APIConfig         `mapstructure:"api"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Type      string `mapstructure:"type"`
	RateLimit int    `mapstructure:"rate_limit"`
	Priority  int    `mapstructure:"priority"`
}

// HandlerConfig RPC处理器配置
type HandlerConfig struct {
	ChainID     int64  `mapstructure:"chain_id"`     // 0 表示从节点获取
	PrivateKey  string `mapstructure:"private_key"`  // 为空时交给节点签名 (eth_sendTransaction)
	From        string `mapstructure:"from"`         // 默认发送地址
	Timeout     string `mapstructure:"timeout"`      // 单次请求超时
	MaxAttempts int    `mapstructure:"max_attempts"` // 网络请求最大尝试次数
}

// ContractConfig 配置文件中声明的合约
type ContractConfig struct {
	Name         string `mapstructure:"name"`
	Address      string `mapstructure:"address"`
	ABIPath      string `mapstructure:"abi_path"`
	BytecodePath string `mapstructure:"bytecode_path"`
}

// RegistryConfig 合约注册表配置
type RegistryConfig struct {
	DSN       string            `mapstructure:"dsn"` // 设置后从 Postgres 加载合约
	Contracts []*ContractConfig `mapstructure:"contracts"`
}

// JournalConfig 交易日志配置
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 事件输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // json, kafka, none
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// DecoderConfig 解码器配置
type DecoderConfig struct {
	FourByteAPIURL string `mapstructure:"fourbyte_api_url"`
	APITimeout     string `mapstructure:"api_timeout"`
	EnableCache    bool   `mapstructure:"enable_cache"`
	CacheSize      int    `mapstructure:"cache_size"`
	EnableAPI      bool   `mapstructure:"enable_api"`
}

// APIConfig HTTP服务配置
type APIConfig struct {
	Port        int    `mapstructure:"port"`
	Mode        string `mapstructure:"mode"` // gin 运行模式
	LogCapacity int    `mapstructure:"log_capacity"`
}

// 事件主题键
const TopicInvocations = "invocations"

// LoadConfig 加载配置：YAML 文件 + INVOKER_ 环境变量，设置了 registry.dsn 时
// 用数据库中启用的节点覆盖文件中的节点
func LoadConfig(configPath string, logger *logrus.Logger) (*Config, error) {
	config, err := LoadConfigFromFile(configPath)
	if err != nil {
		return nil, err
	}

	if config.Registry == nil || config.Registry.DSN == "" {
		return config, nil
	}

	dbConfig, err := NewDatabaseConfig(config.Registry.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	defer dbConfig.Close()

	nodes, err := dbConfig.LoadNodes()
	if err != nil {
		return nil, fmt.Errorf("从数据库加载节点失败: %w", err)
	}
	if len(nodes) > 0 {
		config.Nodes = nodes
		logger.Infof("已从数据库加载 %d 个节点", len(nodes))
	}

	return config, nil
}

// LoadConfigFromFile 从文件加载配置，未出现的字段使用默认值
func LoadConfigFromFile(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// newViper 绑定环境变量，嵌套键中的 . 对应 _
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv 只对已知键生效，这里登记需要环境变量覆盖的键
	for _, key := range []string{
		"registry.dsn",
		"handler.private_key",
		"handler.from",
		"handler.chain_id",
		"journal.path",
		"output.format",
		"api.port",
		"logging.level",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Nodes: []*NodeConfig{
			{
				Name:      "local_node",
				URL:       "http://127.0.0.1:8545",
				Type:      "local",
				RateLimit: 1000,
				Priority:  1,
			},
		},
		Handler: &HandlerConfig{
			Timeout:     "30s",
			MaxAttempts: 3,
		},
		Registry: &RegistryConfig{},
		Journal: &JournalConfig{
			Enabled: true,
			Path:    "./data/journal.db",
		},
		Output: &OutputConfig{
			Format:    "json",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					TopicInvocations: "contract_invocations",
				},
			},
		},
		Decoder: &DecoderConfig{
			FourByteAPIURL: "https://www.4byte.directory/api/v1/signatures/",
			APITimeout:     "5s",
			EnableCache:    true,
			CacheSize:      10000,
			EnableAPI:      true,
		},
		Logging: &logging.LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			Rotation:   false,
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 3,
			Compress:   true,
		},
		API: &APIConfig{
			Port:        8080,
			Mode:        "release",
			LogCapacity: 1000,
		},
	}
}

// ValidateConfig 校验配置
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("配置为空")
	}
	if len(config.Nodes) == 0 {
		return fmt.Errorf("至少需要配置一个节点")
	}
	for i, node := range config.Nodes {
		if err := validateNodeConfig(node); err != nil {
			return fmt.Errorf("节点 %d 配置无效: %w", i, err)
		}
	}
	if err := validateHandlerConfig(config.Handler); err != nil {
		return err
	}
	if err := validateOutputConfig(config.Output); err != nil {
		return err
	}
	if err := validateDecoderConfig(config.Decoder); err != nil {
		return err
	}
	if config.Journal != nil && config.Journal.Enabled && config.Journal.Path == "" {
		return fmt.Errorf("启用交易日志时必须指定路径")
	}
	return nil
}

func validateNodeConfig(node *NodeConfig) error {
	if node == nil {
		return fmt.Errorf("节点为空")
	}
	if node.Name == "" || node.URL == "" {
		return fmt.Errorf("节点名称和URL不能为空")
	}
	if node.RateLimit < 0 {
		return fmt.Errorf("rate_limit 不能为负数")
	}
	return nil
}

func validateHandlerConfig(config *HandlerConfig) error {
	if config == nil {
		return fmt.Errorf("缺少 handler 配置")
	}
	if _, err := time.ParseDuration(config.Timeout); err != nil {
		return fmt.Errorf("无效的 handler.timeout: %w", err)
	}
	if config.MaxAttempts < 1 {
		return fmt.Errorf("handler.max_attempts 至少为 1")
	}
	if config.ChainID < 0 {
		return fmt.Errorf("handler.chain_id 不能为负数")
	}
	return nil
}

func validateKafkaConfig(config *KafkaConfig) error {
	if config == nil {
		return fmt.Errorf("缺少 kafka 配置")
	}
	if len(config.Brokers) == 0 {
		return fmt.Errorf("kafka brokers 不能为空")
	}
	for _, broker := range config.Brokers {
		if !strings.Contains(broker, ":") {
			return fmt.Errorf("无效的 kafka broker: %s", broker)
		}
	}
	if config.Topics[TopicInvocations] == "" {
		return fmt.Errorf("缺少 kafka 主题: %s", TopicInvocations)
	}
	return nil
}

func validateOutputConfig(config *OutputConfig) error {
	if config == nil {
		return fmt.Errorf("缺少 output 配置")
	}
	switch config.Format {
	case "none":
		return nil
	case "json":
		if config.Directory == "" {
			return fmt.Errorf("json 输出需要指定目录")
		}
		return nil
	case "kafka":
		return validateKafkaConfig(config.Kafka)
	default:
		return fmt.Errorf("不支持的输出格式: %s", config.Format)
	}
}

func validateDecoderConfig(config *DecoderConfig) error {
	if config == nil {
		return nil
	}
	if config.EnableAPI && !strings.HasPrefix(config.FourByteAPIURL, "http") {
		return fmt.Errorf("无效的 4byte API 地址: %s", config.FourByteAPIURL)
	}
	if _, err := time.ParseDuration(config.APITimeout); err != nil {
		return fmt.Errorf("无效的 decoder.api_timeout: %w", err)
	}
	if config.CacheSize < 0 {
		return fmt.Errorf("decoder.cache_size 不能为负数")
	}
	return nil
}
