package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"invoker/internal/config"
	"invoker/internal/connection"
	"invoker/internal/contract"
	"invoker/internal/decoder"
	"invoker/internal/errors"
	"invoker/internal/handler"
	"invoker/internal/journal"
	"invoker/internal/output"
	"invoker/internal/registry"
	"invoker/internal/service"
	"invoker/internal/shutdown"
	"invoker/internal/validation"
)

// DefaultShutdownTimeout 默认停机超时
const DefaultShutdownTimeout = 30 * time.Second

// App 组装好的调用服务及其依赖
type App struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Registry  *registry.Registry
	Pool      *connection.ConnectionPool
	Handler   *handler.RPCHandler
	Journal   *journal.Journal // 未启用时为 nil
	Publisher output.Publisher
	Decoder   *decoder.Decoder
	Validator *validation.Validator
	Reporter  *errors.Reporter
	Service   *service.Service
	Shutdown  *shutdown.GracefulShutdown

	database *config.DatabaseConfig
}

type options struct {
	baseDir     string
	offline     bool
	listen      bool
	strict      bool
	timeout     time.Duration
	poolOptions []connection.Option
}

// Option 组装选项
type Option func(*options)

// WithBaseDir 合约 ABI/字节码相对路径的基准目录
func WithBaseDir(dir string) Option {
	return func(o *options) { o.baseDir = dir }
}

// Offline 不连接节点，用于编码、解码、查询注册表
func Offline() Option {
	return func(o *options) { o.offline = true }
}

// WithSignals 监听 SIGINT/SIGTERM 触发停机
func WithSignals() Option {
	return func(o *options) { o.listen = true }
}

// WithStrictValidation 告警也视为验证失败
func WithStrictValidation(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithShutdownTimeout 设置停机超时
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(o *options) { o.timeout = timeout }
}

// WithPoolOptions 传递连接池选项
func WithPoolOptions(opts ...connection.Option) Option {
	return func(o *options) { o.poolOptions = append(o.poolOptions, opts...) }
}

// New 按配置组装全部组件，失败时关闭已创建的资源
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts ...Option) (app *App, err error) {
	o := &options{timeout: DefaultShutdownTimeout}
	for _, opt := range opts {
		opt(o)
	}
	if cfg == nil {
		cfg = config.GetDefaultConfig()
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Reporter:  errors.NewReporter(logger),
		Validator: validation.NewValidator(logger, o.strict),
	}
	if o.listen {
		a.Shutdown = shutdown.NewGracefulShutdown(o.timeout, logger)
	} else {
		a.Shutdown = shutdown.NewManual(o.timeout, logger)
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	// 1. 合约注册表
	var store registry.ArtifactStore
	if cfg.Registry != nil && cfg.Registry.DSN != "" {
		a.database, err = config.NewDatabaseConfig(cfg.Registry.DSN, logger)
		if err != nil {
			return nil, err
		}
		store = a.database
	}
	a.Registry = registry.New(store, logger)
	if cfg.Registry != nil {
		if err = a.Registry.LoadFromConfig(cfg.Registry.Contracts, o.baseDir); err != nil {
			return nil, fmt.Errorf("加载合约失败: %w", err)
		}
	}
	if err = a.Registry.LoadFromStore(ctx); err != nil {
		return nil, fmt.Errorf("从数据库加载合约失败: %w", err)
	}

	// 2. 节点连接池和处理器
	a.Pool = connection.NewConnectionPool(cfg.Nodes, logger, o.poolOptions...)
	if !o.offline {
		if err = a.Pool.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("初始化连接池失败: %w", err)
		}
	}
	a.Handler, err = handler.NewRPCHandler(handler.NewPoolProvider(a.Pool), cfg.Handler, logger)
	if err != nil {
		return nil, err
	}

	// 3. 交易日志和事件发布
	if cfg.Journal != nil && cfg.Journal.Enabled {
		if a.Journal, err = journal.Open(cfg.Journal.Path, logger); err != nil {
			return nil, err
		}
	}
	if a.Publisher, err = output.NewPublisher(cfg.Output, logger); err != nil {
		return nil, fmt.Errorf("创建事件发布器失败: %w", err)
	}

	// 4. 解码器以注册表为首选来源
	a.Decoder = decoder.NewDecoder(logger, a.Registry, cfg.Decoder)

	a.Service = service.New(a.Registry, a.handlerFor, a.Validator, a.Reporter, logger)
	a.registerShutdownHandlers()

	logger.Infof("调用服务已就绪，已注册 %d 个合约", len(a.Registry.List()))
	return a, nil
}

// handlerFor 为目标地址创建带交易日志和事件发布的处理器
func (a *App) handlerFor(address *common.Address) contract.Handler {
	var inner contract.Handler = a.Handler
	if address != nil {
		inner = a.Handler.At(*address)
	}

	var recorder handler.Recorder
	if a.Journal != nil {
		recorder = a.Journal
	}
	return handler.NewObserved(inner, recorder, a.Publisher, a.Decoder, a.Logger)
}

// NodeStats 节点状态
func (a *App) NodeStats() map[string]interface{} {
	return a.Pool.GetStats()
}

// registerShutdownHandlers 按依赖顺序注册资源关闭
func (a *App) registerShutdownHandlers() {
	a.Shutdown.RegisterShutdownFunc("close_publisher", func(ctx context.Context) error {
		a.Logger.Info("关闭事件发布器...")
		return a.Publisher.Close()
	}, shutdown.OrderClosePublisher)

	if a.Journal != nil {
		a.Shutdown.RegisterShutdownFunc("close_journal", func(ctx context.Context) error {
			return a.Journal.Close()
		}, shutdown.OrderCloseJournal)
	}

	a.Shutdown.RegisterShutdownFunc("close_connections", func(ctx context.Context) error {
		return a.Pool.Close()
	}, shutdown.OrderCloseConnections)

	if a.database != nil {
		a.Shutdown.RegisterShutdownFunc("close_registry", func(ctx context.Context) error {
			return a.database.Close()
		}, shutdown.OrderCloseRegistry)
	}
}

// Start 启动停机信号监听
func (a *App) Start() {
	a.Shutdown.Start()
}

// Context 停机开始时取消的上下文
func (a *App) Context() context.Context {
	return a.Shutdown.Context()
}

// Close 停止信号监听并执行停机流程，可重复调用
func (a *App) Close() error {
	return a.Shutdown.Close()
}

// closeResources 组装失败时关闭已创建的资源
func (a *App) closeResources() {
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Errorf("关闭事件发布器失败: %v", err)
		}
	}
	if a.Journal != nil {
		if err := a.Journal.Close(); err != nil {
			a.Logger.Errorf("关闭交易日志失败: %v", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.database != nil {
		if err := a.database.Close(); err != nil {
			a.Logger.Errorf("关闭数据库失败: %v", err)
		}
	}
	a.Shutdown.Close()
}
