package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序
const (
	OrderStopAPI          = 10 // 停止接受新请求
	OrderDrainInvocations = 20 // 等待进行中的调用和交易发送
	OrderClosePublisher   = 30 // 关闭事件发布器
	OrderCloseJournal     = 40 // 关闭交易日志
	OrderCloseConnections = 50 // 关闭节点连接
	OrderCloseRegistry    = 60 // 关闭注册表数据库
	OrderCleanupResources = 70 // 其他资源
)

// GracefulShutdown 优雅停机管理器
type GracefulShutdown struct {
	logger         *logrus.Logger
	timeout        time.Duration
	shutdownFuncs  []ShutdownFunc
	mu             sync.Mutex
	signalChan     chan os.Signal
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	inflight       sync.WaitGroup
	isShuttingDown bool
	done           chan struct{}
	err            error
}

// ShutdownFunc 停机处理函数
type ShutdownFunc struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int // 执行顺序，数字越小越早执行
}

// NewGracefulShutdown 创建优雅停机管理器，监听 SIGINT/SIGTERM/SIGQUIT
func NewGracefulShutdown(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	gs := newManager(timeout, logger)
	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	return gs
}

// NewManual 创建不监听信号的停机管理器，只能通过 Shutdown 触发
func NewManual(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	return newManager(timeout, logger)
}

func newManager(timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	gs := &GracefulShutdown{
		logger:        logger,
		timeout:       timeout,
		shutdownFuncs: make([]ShutdownFunc, 0),
		signalChan:    make(chan os.Signal, 1),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	gs.RegisterShutdownFunc("drain_invocations", gs.drain, OrderDrainInvocations)
	return gs
}

// RegisterShutdownFunc 注册停机处理函数
func (gs *GracefulShutdown) RegisterShutdownFunc(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.shutdownFuncs = append(gs.shutdownFuncs, ShutdownFunc{
		Name:  name,
		Func:  fn,
		Order: order,
	})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Track 登记一个进行中的操作，返回的函数在操作结束时调用。停机开始后拒绝登记
func (gs *GracefulShutdown) Track() (func(), bool) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.isShuttingDown {
		return func() {}, false
	}
	gs.inflight.Add(1)
	var once sync.Once
	return func() { once.Do(gs.inflight.Done) }, true
}

// drain 等待进行中的操作结束或超时
func (gs *GracefulShutdown) drain(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		gs.inflight.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待进行中的调用超时: %w", ctx.Err())
	}
}

// Start 启动信号监听
func (gs *GracefulShutdown) Start() {
	gs.wg.Add(1)
	go gs.signalHandler()
	gs.logger.Info("优雅停机管理器已启动，监听信号: SIGINT, SIGTERM, SIGQUIT")
}

// Wait 等待信号监听退出
func (gs *GracefulShutdown) Wait() {
	gs.wg.Wait()
}

// Done 停机完成后关闭
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Context 停机开始时取消的上下文
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Shutdown 手动触发停机，重复调用返回第一次的结果
func (gs *GracefulShutdown) Shutdown() error {
	if !gs.begin() {
		<-gs.done
		return gs.err
	}
	gs.logger.Info("手动触发优雅停机...")
	return gs.performShutdown()
}

func (gs *GracefulShutdown) begin() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if gs.isShuttingDown {
		return false
	}
	gs.isShuttingDown = true
	return true
}

// signalHandler 信号处理器
func (gs *GracefulShutdown) signalHandler() {
	defer gs.wg.Done()

	select {
	case sig, ok := <-gs.signalChan:
		if !ok {
			return
		}
		gs.logger.Infof("收到停机信号: %v", sig)
	case <-gs.done:
		return
	}

	if !gs.begin() {
		gs.logger.Warn("停机过程已在进行中，忽略信号")
		return
	}
	gs.performShutdown()
}

// performShutdown 按顺序执行停机函数
func (gs *GracefulShutdown) performShutdown() error {
	defer close(gs.done)
	gs.logger.Info("开始优雅停机流程...")

	// 先通知依赖上下文的后台任务停止
	gs.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gs.timeout)
	defer shutdownCancel()

	gs.mu.Lock()
	funcs := make([]ShutdownFunc, len(gs.shutdownFuncs))
	copy(funcs, gs.shutdownFuncs)
	gs.mu.Unlock()
	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Order < funcs[j].Order })

	var shutdownErrors []error
	for _, shutdownFunc := range funcs {
		if shutdownCtx.Err() != nil {
			gs.logger.Warnf("停机超时，跳过: %s", shutdownFunc.Name)
			shutdownErrors = append(shutdownErrors, fmt.Errorf("%s: %w", shutdownFunc.Name, shutdownCtx.Err()))
			continue
		}

		start := time.Now()
		err := shutdownFunc.Func(shutdownCtx)
		duration := time.Since(start)

		if err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", shutdownFunc.Name, duration, err)
			shutdownErrors = append(shutdownErrors, fmt.Errorf("%s: %w", shutdownFunc.Name, err))
		} else {
			gs.logger.Debugf("停机处理 '%s' 完成 (耗时: %v)", shutdownFunc.Name, duration)
		}
	}

	gs.err = errors.Join(shutdownErrors...)
	if gs.err != nil {
		gs.logger.Errorf("停机过程中发生 %d 个错误", len(shutdownErrors))
	}
	gs.logger.Info("优雅停机流程完成")
	return gs.err
}

// IsShuttingDown 检查是否正在停机
func (gs *GracefulShutdown) IsShuttingDown() bool {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.isShuttingDown
}

// GetTimeout 获取停机超时时间
func (gs *GracefulShutdown) GetTimeout() time.Duration {
	return gs.timeout
}

// SetTimeout 设置停机超时时间
func (gs *GracefulShutdown) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		gs.timeout = timeout
		gs.logger.Debugf("停机超时时间设置为: %v", timeout)
	}
}

// GetRegisteredFunctions 按执行顺序列出已注册的停机函数
func (gs *GracefulShutdown) GetRegisteredFunctions() []string {
	gs.mu.Lock()
	funcs := make([]ShutdownFunc, len(gs.shutdownFuncs))
	copy(funcs, gs.shutdownFuncs)
	gs.mu.Unlock()

	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Order < funcs[j].Order })
	names := make([]string, len(funcs))
	for i, fn := range funcs {
		names[i] = fn.Name
	}
	return names
}

// Close 停止监听信号并执行停机
func (gs *GracefulShutdown) Close() error {
	signal.Stop(gs.signalChan)
	return gs.Shutdown()
}

// WaitForShutdown 等待停机信号并执行停机
func (gs *GracefulShutdown) WaitForShutdown() {
	gs.Start()
	gs.Wait()
}
