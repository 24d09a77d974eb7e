package connection

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"invoker/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DialFunc 建立节点连接
type DialFunc func(ctx context.Context, url string) (*ethclient.Client, error)

// ConnectionPool 以太坊节点池，按优先级选择健康节点
type ConnectionPool struct {
	nodes       []*Node
	logger      *logrus.Logger
	mu          sync.RWMutex
	dial        DialFunc
	healthCheck time.Duration
	maxFailures int
	cancel      context.CancelFunc
}

// Node 单个节点连接
type Node struct {
	config    *config.NodeConfig
	client    *ethclient.Client
	limiter   *rate.Limiter
	mu        sync.Mutex
	isHealthy bool
	failures  int
	lastCheck time.Time
	chainID   *big.Int
}

// Option 连接池选项
type Option func(*ConnectionPool)

// WithDialer 替换连接方式
func WithDialer(dial DialFunc) Option {
	return func(cp *ConnectionPool) { cp.dial = dial }
}

// WithHealthCheckInterval 设置健康检查间隔，<= 0 时不启动后台检查
func WithHealthCheckInterval(interval time.Duration) Option {
	return func(cp *ConnectionPool) { cp.healthCheck = interval }
}

// NewConnectionPool 创建连接池
func NewConnectionPool(nodes []*config.NodeConfig, logger *logrus.Logger, opts ...Option) *ConnectionPool {
	cp := &ConnectionPool{
		logger:      logger,
		dial:        ethclient.DialContext,
		healthCheck: 30 * time.Second,
		maxFailures: 3,
	}
	for _, opt := range opts {
		opt(cp)
	}

	sorted := make([]*config.NodeConfig, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	for _, nodeConfig := range sorted {
		limit := rate.Inf
		burst := 1
		if nodeConfig.RateLimit > 0 {
			limit = rate.Limit(nodeConfig.RateLimit)
			burst = nodeConfig.RateLimit
		}
		cp.nodes = append(cp.nodes, &Node{
			config:  nodeConfig,
			limiter: rate.NewLimiter(limit, burst),
		})
	}
	return cp
}

// Initialize 连接所有节点，至少一个成功即可
func (cp *ConnectionPool) Initialize(ctx context.Context) error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	connected := 0
	for _, node := range cp.nodes {
		if err := cp.connect(ctx, node); err != nil {
			cp.logger.Warnf("连接节点 %s 失败: %v", node.config.Name, err)
			continue
		}
		connected++
		cp.logger.Infof("节点 %s 已连接 (chain id: %s)", node.config.Name, node.chainID)
	}

	if connected == 0 {
		return fmt.Errorf("没有可用的节点")
	}

	if cp.healthCheck > 0 && cp.cancel == nil {
		checkCtx, cancel := context.WithCancel(context.Background())
		cp.cancel = cancel
		go cp.healthChecker(checkCtx)
	}
	return nil
}

// connect 建立连接并验证链ID
func (cp *ConnectionPool) connect(ctx context.Context, node *Node) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := cp.dial(dialCtx, node.config.URL)
	if err != nil {
		node.markUnhealthy()
		return fmt.Errorf("连接节点失败: %w", err)
	}

	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		node.markUnhealthy()
		return fmt.Errorf("测试连接失败: %w", err)
	}

	node.mu.Lock()
	if node.client != nil {
		node.client.Close()
	}
	node.client = client
	node.chainID = chainID
	node.isHealthy = true
	node.failures = 0
	node.lastCheck = time.Now()
	node.mu.Unlock()
	return nil
}

// Acquire 选择优先级最高的健康节点，并按其限速等待
func (cp *ConnectionPool) Acquire(ctx context.Context) (*Node, error) {
	cp.mu.RLock()
	var selected *Node
	for _, node := range cp.nodes {
		if node.IsHealthy() {
			selected = node
			break
		}
	}
	cp.mu.RUnlock()

	if selected == nil {
		return nil, fmt.Errorf("没有可用的健康节点")
	}
	if err := selected.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("等待节点 %s 限速失败: %w", selected.config.Name, err)
	}
	return selected, nil
}

// ReportFailure 记录一次节点请求失败，连续失败达到上限后标记为不健康
func (cp *ConnectionPool) ReportFailure(node *Node, err error) {
	if node == nil {
		return
	}
	node.mu.Lock()
	node.failures++
	failures := node.failures
	if failures >= cp.maxFailures {
		node.isHealthy = false
	}
	node.mu.Unlock()

	if failures >= cp.maxFailures {
		cp.logger.Warnf("节点 %s 连续失败 %d 次，暂停使用: %v", node.config.Name, failures, err)
	}
}

// ReportSuccess 清零失败计数
func (cp *ConnectionPool) ReportSuccess(node *Node) {
	if node == nil {
		return
	}
	node.mu.Lock()
	node.failures = 0
	node.mu.Unlock()
}

// healthChecker 定期重连不健康的节点
func (cp *ConnectionPool) healthChecker(ctx context.Context) {
	ticker := time.NewTicker(cp.healthCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp.CheckHealth(ctx)
		}
	}
}

// CheckHealth 立即检查所有节点
func (cp *ConnectionPool) CheckHealth(ctx context.Context) {
	cp.mu.RLock()
	nodes := make([]*Node, len(cp.nodes))
	copy(nodes, cp.nodes)
	cp.mu.RUnlock()

	for _, node := range nodes {
		client := node.Client()
		if client == nil || !node.IsHealthy() {
			if err := cp.connect(ctx, node); err != nil {
				cp.logger.Warnf("节点 %s 健康检查失败: %v", node.config.Name, err)
				continue
			}
			cp.logger.Infof("节点 %s 已恢复", node.config.Name)
			continue
		}

		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := client.ChainID(checkCtx)
		cancel()

		node.mu.Lock()
		node.isHealthy = err == nil
		node.lastCheck = time.Now()
		node.mu.Unlock()

		if err != nil {
			cp.logger.Warnf("节点 %s 健康检查失败: %v", node.config.Name, err)
		} else {
			cp.logger.Debugf("节点 %s 健康检查通过", node.config.Name)
		}
	}
}

// GetStats 获取连接池统计信息
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	stats := make(map[string]interface{})
	for _, node := range cp.nodes {
		node.mu.Lock()
		nodeStats := map[string]interface{}{
			"url":        node.config.URL,
			"priority":   node.config.Priority,
			"is_healthy": node.isHealthy,
			"failures":   node.failures,
			"last_check": node.lastCheck.Format(time.RFC3339),
		}
		if node.chainID != nil {
			nodeStats["chain_id"] = node.chainID.String()
		}
		node.mu.Unlock()
		stats[node.config.Name] = nodeStats
	}
	return stats
}

// Close 关闭连接池
func (cp *ConnectionPool) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.cancel != nil {
		cp.cancel()
		cp.cancel = nil
	}
	for _, node := range cp.nodes {
		node.close()
	}

	cp.logger.Info("连接池已关闭")
	return nil
}

// Name 节点名称
func (n *Node) Name() string {
	return n.config.Name
}

// Client 节点客户端，未连接时为 nil
func (n *Node) Client() *ethclient.Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client
}

// ChainID 连接时获取的链ID
func (n *Node) ChainID() *big.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.chainID == nil {
		return nil
	}
	return new(big.Int).Set(n.chainID)
}

// IsHealthy 节点是否可用
func (n *Node) IsHealthy() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isHealthy && n.client != nil
}

// SendTransactionArgs 由节点签名并发送交易 (eth_sendTransaction)
func (n *Node) SendTransactionArgs(ctx context.Context, args map[string]interface{}) (common.Hash, error) {
	client := n.Client()
	if client == nil {
		return common.Hash{}, fmt.Errorf("节点 %s 未连接", n.config.Name)
	}
	var hash common.Hash
	if err := client.Client().CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (n *Node) markUnhealthy() {
	n.mu.Lock()
	n.isHealthy = false
	n.lastCheck = time.Now()
	n.mu.Unlock()
}

func (n *Node) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client != nil {
		n.client.Close()
		n.client = nil
	}
	n.isHealthy = false
}

// Node 按名称查找节点
func (cp *ConnectionPool) Node(name string) *Node {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	for _, node := range cp.nodes {
		if node.config.Name == name {
			return node
		}
	}
	return nil
}
