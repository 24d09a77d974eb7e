package handler

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"invoker/internal/connection"
	"invoker/internal/retry"
)

// Backend 处理器使用的节点接口，*ethclient.Client 加上节点签名发送
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	SendTransactionArgs(ctx context.Context, args map[string]interface{}) (common.Hash, error)
}

// Provider 为每次请求提供节点，请求结束后通过 Release 反馈结果
type Provider interface {
	Acquire(ctx context.Context) (Backend, string, error)
	Release(node string, err error)
}

// PoolProvider 基于连接池的节点提供者
type PoolProvider struct {
	pool *connection.ConnectionPool
}

// NewPoolProvider 创建连接池节点提供者
func NewPoolProvider(pool *connection.ConnectionPool) *PoolProvider {
	return &PoolProvider{pool: pool}
}

type nodeBackend struct {
	*ethclient.Client
	node *connection.Node
}

func (b nodeBackend) SendTransactionArgs(ctx context.Context, args map[string]interface{}) (common.Hash, error) {
	return b.node.SendTransactionArgs(ctx, args)
}

// Acquire 从连接池选择节点
func (p *PoolProvider) Acquire(ctx context.Context) (Backend, string, error) {
	node, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, "", err
	}
	client := node.Client()
	if client == nil {
		return nil, "", retry.NewRetryableError(fmt.Errorf("节点 %s 已断开", node.Name()), true)
	}
	return nodeBackend{Client: client, node: node}, node.Name(), nil
}

// Release 传输层错误计入节点失败次数
func (p *PoolProvider) Release(name string, err error) {
	node := p.pool.Node(name)
	if node == nil {
		return
	}
	if err != nil && retry.IsRetryableError(err) {
		p.pool.ReportFailure(node, err)
		return
	}
	if err == nil {
		p.pool.ReportSuccess(node)
	}
}

// StaticProvider 固定使用一个节点
type StaticProvider struct {
	Backend Backend
	Name    string
}

// Acquire 返回固定节点
func (p *StaticProvider) Acquire(context.Context) (Backend, string, error) {
	return p.Backend, p.Name, nil
}

// Release 不做任何事
func (p *StaticProvider) Release(string, error) {}
