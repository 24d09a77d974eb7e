package contract

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"invoker/internal/codec"
	"invoker/internal/dispatch"
	"invoker/pkg/models"
)

// PayableSendInvocation 可携带原生币的写调用
type PayableSendInvocation struct {
	method
}

// NewPayableSendInvocation 创建可支付写调用，描述符必须为 Payable
func NewPayableSendInvocation(d *codec.FunctionDescriptor, params []interface{}, handler Handler, opts ...Option) (*PayableSendInvocation, error) {
	m, err := newMethod(d, params, handler, codec.Payable, opts)
	if err != nil {
		return nil, err
	}
	return &PayableSendInvocation{method: m}, nil
}

// Kind 实现 Invocation
func (p *PayableSendInvocation) Kind() Kind {
	return KindPayableSend
}

// CreateTransaction 构建交易，value 原样转发
func (p *PayableSendInvocation) CreateTransaction(opts PayableOptions) (*models.Transaction, error) {
	return p.buildTransaction(opts.TransactionOptions, opts.Value)
}

// Send 构建并发送交易
func (p *PayableSendInvocation) Send(ctx context.Context, opts PayableOptions) (common.Hash, error) {
	tx, err := p.CreateTransaction(opts)
	if err != nil {
		return common.Hash{}, err
	}
	return p.handler.Send(ctx, tx)
}

// SendAsync 异步发送
func (p *PayableSendInvocation) SendAsync(ctx context.Context, opts PayableOptions) *dispatch.Outcome[common.Hash] {
	tx, err := p.CreateTransaction(opts)
	return sendAsync(ctx, p.handler, tx, err)
}

// EstimateGas 估算gas
func (p *PayableSendInvocation) EstimateGas(ctx context.Context, opts EstimateOptions) (uint64, error) {
	return p.estimateGas(ctx, opts)
}

// EstimateGasAsync 异步估算gas
func (p *PayableSendInvocation) EstimateGasAsync(ctx context.Context, opts EstimateOptions) *dispatch.Outcome[uint64] {
	return estimateAsync(ctx, p.method, opts)
}

// NonPayableSendInvocation 不可携带原生币的写调用。
// 选项类型中没有 value，构建出的交易 Value 恒为 nil
type NonPayableSendInvocation struct {
	method
}

// NewNonPayableSendInvocation 创建不可支付写调用，描述符必须为 NonPayable
func NewNonPayableSendInvocation(d *codec.FunctionDescriptor, params []interface{}, handler Handler, opts ...Option) (*NonPayableSendInvocation, error) {
	m, err := newMethod(d, params, handler, codec.NonPayable, opts)
	if err != nil {
		return nil, err
	}
	return &NonPayableSendInvocation{method: m}, nil
}

// Kind 实现 Invocation
func (n *NonPayableSendInvocation) Kind() Kind {
	return KindNonPayableSend
}

// CreateTransaction 构建交易
func (n *NonPayableSendInvocation) CreateTransaction(opts TransactionOptions) (*models.Transaction, error) {
	return n.buildTransaction(opts, nil)
}

// Send 构建并发送交易
func (n *NonPayableSendInvocation) Send(ctx context.Context, opts TransactionOptions) (common.Hash, error) {
	tx, err := n.CreateTransaction(opts)
	if err != nil {
		return common.Hash{}, err
	}
	return n.handler.Send(ctx, tx)
}

// SendAsync 异步发送
func (n *NonPayableSendInvocation) SendAsync(ctx context.Context, opts TransactionOptions) *dispatch.Outcome[common.Hash] {
	tx, err := n.CreateTransaction(opts)
	return sendAsync(ctx, n.handler, tx, err)
}

// EstimateGas 估算gas
func (n *NonPayableSendInvocation) EstimateGas(ctx context.Context, opts EstimateOptions) (uint64, error) {
	return n.estimateGas(ctx, opts)
}

// EstimateGasAsync 异步估算gas
func (n *NonPayableSendInvocation) EstimateGasAsync(ctx context.Context, opts EstimateOptions) *dispatch.Outcome[uint64] {
	return estimateAsync(ctx, n.method, opts)
}

func sendAsync(ctx context.Context, handler Handler, tx *models.Transaction, buildErr error) *dispatch.Outcome[common.Hash] {
	if buildErr != nil {
		return dispatch.Resolved(common.Hash{}, buildErr)
	}
	return dispatch.Go(ctx, func(ctx context.Context) (common.Hash, error) {
		return handler.Send(ctx, tx)
	})
}
