package contract

import (
	"context"
	"math/big"

	"invoker/internal/codec"
	"invoker/internal/dispatch"
)

// ReadInvocation 只读调用
type ReadInvocation struct {
	method
}

// NewReadInvocation 创建只读调用，描述符必须为 ReadOnly
func NewReadInvocation(d *codec.FunctionDescriptor, params []interface{}, handler Handler, opts ...Option) (*ReadInvocation, error) {
	m, err := newMethod(d, params, handler, codec.ReadOnly, opts)
	if err != nil {
		return nil, err
	}
	return &ReadInvocation{method: m}, nil
}

// Kind 实现 Invocation
func (r *ReadInvocation) Kind() Kind {
	return KindRead
}

// Call 在 block 处执行调用并返回按名称索引的解码结果，block 为 nil 表示最新区块
func (r *ReadInvocation) Call(ctx context.Context, block *big.Int, opts CallOptions) (map[string]interface{}, error) {
	call, err := r.buildCall(opts)
	if err != nil {
		return nil, err
	}
	return r.handler.Call(ctx, call, r.descriptor, block)
}

// CallAsync 异步执行 Call。构建失败时返回已失败的结果，不会发出请求
func (r *ReadInvocation) CallAsync(ctx context.Context, block *big.Int, opts CallOptions) *dispatch.Outcome[map[string]interface{}] {
	call, err := r.buildCall(opts)
	if err != nil {
		return dispatch.Resolved[map[string]interface{}](nil, err)
	}
	return dispatch.Go(ctx, func(ctx context.Context) (map[string]interface{}, error) {
		return r.handler.Call(ctx, call, r.descriptor, block)
	})
}

// EstimateGas 估算gas
func (r *ReadInvocation) EstimateGas(ctx context.Context, opts EstimateOptions) (uint64, error) {
	return r.estimateGas(ctx, opts)
}

// EstimateGasAsync 异步估算gas
func (r *ReadInvocation) EstimateGasAsync(ctx context.Context, opts EstimateOptions) *dispatch.Outcome[uint64] {
	return estimateAsync(ctx, r.method, opts)
}

func estimateAsync(ctx context.Context, m method, opts EstimateOptions) *dispatch.Outcome[uint64] {
	call, err := m.buildCall(CallOptions{From: opts.From, Gas: opts.Gas, Value: opts.Value})
	if err != nil {
		return dispatch.Resolved[uint64](0, err)
	}
	return dispatch.Go(ctx, func(ctx context.Context) (uint64, error) {
		return m.handler.EstimateGas(ctx, call)
	})
}
