package contract

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"invoker/internal/codec"
	"invoker/internal/dispatch"
	"invoker/internal/errors"
	"invoker/pkg/models"
)

const constructorSignature = "constructor"

// ConstructorInvocation 合约部署调用
type ConstructorInvocation struct {
	bytecode []byte
	params   []codec.WrappedParameter
	payable  bool
	handler  Handler
	codec    codec.Codec
}

// NewConstructorInvocation 由字节码和已包装的构造参数创建部署调用
func NewConstructorInvocation(bytecode []byte, params []codec.WrappedParameter, payable bool, handler Handler, opts ...Option) (*ConstructorInvocation, error) {
	if len(bytecode) == 0 {
		return nil, errors.InvalidConfiguration("部署字节码为空")
	}
	if handler == nil {
		return nil, errors.InvalidConfiguration("部署调用缺少处理器")
	}

	s := applyOptions(opts)
	code := make([]byte, len(bytecode))
	copy(code, bytecode)
	wrapped := make([]codec.WrappedParameter, len(params))
	copy(wrapped, params)

	return &ConstructorInvocation{
		bytecode: code,
		params:   wrapped,
		payable:  payable,
		handler:  handler,
		codec:    s.codec,
	}, nil
}

// NewConstructorInvocationFromDescriptor 按构造函数描述符包装参数后创建部署调用
func NewConstructorInvocationFromDescriptor(bytecode []byte, ctor *codec.ConstructorDescriptor, values []interface{}, handler Handler, opts ...Option) (*ConstructorInvocation, error) {
	if ctor == nil {
		ctor = codec.NewConstructorDescriptor(nil, false)
	}
	params, err := codec.Wrap(values, ctor.Inputs())
	if err != nil {
		return nil, withMethod(err, constructorSignature)
	}
	return NewConstructorInvocation(bytecode, params, ctor.Payable(), handler, opts...)
}

// Kind 实现 Invocation
func (c *ConstructorInvocation) Kind() Kind {
	return KindConstructor
}

// Payable 构造函数是否可接收原生币
func (c *ConstructorInvocation) Payable() bool {
	return c.payable
}

// Parameters 已包装的构造参数（副本）
func (c *ConstructorInvocation) Parameters() []codec.WrappedParameter {
	out := make([]codec.WrappedParameter, len(c.params))
	copy(out, c.params)
	return out
}

// EncodeABI 部署负载：字节码 + 构造参数编码（无参数时恰好是字节码）
func (c *ConstructorInvocation) EncodeABI() (string, error) {
	code := hexutil.Encode(c.bytecode)
	if len(c.params) == 0 {
		return code, nil
	}

	encoded, err := c.codec.EncodeParameters(c.params)
	if err != nil {
		return "", asEncodingError(err, constructorSignature)
	}
	return code + strings.TrimPrefix(encoded, "0x"), nil
}

// CreateTransaction 构建部署交易，To 为 nil。
// 不可支付的构造函数携带非零 value 时返回 InvalidInvocation
func (c *ConstructorInvocation) CreateTransaction(opts PayableOptions) (*models.Transaction, error) {
	if !c.payable && opts.Value != nil && opts.Value.Sign() != 0 {
		return nil, errors.InvalidInvocation("不可支付的构造函数不能携带value: %s", opts.Value.String()).
			WithMethod(constructorSignature)
	}

	data, err := c.EncodeABI()
	if err != nil {
		return nil, err
	}

	tx := newTransaction(opts.TransactionOptions, data)
	tx.Value = models.CopyBig(opts.Value)
	return tx, nil
}

// Send 构建并发送部署交易
func (c *ConstructorInvocation) Send(ctx context.Context, opts PayableOptions) (common.Hash, error) {
	tx, err := c.CreateTransaction(opts)
	if err != nil {
		return common.Hash{}, err
	}
	return c.handler.Send(ctx, tx)
}

// SendAsync 异步发送部署交易
func (c *ConstructorInvocation) SendAsync(ctx context.Context, opts PayableOptions) *dispatch.Outcome[common.Hash] {
	tx, err := c.CreateTransaction(opts)
	return sendAsync(ctx, c.handler, tx, err)
}
