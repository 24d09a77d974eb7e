package contract

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"

	"invoker/internal/codec"
	"invoker/internal/errors"
	"invoker/pkg/models"
)

// Kind 调用形态
type Kind int

const (
	KindRead Kind = iota
	KindPayableSend
	KindNonPayableSend
	KindConstructor
)

// String 返回调用形态名称
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindPayableSend:
		return "payable_send"
	case KindNonPayableSend:
		return "non_payable_send"
	case KindConstructor:
		return "constructor"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Invocation 四种调用形态共有的能力
type Invocation interface {
	Kind() Kind
	EncodeABI() (string, error)
}

// GasEstimator 除构造函数外的调用形态都支持gas估算
type GasEstimator interface {
	Invocation
	EstimateGas(ctx context.Context, opts EstimateOptions) (uint64, error)
}

// Option 调用构建选项
type Option func(*settings)

type settings struct {
	codec codec.Codec
}

// WithCodec 指定ABI编解码器，默认使用 go-ethereum 实现
func WithCodec(c codec.Codec) Option {
	return func(s *settings) {
		s.codec = c
	}
}

func applyOptions(opts []Option) settings {
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.codec == nil {
		s.codec = codec.NewEthCodec()
	}
	return s
}

// method 方法调用的公共部分。构建后不可变
type method struct {
	descriptor *codec.FunctionDescriptor
	params     []codec.WrappedParameter
	handler    Handler
	codec      codec.Codec
}

func newMethod(d *codec.FunctionDescriptor, values []interface{}, handler Handler, want codec.Mutability, opts []Option) (method, error) {
	if d == nil {
		return method{}, errors.InvalidConfiguration("方法描述符为空")
	}
	if handler == nil {
		return method{}, errors.InvalidConfiguration("%s 缺少处理器", d.Signature())
	}
	if d.Mutability() != want {
		return method{}, errors.InvalidConfiguration("%s 是 %s 方法, 不能构建为 %s 调用",
			d.Signature(), d.Mutability(), want)
	}

	params, err := codec.Wrap(values, d.Inputs())
	if err != nil {
		return method{}, withMethod(err, d.Signature())
	}

	s := applyOptions(opts)
	return method{
		descriptor: d,
		params:     params,
		handler:    handler,
		codec:      s.codec,
	}, nil
}

// Descriptor 方法描述符
func (m method) Descriptor() *codec.FunctionDescriptor {
	return m.descriptor
}

// Parameters 已包装的参数（副本）
func (m method) Parameters() []codec.WrappedParameter {
	out := make([]codec.WrappedParameter, len(m.params))
	copy(out, m.params)
	return out
}

// EncodeABI 编码调用数据
func (m method) EncodeABI() (string, error) {
	data, err := m.codec.EncodeFunctionCall(m.descriptor, m.params)
	if err != nil {
		return "", asEncodingError(err, m.descriptor.Signature())
	}
	return data, nil
}

// buildCall 构建只读调用对象：编码成功且处理器已绑定地址，否则不产生任何调用对象
func (m method) buildCall(opts CallOptions) (*models.Call, error) {
	data, err := m.EncodeABI()
	if err != nil {
		return nil, err
	}

	to := m.handler.Address()
	if to == nil {
		return nil, errors.ContractNotDeployed(m.descriptor.Signature())
	}

	return &models.Call{
		From:     models.CopyAddress(opts.From),
		To:       *to,
		Gas:      models.CopyUint64(opts.Gas),
		GasPrice: models.CopyBig(opts.GasPrice),
		Value:    models.CopyBig(opts.Value),
		Data:     data,
	}, nil
}

// buildTransaction 构建写交易对象，前置条件同 buildCall
func (m method) buildTransaction(opts TransactionOptions, value *big.Int) (*models.Transaction, error) {
	data, err := m.EncodeABI()
	if err != nil {
		return nil, err
	}

	bound := m.handler.Address()
	if bound == nil {
		return nil, errors.ContractNotDeployed(m.descriptor.Signature())
	}
	to := *bound

	tx := newTransaction(opts, data)
	tx.To = &to
	tx.Value = models.CopyBig(value)
	return tx, nil
}

// estimateGas 构建不含gasPrice的调用对象并交给处理器估算
func (m method) estimateGas(ctx context.Context, opts EstimateOptions) (uint64, error) {
	call, err := m.buildCall(CallOptions{
		From:  opts.From,
		Gas:   opts.Gas,
		Value: opts.Value,
	})
	if err != nil {
		return 0, err
	}
	return m.handler.EstimateGas(ctx, call)
}

// newTransaction 按选项构建交易，指针字段均为拷贝，调用方之后修改选项不影响交易
func newTransaction(opts TransactionOptions, data string) *models.Transaction {
	tx := &models.Transaction{
		Nonce:                opts.Nonce,
		GasPrice:             opts.GasPrice,
		MaxFeePerGas:         opts.MaxFeePerGas,
		MaxPriorityFeePerGas: opts.MaxPriorityFeePerGas,
		GasLimit:             opts.GasLimit,
		From:                 opts.From,
		Data:                 data,
		AccessList:           opts.AccessList,
		Type:                 opts.Type,
	}
	return tx.Clone()
}

// asEncodingError 编解码器返回的非调用层错误统一归为 EncodingError
func asEncodingError(err error, signature string) error {
	var invokeErr *errors.InvokeError
	if stderrors.As(err, &invokeErr) {
		return err
	}
	return errors.Encoding(err, "编码 %s 失败", signature)
}

func withMethod(err error, signature string) error {
	var invokeErr *errors.InvokeError
	if stderrors.As(err, &invokeErr) {
		return invokeErr.WithMethod(signature)
	}
	return err
}
