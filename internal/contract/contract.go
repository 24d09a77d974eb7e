package contract

import (
	"invoker/internal/codec"
	"invoker/internal/errors"
)

// Contract 按ABI把方法名映射到对应形态的调用
type Contract struct {
	abi      *codec.ContractABI
	handler  Handler
	bytecode []byte
	opts     []Option
}

// NewContract 创建合约绑定
func NewContract(abi *codec.ContractABI, handler Handler, opts ...Option) (*Contract, error) {
	if abi == nil {
		return nil, errors.InvalidConfiguration("合约ABI为空")
	}
	if handler == nil {
		return nil, errors.InvalidConfiguration("合约缺少处理器")
	}
	return &Contract{abi: abi, handler: handler, opts: opts}, nil
}

// WithBytecode 设置部署字节码
func (c *Contract) WithBytecode(bytecode []byte) *Contract {
	c.bytecode = append([]byte(nil), bytecode...)
	return c
}

// ABI 合约ABI
func (c *Contract) ABI() *codec.ContractABI {
	return c.abi
}

// Handler 合约使用的处理器
func (c *Contract) Handler() Handler {
	return c.handler
}

// Method 按名称或签名构建调用，返回值的具体类型由方法的可变性决定：
// *ReadInvocation、*PayableSendInvocation 或 *NonPayableSendInvocation
func (c *Contract) Method(name string, args ...interface{}) (GasEstimator, error) {
	d, ok := c.abi.Function(name)
	if !ok {
		return nil, errors.InvalidInvocation("ABI中不存在方法: %s", name)
	}

	// 出错时返回无类型的nil，避免接口持有nil指针
	switch d.Mutability() {
	case codec.ReadOnly:
		inv, err := NewReadInvocation(d, args, c.handler, c.opts...)
		if err != nil {
			return nil, err
		}
		return inv, nil
	case codec.Payable:
		inv, err := NewPayableSendInvocation(d, args, c.handler, c.opts...)
		if err != nil {
			return nil, err
		}
		return inv, nil
	default:
		inv, err := NewNonPayableSendInvocation(d, args, c.handler, c.opts...)
		if err != nil {
			return nil, err
		}
		return inv, nil
	}
}

// Read 构建只读调用
func (c *Contract) Read(name string, args ...interface{}) (*ReadInvocation, error) {
	d, ok := c.abi.Function(name)
	if !ok {
		return nil, errors.InvalidInvocation("ABI中不存在方法: %s", name)
	}
	return NewReadInvocation(d, args, c.handler, c.opts...)
}

// Deploy 构建部署调用
func (c *Contract) Deploy(args ...interface{}) (*ConstructorInvocation, error) {
	return NewConstructorInvocationFromDescriptor(c.bytecode, c.abi.Constructor(), args, c.handler, c.opts...)
}
