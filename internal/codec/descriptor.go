package codec

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Mutability 方法可变性类别
type Mutability int

const (
	// NonPayable 可写，不接收原生币
	NonPayable Mutability = iota
	// Payable 可写，可接收原生币
	Payable
	// ReadOnly view/pure/constant，只读
	ReadOnly
)

// String 返回可变性名称
func (m Mutability) String() string {
	switch m {
	case NonPayable:
		return "nonpayable"
	case Payable:
		return "payable"
	case ReadOnly:
		return "view"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMutability 解析 ABI 中的 stateMutability 字段
func ParseMutability(stateMutability string) (Mutability, error) {
	switch stateMutability {
	case "nonpayable", "":
		return NonPayable, nil
	case "payable":
		return Payable, nil
	case "view", "pure", "constant":
		return ReadOnly, nil
	default:
		return NonPayable, fmt.Errorf("未知的stateMutability: %s", stateMutability)
	}
}

// FunctionDescriptor 合约方法描述符。构建后不可变，可被多个调用并发共享
type FunctionDescriptor struct {
	method     abi.Method
	mutability Mutability
}

// NewFunctionDescriptor 创建方法描述符
func NewFunctionDescriptor(name string, inputs, outputs abi.Arguments, mutability Mutability) *FunctionDescriptor {
	method := abi.NewMethod(name, name, abi.Function, mutability.String(),
		mutability == ReadOnly, mutability == Payable,
		copyArguments(inputs), copyArguments(outputs))

	return &FunctionDescriptor{
		method:     method,
		mutability: mutability,
	}
}

// DescriptorFromMethod 从 go-ethereum 解析出的方法创建描述符
func DescriptorFromMethod(method abi.Method) *FunctionDescriptor {
	mutability := NonPayable
	switch {
	case method.IsConstant():
		mutability = ReadOnly
	case method.IsPayable():
		mutability = Payable
	}

	return NewFunctionDescriptor(method.RawName, method.Inputs, method.Outputs, mutability)
}

// Name 方法名
func (d *FunctionDescriptor) Name() string {
	return d.method.RawName
}

// Inputs 输入参数类型列表（副本）
func (d *FunctionDescriptor) Inputs() abi.Arguments {
	return copyArguments(d.method.Inputs)
}

// Outputs 输出参数类型列表（副本）
func (d *FunctionDescriptor) Outputs() abi.Arguments {
	return copyArguments(d.method.Outputs)
}

// Mutability 可变性类别
func (d *FunctionDescriptor) Mutability() Mutability {
	return d.mutability
}

// Signature 规范签名，如 transfer(address,uint256)
func (d *FunctionDescriptor) Signature() string {
	return d.method.Sig
}

// Selector 4字节方法选择器
func (d *FunctionDescriptor) Selector() []byte {
	selector := make([]byte, len(d.method.ID))
	copy(selector, d.method.ID)
	return selector
}

// String 实现 fmt.Stringer
func (d *FunctionDescriptor) String() string {
	return fmt.Sprintf("%s %s", d.Signature(), d.mutability)
}

// ConstructorDescriptor 构造函数描述符
type ConstructorDescriptor struct {
	inputs  abi.Arguments
	payable bool
}

// NewConstructorDescriptor 创建构造函数描述符
func NewConstructorDescriptor(inputs abi.Arguments, payable bool) *ConstructorDescriptor {
	return &ConstructorDescriptor{
		inputs:  copyArguments(inputs),
		payable: payable,
	}
}

// Inputs 构造参数类型列表（副本）
func (c *ConstructorDescriptor) Inputs() abi.Arguments {
	return copyArguments(c.inputs)
}

// Payable 构造函数是否可接收原生币
func (c *ConstructorDescriptor) Payable() bool {
	return c.payable
}

// NewArguments 由类型字符串构建参数列表，如 NewArguments("address", "uint256")。
// 不支持 tuple，tuple 请通过 ParseABI 获得
func NewArguments(typeNames ...string) (abi.Arguments, error) {
	args := make(abi.Arguments, 0, len(typeNames))
	for i, name := range typeNames {
		t, err := abi.NewType(name, "", nil)
		if err != nil {
			return nil, fmt.Errorf("解析第 %d 个类型 %q 失败: %w", i, name, err)
		}
		args = append(args, abi.Argument{Type: t})
	}
	return args, nil
}

// ParseSignature 由文本签名（如 "transfer(address,uint256)"）构建描述符，
// 没有输出类型，可变性为 NonPayable。用于只知道签名的调用数据解码
func ParseSignature(signature string) (*FunctionDescriptor, error) {
	signature = strings.TrimSpace(signature)
	open := strings.IndexByte(signature, '(')
	if open <= 0 || !strings.HasSuffix(signature, ")") {
		return nil, fmt.Errorf("无效的方法签名: %q", signature)
	}

	name := signature[:open]
	params := signature[open+1 : len(signature)-1]
	if strings.ContainsAny(params, "()") {
		return nil, fmt.Errorf("不支持含 tuple 的签名: %q", signature)
	}

	var typeNames []string
	if params != "" {
		typeNames = strings.Split(params, ",")
	}
	inputs, err := NewArguments(typeNames...)
	if err != nil {
		return nil, err
	}
	return NewFunctionDescriptor(name, inputs, nil, NonPayable), nil
}

// MustArguments 同 NewArguments，失败时panic，仅用于静态定义
func MustArguments(typeNames ...string) abi.Arguments {
	args, err := NewArguments(typeNames...)
	if err != nil {
		panic(err)
	}
	return args
}

func copyArguments(args abi.Arguments) abi.Arguments {
	if args == nil {
		return abi.Arguments{}
	}
	out := make(abi.Arguments, len(args))
	copy(out, args)
	return out
}
