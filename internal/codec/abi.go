package codec

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ContractABI 解析后的合约ABI：方法描述符 + 构造函数描述符
type ContractABI struct {
	functions   map[string]*FunctionDescriptor // 按解析名、原始名、签名索引
	ordered     []*FunctionDescriptor
	constructor *ConstructorDescriptor
}

// ParseABI 解析ABI JSON
func ParseABI(reader io.Reader) (*ContractABI, error) {
	parsed, err := abi.JSON(reader)
	if err != nil {
		return nil, fmt.Errorf("解析ABI失败: %w", err)
	}

	contractABI := &ContractABI{
		functions:   make(map[string]*FunctionDescriptor),
		constructor: NewConstructorDescriptor(parsed.Constructor.Inputs, parsed.Constructor.IsPayable()),
	}

	// 按解析名排序，保证重载方法的原始名指向确定的一个
	names := make([]string, 0, len(parsed.Methods))
	for name := range parsed.Methods {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		method := parsed.Methods[name]
		descriptor := DescriptorFromMethod(method)
		contractABI.ordered = append(contractABI.ordered, descriptor)
		contractABI.functions[name] = descriptor
		contractABI.functions[descriptor.Signature()] = descriptor
		if _, exists := contractABI.functions[method.RawName]; !exists {
			contractABI.functions[method.RawName] = descriptor
		}
	}

	return contractABI, nil
}

// ParseABIString 解析ABI JSON字符串
func ParseABIString(abiJSON string) (*ContractABI, error) {
	return ParseABI(strings.NewReader(abiJSON))
}

// Function 按方法名或签名查找描述符
func (c *ContractABI) Function(name string) (*FunctionDescriptor, bool) {
	d, ok := c.functions[name]
	return d, ok
}

// FunctionBySelector 按4字节选择器查找描述符
func (c *ContractABI) FunctionBySelector(selector []byte) (*FunctionDescriptor, bool) {
	if len(selector) < 4 {
		return nil, false
	}
	for _, d := range c.ordered {
		if bytes.Equal(d.method.ID, selector[:4]) {
			return d, true
		}
	}
	return nil, false
}

// Functions 全部方法描述符，按解析名排序
func (c *ContractABI) Functions() []*FunctionDescriptor {
	out := make([]*FunctionDescriptor, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Constructor 构造函数描述符；ABI未声明构造函数时为无参不可支付
func (c *ContractABI) Constructor() *ConstructorDescriptor {
	return c.constructor
}
