package codec

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"invoker/internal/errors"
)

// Codec ABI编解码器。输出为0x前缀、偶数长度的十六进制串，且必须是确定性的
type Codec interface {
	EncodeFunctionCall(d *FunctionDescriptor, params []WrappedParameter) (string, error)
	EncodeParameters(params []WrappedParameter) (string, error)
}

// EthCodec 基于 go-ethereum accounts/abi 的编解码器
type EthCodec struct{}

// NewEthCodec 创建编解码器
func NewEthCodec() *EthCodec {
	return &EthCodec{}
}

// EncodeParameters 编码参数列表（不含方法选择器）
func (c *EthCodec) EncodeParameters(params []WrappedParameter) (string, error) {
	packed, err := packParameters(params)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(packed), nil
}

// EncodeFunctionCall 编码方法调用：4字节选择器 + 参数编码
func (c *EthCodec) EncodeFunctionCall(d *FunctionDescriptor, params []WrappedParameter) (string, error) {
	if d == nil {
		return "", errors.InvalidConfiguration("方法描述符为空")
	}

	inputs := d.method.Inputs
	if len(params) != len(inputs) {
		return "", errors.InvalidInvocation("%s 参数数量不匹配: 期望 %d 个, 实际 %d 个",
			d.Signature(), len(inputs), len(params))
	}
	for i, p := range params {
		if p.Type.String() != inputs[i].Type.String() {
			return "", errors.InvalidInvocation("%s 第 %d 个参数类型不匹配: 期望 %s, 实际 %s",
				d.Signature(), i, inputs[i].Type.String(), p.Type.String())
		}
	}

	packed, err := packParameters(params)
	if err != nil {
		return "", err
	}

	data := make([]byte, 0, len(d.method.ID)+len(packed))
	data = append(data, d.method.ID...)
	data = append(data, packed...)
	return hexutil.Encode(data), nil
}

func packParameters(params []WrappedParameter) ([]byte, error) {
	args := make(abi.Arguments, len(params))
	values := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = abi.Argument{Name: p.Name, Type: p.Type}
		values[i] = p.Value
	}

	packed, err := safePack(args, values)
	if err != nil {
		return nil, errors.Encoding(err, "编码参数失败")
	}
	return packed, nil
}

// DecodeOutputs 按描述符的输出类型解码返回数据。
// 每个输出都以位置下标（"0"、"1"…）为键，具名输出额外以名称为键
func DecodeOutputs(d *FunctionDescriptor, data []byte) (map[string]interface{}, error) {
	outputs := d.method.Outputs
	result := make(map[string]interface{}, len(outputs)*2)
	if len(outputs) == 0 {
		return result, nil
	}

	values, err := outputs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", d.Signature(), err)
	}
	keyValues(outputs, values, result)
	return result, nil
}

// DecodeInput 解码调用数据的参数部分，数据必须以该方法的选择器开头
func DecodeInput(d *FunctionDescriptor, data []byte) (map[string]interface{}, error) {
	if len(data) < 4 || !bytes.Equal(data[:4], d.method.ID) {
		return nil, fmt.Errorf("调用数据与 %s 的选择器不匹配", d.Signature())
	}

	inputs := d.method.Inputs
	result := make(map[string]interface{}, len(inputs)*2)
	values, err := inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("解码 %s 参数失败: %w", d.Signature(), err)
	}
	keyValues(inputs, values, result)
	return result, nil
}

func keyValues(args abi.Arguments, values []interface{}, result map[string]interface{}) {
	for i, arg := range args {
		if i >= len(values) {
			break
		}
		result[strconv.Itoa(i)] = values[i]
		if arg.Name != "" {
			result[arg.Name] = values[i]
		}
	}
}
