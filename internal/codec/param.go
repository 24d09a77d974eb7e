package codec

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"invoker/internal/errors"
)

// WrappedParameter 调用方参数值与其所填参数槽的声明类型
type WrappedParameter struct {
	Name  string
	Value interface{}
	Type  abi.Type
}

// Wrap 按位置将参数值与输入类型配对。
// 数量不一致返回 InvalidInvocation，类型不接受该值返回 EncodingError
func Wrap(values []interface{}, inputs abi.Arguments) ([]WrappedParameter, error) {
	if len(values) != len(inputs) {
		return nil, errors.InvalidInvocation("参数数量不匹配: 期望 %d 个, 实际 %d 个", len(inputs), len(values))
	}

	params := make([]WrappedParameter, len(values))
	for i, value := range values {
		input := inputs[i]
		if value == nil {
			return nil, errors.Encoding(nil, "第 %d 个参数 %s 为空", i, describe(input))
		}
		if _, err := safePack(abi.Arguments{{Type: input.Type}}, []interface{}{value}); err != nil {
			return nil, errors.Encoding(err, "第 %d 个参数 %s 不接受 %T 类型的值", i, describe(input), value)
		}
		params[i] = WrappedParameter{
			Name:  input.Name,
			Value: value,
			Type:  input.Type,
		}
	}

	return params, nil
}

// ParseArguments 将文本参数转换为对应 ABI 类型的 Go 值
func ParseArguments(inputs abi.Arguments, raws []string) ([]interface{}, error) {
	if len(raws) != len(inputs) {
		return nil, errors.InvalidInvocation("参数数量不匹配: 期望 %d 个, 实际 %d 个", len(inputs), len(raws))
	}

	values := make([]interface{}, len(raws))
	for i, raw := range raws {
		value, err := ParseArgument(inputs[i].Type, raw)
		if err != nil {
			return nil, errors.Encoding(err, "解析第 %d 个参数 %s 失败", i, describe(inputs[i]))
		}
		values[i] = value
	}
	return values, nil
}

// ParseArgument 将单个文本参数转换为 go-ethereum 打包器期望的 Go 值。
// 数组/切片使用 JSON 数组，tuple 使用 JSON 数组（按位置）或对象（按字段名）
func ParseArgument(t abi.Type, raw string) (interface{}, error) {
	raw = strings.TrimSpace(raw)

	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(raw) {
			return nil, fmt.Errorf("无效的地址: %q", raw)
		}
		return common.HexToAddress(raw), nil

	case abi.BoolTy:
		return strconv.ParseBool(raw)

	case abi.StringTy:
		return raw, nil

	case abi.BytesTy:
		return hexutil.Decode(raw)

	case abi.FixedBytesTy:
		b, err := hexutil.Decode(raw)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("bytes%d 最多 %d 字节, 实际 %d 字节", t.Size, t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil

	case abi.IntTy, abi.UintTy:
		n, ok := new(big.Int).SetString(raw, 0)
		if !ok {
			return nil, fmt.Errorf("无效的整数: %q", raw)
		}
		return convertInteger(t, n)

	case abi.SliceTy, abi.ArrayTy:
		return parseList(t, raw)

	case abi.TupleTy:
		return parseTuple(t, raw)

	default:
		return nil, fmt.Errorf("不支持的参数类型: %s", t.String())
	}
}

// convertInteger 位宽不超过64的整数使用原生类型，其余使用 *big.Int
func convertInteger(t abi.Type, n *big.Int) (interface{}, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s 超出范围: %s", t.String(), n.String())
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		min := new(big.Int).Neg(limit)
		if n.Cmp(min) < 0 || n.Cmp(limit) >= 0 {
			return nil, fmt.Errorf("%s 超出范围: %s", t.String(), n.String())
		}
	}

	typ := t.GetType()
	if typ == reflect.TypeOf(&big.Int{}) {
		return n, nil
	}

	v := reflect.New(typ).Elem()
	switch typ.Kind() {
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.SetUint(n.Uint64())
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(n.Int64())
	default:
		return nil, fmt.Errorf("无法转换整数类型: %s", t.String())
	}
	return v.Interface(), nil
}

func parseList(t abi.Type, raw string) (interface{}, error) {
	items, err := splitJSONArray(raw)
	if err != nil {
		return nil, err
	}

	var list reflect.Value
	if t.T == abi.ArrayTy {
		if len(items) != t.Size {
			return nil, fmt.Errorf("%s 需要 %d 个元素, 实际 %d 个", t.String(), t.Size, len(items))
		}
		list = reflect.New(t.GetType()).Elem()
	} else {
		list = reflect.MakeSlice(t.GetType(), len(items), len(items))
	}

	for i, item := range items {
		elem, err := ParseArgument(*t.Elem, item)
		if err != nil {
			return nil, fmt.Errorf("第 %d 个元素: %w", i, err)
		}
		list.Index(i).Set(reflect.ValueOf(elem))
	}
	return list.Interface(), nil
}

func parseTuple(t abi.Type, raw string) (interface{}, error) {
	tuple := reflect.New(t.GetType()).Elem()

	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return nil, fmt.Errorf("无效的tuple对象: %w", err)
		}
		for i, name := range t.TupleRawNames {
			item, ok := fields[name]
			if !ok {
				return nil, fmt.Errorf("tuple缺少字段 %q", name)
			}
			if err := setTupleField(tuple, i, *t.TupleElems[i], rawItem(item)); err != nil {
				return nil, err
			}
		}
		return tuple.Interface(), nil
	}

	items, err := splitJSONArray(trimmed)
	if err != nil {
		return nil, err
	}
	if len(items) != len(t.TupleElems) {
		return nil, fmt.Errorf("tuple需要 %d 个字段, 实际 %d 个", len(t.TupleElems), len(items))
	}
	for i, item := range items {
		if err := setTupleField(tuple, i, *t.TupleElems[i], item); err != nil {
			return nil, err
		}
	}
	return tuple.Interface(), nil
}

func setTupleField(tuple reflect.Value, i int, t abi.Type, raw string) error {
	value, err := ParseArgument(t, raw)
	if err != nil {
		return fmt.Errorf("tuple第 %d 个字段: %w", i, err)
	}
	tuple.Field(i).Set(reflect.ValueOf(value))
	return nil
}

// splitJSONArray 把 JSON 数组拆成元素文本；字符串元素去掉引号
func splitJSONArray(raw string) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("需要JSON数组: %w", err)
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = rawItem(item)
	}
	return out, nil
}

func rawItem(item json.RawMessage) string {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return s
	}
	return string(item)
}

func describe(arg abi.Argument) string {
	if arg.Name == "" {
		return arg.Type.String()
	}
	return fmt.Sprintf("%s(%s)", arg.Name, arg.Type.String())
}

// safePack go-ethereum 的打包器在个别畸形输入上会panic，这里统一转成错误
func safePack(args abi.Arguments, values []interface{}) (packed []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("打包参数时发生panic: %v", r)
		}
	}()
	return args.Pack(values...)
}
