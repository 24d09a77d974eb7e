package decoder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"invoker/internal/codec"
	"invoker/internal/config"
)

// 解码结果来源
const (
	SourceRegistry = "registry"
	SourceFourByte = "4byte"
	SourceBuiltin  = "builtin"
	SourceUnknown  = "unknown"
)

// SelectorSource 按选择器查找已知方法，由合约注册表实现
type SelectorSource interface {
	FunctionBySelector(selector []byte, to *common.Address) (*codec.FunctionDescriptor, string, bool)
}

// Decoded 调用数据解码结果
type Decoded struct {
	Selector  string                 `json:"selector"`
	Signature string                 `json:"signature"`
	Contract  string                 `json:"contract,omitempty"`
	Source    string                 `json:"source"`
	Params    map[string]interface{} `json:"params"`
}

// FourByteResponse 4byte.directory API响应
type FourByteResponse struct {
	Count    int         `json:"count"`
	Next     *string     `json:"next"`
	Previous *string     `json:"previous"`
	Results  []signature `json:"results"`
}

type signature struct {
	ID             int    `json:"id"`
	CreatedAt      string `json:"created_at"`
	TextSignature  string `json:"text_signature"`
	HexSignature   string `json:"hex_signature"`
	BytesSignature string `json:"bytes_signature"`
}

// 常见方法签名，4byte 不可用时兜底
var commonMethods = map[string]string{
	"0xa9059cbb": "transfer(address,uint256)",
	"0x095ea7b3": "approve(address,uint256)",
	"0x23b872dd": "transferFrom(address,address,uint256)",
	"0x70a08231": "balanceOf(address)",
	"0xdd62ed3e": "allowance(address,address)",
	"0x06fdde03": "name()",
	"0x95d89b41": "symbol()",
	"0x313ce567": "decimals()",
	"0x18160ddd": "totalSupply()",
	"0x40c10f19": "mint(address,uint256)",
	"0x42966c68": "burn(uint256)",
	"0x8da5cb5b": "owner()",
	"0xf2fde38b": "transferOwnership(address)",
	"0xd0e30db0": "deposit()",
	"0x2e1a7d4d": "withdraw(uint256)",
}

// Decoder 调用数据解码器：注册表 → 缓存 → 4byte.directory → 内置表
type Decoder struct {
	logger *logrus.Logger
	source SelectorSource
	config *config.DecoderConfig
	client *resty.Client
	mu     sync.RWMutex
	cache  map[string]string // 选择器 → 文本签名
}

// NewDecoder 创建解码器，source 可为 nil
func NewDecoder(logger *logrus.Logger, source SelectorSource, decoderConfig *config.DecoderConfig) *Decoder {
	if decoderConfig == nil {
		decoderConfig = config.GetDefaultConfig().Decoder
	}

	timeout, err := time.ParseDuration(decoderConfig.APITimeout)
	if err != nil {
		timeout = 5 * time.Second
		logger.Warnf("解析API超时时间失败，使用默认值5s: %v", err)
	}

	cacheSize := decoderConfig.CacheSize
	if cacheSize <= 0 {
		cacheSize = 10000
	}

	return &Decoder{
		logger: logger,
		source: source,
		config: &config.DecoderConfig{
			FourByteAPIURL: decoderConfig.FourByteAPIURL,
			APITimeout:     decoderConfig.APITimeout,
			EnableCache:    decoderConfig.EnableCache,
			CacheSize:      cacheSize,
			EnableAPI:      decoderConfig.EnableAPI,
		},
		client: resty.New().SetTimeout(timeout).SetHeader("Accept", "application/json"),
		cache:  make(map[string]string),
	}
}

// Decode 解码调用数据，to 用于在注册表中优先匹配目标合约
func (d *Decoder) Decode(ctx context.Context, input string, to *common.Address) (*Decoded, error) {
	data, err := hexutil.Decode(normalize(input))
	if err != nil {
		return nil, fmt.Errorf("无效的调用数据: %w", err)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("调用数据不足4字节")
	}

	selector := hexutil.Encode(data[:4])

	if d.source != nil {
		if fn, contract, ok := d.source.FunctionBySelector(data[:4], to); ok {
			params, err := codec.DecodeInput(fn, data)
			if err != nil {
				d.logger.Debugf("按注册表ABI解码 %s 失败: %v", fn.Signature(), err)
				params = decodeBasicParameters(data[4:])
			}
			return &Decoded{
				Selector:  selector,
				Signature: fn.Signature(),
				Contract:  contract,
				Source:    SourceRegistry,
				Params:    params,
			}, nil
		}
	}

	text, source := d.lookupSignature(ctx, selector)
	decoded := &Decoded{
		Selector:  selector,
		Signature: text,
		Source:    source,
	}

	if fn, err := codec.ParseSignature(text); err == nil && hexutil.Encode(fn.Selector()) == selector {
		if params, err := codec.DecodeInput(fn, data); err == nil {
			decoded.Params = params
			return decoded, nil
		}
	}
	decoded.Params = decodeBasicParameters(data[4:])
	return decoded, nil
}

// MethodName 调用数据对应的方法签名，无法识别时返回 "unknown"
func (d *Decoder) MethodName(ctx context.Context, input string, to *common.Address) string {
	decoded, err := d.Decode(ctx, input, to)
	if err != nil {
		return SourceUnknown
	}
	return decoded.Signature
}

// lookupSignature 查找选择器对应的文本签名
func (d *Decoder) lookupSignature(ctx context.Context, selector string) (string, string) {
	if d.config.EnableCache {
		d.mu.RLock()
		name, exists := d.cache[selector]
		d.mu.RUnlock()
		if exists {
			return name, SourceFourByte
		}
	}

	if d.config.EnableAPI {
		if name := d.fetchFromFourByteDirectory(ctx, selector); name != "" {
			d.remember(selector, name)
			return name, SourceFourByte
		}
	}

	if name, exists := commonMethods[selector]; exists {
		return name, SourceBuiltin
	}
	return SourceUnknown, SourceUnknown
}

// fetchFromFourByteDirectory 从4byte.directory API获取方法签名
func (d *Decoder) fetchFromFourByteDirectory(ctx context.Context, selector string) string {
	var response FourByteResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParam("hex_signature", selector).
		SetResult(&response).
		Get(d.config.FourByteAPIURL)
	if err != nil {
		d.logger.Debugf("4byte.directory API调用失败: %v", err)
		return ""
	}
	if resp.IsError() {
		d.logger.Debugf("4byte.directory API返回错误状态: %d", resp.StatusCode())
		return ""
	}

	// 同一选择器可能对应多个签名，取最早登记的一个
	best := ""
	bestID := 0
	for _, result := range response.Results {
		if best == "" || result.ID < bestID {
			best = result.TextSignature
			bestID = result.ID
		}
	}
	return best
}

func (d *Decoder) remember(selector, name string) {
	if !d.config.EnableCache {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.cache) >= d.config.CacheSize {
		d.evictCache()
	}
	d.cache[selector] = name
}

// evictCache 清理一半缓存，调用方持有写锁
func (d *Decoder) evictCache() {
	target := d.config.CacheSize / 2
	for key := range d.cache {
		if len(d.cache) <= target {
			break
		}
		delete(d.cache, key)
	}
	d.logger.Debugf("缓存清理完成，剩余 %d 项", len(d.cache))
}

// ClearCache 清理缓存
func (d *Decoder) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = make(map[string]string)
}

// GetCacheSize 获取缓存大小
func (d *Decoder) GetCacheSize() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.cache)
}

// decodeBasicParameters 无ABI时按32字节字切分参数
func decodeBasicParameters(data []byte) map[string]interface{} {
	params := make(map[string]interface{})

	for i := 0; i*32+32 <= len(data) && i < 10; i++ { // 最多解析10个参数
		word := data[i*32 : i*32+32]
		key := fmt.Sprintf("param_%d", i)

		// 前12字节为0时按地址展示
		if isZero(word[:12]) {
			params[key] = common.BytesToAddress(word[12:]).Hex()
			params[key+"_type"] = "address"
		} else {
			params[key] = hexutil.Encode(word)
			params[key+"_type"] = "bytes32"
		}
	}
	return params
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func normalize(input string) string {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "0x") && !strings.HasPrefix(input, "0X") {
		input = "0x" + input
	}
	return input
}
