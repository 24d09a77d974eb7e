package handler

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"invoker/internal/codec"
	"invoker/internal/config"
	"invoker/internal/contract"
	apperrors "invoker/internal/errors"
	"invoker/internal/logging"
	"invoker/internal/retry"
	"invoker/pkg/models"
)

var _ contract.Handler = (*RPCHandler)(nil)

// RPCHandler 通过 JSON-RPC 节点执行调用和发送交易。
// 配置了私钥时本地签名并用 eth_sendRawTransaction 发送，否则交给节点签名
type RPCHandler struct {
	provider Provider
	address  *common.Address
	from     *common.Address
	key      *ecdsa.PrivateKey
	timeout  time.Duration
	retrier  *retry.Retrier
	once     *retry.Retrier
	logger   *logrus.Logger

	chainMu *sync.Mutex
	chainID *big.Int
}

// NewRPCHandler 创建处理器，未绑定目标地址
func NewRPCHandler(provider Provider, handlerConfig *config.HandlerConfig, logger *logrus.Logger) (*RPCHandler, error) {
	if provider == nil {
		return nil, apperrors.InvalidConfiguration("缺少节点提供者")
	}
	if handlerConfig == nil {
		handlerConfig = config.GetDefaultConfig().Handler
	}

	h := &RPCHandler{
		provider: provider,
		timeout:  30 * time.Second,
		logger:   logger,
		chainMu:  &sync.Mutex{},
	}

	if handlerConfig.Timeout != "" {
		timeout, err := time.ParseDuration(handlerConfig.Timeout)
		if err != nil {
			return nil, apperrors.InvalidConfiguration("无效的请求超时 %q: %v", handlerConfig.Timeout, err)
		}
		h.timeout = timeout
	}

	retryConfig := *retry.NetworkRetryConfig
	if handlerConfig.MaxAttempts > 0 {
		retryConfig.MaxAttempts = handlerConfig.MaxAttempts
	}
	h.retrier = retry.NewRetrier(&retryConfig, logger)
	h.once = retry.NewRetrier(retry.NoRetryConfig, logger)

	if handlerConfig.ChainID > 0 {
		h.chainID = big.NewInt(handlerConfig.ChainID)
	}

	if handlerConfig.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(handlerConfig.PrivateKey, "0x"))
		if err != nil {
			return nil, apperrors.InvalidConfiguration("无效的私钥: %v", err)
		}
		h.key = key
		from := crypto.PubkeyToAddress(key.PublicKey)
		h.from = &from
	}

	if handlerConfig.From != "" {
		if !common.IsHexAddress(handlerConfig.From) {
			return nil, apperrors.InvalidConfiguration("无效的发送地址: %s", handlerConfig.From)
		}
		from := common.HexToAddress(handlerConfig.From)
		if h.from != nil && *h.from != from {
			return nil, apperrors.InvalidConfiguration("发送地址 %s 与私钥地址 %s 不一致", from.Hex(), h.from.Hex())
		}
		h.from = &from
	}

	return h, nil
}

// At 返回绑定到指定地址的处理器副本，共享节点和链ID缓存
func (h *RPCHandler) At(address common.Address) *RPCHandler {
	c := *h
	c.address = &address
	return &c
}

// Address 绑定的目标合约地址
func (h *RPCHandler) Address() *common.Address {
	if h.address == nil {
		return nil
	}
	addr := *h.address
	return &addr
}

// From 默认发送地址
func (h *RPCHandler) From() *common.Address {
	if h.from == nil {
		return nil
	}
	addr := *h.from
	return &addr
}

// Call 执行 eth_call 并按描述符解码输出
func (h *RPCHandler) Call(ctx context.Context, call *models.Call, fn *codec.FunctionDescriptor, block *big.Int) (map[string]interface{}, error) {
	msg, err := call.ToCallMsg()
	if err != nil {
		return nil, err
	}
	if call.From == nil && h.from != nil {
		msg.From = *h.from
	}

	out, _, err := withBackend(ctx, h, "eth_call", func(ctx context.Context, b Backend) ([]byte, error) {
		return b.CallContract(ctx, msg, block)
	})
	if err != nil {
		return nil, fmt.Errorf("eth_call 失败: %w", err)
	}

	if fn == nil {
		return map[string]interface{}{"0": hexutil.Encode(out)}, nil
	}
	result, err := codec.DecodeOutputs(fn, out)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", fn.Signature(), err)
	}
	return result, nil
}

// EstimateGas 执行 eth_estimateGas
func (h *RPCHandler) EstimateGas(ctx context.Context, call *models.Call) (uint64, error) {
	msg, err := call.ToCallMsg()
	if err != nil {
		return 0, err
	}
	if call.From == nil && h.from != nil {
		msg.From = *h.from
	}

	gas, _, err := withBackend(ctx, h, "eth_estimateGas", func(ctx context.Context, b Backend) (uint64, error) {
		return b.EstimateGas(ctx, msg)
	})
	if err != nil {
		return 0, fmt.Errorf("eth_estimateGas 失败: %w", err)
	}
	return gas, nil
}

// Send 发送交易
func (h *RPCHandler) Send(ctx context.Context, tx *models.Transaction) (common.Hash, error) {
	hash, _, err := h.SendVia(ctx, tx)
	return hash, err
}

// SendVia 发送交易，同时返回实际使用的节点名
func (h *RPCHandler) SendVia(ctx context.Context, tx *models.Transaction) (common.Hash, string, error) {
	if tx == nil {
		return common.Hash{}, "", apperrors.InvalidInvocation("交易为空")
	}

	if h.key != nil {
		if tx.From != nil && *tx.From != *h.from {
			return common.Hash{}, "", apperrors.InvalidConfiguration("交易发送地址 %s 与签名地址 %s 不一致", tx.From.Hex(), h.from.Hex())
		}
		// 只签名一次，重试时重发相同的字节
		signed, _, err := withBackend(ctx, h, "sign_transaction", func(ctx context.Context, b Backend) (*types.Transaction, error) {
			return h.sign(ctx, b, tx)
		})
		if err != nil {
			return common.Hash{}, "", fmt.Errorf("准备交易失败: %w", err)
		}
		hash, node, err := withBackend(ctx, h, "eth_sendRawTransaction", func(ctx context.Context, b Backend) (common.Hash, error) {
			if err := b.SendTransaction(ctx, signed); err != nil && !isAlreadyKnown(err) {
				return common.Hash{}, err
			}
			return signed.Hash(), nil
		})
		if err != nil {
			return common.Hash{}, node, fmt.Errorf("发送交易失败: %w", err)
		}
		logging.NewTransactionLogger(h.logger, hash.Hex()).WithField("node", node).Info("交易已签名并发送")
		return hash, node, nil
	}

	from := tx.From
	if from == nil {
		from = h.from
	}
	if from == nil {
		return common.Hash{}, "", apperrors.InvalidConfiguration("未配置私钥时交易必须指定发送地址")
	}

	args := transactionArgs(tx, *from)
	if tx.Nonce == nil {
		nonce, _, err := withBackend(ctx, h, "eth_getTransactionCount", func(ctx context.Context, b Backend) (uint64, error) {
			return b.PendingNonceAt(ctx, *from)
		})
		if err != nil {
			return common.Hash{}, "", fmt.Errorf("获取nonce失败: %w", err)
		}
		args["nonce"] = hexutil.Uint64(nonce)
	}

	// 节点签名时拿不到交易哈希，发送结果不确定的请求不再重发
	hash, node, err := withRetrier(ctx, h, h.once, "eth_sendTransaction", func(ctx context.Context, b Backend) (common.Hash, error) {
		return b.SendTransactionArgs(ctx, args)
	})
	if err != nil {
		return common.Hash{}, node, fmt.Errorf("发送交易失败: %w", err)
	}
	logging.NewTransactionLogger(h.logger, hash.Hex()).WithField("node", node).Info("交易已交由节点签名发送")
	return hash, node, nil
}

// sign 补全 nonce、费用和 gas 后签名
func (h *RPCHandler) sign(ctx context.Context, b Backend, tx *models.Transaction) (*types.Transaction, error) {
	filled, err := h.fill(ctx, b, tx)
	if err != nil {
		return nil, err
	}

	chainID, err := h.chainIDFor(ctx, b)
	if err != nil {
		return nil, err
	}

	txData, err := filled.ToTxData(chainID)
	if err != nil {
		return nil, err
	}

	signed, err := types.SignNewTx(h.key, types.LatestSignerForChainID(chainID), txData)
	if err != nil {
		return nil, fmt.Errorf("签名交易失败: %w", err)
	}
	return signed, nil
}

// isAlreadyKnown 节点已收到相同交易
func isAlreadyKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

// fill 补全未设置的字段，不修改调用方的交易对象
func (h *RPCHandler) fill(ctx context.Context, b Backend, tx *models.Transaction) (*models.Transaction, error) {
	filled := tx.Clone()
	from := *h.from
	filled.From = &from

	if filled.Nonce == nil {
		nonce, err := b.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("获取nonce失败: %w", err)
		}
		filled.Nonce = &nonce
	}

	switch filled.Type {
	case models.TransactionTypeDynamicFee:
		if filled.MaxPriorityFeePerGas == nil {
			tip, err := b.SuggestGasTipCap(ctx)
			if err != nil {
				return nil, fmt.Errorf("获取小费建议失败: %w", err)
			}
			filled.MaxPriorityFeePerGas = tip
		}
		if filled.MaxFeePerGas == nil {
			header, err := b.HeaderByNumber(ctx, nil)
			if err != nil {
				return nil, fmt.Errorf("获取最新区块头失败: %w", err)
			}
			if header.BaseFee == nil {
				return nil, apperrors.InvalidConfiguration("节点不支持 EIP-1559，无法发送 dynamic_fee 交易")
			}
			// 2*baseFee + tip
			feeCap := new(big.Int).Mul(header.BaseFee, big.NewInt(2))
			filled.MaxFeePerGas = feeCap.Add(feeCap, filled.MaxPriorityFeePerGas)
		}
	default:
		if filled.GasPrice == nil {
			price, err := b.SuggestGasPrice(ctx)
			if err != nil {
				return nil, fmt.Errorf("获取gas价格失败: %w", err)
			}
			filled.GasPrice = price
		}
	}

	if filled.GasLimit == nil {
		data, err := filled.DataBytes()
		if err != nil {
			return nil, err
		}
		msg := ethereum.CallMsg{
			From:       from,
			To:         filled.To,
			Value:      filled.Value,
			Data:       data,
			AccessList: filled.AccessList,
		}
		if filled.Type == models.TransactionTypeDynamicFee {
			msg.GasFeeCap = filled.MaxFeePerGas
			msg.GasTipCap = filled.MaxPriorityFeePerGas
		} else {
			msg.GasPrice = filled.GasPrice
		}
		gas, err := b.EstimateGas(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("估算gas失败: %w", err)
		}
		filled.GasLimit = &gas
	}

	return filled, nil
}

// chainIDFor 配置的链ID，未配置时从节点获取一次并缓存
func (h *RPCHandler) chainIDFor(ctx context.Context, b Backend) (*big.Int, error) {
	h.chainMu.Lock()
	defer h.chainMu.Unlock()

	if h.chainID != nil {
		return h.chainID, nil
	}
	chainID, err := b.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("获取链ID失败: %w", err)
	}
	h.chainID = chainID
	return chainID, nil
}

// transactionArgs eth_sendTransaction 参数，未设置的字段不传
func transactionArgs(tx *models.Transaction, from common.Address) map[string]interface{} {
	args := map[string]interface{}{
		"from": from,
		"data": tx.Data,
	}
	if tx.To != nil {
		args["to"] = *tx.To
	}
	if tx.Value != nil {
		args["value"] = (*hexutil.Big)(tx.Value)
	}
	if tx.Nonce != nil {
		args["nonce"] = hexutil.Uint64(*tx.Nonce)
	}
	if tx.GasLimit != nil {
		args["gas"] = hexutil.Uint64(*tx.GasLimit)
	}
	if tx.GasPrice != nil {
		args["gasPrice"] = (*hexutil.Big)(tx.GasPrice)
	}
	if tx.MaxFeePerGas != nil {
		args["maxFeePerGas"] = (*hexutil.Big)(tx.MaxFeePerGas)
	}
	if tx.MaxPriorityFeePerGas != nil {
		args["maxPriorityFeePerGas"] = (*hexutil.Big)(tx.MaxPriorityFeePerGas)
	}
	if tx.Type != models.TransactionTypeLegacy {
		args["type"] = hexutil.Uint64(tx.Type)
	}
	if len(tx.AccessList) > 0 {
		args["accessList"] = tx.AccessList
	}
	return args
}

// withBackend 选择节点执行请求，传输层错误按重试配置重试
func withBackend[T any](ctx context.Context, h *RPCHandler, method string, fn func(context.Context, Backend) (T, error)) (T, string, error) {
	return withRetrier(ctx, h, h.retrier, method, fn)
}

func withRetrier[T any](ctx context.Context, h *RPCHandler, retrier *retry.Retrier, method string, fn func(context.Context, Backend) (T, error)) (T, string, error) {
	var lastNode string
	result, err := retry.Do(ctx, retrier, method, func() (T, error) {
		var zero T
		backend, node, err := h.provider.Acquire(ctx)
		if err != nil {
			return zero, err
		}
		lastNode = node

		reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		start := time.Now()
		result, err := fn(reqCtx, backend)
		h.provider.Release(node, err)

		entry := logging.NewRPCLogger(h.logger, method, node).WithField("duration", time.Since(start))
		if err != nil {
			entry.WithError(err).Debug("RPC请求失败")
		} else {
			entry.Debug("RPC请求完成")
		}
		return result, err
	})
	return result, lastNode, err
}
