package contract

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"invoker/internal/codec"
	"invoker/pkg/models"
)

// Handler 网络处理器：绑定目标地址，执行调用、发送交易、估算gas。
// 调用对象只引用处理器，不管理其生命周期；处理器可被多个调用并发共享
type Handler interface {
	// Address 绑定的目标合约地址，未绑定时为 nil
	Address() *common.Address
	// Call 在指定区块执行只读调用并按描述符输出类型解码，block 为 nil 表示最新区块
	Call(ctx context.Context, call *models.Call, fn *codec.FunctionDescriptor, block *big.Int) (map[string]interface{}, error)
	// Send 发送交易，返回交易哈希
	Send(ctx context.Context, tx *models.Transaction) (common.Hash, error)
	// EstimateGas 估算调用所需gas
	EstimateGas(ctx context.Context, call *models.Call) (uint64, error)
}
