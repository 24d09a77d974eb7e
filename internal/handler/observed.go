package handler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"invoker/internal/codec"
	"invoker/internal/contract"
	"invoker/internal/output"
	"invoker/pkg/models"
)

// Recorder 交易日志
type Recorder interface {
	Record(event *models.InvocationEvent) (uint64, error)
}

// MethodResolver 由调用数据解析方法签名
type MethodResolver interface {
	MethodName(ctx context.Context, input string, to *common.Address) string
}

// nodeSender 能报告实际发送节点的处理器
type nodeSender interface {
	SendVia(ctx context.Context, tx *models.Transaction) (common.Hash, string, error)
}

var _ contract.Handler = (*Observed)(nil)

// Observed 在发送成功后写交易日志并发布事件的处理器装饰器。
// 日志和发布失败只记录警告，不影响发送结果
type Observed struct {
	inner     contract.Handler
	journal   Recorder
	publisher output.Publisher
	resolver  MethodResolver
	logger    *logrus.Logger
}

// NewObserved 包装处理器，journal、publisher、resolver 均可为 nil
func NewObserved(inner contract.Handler, journal Recorder, publisher output.Publisher, resolver MethodResolver, logger *logrus.Logger) *Observed {
	if publisher == nil {
		publisher = output.NoopPublisher{}
	}
	return &Observed{
		inner:     inner,
		journal:   journal,
		publisher: publisher,
		resolver:  resolver,
		logger:    logger,
	}
}

// Address 绑定的目标合约地址
func (o *Observed) Address() *common.Address {
	return o.inner.Address()
}

// Call 直接转发
func (o *Observed) Call(ctx context.Context, call *models.Call, fn *codec.FunctionDescriptor, block *big.Int) (map[string]interface{}, error) {
	return o.inner.Call(ctx, call, fn, block)
}

// EstimateGas 直接转发
func (o *Observed) EstimateGas(ctx context.Context, call *models.Call) (uint64, error) {
	return o.inner.EstimateGas(ctx, call)
}

// Send 发送交易并记录
func (o *Observed) Send(ctx context.Context, tx *models.Transaction) (common.Hash, error) {
	var (
		hash common.Hash
		node string
		err  error
	)
	if sender, ok := o.inner.(nodeSender); ok {
		hash, node, err = sender.SendVia(ctx, tx)
	} else {
		hash, err = o.inner.Send(ctx, tx)
	}
	if err != nil {
		return hash, err
	}

	event := models.NewInvocationEvent(hash, tx, o.methodName(ctx, tx))
	event.Node = node

	if o.journal != nil {
		if _, err := o.journal.Record(event); err != nil {
			o.logger.Warnf("记录交易 %s 失败: %v", event.Hash, err)
		}
	}
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warnf("发布交易 %s 事件失败: %v", event.Hash, err)
	}
	return hash, nil
}

func (o *Observed) methodName(ctx context.Context, tx *models.Transaction) string {
	if tx.IsContractCreation() {
		return "constructor"
	}
	if o.resolver == nil {
		return ""
	}
	return o.resolver.MethodName(ctx, tx.Data, tx.To)
}
