package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"invoker/internal/codec"
	"invoker/internal/contract"
	"invoker/internal/errors"
	"invoker/internal/logging"
	"invoker/internal/registry"
	"invoker/internal/validation"
	"invoker/pkg/models"
)

// ErrUnknownContract 注册表中没有该合约
var ErrUnknownContract = stderrors.New("未知合约")

// HandlerFactory 为目标地址创建处理器，address 为 nil 表示未部署
type HandlerFactory func(address *common.Address) contract.Handler

// Request 文本形式的调用请求，供 HTTP API 和命令行共用
type Request struct {
	Contract             string   `json:"contract" binding:"required"`
	Address              string   `json:"address,omitempty"` // 覆盖注册表中的地址
	Method               string   `json:"method,omitempty"`
	Args                 []string `json:"args,omitempty"`
	From                 string   `json:"from,omitempty"`
	Value                string   `json:"value,omitempty"` // 十进制或0x十六进制 wei
	Gas                  uint64   `json:"gas,omitempty"`
	GasPrice             string   `json:"gas_price,omitempty"`
	MaxFeePerGas         string   `json:"max_fee_per_gas,omitempty"`
	MaxPriorityFeePerGas string   `json:"max_priority_fee_per_gas,omitempty"`
	Nonce                *uint64  `json:"nonce,omitempty"`
	Type                 string   `json:"type,omitempty"`
	Block                string   `json:"block,omitempty"` // latest 或区块号
}

// Service 根据注册表把文本请求转换为调用并执行
type Service struct {
	registry  *registry.Registry
	handlers  HandlerFactory
	validator *validation.Validator
	reporter  *errors.Reporter
	logger    *logrus.Logger
}

// New 创建服务
func New(reg *registry.Registry, handlers HandlerFactory, validator *validation.Validator, reporter *errors.Reporter, logger *logrus.Logger) *Service {
	return &Service{
		registry:  reg,
		handlers:  handlers,
		validator: validator,
		reporter:  reporter,
		logger:    logger,
	}
}

// Registry 合约注册表
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Call 执行只读调用
func (s *Service) Call(ctx context.Context, req *Request) (map[string]interface{}, error) {
	c, err := s.bind(req)
	if err != nil {
		return nil, s.report(err)
	}
	values, err := s.arguments(c, req)
	if err != nil {
		return nil, s.report(err)
	}
	if d, _ := c.ABI().Function(req.Method); d.Mutability() != codec.ReadOnly {
		return nil, s.report(errors.InvalidInvocation("方法 %s 会修改状态，请使用 send", req.Method))
	}

	inv, err := c.Read(req.Method, values...)
	if err != nil {
		return nil, s.report(err)
	}

	opts, err := callOptions(req)
	if err != nil {
		return nil, s.report(err)
	}
	block, err := parseBlock(req.Block)
	if err != nil {
		return nil, s.report(err)
	}
	if err := s.validateCall(c, inv, opts.From, opts.Gas, opts.Value); err != nil {
		return nil, s.report(err)
	}

	logging.NewInvocationLogger(s.logger, inv.Kind().String(), req.Method).Debugf("调用合约 %s", req.Contract)
	result, err := inv.Call(ctx, block, opts)
	return result, s.report(err)
}

// Estimate 估算方法调用或部署所需 gas
func (s *Service) Estimate(ctx context.Context, req *Request) (uint64, error) {
	c, err := s.bind(req)
	if err != nil {
		return 0, s.report(err)
	}
	values, err := s.arguments(c, req)
	if err != nil {
		return 0, s.report(err)
	}

	inv, err := c.Method(req.Method, values...)
	if err != nil {
		return 0, s.report(err)
	}

	opts := contract.EstimateOptions{}
	if opts.From, err = parseAddress(req.From); err != nil {
		return 0, s.report(err)
	}
	if opts.Value, err = parseBig(req.Value); err != nil {
		return 0, s.report(err)
	}
	if req.Gas > 0 {
		gas := req.Gas
		opts.Gas = &gas
	}
	if err := s.validateCall(c, inv, opts.From, opts.Gas, opts.Value); err != nil {
		return 0, s.report(err)
	}

	gas, err := inv.EstimateGas(ctx, opts)
	return gas, s.report(err)
}

// Send 发送写交易，只读方法返回 InvalidInvocation
func (s *Service) Send(ctx context.Context, req *Request) (common.Hash, error) {
	c, err := s.bind(req)
	if err != nil {
		return common.Hash{}, s.report(err)
	}
	values, err := s.arguments(c, req)
	if err != nil {
		return common.Hash{}, s.report(err)
	}

	inv, err := c.Method(req.Method, values...)
	if err != nil {
		return common.Hash{}, s.report(err)
	}

	opts, err := payableOptions(req)
	if err != nil {
		return common.Hash{}, s.report(err)
	}

	var hash common.Hash
	switch typed := inv.(type) {
	case *contract.PayableSendInvocation:
		if err := s.validate(typed.CreateTransaction(opts)); err != nil {
			return common.Hash{}, s.report(err)
		}
		hash, err = typed.Send(ctx, opts)
	case *contract.NonPayableSendInvocation:
		if opts.Value != nil && opts.Value.Sign() != 0 {
			return common.Hash{}, s.report(errors.InvalidInvocation("方法 %s 不可支付，不能携带金额", req.Method))
		}
		if err := s.validate(typed.CreateTransaction(opts.TransactionOptions)); err != nil {
			return common.Hash{}, s.report(err)
		}
		hash, err = typed.Send(ctx, opts.TransactionOptions)
	default:
		return common.Hash{}, s.report(errors.InvalidInvocation("方法 %s 是只读方法，不能发送交易", req.Method))
	}
	if err != nil {
		return common.Hash{}, s.report(err)
	}

	logging.NewTransactionLogger(s.logger, hash.Hex()).Infof("%s.%s 交易已发送", req.Contract, req.Method)
	return hash, nil
}

// Deploy 发送部署交易
func (s *Service) Deploy(ctx context.Context, req *Request) (common.Hash, error) {
	artifact, ok := s.registry.Get(req.Contract)
	if !ok {
		return common.Hash{}, s.report(fmt.Errorf("%w: %s", ErrUnknownContract, req.Contract))
	}

	c, err := contract.NewContract(artifact.ABI, s.handlers(nil))
	if err != nil {
		return common.Hash{}, s.report(err)
	}
	c.WithBytecode(artifact.Bytecode)

	values, err := codec.ParseArguments(artifact.ABI.Constructor().Inputs(), req.Args)
	if err != nil {
		return common.Hash{}, s.report(err)
	}

	inv, err := c.Deploy(values...)
	if err != nil {
		return common.Hash{}, s.report(err)
	}

	opts, err := payableOptions(req)
	if err != nil {
		return common.Hash{}, s.report(err)
	}
	if err := s.validate(inv.CreateTransaction(opts)); err != nil {
		return common.Hash{}, s.report(err)
	}

	hash, err := inv.Send(ctx, opts)
	if err != nil {
		return common.Hash{}, s.report(err)
	}
	logging.NewTransactionLogger(s.logger, hash.Hex()).Infof("合约 %s 部署交易已发送", req.Contract)
	return hash, nil
}

// EncodeCall 编码方法调用数据
func (s *Service) EncodeCall(req *Request) (string, error) {
	c, err := s.bind(req)
	if err != nil {
		return "", s.report(err)
	}
	values, err := s.arguments(c, req)
	if err != nil {
		return "", s.report(err)
	}
	inv, err := c.Method(req.Method, values...)
	if err != nil {
		return "", s.report(err)
	}
	encoder, ok := inv.(interface{ EncodeABI() (string, error) })
	if !ok {
		return "", s.report(errors.InvalidInvocation("方法 %s 无法编码", req.Method))
	}
	data, err := encoder.EncodeABI()
	return data, s.report(err)
}

// bind 按请求中的合约名和地址创建合约绑定
func (s *Service) bind(req *Request) (*contract.Contract, error) {
	if req == nil {
		return nil, errors.InvalidInvocation("请求为空")
	}
	artifact, ok := s.registry.Get(req.Contract)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, req.Contract)
	}

	address := artifact.Address
	if req.Address != "" {
		if err := s.validator.Validate("address", req.Address); err != nil {
			return nil, err
		}
		addr := common.HexToAddress(req.Address)
		address = &addr
	}

	return contract.NewContract(artifact.ABI, s.handlers(address))
}

// arguments 将文本参数按方法输入类型转换
func (s *Service) arguments(c *contract.Contract, req *Request) ([]interface{}, error) {
	if req.Method == "" {
		return nil, errors.InvalidInvocation("缺少方法名")
	}
	d, ok := c.ABI().Function(req.Method)
	if !ok {
		return nil, errors.InvalidInvocation("合约 %s 中不存在方法: %s", req.Contract, req.Method)
	}
	return codec.ParseArguments(d.Inputs(), req.Args)
}

// validateCall 只读调用和估算发出前的校验，未部署的合约交给调用层报告
func (s *Service) validateCall(c *contract.Contract, inv contract.Invocation, from *common.Address, gas *uint64, value *big.Int) error {
	to := c.Handler().Address()
	if to == nil {
		return nil
	}
	data, err := inv.EncodeABI()
	if err != nil {
		return err
	}
	call := &models.Call{From: from, To: *to, Gas: gas, Value: value, Data: data}
	return s.validator.ValidateCall(call).Err()
}

func (s *Service) validate(tx *models.Transaction, err error) error {
	if err != nil {
		return err
	}
	return s.validator.ValidateTransaction(tx).Err()
}

func (s *Service) report(err error) error {
	if err == nil || s.reporter == nil {
		return err
	}
	return s.reporter.Report(err, "service")
}

func callOptions(req *Request) (contract.CallOptions, error) {
	var (
		opts contract.CallOptions
		err  error
	)
	if opts.From, err = parseAddress(req.From); err != nil {
		return opts, err
	}
	if opts.Value, err = parseBig(req.Value); err != nil {
		return opts, err
	}
	if opts.GasPrice, err = parseBig(req.GasPrice); err != nil {
		return opts, err
	}
	if req.Gas > 0 {
		gas := req.Gas
		opts.Gas = &gas
	}
	return opts, nil
}

func payableOptions(req *Request) (contract.PayableOptions, error) {
	var (
		opts contract.PayableOptions
		err  error
	)
	if opts.Type, err = models.ParseTransactionType(req.Type); err != nil {
		return opts, errors.InvalidInvocation("%v", err)
	}
	if opts.From, err = parseAddress(req.From); err != nil {
		return opts, err
	}
	if opts.Value, err = parseBig(req.Value); err != nil {
		return opts, err
	}
	if opts.GasPrice, err = parseBig(req.GasPrice); err != nil {
		return opts, err
	}
	if opts.MaxFeePerGas, err = parseBig(req.MaxFeePerGas); err != nil {
		return opts, err
	}
	if opts.MaxPriorityFeePerGas, err = parseBig(req.MaxPriorityFeePerGas); err != nil {
		return opts, err
	}
	if req.Gas > 0 {
		gas := req.Gas
		opts.GasLimit = &gas
	}
	if req.Nonce != nil {
		nonce := *req.Nonce
		opts.Nonce = &nonce
	}
	return opts, nil
}

func parseAddress(raw string) (*common.Address, error) {
	if raw == "" {
		return nil, nil
	}
	if !strings.HasPrefix(raw, "0x") || !common.IsHexAddress(raw) {
		return nil, errors.InvalidInvocation("无效的地址: %s", raw)
	}
	addr := common.HexToAddress(raw)
	return &addr, nil
}

// parseBig 解析十进制或0x十六进制整数，空串返回 nil
func parseBig(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, nil
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		v, err := hexutil.DecodeBig(raw)
		if err != nil {
			return nil, errors.InvalidInvocation("无效的数值 %s: %v", raw, err)
		}
		return v, nil
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.InvalidInvocation("无效的数值: %s", raw)
	}
	return v, nil
}

// parseBlock 空串或 latest 表示最新区块
func parseBlock(raw string) (*big.Int, error) {
	if raw == "" || raw == "latest" {
		return nil, nil
	}
	block, err := parseBig(raw)
	if err != nil {
		return nil, err
	}
	if block.Sign() < 0 {
		return nil, errors.InvalidInvocation("区块号不能为负数: %s", raw)
	}
	return block, nil
}
