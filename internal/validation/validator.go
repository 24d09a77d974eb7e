package validation

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"invoker/internal/errors"
	"invoker/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// 单笔交易 gas 上限告警阈值
const maxReasonableGas = 30_000_000

var (
	hashRegex = regexp.MustCompile("^0x[0-9a-fA-F]{64}$")
	dataRegex = regexp.MustCompile("^0x([0-9a-fA-F]{2})*$")
)

// Validator 调用参数验证器，在构建交易或发起调用之前检查用户输入
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下告警也视为无效
	reporter   *errors.Reporter
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                  `json:"valid"`
	Errors   []*errors.InvokeError `json:"errors,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
	DataType string                `json:"data_type"`
}

// Err 合并为一个 InvalidInvocation 错误，有效时返回 nil
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	messages := make([]string, 0, len(r.Errors)+len(r.Warnings))
	codes := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		messages = append(messages, err.Message)
		codes = append(codes, err.Code)
	}
	messages = append(messages, r.Warnings...)
	return errors.InvalidInvocation("%s验证失败: %s", r.DataType, strings.Join(messages, "; ")).
		WithComponent("validation").
		WithContext("codes", codes)
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		reporter:   errors.NewReporter(logger),
		rules:      make(map[string]ValidationRule),
	}

	v.registerDefaultRules()
	return v
}

// registerDefaultRules 注册默认验证规则
func (v *Validator) registerDefaultRules() {
	v.AddRule(NewAddressValidationRule())
	v.AddRule(NewHashValidationRule())
	v.AddRule(NewDataValidationRule())
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// Validate 按规则名验证单个值
func (v *Validator) Validate(ruleName string, data interface{}) error {
	rule, exists := v.rules[ruleName]
	if !exists {
		return errors.InvalidConfiguration("未知的验证规则: %s", ruleName).WithComponent("validation")
	}
	if err := rule.Validate(data); err != nil {
		return v.reporter.Report(err, "validation")
	}
	return nil
}

// ValidateCall 验证只读调用
func (v *Validator) ValidateCall(call *models.Call) *ValidationResult {
	if call == nil {
		return invalid("call", "INVALID_CALL", "调用为空")
	}

	result := newResult("call")
	if !dataRegex.MatchString(call.Data) && call.Data != "" {
		result.addError("INVALID_DATA", "调用数据不是有效的十六进制")
	}
	if call.To == (common.Address{}) {
		result.Warnings = append(result.Warnings, "调用目标为零地址")
	}
	if call.Value != nil && call.Value.Sign() < 0 {
		result.addError("NEGATIVE_VALUE", "调用金额不能为负数")
	}
	if call.Gas != nil && *call.Gas == 0 {
		result.addError("ZERO_GAS", "gas 不能为 0")
	}
	return v.finish(result)
}

// ValidateTransaction 验证写交易的字段组合
func (v *Validator) ValidateTransaction(tx *models.Transaction) *ValidationResult {
	if tx == nil {
		return invalid("transaction", "INVALID_TRANSACTION", "交易为空")
	}

	result := newResult("transaction")

	if !dataRegex.MatchString(tx.Data) && tx.Data != "" {
		result.addError("INVALID_DATA", "交易数据不是有效的十六进制")
	}
	if tx.IsContractCreation() && (tx.Data == "" || tx.Data == "0x") {
		result.addError("EMPTY_DEPLOY_DATA", "合约创建交易缺少字节码")
	}

	if tx.Value == nil {
		result.Warnings = append(result.Warnings, "交易金额为空")
	} else if tx.Value.Sign() < 0 {
		result.addError("NEGATIVE_VALUE", "交易金额不能为负数")
	}

	if tx.GasLimit != nil {
		if *tx.GasLimit == 0 {
			result.addError("ZERO_GAS", "gas 上限不能为 0")
		} else if *tx.GasLimit > maxReasonableGas {
			result.Warnings = append(result.Warnings, fmt.Sprintf("gas 上限过高: %d", *tx.GasLimit))
		}
	}

	switch tx.Type {
	case models.TransactionTypeLegacy, models.TransactionTypeAccessList:
		if tx.MaxFeePerGas != nil || tx.MaxPriorityFeePerGas != nil {
			result.addError("UNEXPECTED_FEE_CAP", fmt.Sprintf("%s 交易不能设置 EIP-1559 费用字段", tx.Type))
		}
		if tx.Type == models.TransactionTypeLegacy && len(tx.AccessList) > 0 {
			result.addError("UNEXPECTED_ACCESS_LIST", "legacy 交易不能携带访问列表")
		}
		checkNonNegative(result, "gasPrice", tx.GasPrice)
	case models.TransactionTypeDynamicFee:
		if tx.GasPrice != nil {
			result.addError("UNEXPECTED_GAS_PRICE", "dynamic_fee 交易不能设置 gasPrice")
		}
		checkNonNegative(result, "maxFeePerGas", tx.MaxFeePerGas)
		checkNonNegative(result, "maxPriorityFeePerGas", tx.MaxPriorityFeePerGas)
		if tx.MaxFeePerGas != nil && tx.MaxPriorityFeePerGas != nil &&
			tx.MaxPriorityFeePerGas.Cmp(tx.MaxFeePerGas) > 0 {
			result.addError("TIP_ABOVE_FEE_CAP", "maxPriorityFeePerGas 不能大于 maxFeePerGas")
		}
	default:
		result.addError("UNKNOWN_TX_TYPE", fmt.Sprintf("不支持的交易类型: %s", tx.Type))
	}

	return v.finish(result)
}

func (v *Validator) finish(result *ValidationResult) *ValidationResult {
	if v.strictMode && len(result.Warnings) > 0 {
		result.Valid = false
	}
	for _, err := range result.Errors {
		v.reporter.Report(err, "validation")
	}
	return result
}

func newResult(dataType string) *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		DataType: dataType,
		Errors:   make([]*errors.InvokeError, 0),
		Warnings: make([]string, 0),
	}
}

func invalid(dataType, code, message string) *ValidationResult {
	result := newResult(dataType)
	result.addError(code, message)
	return result
}

func (r *ValidationResult) addError(code, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, newValidationError(code, message))
}

func checkNonNegative(result *ValidationResult, field string, value *big.Int) {
	if value != nil && value.Sign() < 0 {
		result.addError("NEGATIVE_FEE", fmt.Sprintf("%s 不能为负数", field))
	}
}

func newValidationError(code, message string) *errors.InvokeError {
	return errors.NewInvokeError(errors.ErrorTypeInvalidInvocation, errors.SeverityLow, code, message).
		WithComponent("validation")
}

// ruleError 单值规则的错误按无效调用处理，具体原因记录在 code 中
func ruleError(code, format string, args ...interface{}) *errors.InvokeError {
	return errors.InvalidInvocation(format, args...).
		WithComponent("validation").
		WithContext("code", code)
}

// isValidHash 验证哈希格式
func isValidHash(hash string) bool {
	return hashRegex.MatchString(hash)
}

// isValidAddress 验证地址格式，要求 0x 前缀
func isValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") {
		return false
	}
	return common.IsHexAddress(addr)
}

// AddressValidationRule 地址验证规则
type AddressValidationRule struct{}

func NewAddressValidationRule() *AddressValidationRule {
	return &AddressValidationRule{}
}

func (r *AddressValidationRule) Name() string {
	return "address"
}

func (r *AddressValidationRule) Description() string {
	return "以太坊地址验证规则"
}

func (r *AddressValidationRule) Validate(data interface{}) error {
	addr, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidAddress(addr) {
		return ruleError("INVALID_ADDRESS_FORMAT", "地址格式无效: %q", addr)
	}
	return nil
}

// HashValidationRule 哈希验证规则
type HashValidationRule struct{}

func NewHashValidationRule() *HashValidationRule {
	return &HashValidationRule{}
}

func (r *HashValidationRule) Name() string {
	return "hash"
}

func (r *HashValidationRule) Description() string {
	return "交易哈希验证规则"
}

func (r *HashValidationRule) Validate(data interface{}) error {
	hash, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !isValidHash(hash) {
		return ruleError("INVALID_HASH_FORMAT", "哈希格式无效: %q", hash)
	}
	return nil
}

// DataValidationRule 调用数据验证规则
type DataValidationRule struct{}

func NewDataValidationRule() *DataValidationRule {
	return &DataValidationRule{}
}

func (r *DataValidationRule) Name() string {
	return "data"
}

func (r *DataValidationRule) Description() string {
	return "0x前缀、偶数长度的十六进制数据"
}

func (r *DataValidationRule) Validate(data interface{}) error {
	input, ok := data.(string)
	if !ok {
		return fmt.Errorf("数据类型不是字符串")
	}

	if !dataRegex.MatchString(input) {
		return ruleError("INVALID_DATA", "数据不是有效的十六进制")
	}
	return nil
}

// GetValidationStats 获取验证统计信息
func (v *Validator) GetValidationStats() map[string]interface{} {
	return map[string]interface{}{
		"strict_mode":      v.strictMode,
		"registered_rules": len(v.rules),
		"error_stats":      v.reporter.Snapshot(),
	}
}

// SetStrictMode 设置严格模式
func (v *Validator) SetStrictMode(strict bool) {
	v.strictMode = strict
	v.logger.Infof("验证器严格模式设置为: %t", strict)
}
