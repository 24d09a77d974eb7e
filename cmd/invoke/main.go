package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"invoker/internal/api"
	"invoker/internal/app"
	"invoker/internal/config"
	"invoker/internal/logging"
	"invoker/internal/registry"
	"invoker/internal/service"
)

var (
	// 基础参数
	configFile string
	verbose    bool
	strict     bool

	// 交易参数
	address          string
	from             string
	value            string
	gas              uint64
	gasPrice         string
	maxFee           string
	maxPriorityFee   string
	nonce            int64
	txType           string
	block            string
	decodeTo         string
	journalLimit     int
	artifactABI      string
	artifactBytecode string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "invoke",
		Short: "合约调用工具",
		Long:  `按ABI对已注册的合约发起只读调用、估算gas、发送交易和部署，并记录已发送的交易`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "严格验证，告警也视为失败")

	callCmd := &cobra.Command{
		Use:   "call <contract> <method> [args...]",
		Short: "只读调用",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runCall,
	}
	estimateCmd := &cobra.Command{
		Use:   "estimate <contract> <method> [args...]",
		Short: "估算gas",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runEstimate,
	}
	sendCmd := &cobra.Command{
		Use:   "send <contract> <method> [args...]",
		Short: "发送交易",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runSend,
	}
	deployCmd := &cobra.Command{
		Use:   "deploy <contract> [constructor args...]",
		Short: "部署合约",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDeploy,
	}
	encodeCmd := &cobra.Command{
		Use:   "encode <contract> <method> [args...]",
		Short: "编码调用数据",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runEncode,
	}
	decodeCmd := &cobra.Command{
		Use:   "decode <data>",
		Short: "解码调用数据",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode,
	}
	journalCmd := &cobra.Command{
		Use:   "journal [hash]",
		Short: "查看已发送的交易",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runJournal,
	}
	contractsCmd := &cobra.Command{
		Use:   "contracts",
		Short: "列出已注册的合约",
		Args:  cobra.NoArgs,
		RunE:  runContracts,
	}
	registerCmd := &cobra.Command{
		Use:   "register <name>",
		Short: "注册合约",
		Args:  cobra.ExactArgs(1),
		RunE:  runRegister,
	}
	setAddressCmd := &cobra.Command{
		Use:   "set-address <name> <address>",
		Short: "记录合约部署地址",
		Args:  cobra.ExactArgs(2),
		RunE:  runSetAddress,
	}

	for _, cmd := range []*cobra.Command{callCmd, estimateCmd, sendCmd, deployCmd, encodeCmd} {
		cmd.Flags().StringVar(&address, "address", "", "覆盖注册表中的合约地址")
		cmd.Flags().StringVar(&from, "from", "", "发送地址")
		cmd.Flags().StringVar(&value, "value", "", "金额 (wei，十进制或0x)")
		cmd.Flags().Uint64Var(&gas, "gas", 0, "gas上限")
	}
	for _, cmd := range []*cobra.Command{sendCmd, deployCmd} {
		cmd.Flags().StringVar(&gasPrice, "gas-price", "", "gas价格 (legacy/access_list)")
		cmd.Flags().StringVar(&maxFee, "max-fee", "", "maxFeePerGas (dynamic_fee)")
		cmd.Flags().StringVar(&maxPriorityFee, "max-priority-fee", "", "maxPriorityFeePerGas (dynamic_fee)")
		cmd.Flags().Int64Var(&nonce, "nonce", -1, "nonce，负数表示由节点决定")
		cmd.Flags().StringVar(&txType, "type", "", "交易类型 (legacy, access_list, dynamic_fee)")
	}
	callCmd.Flags().StringVar(&gasPrice, "gas-price", "", "gas价格")
	callCmd.Flags().StringVar(&block, "block", "latest", "区块号")
	decodeCmd.Flags().StringVar(&decodeTo, "to", "", "目标合约地址，用于优先匹配")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "显示条数")
	registerCmd.Flags().StringVar(&artifactABI, "abi", "", "ABI文件路径")
	registerCmd.Flags().StringVar(&artifactBytecode, "bytecode", "", "字节码文件路径")
	registerCmd.Flags().StringVar(&address, "address", "", "部署地址")
	_ = registerCmd.MarkFlagRequired("abi")

	contractsCmd.AddCommand(registerCmd, setAddressCmd)
	rootCmd.AddCommand(callCmd, estimateCmd, sendCmd, deployCmd, encodeCmd, decodeCmd, journalCmd, contractsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// setup 加载配置并组装服务
func setup(ctx context.Context, opts ...app.Option) (*app.App, error) {
	bootstrap := logrus.New()
	bootstrap.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig(configFile, bootstrap)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("创建日志器失败: %w", err)
	}
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	opts = append(opts, app.WithBaseDir(filepath.Dir(configFile)), app.WithStrictValidation(strict))
	return app.New(ctx, cfg, logger, opts...)
}

func request(args []string) *service.Request {
	req := &service.Request{
		Contract:             args[0],
		Address:              address,
		From:                 from,
		Value:                value,
		Gas:                  gas,
		GasPrice:             gasPrice,
		MaxFeePerGas:         maxFee,
		MaxPriorityFeePerGas: maxPriorityFee,
		Type:                 txType,
		Block:                block,
	}
	if len(args) > 1 {
		req.Method = args[1]
		req.Args = args[2:]
	}
	if nonce >= 0 {
		n := uint64(nonce)
		req.Nonce = &n
	}
	return req
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runCall(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.Service.Call(a.Context(), request(args))
	if err != nil {
		return err
	}
	return printJSON(api.FormatResult(result))
}

func runEstimate(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	gasUsed, err := a.Service.Estimate(a.Context(), request(args))
	if err != nil {
		return err
	}
	fmt.Println(gasUsed)
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), app.WithSignals())
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start()

	hash, err := a.Service.Send(a.Context(), request(args))
	if err != nil {
		return err
	}
	fmt.Println(hash.Hex())
	return nil
}

func runDeploy(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), app.WithSignals())
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start()

	req := request(args[:1])
	req.Args = args[1:]
	hash, err := a.Service.Deploy(a.Context(), req)
	if err != nil {
		return err
	}
	fmt.Println(hash.Hex())
	return nil
}

func runEncode(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), app.Offline())
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := a.Service.EncodeCall(request(args))
	if err != nil {
		return err
	}
	fmt.Println(data)
	return nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), app.Offline())
	if err != nil {
		return err
	}
	defer a.Close()

	var to *common.Address
	if decodeTo != "" {
		if err := a.Validator.Validate("address", decodeTo); err != nil {
			return err
		}
		addr := common.HexToAddress(decodeTo)
		to = &addr
	}

	decoded, err := a.Decoder.Decode(a.Context(), args[0], to)
	if err != nil {
		return err
	}
	decoded.Params = api.FormatResult(decoded.Params)
	return printJSON(decoded)
}

func runJournal(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), app.Offline())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.Journal == nil {
		return fmt.Errorf("交易日志未启用")
	}

	if len(args) == 1 {
		if err := a.Validator.Validate("hash", args[0]); err != nil {
			return err
		}
		entry, ok, err := a.Journal.Get(common.HexToHash(args[0]).Hex())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("交易不存在: %s", args[0])
		}
		return printJSON(entry)
	}

	entries, err := a.Journal.List(journalLimit)
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func runContracts(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), app.Offline())
	if err != nil {
		return err
	}
	defer a.Close()

	for _, artifact := range a.Registry.List() {
		status := "未部署"
		if artifact.Address != nil {
			status = artifact.Address.Hex()
		}
		fmt.Printf("%-20s %s (%d 个方法)\n", artifact.Name, status, len(artifact.ABI.Functions()))
	}
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), app.Offline())
	if err != nil {
		return err
	}
	defer a.Close()

	abiJSON, err := os.ReadFile(artifactABI)
	if err != nil {
		return fmt.Errorf("读取ABI失败: %w", err)
	}
	var bytecode []byte
	if artifactBytecode != "" {
		if bytecode, err = os.ReadFile(artifactBytecode); err != nil {
			return fmt.Errorf("读取字节码失败: %w", err)
		}
	}

	artifact, err := registry.NewArtifact(args[0], address, string(abiJSON), string(bytecode))
	if err != nil {
		return err
	}
	if a.Config.Registry == nil || a.Config.Registry.DSN == "" {
		a.Logger.Warn("未配置 registry.dsn，注册只在本次运行中有效")
	}
	if err := a.Registry.Save(a.Context(), artifact); err != nil {
		return err
	}
	fmt.Printf("合约 %s 已注册\n", artifact.Name)
	return nil
}

func runSetAddress(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context(), app.Offline())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Validator.Validate("address", args[1]); err != nil {
		return err
	}
	if err := a.Registry.SetAddress(a.Context(), args[0], common.HexToAddress(args[1])); err != nil {
		return err
	}
	fmt.Printf("合约 %s 地址已更新为 %s\n", args[0], common.HexToAddress(args[1]).Hex())
	return nil
}
