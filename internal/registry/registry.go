package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"

	"invoker/internal/codec"
	"invoker/internal/config"
)

// Artifact 合约制品：ABI、字节码与部署地址
type Artifact struct {
	Name     string
	Address  *common.Address
	ABI      *codec.ContractABI
	ABIJSON  string
	Bytecode []byte
}

// ArtifactStore 持久化的制品来源
type ArtifactStore interface {
	LoadArtifacts(ctx context.Context) ([]*config.ArtifactRecord, error)
	SaveArtifact(ctx context.Context, record *config.ArtifactRecord) error
}

// Registry 合约注册表，可并发使用
type Registry struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
	store     ArtifactStore
	logger    *logrus.Logger
}

// New 创建空注册表，store 可为 nil
func New(store ArtifactStore, logger *logrus.Logger) *Registry {
	return &Registry{
		artifacts: make(map[string]*Artifact),
		store:     store,
		logger:    logger,
	}
}

// NewArtifact 解析 ABI 和十六进制字节码
func NewArtifact(name, address, abiJSON, bytecode string) (*Artifact, error) {
	if name == "" {
		return nil, fmt.Errorf("合约名称不能为空")
	}

	parsed, err := codec.ParseABIString(abiJSON)
	if err != nil {
		return nil, fmt.Errorf("合约 %s: %w", name, err)
	}

	artifact := &Artifact{
		Name:    name,
		ABI:     parsed,
		ABIJSON: abiJSON,
	}

	if address != "" {
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("合约 %s 地址无效: %s", name, address)
		}
		addr := common.HexToAddress(address)
		artifact.Address = &addr
	}

	if bytecode = strings.TrimSpace(bytecode); bytecode != "" {
		if !strings.HasPrefix(bytecode, "0x") {
			bytecode = "0x" + bytecode
		}
		code, err := hexutil.Decode(bytecode)
		if err != nil {
			return nil, fmt.Errorf("合约 %s 字节码无效: %w", name, err)
		}
		artifact.Bytecode = code
	}

	return artifact, nil
}

// LoadFromConfig 加载配置文件中声明的合约，路径相对于 baseDir
func (r *Registry) LoadFromConfig(contracts []*config.ContractConfig, baseDir string) error {
	for _, c := range contracts {
		abiJSON, err := os.ReadFile(resolve(baseDir, c.ABIPath))
		if err != nil {
			return fmt.Errorf("读取合约 %s 的ABI失败: %w", c.Name, err)
		}

		var bytecode string
		if c.BytecodePath != "" {
			data, err := os.ReadFile(resolve(baseDir, c.BytecodePath))
			if err != nil {
				return fmt.Errorf("读取合约 %s 的字节码失败: %w", c.Name, err)
			}
			bytecode = string(data)
		}

		artifact, err := NewArtifact(c.Name, c.Address, string(abiJSON), bytecode)
		if err != nil {
			return err
		}
		r.Register(artifact)
	}
	return nil
}

// LoadFromStore 从持久化来源加载全部启用的合约
func (r *Registry) LoadFromStore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}

	records, err := r.store.LoadArtifacts(ctx)
	if err != nil {
		return err
	}

	for _, record := range records {
		artifact, err := NewArtifact(record.Name, record.Address, record.ABI, record.Bytecode)
		if err != nil {
			r.logger.Warnf("跳过无效的合约制品 %s: %v", record.Name, err)
			continue
		}
		r.Register(artifact)
	}
	r.logger.Infof("已从数据库加载 %d 个合约", len(records))
	return nil
}

// Register 注册或替换合约
func (r *Registry) Register(artifact *Artifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.artifacts[artifact.Name] = artifact
}

// Save 注册合约，存在持久化来源时同步写入
func (r *Registry) Save(ctx context.Context, artifact *Artifact) error {
	r.Register(artifact)
	if r.store == nil {
		return nil
	}

	record := &config.ArtifactRecord{
		Name: artifact.Name,
		ABI:  artifact.ABIJSON,
	}
	if artifact.Address != nil {
		record.Address = artifact.Address.Hex()
	}
	if len(artifact.Bytecode) > 0 {
		record.Bytecode = hexutil.Encode(artifact.Bytecode)
	}
	return r.store.SaveArtifact(ctx, record)
}

// Get 按名称查找合约
func (r *Registry) Get(name string) (*Artifact, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.artifacts[name]
	return a, ok
}

// List 全部合约，按名称排序
func (r *Registry) List() []*Artifact {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Artifact, 0, len(r.artifacts))
	for _, a := range r.artifacts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FunctionBySelector 在全部合约的ABI中查找选择器，优先匹配绑定到 to 的合约
func (r *Registry) FunctionBySelector(selector []byte, to *common.Address) (*codec.FunctionDescriptor, string, bool) {
	artifacts := r.List()

	if to != nil {
		for _, a := range artifacts {
			if a.Address != nil && *a.Address == *to {
				if d, ok := a.ABI.FunctionBySelector(selector); ok {
					return d, a.Name, true
				}
			}
		}
	}

	for _, a := range artifacts {
		if d, ok := a.ABI.FunctionBySelector(selector); ok {
			return d, a.Name, true
		}
	}
	return nil, "", false
}

// SetAddress 记录部署地址，存在持久化来源时同步写入
func (r *Registry) SetAddress(ctx context.Context, name string, address common.Address) error {
	r.mu.Lock()
	artifact, ok := r.artifacts[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("未知合约: %s", name)
	}
	updated := *artifact
	updated.Address = &address
	r.artifacts[name] = &updated
	r.mu.Unlock()

	if r.store == nil {
		return nil
	}

	record := &config.ArtifactRecord{
		Name:    updated.Name,
		Address: address.Hex(),
		ABI:     updated.ABIJSON,
	}
	if len(updated.Bytecode) > 0 {
		record.Bytecode = hexutil.Encode(updated.Bytecode)
	}
	return r.store.SaveArtifact(ctx, record)
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
