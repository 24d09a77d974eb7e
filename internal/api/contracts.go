package api

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"invoker/internal/registry"
)

// ContractView 合约的对外视图
type ContractView struct {
	Name        string   `json:"name"`
	Address     string   `json:"address,omitempty"`
	Deployed    bool     `json:"deployed"`
	HasBytecode bool     `json:"has_bytecode"`
	Methods     []string `json:"methods"`
}

// RegisterContractRequest 注册合约请求
type RegisterContractRequest struct {
	Name     string `json:"name" binding:"required"`
	Address  string `json:"address"`
	ABI      string `json:"abi" binding:"required"`
	Bytecode string `json:"bytecode"`
}

// SetAddressRequest 更新部署地址请求
type SetAddressRequest struct {
	Address string `json:"address" binding:"required"`
}

func newContractView(a *registry.Artifact) *ContractView {
	view := &ContractView{
		Name:        a.Name,
		Deployed:    a.Address != nil,
		HasBytecode: len(a.Bytecode) > 0,
		Methods:     []string{},
	}
	if a.Address != nil {
		view.Address = a.Address.Hex()
	}
	for _, fn := range a.ABI.Functions() {
		view.Methods = append(view.Methods, fn.String())
	}
	return view
}

// listContracts 列出注册表中的合约
func (s *Server) listContracts(c *gin.Context) {
	artifacts := s.opts.Service.Registry().List()
	views := make([]*ContractView, 0, len(artifacts))
	for _, a := range artifacts {
		views = append(views, newContractView(a))
	}
	c.JSON(http.StatusOK, gin.H{
		"contracts": views,
		"total":     len(views),
	})
}

// getContract 查询单个合约
func (s *Server) getContract(c *gin.Context) {
	name := c.Param("name")
	artifact, ok := s.opts.Service.Registry().Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "合约不存在", "name": name})
		return
	}

	view := newContractView(artifact)
	body := gin.H{
		"contract": view,
		"abi":      artifact.ABIJSON,
	}
	if c.Query("bytecode") == "true" && view.HasBytecode {
		body["bytecode"] = hexutil.Encode(artifact.Bytecode)
	}
	c.JSON(http.StatusOK, body)
}

// registerContract 注册或替换合约
func (s *Server) registerContract(c *gin.Context) {
	var req RegisterContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}

	artifact, err := registry.NewArtifact(req.Name, req.Address, req.ABI, req.Bytecode)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "合约制品无效", "message": err.Error()})
		return
	}

	if err := s.opts.Service.Registry().Save(c.Request.Context(), artifact); err != nil {
		s.logger.Errorf("保存合约 %s 失败: %v", req.Name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存合约失败", "message": err.Error()})
		return
	}

	s.logger.Infof("合约 %s 已注册", req.Name)
	c.JSON(http.StatusCreated, gin.H{"contract": newContractView(artifact)})
}

// setContractAddress 记录部署地址
func (s *Server) setContractAddress(c *gin.Context) {
	name := c.Param("name")
	if _, ok := s.opts.Service.Registry().Get(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "合约不存在", "name": name})
		return
	}

	var req SetAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}
	if err := s.opts.Validator.Validate("address", req.Address); err != nil {
		s.fail(c, err)
		return
	}

	address := common.HexToAddress(req.Address)
	if err := s.opts.Service.Registry().SetAddress(c.Request.Context(), name, address); err != nil {
		s.logger.Errorf("更新合约 %s 地址失败: %v", name, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "更新地址失败", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":    name,
		"address": address.Hex(),
	})
}
