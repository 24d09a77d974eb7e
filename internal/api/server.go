package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/big"
	"net/http"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"invoker/internal/decoder"
	"invoker/internal/errors"
	"invoker/internal/journal"
	"invoker/internal/service"
	"invoker/internal/validation"
)

// JournalReader 交易日志查询接口
type JournalReader interface {
	Get(hash string) (*journal.Entry, bool, error)
	List(limit int) ([]*journal.Entry, error)
	GetStats() map[string]interface{}
}

// Options API服务器依赖，Journal、NodeStats、Track 可为空
type Options struct {
	Service     *service.Service
	Decoder     *decoder.Decoder
	Journal     JournalReader
	Validator   *validation.Validator
	Reporter    *errors.Reporter
	NodeStats   func() map[string]interface{}
	Track       func() (func(), bool)
	LogCapacity int
	Mode        string
}

// Server API服务器
type Server struct {
	opts       Options
	logger     *logrus.Logger
	logManager *LogManager
	router     *gin.Engine
	server     *http.Server
	mu         sync.Mutex
	startedAt  time.Time
}

// NewServer 创建API服务器并注册路由
func NewServer(opts Options, logger *logrus.Logger) *Server {
	mode := opts.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	logManager := NewLogManager(opts.LogCapacity)
	logger.AddHook(NewLogHook(logManager))

	s := &Server{
		opts:       opts,
		logger:     logger,
		logManager: logManager,
		startedAt:  time.Now(),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(cors())
	s.setupRoutes(router)
	s.router = router
	return s
}

// Router 返回路由，便于测试
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start 启动API服务器，阻塞到服务器关闭
func (s *Server) Start(port int) error {
	s.mu.Lock()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	s.logger.Infof("API服务器启动在端口 %d", port)
	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 停止API服务器
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Info("正在关闭API服务器...")
	return srv.Shutdown(ctx)
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requestLogger 用 logrus 记录请求
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"component": "api",
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
		}).Debug("HTTP请求")
	}
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(router *gin.Engine) {
	router.GET("/health", s.healthCheck)

	api := router.Group("/api/v1")
	{
		// 合约注册表
		api.GET("/contracts", s.listContracts)
		api.GET("/contracts/:name", s.getContract)
		api.POST("/contracts", s.registerContract)
		api.PUT("/contracts/:name/address", s.setContractAddress)

		// 调用
		api.POST("/call", s.tracked(s.call))
		api.POST("/estimate", s.tracked(s.estimate))
		api.POST("/send", s.tracked(s.send))
		api.POST("/deploy", s.tracked(s.deploy))
		api.POST("/encode", s.encode)
		api.POST("/decode", s.decode)

		// 交易日志
		api.GET("/journal", s.listJournal)
		api.GET("/journal/:hash", s.getJournalEntry)

		// 状态
		api.GET("/nodes", s.getNodes)
		api.GET("/stats", s.getStats)

		// 日志管理
		api.GET("/logs", s.getLogs)
		api.DELETE("/logs", s.clearLogs)
	}
}

// tracked 停机开始后拒绝新的调用请求
func (s *Server) tracked(next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.Track == nil {
			next(c)
			return
		}
		done, ok := s.opts.Track()
		if !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "服务正在停止"})
			return
		}
		defer done()
		next(c)
	}
}

// healthCheck 健康检查
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "invoker-api",
	})
}

func (s *Server) bindRequest(c *gin.Context) (*service.Request, bool) {
	var req service.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return nil, false
	}
	return &req, true
}

// call 只读调用
func (s *Server) call(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}
	result, err := s.opts.Service.Call(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"contract": req.Contract,
		"method":   req.Method,
		"result":   FormatResult(result),
	})
}

// estimate gas估算
func (s *Server) estimate(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}
	gas, err := s.opts.Service.Estimate(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gas": gas})
}

// send 发送交易
func (s *Server) send(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}
	hash, err := s.opts.Service.Send(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": hash.Hex()})
}

// deploy 部署合约
func (s *Server) deploy(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}
	hash, err := s.opts.Service.Deploy(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hash": hash.Hex()})
}

// encode 编码调用数据
func (s *Server) encode(c *gin.Context) {
	req, ok := s.bindRequest(c)
	if !ok {
		return
	}
	data, err := s.opts.Service.EncodeCall(req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// decode 解码调用数据
func (s *Server) decode(c *gin.Context) {
	var req struct {
		Data string `json:"data" binding:"required"`
		To   string `json:"to"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求参数错误", "message": err.Error()})
		return
	}

	var to *common.Address
	if req.To != "" {
		if err := s.opts.Validator.Validate("address", req.To); err != nil {
			s.fail(c, err)
			return
		}
		addr := common.HexToAddress(req.To)
		to = &addr
	}

	decoded, err := s.opts.Decoder.Decode(c.Request.Context(), req.Data, to)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "解码失败", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"selector":  decoded.Selector,
		"signature": decoded.Signature,
		"contract":  decoded.Contract,
		"source":    decoded.Source,
		"params":    FormatResult(decoded.Params),
	})
}

// listJournal 最近的交易记录
func (s *Server) listJournal(c *gin.Context) {
	if s.opts.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "交易日志未启用"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if l, err := strconv.Atoi(raw); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := s.opts.Journal.List(limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

// getJournalEntry 按交易哈希查询
func (s *Server) getJournalEntry(c *gin.Context) {
	if s.opts.Journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "交易日志未启用"})
		return
	}

	hash := c.Param("hash")
	if err := s.opts.Validator.Validate("hash", hash); err != nil {
		s.fail(c, err)
		return
	}

	entry, ok, err := s.opts.Journal.Get(common.HexToHash(hash).Hex())
	if err != nil {
		s.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "交易不存在", "hash": hash})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// getNodes 节点状态
func (s *Server) getNodes(c *gin.Context) {
	if s.opts.NodeStats == nil {
		c.JSON(http.StatusOK, gin.H{"nodes": gin.H{}, "total": 0})
		return
	}
	nodes := s.opts.NodeStats()
	c.JSON(http.StatusOK, gin.H{"nodes": nodes, "total": len(nodes)})
}

// getStats 统计信息
func (s *Server) getStats(c *gin.Context) {
	stats := gin.H{
		"uptime":    time.Since(s.startedAt).String(),
		"contracts": len(s.opts.Service.Registry().List()),
	}
	if s.opts.Reporter != nil {
		stats["errors"] = s.opts.Reporter.Snapshot()
	}
	if s.opts.Validator != nil {
		stats["validation"] = s.opts.Validator.GetValidationStats()
	}
	if s.opts.Journal != nil {
		stats["journal"] = s.opts.Journal.GetStats()
	}
	if s.opts.Decoder != nil {
		stats["decoder_cache"] = s.opts.Decoder.GetCacheSize()
	}
	c.JSON(http.StatusOK, stats)
}

// getLogs 获取日志
func (s *Server) getLogs(c *gin.Context) {
	level := c.Query("level")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	pageSize := 20
	if ps, err := strconv.Atoi(c.Query("pageSize")); err == nil && ps > 0 {
		pageSize = ps
	}

	logs, total := s.logManager.GetLogsWithPagination(level, page, pageSize)
	c.JSON(http.StatusOK, gin.H{
		"logs":     logs,
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
		"level":    level,
	})
}

// clearLogs 清空日志
func (s *Server) clearLogs(c *gin.Context) {
	s.logManager.ClearLogs()
	c.JSON(http.StatusOK, gin.H{"message": "日志已清空"})
}

// fail 按错误类型映射HTTP状态码
func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	body := gin.H{"error": err.Error()}

	var invokeErr *errors.InvokeError
	if stderrors.As(err, &invokeErr) {
		body["code"] = invokeErr.Code
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case stderrors.Is(err, service.ErrUnknownContract):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrContractNotDeployed):
		return http.StatusConflict
	case stderrors.Is(err, errors.ErrInvalidInvocation),
		stderrors.Is(err, errors.ErrEncoding),
		stderrors.Is(err, errors.ErrInvalidConfiguration):
		return http.StatusBadRequest
	default:
		// 节点或网络返回的错误
		return http.StatusBadGateway
	}
}

// FormatResult 把解码结果转换为适合JSON的形式：大整数用十进制字符串，字节用十六进制
func FormatResult(values map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(values))
	for k, v := range values {
		out[k] = formatValue(v)
	}
	return out
}

func formatValue(v interface{}) interface{} {
	switch value := v.(type) {
	case nil:
		return nil
	case *big.Int:
		return value.String()
	case common.Address:
		return value.Hex()
	case common.Hash:
		return value.Hex()
	case []byte:
		return hexutil.Encode(value)
	case string, bool:
		return value
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return hexutil.Encode(b)
		}
		fallthrough
	case reflect.Slice:
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = formatValue(rv.Index(i).Interface())
		}
		return items
	case reflect.Struct:
		fields := make(map[string]interface{}, rv.NumField())
		for i := 0; i < rv.NumField(); i++ {
			if rv.Type().Field(i).IsExported() {
				fields[rv.Type().Field(i).Name] = formatValue(rv.Field(i).Interface())
			}
		}
		return fields
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	}
	return v
}
