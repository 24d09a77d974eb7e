package main

import (
	"context"
	"flag"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"invoker/internal/api"
	"invoker/internal/app"
	"invoker/internal/config"
	"invoker/internal/logging"
	"invoker/internal/shutdown"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "配置文件路径")
	port       = flag.Int("port", 0, "API 服务端口，0 表示使用配置文件")
	verbose    = flag.Bool("verbose", false, "详细输出")
	strict     = flag.Bool("strict", false, "严格验证，告警也视为失败")
)

func main() {
	flag.Parse()

	bootstrap := logrus.New()
	bootstrap.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// 加载配置
	cfg, err := config.LoadConfig(*configPath, bootstrap)
	if err != nil {
		bootstrap.Fatalf("加载配置失败: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		bootstrap.Fatalf("创建日志器失败: %v", err)
	}
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	// 组装调用服务
	a, err := app.New(context.Background(), cfg, logger,
		app.WithBaseDir(filepath.Dir(*configPath)),
		app.WithSignals(),
		app.WithStrictValidation(*strict),
	)
	if err != nil {
		logger.Fatalf("初始化失败: %v", err)
	}

	opts := api.Options{
		Service:     a.Service,
		Decoder:     a.Decoder,
		Validator:   a.Validator,
		Reporter:    a.Reporter,
		NodeStats:   a.NodeStats,
		Track:       a.Shutdown.Track,
		LogCapacity: cfg.API.LogCapacity,
		Mode:        cfg.API.Mode,
	}
	if a.Journal != nil {
		opts.Journal = a.Journal
	}

	// 创建API服务器
	server := api.NewServer(opts, logger)
	a.Shutdown.RegisterShutdownFunc("stop_api", server.Stop, shutdown.OrderStopAPI)

	listenPort := cfg.API.Port
	if *port > 0 {
		listenPort = *port
	}

	// 启动服务器
	go func() {
		if err := server.Start(listenPort); err != nil {
			logger.Errorf("启动服务器失败: %v", err)
			a.Shutdown.Shutdown()
		}
	}()

	// 等待中断信号并按顺序停机
	a.Shutdown.WaitForShutdown()
	<-a.Shutdown.Done()
	logger.Info("服务器已关闭")
}
