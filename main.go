package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"energy-maps/config"
	"energy-maps/db"
	"energy-maps/handler"
	"energy-maps/logger"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "配置文件路径 (YAML)")
	flag.Parse()

	fmt.Println("=== Energy Maps - 能源地图校准服务 ===")

	// 1. 读取配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	// 2. 初始化数据库
	// 连接 PostgreSQL，自动迁移表结构，第一次运行时导入种子数据
	store, err := db.InitDB(cfg, log)
	if err != nil {
		log.Fatal("数据库初始化失败", zap.Error(err))
	}

	ttl, err := cfg.TokenTTL()
	if err != nil {
		log.Fatal("无效的 token_ttl", zap.Error(err))
	}

	// 3. 注入 handler 依赖
	handler.Store = store
	handler.Log = log
	handler.MaxImageBytes = cfg.Server.MaxImageBytes
	handler.ConfigureAuth(cfg.Auth.JWTSecret, ttl)

	// 4. 构建空间索引
	if err := handler.RefreshIndex(); err != nil {
		log.Fatal("构建空间索引失败", zap.Error(err))
	}
	log.Info("空间索引构建完成", zap.Int("entities", handler.Index.Size()))

	// 5. 初始化 Gin 引擎
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(logger.GinMiddleware(log), gin.Recovery())

	// 6. 配置路由
	handler.SetupRoutes(r, cfg.Server.StaticDir)

	// 7. 启动服务器
	addr := ":" + cfg.Server.Port
	log.Info("服务器启动", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatal("服务器启动失败", zap.Error(err))
	}
}
