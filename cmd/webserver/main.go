// Package main 是数据查询服务的入口点。
// 对外提供链路元数据、汇总统计与时间序列的只读 HTTP 接口。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"cml-pipeline-go/internal/config"
	"cml-pipeline-go/internal/handler"
	"cml-pipeline-go/internal/middleware"
	"cml-pipeline-go/internal/service"
	"cml-pipeline-go/pkg/database"
	"cml-pipeline-go/pkg/log"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init("webserver", cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库和 Redis（Redis 未配置时统计缓存自动禁用）
	db, err := database.OpenPostgres(cfg.Database.Postgres.DSN)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)

	// 4. 初始化 Service 与 Handler
	statsService := service.NewStatsService(db)
	statsHandler := handler.NewStatsHandler(statsService)

	// 5. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 6. 注册路由
	api := r.Group("/api")
	{
		api.GET("/cml-metadata", statsHandler.GetMetadata)
		api.GET("/cml-stats", statsHandler.GetStats)
		api.GET("/timeseries/:link_id", statsHandler.GetTimeSeries)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
