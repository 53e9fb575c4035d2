// Package main 是文件摄取服务的入口点。
// 监听 incoming 目录，把落入的 CSV 文件解析入库，成功归档、失败隔离。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"cml-pipeline-go/internal/config"
	"cml-pipeline-go/internal/filemgr"
	"cml-pipeline-go/internal/parser"
	"cml-pipeline-go/internal/pipeline"
	"cml-pipeline-go/internal/repository"
	"cml-pipeline-go/internal/watcher"
	"cml-pipeline-go/pkg/database"
	"cml-pipeline-go/pkg/kafka"
	"cml-pipeline-go/pkg/log"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init("parser", cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化 Kafka 生产者（可选，未配置时事件发布被禁用）
	kafka.InitProducer(cfg.Kafka)
	defer kafka.Close()

	// 4. 连接数据库（带重试），成功后完成建表迁移
	writer := repository.NewCMLRepository(func() (*gorm.DB, error) {
		return database.OpenPostgres(cfg.Database.Postgres.DSN)
	}, cfg.Database.Postgres.MaxRetries, time.Duration(cfg.Database.Postgres.BackoffBase)*time.Second)
	if err := writer.Connect(context.Background()); err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	defer writer.Close()

	// 5. 初始化文件生命周期管理与处理管道
	files, err := filemgr.New(cfg.Parser.IncomingDir, cfg.Parser.ArchivedDir, cfg.Parser.QuarantineDir)
	if err != nil {
		log.Fatalf("初始化目录失败: %v", err)
	}
	registry := parser.NewRegistry()
	processor := pipeline.NewProcessor(registry, writer, files)

	// 6. 启动目录监听
	w := watcher.New(cfg.Parser.IncomingDir, func(path string) {
		if _, err := processor.ProcessFile(path); err != nil {
			log.Errorf("处理文件 %s 失败: %v", path, err)
		}
	}, registry.SupportedExtensions())
	if err := w.Start(); err != nil {
		log.Fatalf("启动目录监听失败: %v", err)
	}
	log.Infof("开始监听目录: %s", cfg.Parser.IncomingDir)

	// 7. 处理启动前已落入 incoming 的文件
	if cfg.Parser.ProcessExistingOnStartup {
		w.ProcessExisting()
	}

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// Stop 会等待正在处理中的文件完成
	w.Stop()
	log.Info("服务已优雅关闭")
}
