// Package main 是生产端上传服务的入口点。
// 周期性扫描暂存目录，把新生成的 CSV 文件通过 SFTP 送达远端落地目录，
// 成功的文件移入本地归档目录。
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"cml-pipeline-go/internal/config"
	"cml-pipeline-go/pkg/log"
	"cml-pipeline-go/pkg/sftp"
	"cml-pipeline-go/pkg/storage"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init("uploader", cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化存储后端（local | s3）
	backend, err := storage.NewBackend(cfg.Storage)
	if err != nil {
		log.Fatalf("初始化存储后端失败: %v", err)
	}

	// 4. 创建上传器。凭证配置错误在这里直接失败，不会发起任何网络连接
	uploader, err := sftp.NewUploader(cfg.SFTP, cfg.Uploader, backend)
	if err != nil {
		log.Fatalf("SFTP 配置无效: %v", err)
	}
	if err := uploader.Connect(); err != nil {
		log.Fatalf("SFTP 连接失败: %v", err)
	}
	defer uploader.Close()

	frequency := time.Duration(cfg.Uploader.UploadFrequencySeconds) * time.Second
	if frequency <= 0 {
		frequency = 30 * time.Second
	}
	ticker := time.NewTicker(frequency)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Infof("上传服务启动，每 %s 扫描一次暂存目录", frequency)

	// 5. 启动时先跑一轮，之后按固定频率扫描
	if _, err := uploader.UploadPending(); err != nil {
		log.Errorf("上传轮次失败: %v", err)
	}
	for {
		select {
		case <-ticker.C:
			if _, err := uploader.UploadPending(); err != nil {
				log.Errorf("上传轮次失败: %v", err)
			}
		case <-quit:
			log.Info("接收到停机信号，正在关闭服务...")
			log.Info("服务已优雅关闭")
			return
		}
	}
}
