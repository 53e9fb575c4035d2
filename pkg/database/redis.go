package database

import (
	"context"

	"github.com/go-redis/redis/v8"

	"cml-pipeline-go/pkg/log"
)

// RDB 是全局的 Redis 客户端实例，仅 webserver 的统计缓存使用，可为 nil。
var RDB *redis.Client

// InitRedis 初始化 Redis 客户端连接。addr 为空时跳过（缓存被禁用）。
func InitRedis(addr, password string, db int) {
	if addr == "" {
		log.Info("未配置 Redis 地址，统计缓存已禁用")
		return
	}

	RDB = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 测试连接；缓存属于可选能力，失败时降级而不是中止服务
	ctx := context.Background()
	if err := RDB.Ping(ctx).Err(); err != nil {
		log.Error("连接 Redis 失败，统计缓存已禁用", err)
		RDB = nil
		return
	}

	log.Info("Redis client connected successfully")
}
