// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"cml-pipeline-go/internal/config"
	"cml-pipeline-go/pkg/log"
	"cml-pipeline-go/pkg/tasks"
)

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。brokers 为空时跳过（事件发布被禁用）。
func InitProducer(cfg config.KafkaConfig) {
	if cfg.Brokers == "" {
		log.Info("未配置 Kafka broker，处理完成事件发布已禁用")
		return
	}
	producer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
	}
	log.Info("Kafka 生产者初始化成功")
}

// Enabled 返回事件发布是否可用。
func Enabled() bool {
	return producer != nil
}

// ProduceFileProcessedEvent 发送一个文件处理完成事件到 Kafka。
// 发布失败由调用方决定如何处理；管道只记日志，不因此让文件处理失败。
func ProduceFileProcessedEvent(event tasks.FileProcessedEvent) error {
	if producer == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return producer.WriteMessages(context.Background(), kafka.Message{
		Key:   []byte(event.FileName),
		Value: payload,
	})
}

// Close 关闭生产者，程序退出前调用。
func Close() {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		log.Error("关闭 Kafka 生产者失败", err)
	}
}
