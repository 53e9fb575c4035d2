// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// parser / uploader / webserver 三个服务共用同一份配置文件，各取所需。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Parser   ParserConfig   `mapstructure:"parser"`
	SFTP     SFTPConfig     `mapstructure:"sftp"`
	Uploader UploaderConfig `mapstructure:"uploader"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// ServerConfig 存储 webserver 相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig 存储 PostgreSQL/TimescaleDB 的配置。
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
	// 连接重试次数与退避基数（秒），用于数据库暂不可达时的启动等待
	MaxRetries  int `mapstructure:"max_retries"`
	BackoffBase int `mapstructure:"backoff_base_seconds"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空时禁用缓存。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// ParserConfig 存储文件摄取服务的配置。
type ParserConfig struct {
	IncomingDir   string `mapstructure:"incoming_dir"`
	ArchivedDir   string `mapstructure:"archived_dir"`
	QuarantineDir string `mapstructure:"quarantine_dir"`
	// 启动时是否处理 incoming 目录中已存在的文件
	ProcessExistingOnStartup bool `mapstructure:"process_existing_on_startup"`
}

// SFTPConfig 存储上传通道（生产端）的 SFTP 配置。
// Password 与 PrivateKeyPath 必须二选一；Password 建议通过环境变量 CML_SFTP_PASSWORD 注入。
type SFTPConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	Username          string `mapstructure:"username"`
	Password          string `mapstructure:"password"`
	PrivateKeyPath    string `mapstructure:"private_key_path"`
	KnownHostsPath    string `mapstructure:"known_hosts_path"`
	RemotePath        string `mapstructure:"remote_path"`
	ConnectionTimeout int    `mapstructure:"connection_timeout_seconds"`
}

// UploaderConfig 存储生产端本地目录与上传节奏的配置。
type UploaderConfig struct {
	SourceDir              string `mapstructure:"source_dir"`
	ArchiveDir             string `mapstructure:"archive_dir"`
	UploadFrequencySeconds int    `mapstructure:"upload_frequency_seconds"`
}

// StorageConfig 存储后端选择（local | s3）及各自的参数。
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Local   LocalConfig `mapstructure:"local"`
	S3      MinIOConfig `mapstructure:"s3"`
}

// LocalConfig 存储本地文件系统后端的配置。
type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// MinIOConfig 存储 MinIO / S3 兼容对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// KafkaConfig 存储处理完成事件的 Kafka 配置。Brokers 为空时禁用事件发布。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
// 敏感项（DSN、SFTP 密码等）可通过 CML_ 前缀的环境变量覆盖，
// 例如 CML_DATABASE_POSTGRES_DSN、CML_SFTP_PASSWORD。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix("CML")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	// 关键默认值：重试上限与退避基数与原有部署保持一致
	if Conf.Database.Postgres.MaxRetries <= 0 {
		Conf.Database.Postgres.MaxRetries = 3
	}
	if Conf.Database.Postgres.BackoffBase <= 0 {
		Conf.Database.Postgres.BackoffBase = 2
	}
	if Conf.SFTP.ConnectionTimeout <= 0 {
		Conf.SFTP.ConnectionTimeout = 30
	}
}
