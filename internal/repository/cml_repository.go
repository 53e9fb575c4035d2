// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cml-pipeline-go/internal/model"
	"cml-pipeline-go/pkg/log"
)

// 批量写入的分批大小，与原有部署的 page_size 保持一致。
const writeBatchSize = 1000

// LinkPair 标识一条 (link_id, sublink_id) 组合，用于引用校验的结果报告。
type LinkPair struct {
	LinkID    string
	SublinkID string
}

func (p LinkPair) String() string {
	return fmt.Sprintf("(%s, %s)", p.LinkID, p.SublinkID)
}

// Opener 在每次（重）连接时返回一个新的数据库句柄。
// 生产环境用 database.OpenPostgres 包一层；测试注入 sqlite 或故障桩。
type Opener func() (*gorm.DB, error)

// CMLWriter 接口定义了摄取管道需要的持久化操作。
// 实现不支持并发调用方；管道的单线程分发天然满足这一约束。
type CMLWriter interface {
	Connect(ctx context.Context) error
	WriteMetadata(rows []model.CMLMetadata) (int, error)
	WriteRawData(rows []model.CMLData) (int, error)
	ValidateRawdataReferences(rows []model.CMLData) (bool, []LinkPair, error)
	Close() error
}

// cmlRepository 是 CMLWriter 的 GORM 实现。
// 它独占连接的生命周期：带退避的启动重连、写入前的存活探测、
// 连接类错误时的一次透明重连重试。
type cmlRepository struct {
	open        Opener
	maxRetries  int
	backoffBase time.Duration
	db          *gorm.DB
}

// NewCMLRepository 创建一个新的 CMLWriter 实例。
func NewCMLRepository(open Opener, maxRetries int, backoffBase time.Duration) CMLWriter {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoffBase <= 0 {
		backoffBase = 2 * time.Second
	}
	return &cmlRepository{open: open, maxRetries: maxRetries, backoffBase: backoffBase}
}

// Connect 建立数据库连接，最多尝试 maxRetries 次，
// 第 n 次失败后等待 backoffBase * 2^(n-1) 再重试；全部失败时返回最后一个错误。
func (r *cmlRepository) Connect(ctx context.Context) error {
	if r.db != nil {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		db, err := r.open()
		if err == nil {
			r.db = db
			if merr := r.migrate(); merr != nil {
				return merr
			}
			log.Debugf("数据库连接已建立（第 %d 次尝试）", attempt)
			return nil
		}

		lastErr = err
		log.Warnf("数据库连接尝试 %d/%d 失败: %v", attempt, r.maxRetries, err)
		if attempt < r.maxRetries {
			sleep := r.backoffBase * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("数据库连接重试耗尽: %w", lastErr)
}

// migrate 建表并在 TimescaleDB 可用时把 cml_data 转为 hypertable。
func (r *cmlRepository) migrate() error {
	if err := r.db.AutoMigrate(&model.CMLMetadata{}, &model.CMLData{}); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	if r.db.Dialector.Name() == "postgres" {
		// 没装 Timescale 扩展时该调用会失败，留普通表即可
		if err := r.db.Exec(
			"SELECT create_hypertable('cml_data', 'time', if_not_exists => TRUE)",
		).Error; err != nil {
			log.Debugf("create_hypertable 未生效（可能未安装 TimescaleDB）: %v", err)
		}
	}
	return nil
}

// Close 关闭底层连接。
func (r *cmlRepository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	err = sqlDB.Close()
	r.db = nil
	return err
}

// ensureAlive 在每次写入前确认连接可用，必要时重建。
func (r *cmlRepository) ensureAlive() error {
	if r.db == nil {
		return r.Connect(context.Background())
	}
	sqlDB, err := r.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = sqlDB.PingContext(ctx)
		cancel()
	}
	if err != nil {
		log.Warnf("数据库连接探测失败，准备重连: %v", err)
		return r.reconnect()
	}
	return nil
}

// reconnect 丢弃当前句柄并重新走完整的连接流程。
func (r *cmlRepository) reconnect() error {
	_ = r.Close()
	return r.Connect(context.Background())
}

// withReconnect 执行一次写操作；失败且属于连接类错误时，
// 强制重连一次并把该操作恰好再重试一次。数据类错误立即向上传播。
func (r *cmlRepository) withReconnect(op func(db *gorm.DB) error) error {
	if err := r.ensureAlive(); err != nil {
		return err
	}
	err := op(r.db)
	if err == nil || !isConnectionError(err) {
		return err
	}

	log.Warnf("写入因连接错误失败，重连后重试一次: %v", err)
	if rerr := r.reconnect(); rerr != nil {
		return rerr
	}
	return op(r.db)
}

// WriteMetadata 批量 upsert 元数据。
// 冲突键为 (link_id, sublink_id)，冲突时覆盖全部非键列（last-write-wins）。
// 返回输入行数，不区分插入与更新；空输入直接返回 0，不做任何 I/O。
func (r *cmlRepository) WriteMetadata(rows []model.CMLMetadata) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	err := r.withReconnect(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "link_id"}, {Name: "sublink_id"}},
			UpdateAll: true,
		}).CreateInBatches(rows, writeBatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("写入元数据失败: %w", err)
	}
	return len(rows), nil
}

// WriteRawData 批量追加观测数据，无冲突处理；返回写入行数。
func (r *cmlRepository) WriteRawData(rows []model.CMLData) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sanitizeReadings(rows)

	err := r.withReconnect(func(db *gorm.DB) error {
		return db.CreateInBatches(rows, writeBatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("写入观测数据失败: %w", err)
	}
	return len(rows), nil
}

// sanitizeReadings 把 NaN/Inf 读数置空；解析层已做过一次，这里兜底。
func sanitizeReadings(rows []model.CMLData) {
	for i := range rows {
		if v := rows[i].TSL; v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			rows[i].TSL = nil
		}
		if v := rows[i].RSL; v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			rows[i].RSL = nil
		}
	}
}

// ValidateRawdataReferences 检查输入数据引用的 (link_id, sublink_id)
// 是否都已存在于 cml_metadata，返回 (是否齐全, 排序后的缺失组合)。
// 空输入返回 (true, nil)，不做任何 I/O。
func (r *cmlRepository) ValidateRawdataReferences(rows []model.CMLData) (bool, []LinkPair, error) {
	if len(rows) == 0 {
		return true, nil, nil
	}

	var existing []LinkPair
	err := r.withReconnect(func(db *gorm.DB) error {
		return db.Model(&model.CMLMetadata{}).
			Select("link_id", "sublink_id").
			Find(&existing).Error
	})
	if err != nil {
		return false, nil, fmt.Errorf("查询已有元数据失败: %w", err)
	}

	known := make(map[LinkPair]struct{}, len(existing))
	for _, p := range existing {
		known[p] = struct{}{}
	}

	missingSet := make(map[LinkPair]struct{})
	for i := range rows {
		p := LinkPair{LinkID: rows[i].LinkID, SublinkID: rows[i].SublinkID}
		if _, ok := known[p]; !ok {
			missingSet[p] = struct{}{}
		}
	}
	if len(missingSet) == 0 {
		return true, nil, nil
	}

	missing := make([]LinkPair, 0, len(missingSet))
	for p := range missingSet {
		missing = append(missing, p)
	}
	// 排序保证结果确定，便于日志比对
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].LinkID != missing[j].LinkID {
			return missing[i].LinkID < missing[j].LinkID
		}
		return missing[i].SublinkID < missing[j].SublinkID
	})
	return false, missing, nil
}

// isConnectionError 区分连接类错误与数据类错误。
// 约束冲突等数据类错误不重试；网络/连接状态类错误才值得重连。
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"database is closed",
		"conn closed",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
