// Package service 提供了查询接口背后的业务逻辑。
package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"cml-pipeline-go/internal/model"
	"cml-pipeline-go/pkg/database"
	"cml-pipeline-go/pkg/log"
)

// 统计结果的缓存键与有效期。统计查询要扫全表，短缓存足以挡住看板轮询。
const (
	statsCacheKey = "cml:stats"
	statsCacheTTL = 30 * time.Second
)

// CMLStats 是整个数据集的汇总统计。
type CMLStats struct {
	TotalLinks        int64      `json:"totalLinks"`
	TotalSublinks     int64      `json:"totalSublinks"`
	TotalObservations int64      `json:"totalObservations"`
	FirstObservation  *time.Time `json:"firstObservation"`
	LastObservation   *time.Time `json:"lastObservation"`
}

// StatsService 接口定义了对已摄取数据的只读查询操作。
type StatsService interface {
	ListMetadata(ctx context.Context) ([]model.CMLMetadata, error)
	GetStats(ctx context.Context) (*CMLStats, error)
	GetTimeSeries(ctx context.Context, linkID, sublinkID string, hours int) ([]model.CMLData, error)
}

type statsService struct {
	db *gorm.DB
}

// NewStatsService 创建一个新的 StatsService 实例。
func NewStatsService(db *gorm.DB) StatsService {
	return &statsService{db: db}
}

// ListMetadata 返回全部链路元数据，按链路标识排序。
func (s *statsService) ListMetadata(ctx context.Context) ([]model.CMLMetadata, error) {
	var rows []model.CMLMetadata
	err := s.db.WithContext(ctx).
		Order("link_id, sublink_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetStats 返回数据集汇总统计。结果在 Redis 中缓存 30 秒；
// 缓存不可用时直接查库。
func (s *statsService) GetStats(ctx context.Context) (*CMLStats, error) {
	if database.RDB != nil {
		cached, err := database.RDB.Get(ctx, statsCacheKey).Bytes()
		if err == nil {
			var stats CMLStats
			if jerr := json.Unmarshal(cached, &stats); jerr == nil {
				return &stats, nil
			}
		}
	}

	stats, err := s.queryStats(ctx)
	if err != nil {
		return nil, err
	}

	if database.RDB != nil {
		if payload, jerr := json.Marshal(stats); jerr == nil {
			if serr := database.RDB.Set(ctx, statsCacheKey, payload, statsCacheTTL).Err(); serr != nil {
				log.Warnf("写入统计缓存失败: %v", serr)
			}
		}
	}
	return stats, nil
}

func (s *statsService) queryStats(ctx context.Context) (*CMLStats, error) {
	db := s.db.WithContext(ctx)
	stats := &CMLStats{}

	if err := db.Model(&model.CMLMetadata{}).
		Distinct("link_id").Count(&stats.TotalLinks).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.CMLMetadata{}).Count(&stats.TotalSublinks).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&model.CMLData{}).Count(&stats.TotalObservations).Error; err != nil {
		return nil, err
	}

	var first, last sql.NullTime
	row := db.Model(&model.CMLData{}).
		Select("MIN(time), MAX(time)").Row()
	if err := row.Scan(&first, &last); err != nil {
		return nil, err
	}
	if first.Valid {
		stats.FirstObservation = &first.Time
	}
	if last.Valid {
		stats.LastObservation = &last.Time
	}
	return stats, nil
}

// GetTimeSeries 返回指定链路最近 hours 小时内的观测序列，按时间升序。
// sublinkID 为空时返回该链路全部子链路的数据。
func (s *statsService) GetTimeSeries(ctx context.Context, linkID, sublinkID string, hours int) ([]model.CMLData, error) {
	if hours <= 0 {
		hours = 24
	}
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	q := s.db.WithContext(ctx).
		Where("link_id = ? AND time >= ?", linkID, cutoff)
	if sublinkID != "" {
		q = q.Where("sublink_id = ?", sublinkID)
	}

	var rows []model.CMLData
	if err := q.Order("time").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
