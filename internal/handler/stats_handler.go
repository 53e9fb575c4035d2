// Package handler 存放 Gin 的 HTTP 处理器。
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cml-pipeline-go/internal/service"
	"cml-pipeline-go/pkg/log"
)

// StatsHandler 结构体定义了数据查询相关的处理器。
type StatsHandler struct {
	statsService service.StatsService
}

// NewStatsHandler 创建一个新的 StatsHandler 实例。
func NewStatsHandler(statsService service.StatsService) *StatsHandler {
	return &StatsHandler{
		statsService: statsService,
	}
}

// GetMetadata 返回全部链路元数据。
func (h *StatsHandler) GetMetadata(c *gin.Context) {
	rows, err := h.statsService.ListMetadata(c.Request.Context())
	if err != nil {
		log.Errorf("[StatsHandler] 查询元数据失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询元数据失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": rows, "message": "success"})
}

// GetStats 返回数据集汇总统计。
func (h *StatsHandler) GetStats(c *gin.Context) {
	stats, err := h.statsService.GetStats(c.Request.Context())
	if err != nil {
		log.Errorf("[StatsHandler] 查询统计失败: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询统计失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": stats, "message": "success"})
}

// GetTimeSeries 返回指定链路最近一段时间的观测序列。
// 路径参数 link_id 必填；查询参数 sublink_id 可选，hours 默认 24。
func (h *StatsHandler) GetTimeSeries(c *gin.Context) {
	linkID := c.Param("link_id")
	if linkID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少 link_id 参数"})
		return
	}
	sublinkID := c.Query("sublink_id")

	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 {
		hours = 24
	}

	rows, err := h.statsService.GetTimeSeries(c.Request.Context(), linkID, sublinkID, hours)
	if err != nil {
		log.Errorf("[StatsHandler] 查询时间序列失败, link_id: %s: %v", linkID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询时间序列失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": 200, "data": rows, "message": "success"})
}
