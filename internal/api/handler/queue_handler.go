package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/d60-Lab/tweet-queue/internal/repository"
	"github.com/d60-Lab/tweet-queue/internal/service"
	"github.com/d60-Lab/tweet-queue/pkg/response"
)

// Handler HTTP 包装层，直接透传给 Processor 与仓储
type Handler struct {
	db        *gorm.DB
	processor *service.Processor
	stats     *service.StatsService
	expirer   *service.ClaimExpirer
	repo      repository.QueueRepository
}

func NewHandler(db *gorm.DB, processor *service.Processor, stats *service.StatsService, expirer *service.ClaimExpirer, repo repository.QueueRepository) *Handler {
	return &Handler{db: db, processor: processor, stats: stats, expirer: expirer, repo: repo}
}

type processResponse struct {
	Outcome   service.Outcome `json:"outcome"`
	ItemID    int64           `json:"item_id,omitempty"`
	RemoteID  string          `json:"remote_id,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Process 触发一次处理
// @Summary 处理一条待发布内容
// @Tags 队列
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=processResponse}
// @Failure 429 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /api/v1/queue/process [post]
func (h *Handler) Process(c *gin.Context) {
	res, err := h.processor.ProcessOne(c.Request.Context())
	if err != nil {
		response.ServiceUnavailable(c, err)
		return
	}
	if res.Outcome != service.OutcomeIdle {
		h.stats.Invalidate(c.Request.Context())
	}

	out := processResponse{Outcome: res.Outcome, ItemID: res.ItemID, RemoteID: res.RemoteID}
	if res.PostErr != nil {
		out.ErrorKind = string(res.Kind)
		out.Error = res.PostErr.Error()
	}
	response.Success(c, out)
}

// Stats 各状态计数
// @Summary 队列状态统计
// @Tags 队列
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=map[string]int64}
// @Failure 500 {object} response.Response
// @Router /api/v1/queue/stats [get]
func (h *Handler) Stats(c *gin.Context) {
	counts, err := h.stats.Counts(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, counts)
}

// Requeue 将失败条目放回队列
// @Summary 重新排队失败条目
// @Tags 队列
// @Produce json
// @Security BearerAuth
// @Param id path int true "条目ID"
// @Success 200 {object} response.Response
// @Failure 400 {object} response.Response
// @Failure 404 {object} response.Response
// @Failure 409 {object} response.Response
// @Router /api/v1/queue/{id}/requeue [post]
func (h *Handler) Requeue(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid id")
		return
	}

	err = h.repo.Requeue(c.Request.Context(), id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		response.NotFound(c, err.Error())
		return
	case errors.Is(err, repository.ErrNotRequeueable):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		response.InternalError(c, err)
		return
	}
	h.stats.Invalidate(c.Request.Context())
	response.Success(c, gin.H{"id": id})
}

// ExpireClaims 将遗弃的 claim 记为失败
// @Summary 过期未完成的 claim
// @Tags 队列
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Response{data=map[string]int64}
// @Failure 500 {object} response.Response
// @Router /api/v1/queue/expire-claims [post]
func (h *Handler) ExpireClaims(c *gin.Context) {
	n, err := h.expirer.Expire(c.Request.Context())
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if n > 0 {
		h.stats.Invalidate(c.Request.Context())
	}
	response.Success(c, gin.H{"expired": n})
}

// Health 存活与数据库连通性
// @Summary 健康检查
// @Tags 系统
// @Produce json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		response.ServiceUnavailable(c, err)
		return
	}
	response.Success(c, gin.H{"status": "ok"})
}
