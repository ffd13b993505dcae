package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/tweet-queue/internal/model"
)

var (
	// ErrNoEligibleItem 没有可处理的 pending 条目（正常情况）
	ErrNoEligibleItem = errors.New("no eligible queue item")
	// ErrClaimConflict 选中的条目被并发调用抢先 claim
	ErrClaimConflict = errors.New("queue item claimed by another worker")
	// ErrClaimLost 写结果时条目已不在本次 claim 之下
	ErrClaimLost = errors.New("queue item no longer held by this claim")
	ErrNotFound  = errors.New("queue item not found")
	// ErrNotRequeueable 只有 failed 条目可以被重新放回队列
	ErrNotRequeueable = errors.New("queue item is not in failed status")
)

// QueueRepository tweet_queue 仓储接口
type QueueRepository interface {
	// Enqueue 写入一条 pending 记录
	Enqueue(ctx context.Context, item *model.QueueItem) error

	Get(ctx context.Context, id int64) (*model.QueueItem, error)

	// ClaimNext 原子地把最早的可处理条目从 pending 改为 claimed
	ClaimNext(ctx context.Context, now time.Time, token string) (*model.QueueItem, error)

	// MarkPosted claimed -> posted，写入 remote_id 与 posted_at
	MarkPosted(ctx context.Context, id int64, token, remoteID string, at time.Time) error

	// MarkFailed claimed -> failed，写入错误并累加 attempt_count
	MarkFailed(ctx context.Context, id int64, token, message string) error

	// CountByStatus 按状态统计条目数，缺失的状态补 0
	CountByStatus(ctx context.Context) (map[model.QueueStatus]int64, error)

	// Requeue 人工重试：failed -> pending，attempt_count 保留
	Requeue(ctx context.Context, id int64) error

	// ExpireClaims 把 claimed_at 早于 before 的条目记为 failed，返回影响行数
	ExpireClaims(ctx context.Context, before time.Time, message string) (int64, error)
}

type queueRepository struct{ db *gorm.DB }

func NewQueueRepository(db *gorm.DB) QueueRepository { return &queueRepository{db: db} }

func (r *queueRepository) Enqueue(ctx context.Context, item *model.QueueItem) error {
	if item.Status == "" {
		item.Status = model.StatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *queueRepository) Get(ctx context.Context, id int64) (*model.QueueItem, error) {
	var item model.QueueItem
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *queueRepository) ClaimNext(ctx context.Context, now time.Time, token string) (*model.QueueItem, error) {
	var item model.QueueItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// SQLite 方言会忽略行锁子句，由下方的条件更新兜底
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", model.StatusPending).
			Where("(scheduled_at IS NULL OR scheduled_at <= ?)", now).
			Order("created_at ASC").
			Order("id ASC").
			Take(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoEligibleItem
		}
		if err != nil {
			return err
		}

		res := tx.Model(&model.QueueItem{}).
			Where("id = ? AND status = ?", item.ID, model.StatusPending).
			Updates(map[string]any{
				"status":      model.StatusClaimed,
				"claim_token": token,
				"claimed_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrClaimConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	item.Status = model.StatusClaimed
	item.ClaimToken = &token
	item.ClaimedAt = &now
	return &item, nil
}

func (r *queueRepository) MarkPosted(ctx context.Context, id int64, token, remoteID string, at time.Time) error {
	return r.finish(ctx, id, token, map[string]any{
		"status":        model.StatusPosted,
		"posted_at":     at,
		"remote_id":     remoteID,
		"error_message": nil,
	})
}

func (r *queueRepository) MarkFailed(ctx context.Context, id int64, token, message string) error {
	return r.finish(ctx, id, token, map[string]any{
		"status":        model.StatusFailed,
		"error_message": message,
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// finish 仅当条目仍被同一 token claim 时写入终态
func (r *queueRepository) finish(ctx context.Context, id int64, token string, fields map[string]any) error {
	res := r.db.WithContext(ctx).
		Model(&model.QueueItem{}).
		Where("id = ? AND status = ? AND claim_token = ?", id, model.StatusClaimed, token).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimLost
	}
	return nil
}

func (r *queueRepository) CountByStatus(ctx context.Context) (map[model.QueueStatus]int64, error) {
	var rows []struct {
		Status model.QueueStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&model.QueueItem{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	counts := make(map[model.QueueStatus]int64, len(model.Statuses))
	for _, s := range model.Statuses {
		counts[s] = 0
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *queueRepository) Requeue(ctx context.Context, id int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.QueueItem{}).
		Where("id = ? AND status = ?", id, model.StatusFailed).
		Updates(map[string]any{
			"status":      model.StatusPending,
			"claim_token": nil,
			"claimed_at":  nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return ErrNotRequeueable
}

func (r *queueRepository) ExpireClaims(ctx context.Context, before time.Time, message string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&model.QueueItem{}).
		Where("status = ? AND claimed_at < ?", model.StatusClaimed, before).
		Updates(map[string]any{
			"status":        model.StatusFailed,
			"error_message": message,
			"attempt_count": gorm.Expr("attempt_count + 1"),
		})
	return res.RowsAffected, res.Error
}
