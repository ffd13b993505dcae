package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/d60-Lab/tweet-queue/internal/poster"
	"github.com/d60-Lab/tweet-queue/internal/repository"
	"github.com/d60-Lab/tweet-queue/pkg/logger"
)

// ErrStore 存储不可达或查询失败；本次调用中止，没有条目被修改
var ErrStore = errors.New("queue store unavailable")

// recordTimeout 写入 posted/failed 的时限，与调用方 ctx 解耦
const recordTimeout = 10 * time.Second

// Outcome 单次处理的结果
type Outcome string

const (
	OutcomeIdle   Outcome = "idle"
	OutcomePosted Outcome = "posted"
	OutcomeFailed Outcome = "failed"
)

// Result ProcessOne 的显式结果，替代按异常类型分支
type Result struct {
	Outcome  Outcome          `json:"outcome"`
	ItemID   int64            `json:"item_id,omitempty"`
	RemoteID string           `json:"remote_id,omitempty"`
	Kind     poster.ErrorKind `json:"error_kind,omitempty"`
	// PostErr 发帖失败原因（已写入 error_message）
	PostErr error `json:"-"`
	// RecordErr 记录结果时的次级错误，只记日志
	RecordErr error `json:"-"`
}

// Processor 每次调用最多处理一条队列条目：claim -> post -> 记录结果
type Processor struct {
	db      *gorm.DB
	poster  poster.Poster
	newRepo func(*gorm.DB) repository.QueueRepository
	now     func() time.Time
	token   func() string
}

func NewProcessor(db *gorm.DB, p poster.Poster) *Processor {
	return &Processor{
		db:      db,
		poster:  p,
		newRepo: repository.NewQueueRepository,
		now:     func() time.Time { return time.Now().UTC() },
		token:   uuid.NewString,
	}
}

// ProcessOne 借出一条独占连接完成一次 dequeue-post-update，任何路径退出都会归还连接。
// 只有存储错误会返回 error（包装 ErrStore）；发帖失败体现在 Result 中。
func (p *Processor) ProcessOne(ctx context.Context) (Result, error) {
	ctx, span := otel.Tracer("tweet-queue/processor").Start(ctx, "queue.process_one")
	defer span.End()

	var res Result
	err := p.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		var err error
		res, err = p.process(ctx, p.newRepo(conn))
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		sentry.CaptureException(err)
		logger.Error("queue processing aborted", zap.Error(err))
		return Result{}, fmt.Errorf("%w: %w", ErrStore, err)
	}

	span.SetAttributes(
		attribute.String("queue.outcome", string(res.Outcome)),
		attribute.Int64("queue.item_id", res.ItemID),
	)
	return res, nil
}

func (p *Processor) process(ctx context.Context, repo repository.QueueRepository) (Result, error) {
	token := p.token()
	item, err := repo.ClaimNext(ctx, p.now(), token)
	switch {
	case errors.Is(err, repository.ErrNoEligibleItem):
		logger.Info("no eligible queue item")
		return Result{Outcome: OutcomeIdle}, nil
	case errors.Is(err, repository.ErrClaimConflict):
		logger.Info("queue item taken by a concurrent run")
		return Result{Outcome: OutcomeIdle}, nil
	case err != nil:
		return Result{}, fmt.Errorf("claim next item: %w", err)
	}

	log := logger.L().With(zap.Int64("item_id", item.ID), zap.Int("attempt_count", item.AttemptCount))
	log.Info("claimed queue item")

	remoteID, postErr := p.poster.Post(ctx, item.Text)

	// 发帖可能已耗尽 ctx 的期限或被取消，结果记录不应因此丢失
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if postErr == nil {
		err := repo.MarkPosted(recordCtx, item.ID, token, remoteID, p.now())
		if err == nil {
			log.Info("queue item posted", zap.String("remote_id", remoteID))
			return Result{Outcome: OutcomePosted, ItemID: item.ID, RemoteID: remoteID}, nil
		}
		log.Error("record posted outcome failed", zap.String("remote_id", remoteID), zap.Error(err))
		postErr = fmt.Errorf("posted as %s but recording the outcome failed: %w", remoteID, err)
	}

	res := Result{
		Outcome:  OutcomeFailed,
		ItemID:   item.ID,
		RemoteID: remoteID,
		Kind:     poster.KindOf(postErr),
		PostErr:  postErr,
	}
	log.Warn("queue item failed",
		zap.String("kind", string(res.Kind)),
		zap.Bool("temporary", poster.IsTemporary(postErr)),
		zap.Error(postErr))

	if err := repo.MarkFailed(recordCtx, item.ID, token, postErr.Error()); err != nil {
		res.RecordErr = err
		sentry.CaptureException(fmt.Errorf("record failure for queue item %d: %w", item.ID, err))
		log.Error("record failed outcome failed", zap.Error(err))
	}
	return res, nil
}

// ClaimExpirer 将长时间未写结果的 claim 记为失败，由外部触发
type ClaimExpirer struct {
	repo repository.QueueRepository
	ttl  time.Duration
	now  func() time.Time
}

func NewClaimExpirer(repo repository.QueueRepository, ttl time.Duration) *ClaimExpirer {
	return &ClaimExpirer{repo: repo, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// Expire 返回被标记为 failed 的条目数
func (e *ClaimExpirer) Expire(ctx context.Context) (int64, error) {
	cutoff := e.now().Add(-e.ttl)
	n, err := e.repo.ExpireClaims(ctx, cutoff, fmt.Sprintf("claim expired: no outcome recorded within %s", e.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Warn("expired abandoned claims", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}
