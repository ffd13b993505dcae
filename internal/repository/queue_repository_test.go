package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/d60-Lab/tweet-queue/internal/model"
	"github.com/d60-Lab/tweet-queue/internal/testutil"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func setupQueue(t *testing.T) (*gorm.DB, QueueRepository) {
	db := testutil.NewTestDB(t)
	return db, NewQueueRepository(db)
}

func TestClaimNext_OldestPendingFirst(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()

	testutil.Seed(t, db, 2, "B", t0.Add(time.Minute))
	testutil.Seed(t, db, 1, "A", t0)
	testutil.Seed(t, db, 3, "C", t0.Add(2*time.Minute))

	item, err := repo.ClaimNext(ctx, t0.Add(time.Hour), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.ID)
	assert.Equal(t, "A", item.Text)
	assert.Equal(t, model.StatusClaimed, item.Status)

	stored := testutil.Reload(t, db, 1)
	assert.Equal(t, model.StatusClaimed, stored.Status)
	require.NotNil(t, stored.ClaimToken)
	assert.Equal(t, "tok-1", *stored.ClaimToken)

	next, err := repo.ClaimNext(ctx, t0.Add(time.Hour), "tok-2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.ID)
}

func TestClaimNext_SchedulingGate(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()
	now := t0.Add(time.Hour)

	future := now.Add(time.Hour)
	due := now.Add(-time.Minute)
	require.NoError(t, repo.Enqueue(ctx, &model.QueueItem{ID: 1, Text: "later", CreatedAt: t0, ScheduledAt: &future}))
	require.NoError(t, repo.Enqueue(ctx, &model.QueueItem{ID: 2, Text: "due", CreatedAt: t0.Add(time.Minute), ScheduledAt: &due}))

	item, err := repo.ClaimNext(ctx, now, "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(2), item.ID)

	_, err = repo.ClaimNext(ctx, now, "tok-2")
	assert.ErrorIs(t, err, ErrNoEligibleItem)
	assert.Equal(t, model.StatusPending, testutil.Reload(t, db, 1).Status)
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	_, repo := setupQueue(t)

	item, err := repo.ClaimNext(context.Background(), t0, "tok")
	assert.Nil(t, item)
	assert.ErrorIs(t, err, ErrNoEligibleItem)
}

func TestClaimNext_SkipsTerminalItems(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()

	testutil.Seed(t, db, 1, "posted", t0)
	testutil.Seed(t, db, 2, "failed", t0.Add(time.Minute))

	first, err := repo.ClaimNext(ctx, t0.Add(time.Hour), "a")
	require.NoError(t, err)
	require.NoError(t, repo.MarkPosted(ctx, first.ID, "a", "r-1", t0.Add(time.Hour)))

	second, err := repo.ClaimNext(ctx, t0.Add(time.Hour), "b")
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, second.ID, "b", "boom"))

	_, err = repo.ClaimNext(ctx, t0.Add(2*time.Hour), "c")
	assert.ErrorIs(t, err, ErrNoEligibleItem)
}

func TestClaimNext_LostRaceIsConflict(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()
	testutil.Seed(t, db, 1, "A", t0)

	// 在 SELECT 与条件 UPDATE 之间让另一个 worker 抢先 claim
	fired := false
	var stealErr error
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:steal_claim", func(tx *gorm.DB) {
		if fired || tx.Statement.Table != "tweet_queue" {
			return
		}
		fired = true
		stealErr = tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE tweet_queue SET status = ?, claim_token = ? WHERE id = ?", model.StatusClaimed, "other", 1).Error
	}))

	item, err := repo.ClaimNext(ctx, t0.Add(time.Hour), "tok-1")
	require.NoError(t, stealErr)
	require.True(t, fired)
	assert.ErrorIs(t, err, ErrClaimConflict)
	assert.Nil(t, item)

	// 事务回滚，行保持原状
	stored := testutil.Reload(t, db, 1)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Nil(t, stored.ClaimToken)
	assert.Nil(t, stored.ClaimedAt)

	item, err = repo.ClaimNext(ctx, t0.Add(time.Hour), "tok-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), item.ID)
}

func TestMarkPosted(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()
	testutil.Seed(t, db, 1, "A", t0)

	item, err := repo.ClaimNext(ctx, t0.Add(time.Minute), "tok")
	require.NoError(t, err)

	postedAt := t0.Add(2 * time.Minute)
	require.NoError(t, repo.MarkPosted(ctx, item.ID, "tok", "999", postedAt))

	stored := testutil.Reload(t, db, 1)
	assert.Equal(t, model.StatusPosted, stored.Status)
	require.NotNil(t, stored.RemoteID)
	assert.Equal(t, "999", *stored.RemoteID)
	require.NotNil(t, stored.PostedAt)
	assert.True(t, stored.PostedAt.Equal(postedAt))
	assert.Nil(t, stored.ErrorMessage)
	assert.Equal(t, 0, stored.AttemptCount)
}

func TestMarkFailed_IncrementsAttempts(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()
	testutil.Seed(t, db, 5, "E", t0)

	item, err := repo.ClaimNext(ctx, t0.Add(time.Minute), "tok")
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, item.ID, "tok", "401 Unauthorized"))

	stored := testutil.Reload(t, db, 5)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "401 Unauthorized", *stored.ErrorMessage)
	assert.Nil(t, stored.RemoteID)
	assert.Nil(t, stored.PostedAt)
}

func TestFinish_RequiresMatchingClaim(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()
	testutil.Seed(t, db, 1, "A", t0)

	_, err := repo.ClaimNext(ctx, t0.Add(time.Minute), "owner")
	require.NoError(t, err)

	assert.ErrorIs(t, repo.MarkPosted(ctx, 1, "intruder", "x", t0), ErrClaimLost)
	assert.ErrorIs(t, repo.MarkFailed(ctx, 1, "intruder", "x"), ErrClaimLost)
	assert.Equal(t, model.StatusClaimed, testutil.Reload(t, db, 1).Status)

	require.NoError(t, repo.MarkPosted(ctx, 1, "owner", "r", t0))
	assert.ErrorIs(t, repo.MarkFailed(ctx, 1, "owner", "late"), ErrClaimLost)
}

func TestRequeue(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()
	testutil.Seed(t, db, 1, "A", t0)
	testutil.Seed(t, db, 2, "B", t0.Add(time.Minute))

	item, err := repo.ClaimNext(ctx, t0.Add(time.Hour), "tok")
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(ctx, item.ID, "tok", "rate limited"))

	require.NoError(t, repo.Requeue(ctx, 1))
	stored := testutil.Reload(t, db, 1)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Nil(t, stored.ClaimToken)

	assert.ErrorIs(t, repo.Requeue(ctx, 2), ErrNotRequeueable)
	assert.ErrorIs(t, repo.Requeue(ctx, 42), ErrNotFound)

	again, err := repo.ClaimNext(ctx, t0.Add(2*time.Hour), "tok-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.ID)
	require.NoError(t, repo.MarkPosted(ctx, again.ID, "tok-2", "r-1", t0.Add(2*time.Hour)))
	assert.Nil(t, testutil.Reload(t, db, 1).ErrorMessage)
}

func TestExpireClaims(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()
	testutil.Seed(t, db, 1, "old", t0)
	testutil.Seed(t, db, 2, "fresh", t0.Add(time.Minute))

	_, err := repo.ClaimNext(ctx, t0, "a")
	require.NoError(t, err)
	_, err = repo.ClaimNext(ctx, t0.Add(30*time.Minute), "b")
	require.NoError(t, err)

	n, err := repo.ExpireClaims(ctx, t0.Add(10*time.Minute), "claim expired")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old := testutil.Reload(t, db, 1)
	assert.Equal(t, model.StatusFailed, old.Status)
	assert.Equal(t, 1, old.AttemptCount)
	assert.Equal(t, model.StatusClaimed, testutil.Reload(t, db, 2).Status)
}

func TestCountByStatus(t *testing.T) {
	db, repo := setupQueue(t)
	ctx := context.Background()
	testutil.Seed(t, db, 1, "A", t0)
	testutil.Seed(t, db, 2, "B", t0.Add(time.Minute))
	testutil.Seed(t, db, 3, "C", t0.Add(2*time.Minute))

	item, err := repo.ClaimNext(ctx, t0.Add(time.Hour), "tok")
	require.NoError(t, err)
	require.NoError(t, repo.MarkPosted(ctx, item.ID, "tok", "r", t0.Add(time.Hour)))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.QueueStatus]int64{
		model.StatusPending: 2,
		model.StatusClaimed: 0,
		model.StatusPosted:  1,
		model.StatusFailed:  0,
	}, counts)
}

func TestEnqueue_Defaults(t *testing.T) {
	_, repo := setupQueue(t)
	ctx := context.Background()

	item := &model.QueueItem{Text: "hello"}
	require.NoError(t, repo.Enqueue(ctx, item))
	assert.NotZero(t, item.ID)
	assert.Equal(t, model.StatusPending, item.Status)
	assert.False(t, item.CreatedAt.IsZero())

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
}
