package model

import "time"

// QueueStatus 队列条目状态
type QueueStatus string

const (
	StatusPending QueueStatus = "pending"
	// StatusClaimed 已被某次调用独占，尚未记录结果
	StatusClaimed QueueStatus = "claimed"
	StatusPosted  QueueStatus = "posted"
	StatusFailed  QueueStatus = "failed"
)

// Statuses 所有状态，统计接口按此顺序补零
var Statuses = []QueueStatus{StatusPending, StatusClaimed, StatusPosted, StatusFailed}

// QueueItem 待发布内容（tweet_queue 一行）
type QueueItem struct {
	ID           int64       `json:"id" gorm:"primaryKey;autoIncrement"`
	Text         string      `json:"text" gorm:"column:tweet_text;type:text;not null"`
	Status       QueueStatus `json:"status" gorm:"type:varchar(16);not null;default:pending;index:idx_tweet_queue_status_created,priority:1"`
	CreatedAt    time.Time   `json:"created_at" gorm:"not null;index:idx_tweet_queue_status_created,priority:2"`
	ScheduledAt  *time.Time  `json:"scheduled_at,omitempty"`
	PostedAt     *time.Time  `json:"posted_at,omitempty"`
	RemoteID     *string     `json:"remote_id,omitempty" gorm:"type:varchar(64)"`
	ErrorMessage *string     `json:"error_message,omitempty" gorm:"type:text"`
	AttemptCount int         `json:"attempt_count" gorm:"not null;default:0"`
	ClaimToken   *string     `json:"-" gorm:"type:varchar(36)"`
	ClaimedAt    *time.Time  `json:"claimed_at,omitempty"`
}

func (QueueItem) TableName() string { return "tweet_queue" }

// Eligible 是否可被处理：pending 且未设定或已到计划时间
func (q *QueueItem) Eligible(now time.Time) bool {
	if q.Status != StatusPending {
		return false
	}
	return q.ScheduledAt == nil || !q.ScheduledAt.After(now)
}
