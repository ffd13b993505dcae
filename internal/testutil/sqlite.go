// Package testutil 提供基于内存 SQLite 的 gorm 测试库
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/tweet-queue/internal/model"
	"github.com/d60-Lab/tweet-queue/pkg/database"
)

// NewTestDB 返回已迁移 tweet_queue 的独立内存库。
// 连接池限制为 1，保证 Connection() 借出的连接与池内其它查询看到同一个库。
func NewTestDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// Seed 直接写入一条记录，CreatedAt 由调用方控制
func Seed(t testing.TB, db *gorm.DB, id int64, text string, createdAt time.Time) *model.QueueItem {
	t.Helper()
	item := &model.QueueItem{ID: id, Text: text, Status: model.StatusPending, CreatedAt: createdAt.UTC()}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed item %d: %v", id, err)
	}
	return item
}

// Reload 从库中重新读取条目
func Reload(t testing.TB, db *gorm.DB, id int64) *model.QueueItem {
	t.Helper()
	var item model.QueueItem
	if err := db.Where("id = ?", id).Take(&item).Error; err != nil {
		t.Fatalf("reload item %d: %v", id, err)
	}
	return &item
}
