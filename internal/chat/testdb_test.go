package chat

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/suPer8Hu/community-chat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory database with users 1..4 seeded.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := gdb.AutoMigrate(append([]any{&models.User{}}, AllModels()...)...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	for i := uint64(1); i <= 4; i++ {
		u := models.User{ID: i, Username: fmt.Sprintf("user%d", i)}
		if err := gdb.Create(&u).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return gdb
}

func setDirectTime(t *testing.T, gdb *gorm.DB, id uint64, at time.Time) {
	t.Helper()
	if err := gdb.Model(&DirectMessage{}).Where("id = ?", id).Update("created_at", at).Error; err != nil {
		t.Fatalf("set time: %v", err)
	}
}

func setGroupTime(t *testing.T, gdb *gorm.DB, id uint64, at time.Time) {
	t.Helper()
	if err := gdb.Model(&GroupMessage{}).Where("id = ?", id).Update("created_at", at).Error; err != nil {
		t.Fatalf("set time: %v", err)
	}
}
