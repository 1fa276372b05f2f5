package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-digest-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedHistory(t *testing.T, db *gorm.DB, id, userID string, sentAt time.Time) *domain.DigestHistory {
	t.Helper()
	h := &domain.DigestHistory{
		ID: id, UserID: userID, Title: "Daily Digest: " + id, Content: "body",
		Topics: []string{"technology"}, Language: "id", SentAt: sentAt,
	}
	if err := db.Create(h).Error; err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return h
}

func TestHistoryStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	_, _, err := HistoryStats(context.Background(), db, "u1")
	if err == nil {
		t.Fatalf("expected error due to missing digest_history table")
	}
}

func TestHistoryStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.DigestHistory{})
	count, maxAt, err := HistoryStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("HistoryStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestHistoryStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.DigestHistory{})

	t1 := time.Date(2025, 1, 2, 1, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 1, 0, 0, 0, time.UTC) // max for u1
	t3 := time.Date(2025, 5, 1, 1, 0, 0, 0, time.UTC) // other user

	seedHistory(t, db, "h1", "u1", t1)
	seedHistory(t, db, "h2", "u1", t2)
	seedHistory(t, db, "h3", "u2", t3)

	count, maxAt, err := HistoryStats(context.Background(), db, "u1")
	if err != nil {
		t.Fatalf("HistoryStats error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected maxSentAt %v, got %v", t2, maxAt)
	}
}

// Force the second query (SELECT sent_at ...) to fail by renaming the column.
func TestHistoryStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.DigestHistory{})
	seedHistory(t, db, "hx", "uerr", time.Now().UTC())

	if err := db.Exec(`ALTER TABLE digest_history RENAME COLUMN sent_at TO sent_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}

	_, _, err := HistoryStats(context.Background(), db, "uerr")
	if err == nil {
		t.Fatalf("expected error from latest-sent select after column rename")
	}
}

func TestUnreadCount(t *testing.T) {
	db := newTestDB(t, &domain.DigestHistory{})
	ctx := context.Background()
	now := time.Now().UTC()

	seedHistory(t, db, "h1", "u1", now.Add(-2*time.Hour))
	seedHistory(t, db, "h2", "u1", now.Add(-time.Hour))
	seedHistory(t, db, "h3", "u2", now)

	if _, err := MarkHistoryRead(ctx, db, "h1", "u1", now); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	n, err := UnreadCount(ctx, db, "u1")
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 unread, got %d", n)
	}
}
