package taskstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// taskRow is the gorm model backing the embedded store.
type taskRow struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	UserID      string `gorm:"index;not null"`
	Title       string `gorm:"not null"`
	Notes       string
	Done        bool `gorm:"not null;default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (taskRow) TableName() string { return "tasks" }

func (r *taskRow) toTask() *Task {
	return &Task{
		ID:          r.ID,
		UserID:      r.UserID,
		Title:       r.Title,
		Notes:       r.Notes,
		Done:        r.Done,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	}
}

// SQLiteStore is the embedded task store used in standalone mode.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) the task database at path and migrates it.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}

	if err := gdb.AutoMigrate(&taskRow{}); err != nil {
		return nil, fmt.Errorf("migrate tasks: %w", err)
	}

	return &SQLiteStore{db: gdb}, nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, userID, title, notes string) (*Task, error) {
	row := taskRow{UserID: userID, Title: title, Notes: notes}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, wrapDBErr(err)
	}
	return row.toTask(), nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string, id int64) (*Task, error) {
	var row taskRow
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, wrapDBErr(err)
	}
	return row.toTask(), nil
}

func (s *SQLiteStore) List(ctx context.Context, userID string, includeDone bool) ([]*Task, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if !includeDone {
		q = q.Where("done = ?", false)
	}

	var rows []taskRow
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, wrapDBErr(err)
	}

	tasks := make([]*Task, 0, len(rows))
	for i := range rows {
		tasks = append(tasks, rows[i].toTask())
	}
	return tasks, nil
}

func (s *SQLiteStore) Update(ctx context.Context, userID string, id int64, upd Update) (*Task, error) {
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if upd.Title != nil {
		changes["title"] = *upd.Title
	}
	if upd.Notes != nil {
		changes["notes"] = *upd.Notes
	}
	if upd.Done != nil {
		changes["done"] = *upd.Done
		if *upd.Done {
			now := time.Now()
			changes["completed_at"] = &now
		} else {
			changes["completed_at"] = nil
		}
	}
	if len(changes) == 0 {
		return task, nil
	}

	err = s.db.WithContext(ctx).Model(&taskRow{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(changes).Error
	if err != nil {
		return nil, wrapDBErr(err)
	}
	return s.Get(ctx, userID, id)
}

func (s *SQLiteStore) Complete(ctx context.Context, userID string, id int64) (*Task, error) {
	task, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if task.Done {
		return task, nil
	}

	done := true
	return s.Update(ctx, userID, id, Update{Done: &done})
}

func (s *SQLiteStore) Delete(ctx context.Context, userID string, id int64) error {
	res := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&taskRow{})
	if res.Error != nil {
		return wrapDBErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func wrapDBErr(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

var _ Adapter = (*SQLiteStore)(nil)
