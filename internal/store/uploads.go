package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Upload statuses, in lifecycle order.
const (
	UploadQueued    = "queued"
	UploadIngesting = "ingesting"
	UploadDone      = "done"
	UploadFailed    = "failed"
)

// Upload is one row of the ingestion task log.
type Upload struct {
	ID          int64  `json:"id"`
	TaskID      string `json:"task_id"`
	Filename    string `json:"filename"`
	Tag         string `json:"tag,omitempty"`
	Mode        string `json:"mode"`
	TotalEvents int    `json:"total_events"`
	AddedEvents int    `json:"added_events"`
	Status      string `json:"status"`
	Log         string `json:"log,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// UploadPage is one page of the task log, newest first.
type UploadPage struct {
	Items      []Upload `json:"items"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	Total      int      `json:"total"`
	TotalPages int      `json:"total_pages"`
	HasPrev    bool     `json:"has_prev"`
	HasNext    bool     `json:"has_next"`
}

const uploadTimeLayout = "2006-01-02T15:04:05"

// CreateUpload records a freshly enqueued ingestion task.
func (s *Store) CreateUpload(ctx context.Context, taskID, filename, tag, mode string) error {
	now := time.Now().Format(uploadTimeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO uploads(task_id, filename, tag, mode, status, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?)`,
		taskID, filename, nullable(tag), mode, UploadQueued, now, now)
	if err != nil {
		return fmt.Errorf("create upload %s: %w", taskID, err)
	}
	return nil
}

// MarkUploadStatus moves a task to a new status without touching its
// counters.
func (s *Store) MarkUploadStatus(ctx context.Context, taskID, status string) error {
	now := time.Now().Format(uploadTimeLayout)
	_, err := s.db.ExecContext(ctx,
		"UPDATE uploads SET status=?, updated_at=? WHERE task_id=?", status, now, taskID)
	if err != nil {
		return fmt.Errorf("mark upload %s: %w", taskID, err)
	}
	return nil
}

// FinishUpload records the terminal state of a task together with its
// counters and log blob.
func (s *Store) FinishUpload(ctx context.Context, taskID, status string, added, total int, logText string) error {
	now := time.Now().Format(uploadTimeLayout)
	_, err := s.db.ExecContext(ctx, `
		UPDATE uploads SET status=?, added_events=?, total_events=?, log=?, updated_at=?
		WHERE task_id=?`,
		status, added, total, nullable(logText), now, taskID)
	if err != nil {
		return fmt.Errorf("finish upload %s: %w", taskID, err)
	}
	return nil
}

// ListUploads returns one page of the task log, newest first,
// optionally filtered by tag. Page size defaults to 8 and is capped at
// 200; the page number is clamped into range.
func (s *Store) ListUploads(ctx context.Context, page, pageSize int, tag string) (*UploadPage, error) {
	if pageSize <= 0 {
		pageSize = 8
	}
	if pageSize > 200 {
		pageSize = 200
	}
	if page < 1 {
		page = 1
	}

	var total int
	var err error
	if tag != "" {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM uploads WHERE COALESCE(tag,'') = ?", tag).Scan(&total)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM uploads").Scan(&total)
	}
	if err != nil {
		return nil, fmt.Errorf("count uploads: %w", err)
	}

	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	if page > totalPages {
		page = totalPages
	}
	offset := (page - 1) * pageSize

	const cols = `id, COALESCE(task_id,''), COALESCE(filename,''), COALESCE(tag,''),
		COALESCE(mode,''), COALESCE(total_events,0), COALESCE(added_events,0),
		COALESCE(status,''), COALESCE(log,''), COALESCE(created_at,''), COALESCE(updated_at,'')`

	var rows *sql.Rows
	if tag != "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+cols+" FROM uploads WHERE COALESCE(tag,'') = ? ORDER BY id DESC LIMIT ? OFFSET ?",
			tag, pageSize, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT "+cols+" FROM uploads ORDER BY id DESC LIMIT ? OFFSET ?",
			pageSize, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("select uploads: %w", err)
	}
	defer rows.Close()

	items := make([]Upload, 0, pageSize)
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.ID, &u.TaskID, &u.Filename, &u.Tag, &u.Mode,
			&u.TotalEvents, &u.AddedEvents, &u.Status, &u.Log,
			&u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &UploadPage{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasPrev:    page > 1,
		HasNext:    page < totalPages,
	}, nil
}
