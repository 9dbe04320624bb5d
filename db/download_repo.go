package db

import (
	"database/sql"
	"time"
)

// Download statuses recorded in history.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type Download struct {
	ID          int64
	ServerTag   string
	Author      string
	Title       string
	Filename    *string
	FilePath    *string
	SizeBytes   int64
	Status      string
	Error       *string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

type DownloadRepository struct {
	db Executor
}

func NewDownloadRepository(db Executor) *DownloadRepository {
	return &DownloadRepository{db: db}
}

// InsertDownload records a download attempt in the pending state and returns
// its row id.
func (r *DownloadRepository) InsertDownload(serverTag, author, title string, createdAt time.Time) (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO downloads (server_tag, author, title, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, serverTag, author, title, StatusPending, createdAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *DownloadRepository) MarkCompleted(id int64, filename, filePath string, sizeBytes int64, completedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE downloads
		SET status = ?, filename = ?, file_path = ?, size_bytes = ?, completed_at = ?
		WHERE id = ?
	`, StatusCompleted, filename, filePath, sizeBytes, completedAt, id)
	return err
}

func (r *DownloadRepository) MarkFailed(id int64, errorMsg string, completedAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE downloads
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`, StatusFailed, errorMsg, completedAt, id)
	return err
}

// RecentDownloads returns up to limit history rows, newest first.
func (r *DownloadRepository) RecentDownloads(limit int) ([]Download, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(`
		SELECT id, server_tag, author, title, filename, file_path, size_bytes,
		       status, error, created_at, completed_at
		FROM downloads
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []Download
	for rows.Next() {
		var d Download
		var filename, filePath, errorMsg sql.NullString
		var completedAt sql.NullTime

		if err := rows.Scan(
			&d.ID, &d.ServerTag, &d.Author, &d.Title, &filename, &filePath,
			&d.SizeBytes, &d.Status, &errorMsg, &d.CreatedAt, &completedAt,
		); err != nil {
			return nil, err
		}

		if filename.Valid {
			d.Filename = &filename.String
		}
		if filePath.Valid {
			d.FilePath = &filePath.String
		}
		if errorMsg.Valid {
			d.Error = &errorMsg.String
		}
		if completedAt.Valid {
			d.CompletedAt = &completedAt.Time
		}
		downloads = append(downloads, d)
	}
	return downloads, rows.Err()
}
