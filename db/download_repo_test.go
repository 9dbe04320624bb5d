package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewSqliteDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestDownloadHistory(t *testing.T) {
	repo := NewDownloadRepository(openTestDB(t))
	now := time.Now()

	id1, err := repo.InsertDownload("alpha", "F Scott Fitzgerald", "The Great Gatsby", now.Add(-time.Minute))
	require.NoError(t, err)
	id2, err := repo.InsertDownload("beta", "F Scott Fitzgerald", "The Great Gatsby", now)
	require.NoError(t, err)

	require.NoError(t, repo.MarkFailed(id1, "no transfer offer received", now))
	require.NoError(t, repo.MarkCompleted(id2, "gatsby.epub", "downloads/gatsby.epub", 340736, now))

	downloads, err := repo.RecentDownloads(10)
	require.NoError(t, err)
	require.Len(t, downloads, 2)

	// newest first
	assert.Equal(t, "beta", downloads[0].ServerTag)
	assert.Equal(t, StatusCompleted, downloads[0].Status)
	require.NotNil(t, downloads[0].FilePath)
	assert.Equal(t, "downloads/gatsby.epub", *downloads[0].FilePath)
	assert.Equal(t, int64(340736), downloads[0].SizeBytes)

	assert.Equal(t, "alpha", downloads[1].ServerTag)
	assert.Equal(t, StatusFailed, downloads[1].Status)
	require.NotNil(t, downloads[1].Error)
	assert.Equal(t, "no transfer offer received", *downloads[1].Error)
	assert.Nil(t, downloads[1].FilePath)
}

func TestRecentDownloadsLimit(t *testing.T) {
	repo := NewDownloadRepository(openTestDB(t))
	for i := 0; i < 5; i++ {
		_, err := repo.InsertDownload("srv", "author", "title", time.Now().Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	downloads, err := repo.RecentDownloads(3)
	require.NoError(t, err)
	assert.Len(t, downloads, 3)
}
