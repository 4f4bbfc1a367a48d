package store

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := &DB{sqlx: sqlx.NewDb(mockDB, "sqlmock"), log: zerolog.New(io.Discard)}
	return NewJobStore(db, zerolog.New(io.Discard)), mock
}

func TestIdempotencyKeyIgnoresFormatOrderAndCase(t *testing.T) {
	a := IdempotencyKey(42, "  How To Brew Coffee  ", []string{"video", "blog"})
	b := IdempotencyKey(42, "how to brew coffee", []string{"blog", "video"})
	assert.Equal(t, a, b)

	c := IdempotencyKey(43, "how to brew coffee", []string{"blog", "video"})
	assert.NotEqual(t, a, c, "different user id must not collide")
}

func TestCreateJobInsertsWhenNoIdempotencyCollision(t *testing.T) {
	js, mock := newMockJobStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, org_id, user_id, topic, formats_requested, status, idempotency_key, created_at, started_at, finished_at\s+FROM jobs WHERE org_id = \$1 AND idempotency_key = \$2`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "user_id", "topic", "formats_requested", "status", "idempotency_key", "created_at", "started_at", "finished_at",
		}).AddRow(1, 7, 9, "how to brew coffee", "blog,video", string(JobPending), "deadbeef", time.Now(), nil, nil))
	mock.ExpectCommit()

	job, err := js.CreateJob(ctx, 7, 9, "how to brew coffee", []string{"blog", "video"})
	require.NoError(t, err)
	assert.Equal(t, JobPending, job.Status)
	assert.Equal(t, []string{"blog", "video"}, job.FormatsRequested)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobReturnsConflictOnNonTerminalDuplicate(t *testing.T) {
	js, mock := newMockJobStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, org_id, user_id, topic, formats_requested, status, idempotency_key, created_at, started_at, finished_at\s+FROM jobs WHERE org_id = \$1 AND idempotency_key = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "org_id", "user_id", "topic", "formats_requested", "status", "idempotency_key", "created_at", "started_at", "finished_at",
		}).AddRow(1, 7, 9, "how to brew coffee", "blog", string(JobRunning), "deadbeef", time.Now(), time.Now(), nil))
	mock.ExpectRollback()

	_, err := js.CreateJob(ctx, 7, 9, "how to brew coffee", []string{"blog"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
