package database

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/model"
	"welfare/internal/store"
)

func newMock(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		conn.Close()
	})
	return New(conn), mock
}

func TestGetMemberByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT .+ FROM members WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnError(sql.ErrNoRows)

	m, err := db.GetMemberByID(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestGetSetting_Missing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM settings WHERE key = $1")).
		WithArgs("session_secret").
		WillReturnError(sql.ErrNoRows)

	v, err := db.GetSetting(context.Background(), "session_secret")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestListLoggedRecipients_UsesCalendarDate(t *testing.T) {
	db, mock := newMock(t)
	occ := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT DISTINCT LOWER\(recipient_address\) FROM reminder_logs\s+WHERE special_date_id = \$1 AND occurrence = \$2`).
		WithArgs(int64(3), "2025-05-15").
		WillReturnRows(sqlmock.NewRows([]string{"lower"}).AddRow("kin@example.org").AddRow("member@example.org"))

	got, err := db.ListLoggedRecipients(context.Background(), 3, occ)
	require.NoError(t, err)
	assert.Equal(t, []string{"kin@example.org", "member@example.org"}, got)
}

func TestHasReminderRetry(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM reminder_logs WHERE retry_of = \$1\)`).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := db.HasReminderRetry(context.Background(), 8)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMarkReminderLog_SettledIsNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`UPDATE reminder_logs SET status = \$1`).
		WithArgs(model.ReminderSent, "msg-1", "", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := db.MarkReminderLog(context.Background(), 4, model.ReminderSent, "msg-1", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSetPrimaryNextOfKin_Commits(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE next_of_kin SET is_primary = FALSE`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE next_of_kin SET is_primary = TRUE`).
		WithArgs(int64(9), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, db.SetPrimaryNextOfKin(context.Background(), 1, 9))
}

func TestSetPrimaryNextOfKin_RollsBackOnMissingKin(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE next_of_kin SET is_primary = FALSE`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE next_of_kin SET is_primary = TRUE`).
		WithArgs(int64(9), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := db.SetPrimaryNextOfKin(context.Background(), 1, 9)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAddWhitelistEntry_Duplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`INSERT INTO ip_whitelist`).
		WithArgs("10.0.0.1", "office", false, "A001").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := db.AddWhitelistEntry(context.Background(), &model.IPWhitelistEntry{
		Address: "10.0.0.1", Description: "office", CreatedBy: "A001",
	})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestListReminderLogs_Filters(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reminder_logs WHERE status = $1 AND member_id = $2")).
		WithArgs(model.ReminderFailed, int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT .+ FROM reminder_logs WHERE status = \$1 AND member_id = \$2 ORDER BY created_at DESC, id DESC LIMIT \$3 OFFSET \$4`).
		WithArgs(model.ReminderFailed, int64(5), int64(20), int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	logs, total, err := db.ListReminderLogs(context.Background(), model.ReminderLogFilter{
		Status: model.ReminderFailed, MemberID: 5, Limit: 20,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, logs)
}
