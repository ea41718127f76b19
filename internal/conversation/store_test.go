package conversation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func storeNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewStore(db, time.Hour, 3)
	store.now = storeNow
	return store, mock
}

func conversationRows(id string, session int, status Status, expiresAt time.Time) *sqlmock.Rows {
	now := storeNow()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "phone", "session", "context", "status", "created_at", "updated_at", "expires_at",
	}).AddRow(id, "t-1", "521331", session, []byte(`{}`), string(status), now, now, expiresAt)
}

func TestGetOrCreateNewSession(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM conversations").
		WithArgs("t-1", "521331").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("t-1_521331", "t-1", "521331", 1, []byte(`{}`), "active",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conv, err := store.GetOrCreate(context.Background(), "t-1", "521331")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if conv.ID != "t-1_521331" || conv.Session != 1 {
		t.Errorf("new session = %q/%d", conv.ID, conv.Session)
	}
	if !conv.ExpiresAt.Equal(storeNow().Add(time.Hour)) {
		t.Errorf("expires_at = %v", conv.ExpiresAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetOrCreateRollsTerminalSession(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM conversations").
		WithArgs("t-1", "521331").
		WillReturnRows(conversationRows("t-1_521331", 1, StatusCompleted, storeNow().Add(time.Hour)))
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("t-1_521331_s2", "t-1", "521331", 2, []byte(`{}`), "active",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conv, err := store.GetOrCreate(context.Background(), "t-1", "521331")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if conv.ID != "t-1_521331_s2" || conv.Session != 2 {
		t.Errorf("rolled session = %q/%d", conv.ID, conv.Session)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetOrCreateExpiresStaleSession(t *testing.T) {
	store, mock := newTestStore(t)

	// Active but past expires_at: persist the expired transition, then roll.
	mock.ExpectQuery("SELECT (.+) FROM conversations").
		WithArgs("t-1", "521331").
		WillReturnRows(conversationRows("t-1_521331", 1, StatusActive, storeNow().Add(-time.Minute)))
	mock.ExpectExec("UPDATE conversations SET status").
		WithArgs("expired", sqlmock.AnyArg(), "t-1_521331").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO conversations").
		WithArgs("t-1_521331_s2", "t-1", "521331", 2, []byte(`{}`), "active",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conv, err := store.GetOrCreate(context.Background(), "t-1", "521331")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if conv.Session != 2 {
		t.Errorf("expired sessions must roll, got session %d", conv.Session)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetOrCreateReturnsLiveSession(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT (.+) FROM conversations").
		WithArgs("t-1", "521331").
		WillReturnRows(conversationRows("t-1_521331", 1, StatusActive, storeNow().Add(time.Hour)))
	mock.ExpectQuery("SELECT (.+) FROM conversation_messages").
		WithArgs("t-1_521331").
		WillReturnRows(sqlmock.NewRows([]string{"role", "content", "metadata", "created_at"}).
			AddRow("user", "hola", []byte(`{}`), storeNow()))

	conv, err := store.GetOrCreate(context.Background(), "t-1", "521331")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Content != "hola" {
		t.Errorf("messages = %+v", conv.Messages)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendMessageTruncatesInOneTransaction(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO conversation_messages").
		WithArgs(sqlmock.AnyArg(), "t-1_521331", "user", "hola", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM conversation_messages").
		WithArgs("t-1_521331", 3).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("UPDATE conversations SET updated_at").
		WithArgs(sqlmock.AnyArg(), "t-1_521331").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.AppendMessage(context.Background(), "t-1_521331", Message{Role: RoleUser, Content: "hola"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteByPhoneReportsCount(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM conversation_messages").
		WithArgs("t-1", "521331").
		WillReturnResult(sqlmock.NewResult(0, 12))
	mock.ExpectExec("DELETE FROM conversations").
		WithArgs("t-1", "521331").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	deleted, err := store.DeleteByPhone(context.Background(), "t-1", "521331")
	if err != nil {
		t.Fatalf("DeleteByPhone: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted = %d, want 3", deleted)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSessionID(t *testing.T) {
	if got := sessionID("t-1", "521331", 1); got != "t-1_521331" {
		t.Errorf("first session id = %q", got)
	}
	if got := sessionID("t-1", "521331", 3); got != "t-1_521331_s3" {
		t.Errorf("third session id = %q", got)
	}
}
