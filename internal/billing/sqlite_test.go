package billing

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSQLiteGetUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewSQLiteStoreFromDB(db)

	reset := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT id, email, next_quota_reset").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "next_quota_reset",
			"auto_topup_enabled", "auto_topup_threshold", "auto_topup_amount",
		}).AddRow("u1", "a@example.com", reset, true, 100, 250))

	user, err := store.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.Email != "a@example.com" || !user.NextQuotaReset.Equal(reset) {
		t.Errorf("unexpected user: %+v", user)
	}
	if !user.AutoTopupEnabled || user.AutoTopupAmount != 250 {
		t.Errorf("topup fields lost: %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteGetUserNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewSQLiteStoreFromDB(db)

	mock.ExpectQuery("SELECT id, email, next_quota_reset").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "next_quota_reset",
			"auto_topup_enabled", "auto_topup_threshold", "auto_topup_amount",
		}))

	if _, err := store.GetUser(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteUsageSinceNullSum(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewSQLiteStoreFromDB(db)

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT SUM\\(amount\\) FROM usage_entries").
		WithArgs(PrincipalUser, "u1", since).
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))

	total, err := store.UsageSince(context.Background(), PrincipalUser, "u1", since)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Errorf("usage with no rows = %d, want 0", total)
	}
}

func TestSQLiteUpdateGrantRemainingMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	store := NewSQLiteStoreFromDB(db)

	mock.ExpectExec("UPDATE grants SET remaining").
		WithArgs(int64(5), "nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.UpdateGrantRemaining(context.Background(), "nope", 5); err != ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
