package repositories

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestBalancePostgres_Get(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalancePostgresRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT email, amount, created_at, updated_at FROM accounts")).
		WithArgs("a@x.io").
		WillReturnRows(sqlmock.NewRows([]string{"email", "amount", "created_at", "updated_at"}).
			AddRow("a@x.io", "150.50", now, now))

	balance, found, err := repo.Get(context.Background(), "a@x.io")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "150.5", balance.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalancePostgres_GetAbsent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalancePostgresRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).
		WithArgs("nobody@x.io").
		WillReturnRows(sqlmock.NewRows([]string{"email", "amount", "created_at", "updated_at"}))

	balance, found, err := repo.Get(context.Background(), "nobody@x.io")
	require.NoError(t, err)
	assert.False(t, found)
	assert.True(t, balance.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalancePostgres_GetError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalancePostgresRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts")).
		WillReturnError(errors.New("connection refused"))

	_, _, err := repo.Get(context.Background(), "a@x.io")
	assert.Error(t, err)
}

func TestBalancePostgres_Put(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "inserted", affected: 1},
		{name: "already exists", affected: 0, wantErr: ErrAccountExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewBalancePostgresRepository(db)

			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
				WithArgs("a@x.io", decimal.NewFromInt(10)).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.Put(context.Background(), "a@x.io", decimal.NewFromInt(10))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBalancePostgres_Update(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		wantErr  error
	}{
		{name: "updated", affected: 1},
		{name: "absent", affected: 0, wantErr: ErrAccountNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			repo := NewBalancePostgresRepository(db)

			mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts")).
				WithArgs("a@x.io", decimal.NewFromInt(25)).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			err := repo.Update(context.Background(), "a@x.io", decimal.NewFromInt(25))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestBalancePostgres_CreditApplied(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalancePostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO deposits")).
		WithArgs("dep-1", "a@x.io", decimal.NewFromInt(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (email)")).
		WithArgs("a@x.io", decimal.NewFromInt(100)).
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("250.00"))
	mock.ExpectCommit()

	balance, applied, err := repo.Credit(context.Background(), "dep-1", "a@x.io", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, balance.Equal(decimal.NewFromInt(250)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalancePostgres_CreditDuplicate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalancePostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO deposits")).
		WithArgs("dep-1", "a@x.io", decimal.NewFromInt(100)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT amount FROM accounts")).
		WithArgs("a@x.io").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow("100.00"))
	mock.ExpectCommit()

	balance, applied, err := repo.Credit(context.Background(), "dep-1", "a@x.io", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, balance.Equal(decimal.NewFromInt(100)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalancePostgres_CreditRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalancePostgresRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO deposits")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (email)")).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, applied, err := repo.Credit(context.Background(), "dep-1", "a@x.io", decimal.NewFromInt(100))
	require.Error(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBalancePostgres_EnsureSchema(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewBalancePostgresRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS accounts")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS deposits")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, repo.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- Integration against a real Postgres ---
func setupPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_DB": "testdb", "POSTGRES_USER": "postgres"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/testdb?sslmode=disable", host, port.Port())
	db, err := sqlx.Connect("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)

	require.NoError(t, NewBalancePostgresRepository(db).EnsureSchema(ctx))
	return db
}

func TestBalancePostgres_CreditIntegration(t *testing.T) {
	db := setupPostgres(t)
	repo := NewBalancePostgresRepository(db)
	ctx := context.Background()

	_, found, err := repo.Get(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.False(t, found)

	balance, applied, err := repo.Credit(ctx, "dep-1", "alice@example.com", decimal.RequireFromString("100.25"))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "100.25", balance.StringFixed(2))

	balance, applied, err = repo.Credit(ctx, "dep-1", "alice@example.com", decimal.RequireFromString("100.25"))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "100.25", balance.StringFixed(2))

	balance, applied, err = repo.Credit(ctx, "dep-2", "alice@example.com", decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, "150.25", balance.StringFixed(2))

	assert.ErrorIs(t, repo.Put(ctx, "alice@example.com", decimal.Zero), ErrAccountExists)
	assert.ErrorIs(t, repo.Update(ctx, "bob@example.com", decimal.Zero), ErrAccountNotFound)
}

func TestBalancePostgres_CreditConcurrency(t *testing.T) {
	db := setupPostgres(t)
	repo := NewBalancePostgresRepository(db)
	ctx := context.Background()

	const numGoroutines = 200
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(i int) {
			defer wg.Done()
			// every deposit is delivered twice
			key := fmt.Sprintf("dep-%d", i%(numGoroutines/2))
			_, _, err := repo.Credit(ctx, key, "concurrent@example.com", decimal.NewFromInt(1))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	balance, found, err := repo.Get(ctx, "concurrent@example.com")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(numGoroutines/2), balance.IntPart())
}
