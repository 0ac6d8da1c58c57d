package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lin-1259/ai-xiutu/internal/store"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: sql.ErrNoRows, want: store.ErrNotFound},
		{name: "pg unique", err: &pgconn.PgError{Code: "23505"}, want: store.ErrDuplicate},
		{name: "pg check", err: &pgconn.PgError{Code: "23514", ConstraintName: "jobs_check"}, want: store.ErrInvalidEntity},
		{name: "pg not null", err: &pgconn.PgError{Code: "23502", ColumnName: "status"}, want: store.ErrInvalidEntity},
		{
			name: "sqlite primary key",
			err:  sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey},
			want: store.ErrDuplicate,
		},
		{
			name: "sqlite check",
			err:  fmt.Errorf("exec: %w", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintCheck}),
			want: store.ErrInvalidEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, MapError(tt.err), tt.want)
		})
	}

	assert.NoError(t, MapError(nil))
	other := errors.New("other")
	assert.Equal(t, other, MapError(other))
}

type fakeResult struct {
	rows int64
	err  error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.err }

func TestCheckRowsAffected(t *testing.T) {
	assert.NoError(t, CheckRowsAffected(fakeResult{rows: 1}))
	assert.ErrorIs(t, CheckRowsAffected(fakeResult{rows: 0}), store.ErrJobNotFound)
	assert.Error(t, CheckRowsAffected(fakeResult{err: errors.New("driver")}))
	assert.Error(t, CheckRowsAffected(nil))
}
