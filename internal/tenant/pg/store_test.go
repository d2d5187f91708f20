package pg

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keybroker/internal/tenant"
)

func TestFindByDomain_ReturnsTenant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("select id, domain from tenants where domain = \\$1 limit 1").
		WithArgs("example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain"}).
			AddRow("tenant-1", "example.com"))

	store := NewWithDB(db)
	got, err := store.FindByDomain(context.Background(), "example.com")
	require.NoError(t, err)

	assert.Equal(t, tenant.Tenant{ID: "tenant-1", Domain: "example.com"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByDomain_UnknownDomain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("select id, domain from tenants").
		WithArgs("unknown.test").
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain"}))

	store := NewWithDB(db)
	_, err = store.FindByDomain(context.Background(), "unknown.test")

	assert.ErrorIs(t, err, tenant.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByDomain_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("select id, domain from tenants").
		WithArgs("example.com").
		WillReturnError(errors.New("connection reset"))

	store := NewWithDB(db)
	_, err = store.FindByDomain(context.Background(), "example.com")

	require.Error(t, err)
	assert.NotErrorIs(t, err, tenant.ErrNotFound)
	assert.Contains(t, err.Error(), "failed to look up tenant")
}

func TestFindByDomain_FirstMatchWins(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// limit 1 means only the first row is ever scanned even if the
	// table carries duplicate domains.
	mock.ExpectQuery("select id, domain from tenants where domain = \\$1 limit 1").
		WithArgs("dup.example").
		WillReturnRows(sqlmock.NewRows([]string{"id", "domain"}).
			AddRow("tenant-a", "dup.example"))

	store := NewWithDB(db)
	got, err := store.FindByDomain(context.Background(), "dup.example")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", got.ID)
}
