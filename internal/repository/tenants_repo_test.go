package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTenantsRepo(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresTenantsRepo) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresTenantsRepo(db, zap.NewNop())
	return db, mock, repo
}

func tenantRow(id int64, name, token string, channel any, active bool) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "owner", "bot_token", "company_orders_channel_id", "is_active",
	}).AddRow(id, name, "owner", token, channel, active)
}

func emptyBranches() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "center_id", "name", "b2c_orders_channel_id", "b2b_orders_channel_id", "is_active",
	})
}

func TestTenantsGet_Success(t *testing.T) {
	db, mock, repo := setupTenantsRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT(.|\n)*FROM translation_centers(.|\n)*WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(tenantRow(1, "Tarjima Plus", "123:abc", "-1001234", true))
	mock.ExpectQuery(`SELECT(.|\n)*FROM branches(.|\n)*WHERE center_id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(emptyBranches().
			AddRow(int64(10), int64(1), "Chilonzor", "-100200", "-100300", true))

	tenant, err := repo.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Tarjima Plus", tenant.Name)
	assert.True(t, tenant.HasBotToken())
	assert.True(t, tenant.CompanyOrdersChannelID.Valid)
	assert.Equal(t, "-1001234", tenant.CompanyOrdersChannelID.String)
	require.Len(t, tenant.Branches, 1)
	assert.Equal(t, "Chilonzor", tenant.Branches[0].Name)
	assert.Equal(t, "-100300", tenant.Branches[0].B2BOrdersChannelID.String)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantsGet_NotFound(t *testing.T) {
	db, mock, repo := setupTenantsRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT(.|\n)*FROM translation_centers`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantsGet_NullChannel(t *testing.T) {
	db, mock, repo := setupTenantsRepo(t)
	defer db.Close()

	// 未配置公司频道的租户：channel 为 NULL
	mock.ExpectQuery(`SELECT(.|\n)*FROM translation_centers`).
		WithArgs(int64(2)).
		WillReturnRows(tenantRow(2, "NoChannel", "456:def", nil, true))
	mock.ExpectQuery(`SELECT(.|\n)*FROM branches`).
		WithArgs(int64(2)).
		WillReturnRows(emptyBranches())

	tenant, err := repo.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, tenant.CompanyOrdersChannelID.Valid)
	assert.Empty(t, tenant.Branches)
}

func TestListActive_FiltersByTokenAndActive(t *testing.T) {
	db, mock, repo := setupTenantsRepo(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT(.|\n)*FROM translation_centers(.|\n)*WHERE is_active = TRUE(.|\n)*bot_token`).
		WillReturnRows(tenantRow(1, "Active", "123:abc", nil, true))
	mock.ExpectQuery(`SELECT(.|\n)*FROM branches`).
		WithArgs(int64(1)).
		WillReturnRows(emptyBranches())

	tenants, err := repo.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 1)
	assert.Equal(t, int64(1), tenants[0].ID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAll(t *testing.T) {
	db, mock, repo := setupTenantsRepo(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "name", "owner", "bot_token", "company_orders_channel_id", "is_active",
	}).
		AddRow(int64(1), "One", "", "123:abc", nil, true).
		AddRow(int64(2), "Two", "", "", nil, false)

	mock.ExpectQuery(`SELECT(.|\n)*FROM translation_centers(.|\n)*ORDER BY id`).
		WillReturnRows(rows)
	mock.ExpectQuery(`SELECT(.|\n)*FROM branches`).
		WithArgs(int64(1)).
		WillReturnRows(emptyBranches())
	mock.ExpectQuery(`SELECT(.|\n)*FROM branches`).
		WithArgs(int64(2)).
		WillReturnRows(emptyBranches())

	tenants, err := repo.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, tenants, 2)
	assert.False(t, tenants[1].HasBotToken())
	assert.False(t, tenants[1].Active)
}
