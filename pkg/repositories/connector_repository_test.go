package repositories_test

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/tendril/pkg/context"
	"github.com/Ramsey-B/tendril/pkg/database"
	"github.com/Ramsey-B/tendril/pkg/models"
	"github.com/Ramsey-B/tendril/pkg/repositories"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "tendril"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

func getTestContext(tenantID uuid.UUID) context.Context {
	ctx := context.Background()
	return appctx.SetTenantID(ctx, tenantID.String())
}

func TestConnectorRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := getTestDB(t)
	defer db.Close()

	repo := repositories.NewConnectorRepository(db, getTestLogger())
	tenantID := uuid.New()
	ctx := getTestContext(tenantID)

	connector := &models.Connector{
		Provider:     models.ProviderZendesk,
		ConnectionID: "conn-123",
		Subdomain:    "acme",
	}
	require.NoError(t, repo.Create(ctx, connector))
	defer func() { _ = repo.Delete(ctx, connector.ID) }()

	assert.NotEqual(t, uuid.Nil, connector.ID)
	assert.Equal(t, tenantID, connector.TenantID)
	assert.Equal(t, models.SyncStatusIdle, connector.SyncStatus)
	assert.False(t, connector.CreatedAt.IsZero())

	t.Run("GetByID", func(t *testing.T) {
		got, err := repo.GetByID(ctx, connector.ID)
		require.NoError(t, err)
		assert.Equal(t, connector.ID, got.ID)
		assert.Equal(t, "conn-123", got.ConnectionID)
		assert.Equal(t, "acme", got.Subdomain)
	})

	t.Run("GetByID is tenant-scoped", func(t *testing.T) {
		otherTenant := getTestContext(uuid.New())
		_, err := repo.GetByID(otherTenant, connector.ID)
		require.Error(t, err)
		assert.True(t, httperror.IsHTTPError(err))
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	})

	t.Run("List", func(t *testing.T) {
		connectors, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, connectors, 1)
		assert.Equal(t, connector.ID, connectors[0].ID)
	})

	t.Run("Update", func(t *testing.T) {
		connector.ConnectionID = "conn-456"
		require.NoError(t, repo.Update(ctx, connector))

		got, err := repo.GetByID(ctx, connector.ID)
		require.NoError(t, err)
		assert.Equal(t, "conn-456", got.ConnectionID)
	})

	t.Run("SetPaused", func(t *testing.T) {
		require.NoError(t, repo.SetPaused(ctx, connector.ID, true))

		got, err := repo.GetByID(ctx, connector.ID)
		require.NoError(t, err)
		assert.True(t, got.Paused)

		require.NoError(t, repo.SetPaused(ctx, connector.ID, false))
	})

	t.Run("sync status transitions", func(t *testing.T) {
		require.NoError(t, repo.MarkSyncStarted(ctx, connector.ID))
		got, err := repo.GetByID(ctx, connector.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusRunning, got.SyncStatus)
		assert.Nil(t, got.ErrorReason)
		require.NotNil(t, got.LastSyncStartedAt)
		assert.WithinDuration(t, time.Now(), *got.LastSyncStartedAt, time.Minute)

		require.NoError(t, repo.MarkSyncFailed(ctx, connector.ID, models.ErrorReasonOAuthTokenRevoked))
		got, err = repo.GetByID(ctx, connector.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusErrored, got.SyncStatus)
		require.NotNil(t, got.ErrorReason)
		assert.Equal(t, models.ErrorReasonOAuthTokenRevoked, *got.ErrorReason)

		require.NoError(t, repo.MarkSyncSucceeded(ctx, connector.ID))
		got, err = repo.GetByID(ctx, connector.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SyncStatusSucceeded, got.SyncStatus)
		assert.Nil(t, got.ErrorReason)
		require.NotNil(t, got.LastSyncSucceededAt)
	})

	t.Run("Delete", func(t *testing.T) {
		extra := &models.Connector{
			Provider:     models.ProviderSnowflake,
			ConnectionID: "conn-789",
		}
		require.NoError(t, repo.Create(ctx, extra))
		require.NoError(t, repo.Delete(ctx, extra.ID))

		err := repo.Delete(ctx, extra.ID)
		require.Error(t, err)
		assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	})
}
