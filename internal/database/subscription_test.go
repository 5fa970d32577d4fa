package database

import (
	"errors"
	"path/filepath"
	"testing"

	"subscription-hub/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func setupTestDB(t *testing.T) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Subscription{}, &models.NotificationHistory{}))

	DB = db
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		DB = nil
	})
}

func TestUpdateSubscriptionLockedCreates(t *testing.T) {
	setupTestDB(t)

	subscription, created, err := UpdateSubscriptionLocked("otx-1", func(existing *models.Subscription) (*models.Subscription, error) {
		require.Nil(t, existing)
		return &models.Subscription{
			OriginalTransactionID: "otx-1",
			Status:                models.StatusActive,
		}, nil
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, subscription.ID)

	got, err := GetSubscriptionByOriginalTransactionID("otx-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestUpdateSubscriptionLockedUpdates(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, CreateSubscription(&models.Subscription{
		OriginalTransactionID: "otx-2",
		Status:                models.StatusActive,
	}))

	subscription, created, err := UpdateSubscriptionLocked("otx-2", func(existing *models.Subscription) (*models.Subscription, error) {
		require.NotNil(t, existing)
		existing.Status = models.StatusExpired
		return existing, nil
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, models.StatusExpired, subscription.Status)

	got, err := GetSubscriptionByOriginalTransactionID("otx-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
}

func TestUpdateSubscriptionLockedRollsBackOnApplyError(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, CreateSubscription(&models.Subscription{
		OriginalTransactionID: "otx-3",
		Status:                models.StatusActive,
	}))

	applyErr := errors.New("transition rejected")
	_, _, err := UpdateSubscriptionLocked("otx-3", func(existing *models.Subscription) (*models.Subscription, error) {
		existing.Status = models.StatusRevoked
		return nil, applyErr
	})
	assert.ErrorIs(t, err, applyErr)

	got, err := GetSubscriptionByOriginalTransactionID("otx-3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestHasNotificationBeenProcessed(t *testing.T) {
	setupTestDB(t)

	ok, err := HasNotificationBeenProcessed("uuid-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, AppendNotificationHistory(&models.NotificationHistory{
		NotificationUUID: "uuid-1",
		NotificationType: models.NotificationDidRenew,
		Processed:        true,
	}))

	ok, err = HasNotificationBeenProcessed("uuid-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// an unprocessed audit row does not count
	require.NoError(t, AppendNotificationHistory(&models.NotificationHistory{
		NotificationUUID: "uuid-2",
		NotificationType: models.NotificationDidRenew,
		Processed:        false,
	}))
	ok, err = HasNotificationBeenProcessed("uuid-2")
	require.NoError(t, err)
	assert.False(t, ok)

	// empty UUID is never considered processed
	ok, err = HasNotificationBeenProcessed("")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetUserSubscriptions(t *testing.T) {
	setupTestDB(t)

	require.NoError(t, CreateSubscription(&models.Subscription{
		UserID:                "user-1",
		OriginalTransactionID: "otx-a",
		Status:                models.StatusActive,
	}))
	require.NoError(t, CreateSubscription(&models.Subscription{
		UserID:                "user-1",
		OriginalTransactionID: "otx-b",
		Status:                models.StatusExpired,
	}))
	require.NoError(t, CreateSubscription(&models.Subscription{
		UserID:                "user-2",
		OriginalTransactionID: "otx-c",
		Status:                models.StatusActive,
	}))

	subscriptions, err := GetUserSubscriptions("user-1")
	require.NoError(t, err)
	assert.Len(t, subscriptions, 2)
}
