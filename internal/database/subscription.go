package database

import (
	"errors"

	"subscription-hub/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateSubscription 创建订阅
func CreateSubscription(subscription *models.Subscription) error {
	return DB.Create(subscription).Error
}

// UpdateSubscription 更新订阅
func UpdateSubscription(subscription *models.Subscription) error {
	return DB.Save(subscription).Error
}

// GetSubscriptionByOriginalTransactionID 通过原始交易ID获取订阅
func GetSubscriptionByOriginalTransactionID(originalTransactionID string) (*models.Subscription, error) {
	var subscription models.Subscription
	err := DB.Where("original_transaction_id = ?", originalTransactionID).First(&subscription).Error
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// GetUserSubscriptions 获取用户的所有订阅
func GetUserSubscriptions(userID string) ([]models.Subscription, error) {
	var subscriptions []models.Subscription
	err := DB.Where("user_id = ?", userID).Order("created_at DESC").Find(&subscriptions).Error
	return subscriptions, err
}

// UpdateSubscriptionLocked 在行锁保护下读改写订阅
// 同一 original_transaction_id 的并发通知被串行化；不同订阅互不阻塞。
// apply 收到现有订阅（不存在时为 nil），返回要保存的订阅；
// apply 返回错误时整个事务回滚。
// 返回值 created 表示本次调用创建了新行。
func UpdateSubscriptionLocked(originalTransactionID string, apply func(existing *models.Subscription) (*models.Subscription, error)) (*models.Subscription, bool, error) {
	var result *models.Subscription
	var created bool

	err := DB.Transaction(func(tx *gorm.DB) error {
		query := tx.Where("original_transaction_id = ?", originalTransactionID)
		// SQLite 不支持 FOR UPDATE，事务本身已足够
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var existing models.Subscription
		err := query.First(&existing).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			updated, applyErr := apply(nil)
			if applyErr != nil {
				return applyErr
			}
			if updated == nil {
				return nil
			}
			if createErr := tx.Create(updated).Error; createErr != nil {
				return createErr
			}
			result = updated
			created = true
			return nil
		}

		updated, applyErr := apply(&existing)
		if applyErr != nil {
			return applyErr
		}
		if updated == nil {
			result = &existing
			return nil
		}
		if saveErr := tx.Save(updated).Error; saveErr != nil {
			return saveErr
		}
		result = updated
		return nil
	})

	return result, created, err
}

// AppendNotificationHistory 追加通知审计记录
func AppendNotificationHistory(history *models.NotificationHistory) error {
	return DB.Create(history).Error
}

// HasNotificationBeenProcessed 检查通知 UUID 是否已有处理成功的记录
func HasNotificationBeenProcessed(notificationUUID string) (bool, error) {
	if notificationUUID == "" {
		return false, nil
	}
	var count int64
	err := DB.Model(&models.NotificationHistory{}).
		Where("notification_uuid = ? AND processed = ?", notificationUUID, true).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetNotificationHistory 获取某订阅的通知历史
func GetNotificationHistory(subscriptionID uint) ([]models.NotificationHistory, error) {
	var history []models.NotificationHistory
	err := DB.Where("subscription_id = ?", subscriptionID).Order("created_at DESC").Find(&history).Error
	return history, err
}
