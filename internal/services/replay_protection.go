package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"subscription-hub/internal/database"
	"subscription-hub/pkg/logging"

	"github.com/redis/go-redis/v9"
)

// ReplayProtection 重复通知防护
// Apple 会按自己的重试策略重复投递同一条通知；这里按 notificationUUID
// 去重，避免重复应用状态变更（审计记录仍然每条都写）。
// 配置了 Redis 时用 SETNX + TTL 跨实例去重，否则退回进程内 map；
// 两者之外再按审计记录里处理成功的 UUID 兜底，不受重启和 TTL 影响
type ReplayProtection struct {
	redisClient *redis.Client

	processedNotifications map[string]time.Time
	mutex                  sync.RWMutex
	cleanupInterval        time.Duration
	notificationTTL        time.Duration
	stopCleanup            chan bool
}

// NewReplayProtection 创建重复通知防护实例
// redisClient 可以为 nil
func NewReplayProtection(redisClient *redis.Client) *ReplayProtection {
	rp := &ReplayProtection{
		redisClient:            redisClient,
		processedNotifications: make(map[string]time.Time),
		cleanupInterval:        time.Hour,
		notificationTTL:        time.Hour * 24,
		stopCleanup:            make(chan bool),
	}

	if redisClient == nil {
		// 只有进程内模式需要清理协程
		go rp.startCleanupRoutine()
	}

	return rp
}

// IsReplay 检查并记录一条通知；同一 (uuid, signedDate) 第二次出现返回 true
func (rp *ReplayProtection) IsReplay(notificationUUID string, signedDateMS int64) bool {
	if notificationUUID == "" {
		// 没有 UUID 无法判断，放行
		logging.Infof("Notification UUID is empty, skipping replay check")
		return false
	}

	notificationID := rp.generateNotificationID(notificationUUID, signedDateMS)

	if rp.redisClient != nil {
		if rp.isReplayRedis(notificationID) {
			return true
		}
	} else if rp.isReplayLocal(notificationID) {
		return true
	}

	// 快速路径的记录会丢（进程重启、TTL 过期），
	// 已处理成功的审计记录按 UUID 兜底
	processed, err := database.HasNotificationBeenProcessed(notificationUUID)
	if err != nil {
		logging.Errorf("Replay check against notification history failed, allowing notification: %v", err)
		return false
	}
	if processed {
		logging.Infof("Replay detected (history) - notification_uuid: %s", notificationUUID)
	}
	return processed
}

// isReplayRedis 用 SETNX 原子地检查并记录
func (rp *ReplayProtection) isReplayRedis(notificationID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf("notification_seen:%s", notificationID)
	set, err := rp.redisClient.SetNX(ctx, key, time.Now().Unix(), rp.notificationTTL).Result()
	if err != nil {
		// Redis 故障时放行，靠数据库层的单调性保护兜底
		logging.Errorf("Replay check against Redis failed, allowing notification: %v", err)
		return false
	}
	if !set {
		logging.Infof("Replay detected (redis) - notification_id: %s", notificationID)
	}
	return !set
}

func (rp *ReplayProtection) isReplayLocal(notificationID string) bool {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	if processedTime, exists := rp.processedNotifications[notificationID]; exists {
		logging.Infof("Replay detected - notification_id: %s, previously processed at: %v", notificationID, processedTime)
		return true
	}

	rp.processedNotifications[notificationID] = time.Now()
	return false
}

// generateNotificationID 生成通知的唯一标识符
func (rp *ReplayProtection) generateNotificationID(notificationUUID string, signedDateMS int64) string {
	data := fmt.Sprintf("%s:%d", notificationUUID, signedDateMS)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// startCleanupRoutine 启动清理协程
func (rp *ReplayProtection) startCleanupRoutine() {
	ticker := time.NewTicker(rp.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rp.cleanup()
		case <-rp.stopCleanup:
			return
		}
	}
}

// cleanup 清理过期的通知记录
func (rp *ReplayProtection) cleanup() {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	now := time.Now()
	initialCount := len(rp.processedNotifications)

	for notificationID, processedTime := range rp.processedNotifications {
		if now.Sub(processedTime) > rp.notificationTTL {
			delete(rp.processedNotifications, notificationID)
		}
	}

	cleanedCount := initialCount - len(rp.processedNotifications)
	if cleanedCount > 0 {
		logging.Infof("Replay protection cleanup: removed %d expired notifications, remaining: %d", cleanedCount, len(rp.processedNotifications))
	}
}

// Clear 清空所有记录（用于测试）
func (rp *ReplayProtection) Clear() {
	rp.mutex.Lock()
	defer rp.mutex.Unlock()

	rp.processedNotifications = make(map[string]time.Time)
}

// Stop 停止清理协程
func (rp *ReplayProtection) Stop() {
	if rp.redisClient == nil {
		close(rp.stopCleanup)
	}
}
