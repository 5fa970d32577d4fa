package models

import (
	"time"
)

// 订阅状态
const (
	StatusActive         = "active"           // 订阅有效
	StatusExpired        = "expired"          // 已过期
	StatusInGracePeriod  = "in_grace_period"  // 续费失败，宽限期内仍保留权益
	StatusInBillingRetry = "in_billing_retry" // 续费失败，Apple 重试扣款中
	StatusRevoked        = "revoked"          // 被撤销（家庭共享等）
	StatusRefunded       = "refunded"         // 已退款
)

// Subscription 订阅模型
// 每个 (user_id, original_transaction_id) 只有一行，续订不产生新行
type Subscription struct {
	BaseModel

	// 关联字段
	UserID string `json:"user_id" gorm:"size:64;index"` // appAccountToken（客户端购买时设置的 UUID），可为空

	// 交易标识
	OriginalTransactionID string `json:"original_transaction_id" gorm:"not null;size:100;uniqueIndex"` // 原始交易ID，续订期间保持不变
	TransactionID         string `json:"transaction_id" gorm:"size:100;index"`                         // 最近一次交易ID

	// 订阅状态字段
	ProductID       string    `json:"product_id" gorm:"size:100"`           // 产品ID
	Status          string    `json:"status" gorm:"not null;size:20;index"` // 见上面的状态常量
	PurchaseDate    time.Time `json:"purchase_date"`                        // 首次购买时间
	ExpiresDate     time.Time `json:"expires_date" gorm:"index"`            // 过期时间
	AutoRenewStatus bool      `json:"auto_renew_status"`                    // 自动续费开关
	Environment     string    `json:"environment" gorm:"size:20"`           // Sandbox 或 Production

	// 单调性保护：最近一次已应用通知的 signedDate（毫秒）
	LastNotifiedAtMS int64 `json:"last_notified_at_ms"`
}

// NotificationHistory 通知审计记录
// 每收到一条通知就追加一行，无论处理成功与否；除 processed 标志外不再修改
type NotificationHistory struct {
	BaseModel

	SubscriptionID   *uint  `json:"subscription_id" gorm:"index"` // 无法关联订阅时为空
	NotificationType string `json:"notification_type" gorm:"size:50;index"`
	Subtype          string `json:"subtype" gorm:"size:50"`
	NotificationUUID string `json:"notification_uuid" gorm:"size:64;index"`
	SignedPayload    string `json:"signed_payload" gorm:"type:text"` // 原始 JWS，留作对账
	RawData          string `json:"raw_data" gorm:"type:text"`       // 解码后的载荷快照（JSON）
	Processed        bool   `json:"processed"`
	ProcessingError  string `json:"processing_error" gorm:"type:text"`
}

// TableName 指定表名
func (NotificationHistory) TableName() string {
	return "notification_history"
}
