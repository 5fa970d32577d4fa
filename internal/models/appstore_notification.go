package models

// Apple App Store Server Notifications v2 types.
// Apple uses camelCase for field names.
const (
	NotificationSubscribed             = "SUBSCRIBED"
	NotificationDidRenew               = "DID_RENEW"
	NotificationOfferRedeemed          = "OFFER_REDEEMED"
	NotificationDidChangeRenewalStatus = "DID_CHANGE_RENEWAL_STATUS"
	NotificationDidChangeRenewalPref   = "DID_CHANGE_RENEWAL_PREF"
	NotificationDidFailToRenew         = "DID_FAIL_TO_RENEW"
	NotificationGracePeriodExpired     = "GRACE_PERIOD_EXPIRED"
	NotificationExpired                = "EXPIRED"
	NotificationRefund                 = "REFUND"
	NotificationRevoke                 = "REVOKE"
	NotificationPriceIncrease          = "PRICE_INCREASE"
	NotificationConsumptionRequest     = "CONSUMPTION_REQUEST"
	NotificationRenewalExtended        = "RENEWAL_EXTENDED"
	NotificationTest                   = "TEST"
)

// SubtypeGracePeriod marks a DID_FAIL_TO_RENEW that is still inside the
// billing grace period
const SubtypeGracePeriod = "GRACE_PERIOD"

// NotificationWrapper represents the outer wrapper of App Store Server
// Notification V2. Apple sends notifications as a JWS in the signedPayload field
type NotificationWrapper struct {
	SignedPayload string `json:"signedPayload"`
}

// JWSHeader is the decoded first segment of a JWS token
type JWSHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// NotificationRecord 归一化后的通知载荷
// v1/v2 通知的字段位置不一致（有的在顶层，有的嵌在 data 里），
// 经 PayloadExtractor 归一化后统一为这个形状
type NotificationRecord struct {
	NotificationType string
	Subtype          string
	NotificationUUID string
	SignedDateMS     int64 // 签名时间（毫秒），用于单调性判断
	Environment      string
	BundleID         string

	// JWS 字符串或已解码的 JSON 对象（map[string]interface{}）
	SignedTransactionInfo interface{}
	SignedRenewalInfo     interface{}

	Summary map[string]interface{}

	// 原始解码载荷，写入审计记录
	Raw map[string]interface{}
}

// TransactionInfo represents decoded transaction/renewal information
type TransactionInfo struct {
	TransactionID         string
	OriginalTransactionID string
	ProductID             string
	AppAccountToken       string
	PurchaseDateMS        int64
	ExpiresDateMS         int64
	SignedDateMS          int64
	AutoRenewStatus       *bool // nil 表示通知里没带这个字段
	Environment           string
}
