package services

import (
	"context"
	"fmt"
	"time"

	"subscription-hub/internal/models"
	"subscription-hub/pkg/logging"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// EmailNotifier sends subscription alert emails via Brevo.
// 退款、撤销和扣款失败需要人工关注，发一封告警邮件到运营邮箱
type EmailNotifier struct {
	client     *brevo.APIClient
	fromEmail  string
	fromName   string
	alertEmail string
}

// NewEmailNotifier creates a new email notifier.
// Returns nil when Brevo or the alert mailbox is not configured
func NewEmailNotifier(apiKey, fromEmail, fromName, alertEmail string) *EmailNotifier {
	if apiKey == "" || fromEmail == "" || alertEmail == "" {
		return nil
	}

	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)

	return &EmailNotifier{
		client:     brevo.NewAPIClient(cfg),
		fromEmail:  fromEmail,
		fromName:   fromName,
		alertEmail: alertEmail,
	}
}

// alertStatuses 需要触发告警的订阅状态
var alertStatuses = map[string]bool{
	models.StatusRefunded:       true,
	models.StatusRevoked:        true,
	models.StatusInBillingRetry: true,
}

// SendStatusAlert emails the alert mailbox when a subscription enters a
// status that needs attention. Called from a goroutine
func (en *EmailNotifier) SendStatusAlert(subscription *models.Subscription, notificationType string) {
	if !alertStatuses[subscription.Status] {
		return
	}

	subject := fmt.Sprintf("订阅状态告警 - %s (%s)", subscription.Status, notificationType)
	textContent := fmt.Sprintf(`订阅状态发生变更，请关注。

通知类型：%s
订阅状态：%s
原始交易ID：%s
产品ID：%s
用户：%s
过期时间：%s
环境：%s
`,
		notificationType,
		subscription.Status,
		subscription.OriginalTransactionID,
		subscription.ProductID,
		subscription.UserID,
		subscription.ExpiresDate.Format(time.RFC3339),
		subscription.Environment,
	)

	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  en.fromName,
			Email: en.fromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: en.alertEmail},
		},
		Subject:     subject,
		TextContent: textContent,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, _, err := en.client.TransactionalEmailsApi.SendTransacEmail(ctx, email)
	if err != nil {
		logging.Errorf("Failed to send status alert email - original_transaction: %s, error: %v",
			subscription.OriginalTransactionID, err)
		return
	}

	logging.Infof("Status alert email sent - original_transaction: %s, status: %s",
		subscription.OriginalTransactionID, subscription.Status)
}
