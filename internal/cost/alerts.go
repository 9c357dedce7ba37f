// internal/cost/alerts.go
package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/puneetrinity/llmbackend1/internal/common/aws"
	"github.com/puneetrinity/llmbackend1/internal/common/logger"
)

// BudgetAlert describes a budget threshold crossing.
type BudgetAlert struct {
	Scope     string    `json:"scope"` // daily or monthly
	Provider  string    `json:"provider,omitempty"`
	Spent     float64   `json:"spent"`
	Budget    float64   `json:"budget"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

func (a BudgetAlert) subject() string {
	if a.Scope == "monthly" {
		return fmt.Sprintf("Budget alert: %s monthly spend at %.0f%%", a.Provider, a.percent())
	}
	return fmt.Sprintf("Budget alert: daily spend at %.0f%%", a.percent())
}

func (a BudgetAlert) body() string {
	scope := "Global daily budget"
	if a.Scope == "monthly" {
		scope = fmt.Sprintf("Monthly budget for provider %q", a.Provider)
	}
	return fmt.Sprintf(
		"%s crossed the %.0f%% alert threshold.\n\nSpent: $%.2f\nBudget: $%.2f\nTime: %s\n",
		scope, a.Threshold*100, a.Spent, a.Budget, a.Timestamp.Format(time.RFC3339),
	)
}

func (a BudgetAlert) percent() float64 {
	if a.Budget <= 0 {
		return 0
	}
	return a.Spent / a.Budget * 100
}

// AlertPublisher delivers budget alerts to operators.
type AlertPublisher interface {
	PublishBudgetAlert(ctx context.Context, alert BudgetAlert) error
}

// ============================================================================
// AWS PUBLISHER
// ============================================================================

// AWSAlertPublisher sends alerts through SNS and SES. Either transport may be
// absent; a delivery failure on one does not stop the other.
type AWSAlertPublisher struct {
	sns       *aws.SNSClient
	ses       *aws.SESClient
	topicARN  string
	fromEmail string
	toEmails  []string
	logger    logger.Logger
}

func NewAWSAlertPublisher(sns *aws.SNSClient, ses *aws.SESClient, topicARN, fromEmail string, toEmails []string, log logger.Logger) *AWSAlertPublisher {
	return &AWSAlertPublisher{
		sns:       sns,
		ses:       ses,
		topicARN:  topicARN,
		fromEmail: fromEmail,
		toEmails:  toEmails,
		logger:    log.WithFields(map[string]interface{}{"component": "cost.alerts"}),
	}
}

func (p *AWSAlertPublisher) PublishBudgetAlert(ctx context.Context, alert BudgetAlert) error {
	var lastErr error

	if p.sns != nil && p.topicARN != "" {
		if err := p.sns.PublishMessage(ctx, p.topicARN, alert.subject(), alert.body()); err != nil {
			p.logger.Error("sns publish failed", map[string]interface{}{
				"topicArn": p.topicARN,
				"error":    err,
			})
			lastErr = err
		}
	}

	if p.ses != nil && p.fromEmail != "" && len(p.toEmails) > 0 {
		if err := p.ses.SendTextEmail(ctx, p.fromEmail, p.toEmails, alert.subject(), alert.body()); err != nil {
			p.logger.Error("ses send failed", map[string]interface{}{
				"from":  p.fromEmail,
				"error": err,
			})
			lastErr = err
		}
	}

	return lastErr
}
