package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/shaiso/fanflow/internal/mq"
	"github.com/shaiso/fanflow/internal/telemetry"
)

const defaultLedgerTTL = 7 * 24 * time.Hour

// MailSender передаёт письмо сервису рассылки.
type MailSender interface {
	PublishEmail(ctx context.Context, payload mq.EmailPayload) error
}

// Ledger — журнал идемпотентности внешних побочных эффектов.
type Ledger interface {
	// Acquire атомарно отмечает ключ. false — ключ уже был отмечен.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release снимает отметку (после неудачной публикации).
	Release(ctx context.Context, key string) error
}

// EmailExecutor — executor для действия "send_email".
//
// Config:
//   - template_id (string|number): шаблон письма (обязательно)
//   - fan_id (string): получатель. Default: fanId из trigger context
//   - vars (map): переменные шаблона
//
// Письмо публикуется не более одного раза на RunNode: ключ в Ledger
// выставляется до публикации и снимается, если публикация не удалась.
type EmailExecutor struct {
	sender MailSender
	ledger Ledger
	ttl    time.Duration
}

// NewEmailExecutor создаёт EmailExecutor. ledger может быть nil.
func NewEmailExecutor(sender MailSender, ledger Ledger) *EmailExecutor {
	return &EmailExecutor{sender: sender, ledger: ledger, ttl: defaultLedgerTTL}
}

// Execute публикует письмо.
func (e *EmailExecutor) Execute(ctx context.Context, req *Request) Result {
	templateID := getStringAny(req.Config, "template_id")
	if templateID == "" {
		return Permanent(fmt.Errorf("%w: template_id is required", ErrInvalidConfig))
	}

	fanID := fanIDFrom(req)
	if fanID == "" {
		return Permanent(fmt.Errorf("%w: fan_id is required", ErrInvalidConfig))
	}

	key := "email:" + req.RunNodeID.String()
	output := map[string]any{
		"template_id":     templateID,
		"fan_id":          fanID,
		"idempotency_key": req.RunNodeID.String(),
	}

	if e.ledger != nil {
		acquired, err := e.ledger.Acquire(ctx, key, e.ttl)
		if err != nil {
			return Transient(fmt.Errorf("idempotency ledger: %w", err))
		}
		if !acquired {
			telemetry.FromContext(ctx).Info("email already handed off, skipping", "key", key)
			output["duplicate"] = true
			return Succeeded(output)
		}
	}

	payload := mq.EmailPayload{
		IdempotencyKey: req.RunNodeID.String(),
		WorkspaceID:    req.WorkspaceID,
		RunID:          req.RunID,
		TemplateID:     templateID,
		FanID:          fanID,
		Vars:           getMap(req.Config, "vars"),
	}

	if err := e.sender.PublishEmail(ctx, payload); err != nil {
		if e.ledger != nil {
			// Контекст попытки мог истечь, снимаем отметку отдельным вызовом
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := e.ledger.Release(releaseCtx, key); err != nil {
				telemetry.FromContext(ctx).Warn("failed to release ledger key", "key", key, "error", err)
			}
			cancel()
		}
		return Transient(fmt.Errorf("publish email: %w", err))
	}

	return Succeeded(output)
}

// fanIDFrom возвращает получателя из конфигурации или trigger context.
func fanIDFrom(req *Request) string {
	if id := getStringAny(req.Config, "fan_id"); id != "" {
		return id
	}
	return getStringAny(req.TriggerContext, "fanId", "fan_id")
}
