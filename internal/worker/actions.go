package worker

import "net/http"

// Типы действий встроенных executor'ов.
const (
	ActionWait        = "wait"
	ActionCondition   = "condition"
	ActionSendEmail   = "send_email"
	ActionAddTag      = "add_tag"
	ActionHTTPRequest = "http_request"
)

// Dependencies — внешние зависимости встроенных executor'ов.
type Dependencies struct {
	Mail       MailSender
	Ledger     Ledger
	Tagger     Tagger
	HTTPClient *http.Client
}

// NewDefaultRegistry создаёт реестр со встроенными executor'ами.
// send_email и add_tag регистрируются, только если заданы их зависимости.
func NewDefaultRegistry(policy RetryPolicy, deps Dependencies) *Registry {
	r := NewRegistry(policy)

	r.Register(ActionWait, &WaitExecutor{})
	r.Register(ActionCondition, NewConditionExecutor())
	r.Register(ActionHTTPRequest, NewHTTPExecutor(deps.HTTPClient))

	if deps.Mail != nil {
		r.Register(ActionSendEmail, NewEmailExecutor(deps.Mail, deps.Ledger))
	}
	if deps.Tagger != nil {
		r.Register(ActionAddTag, NewTagExecutor(deps.Tagger))
	}

	return r
}
