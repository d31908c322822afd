package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/fanflow/internal/domain"
	"github.com/shaiso/fanflow/internal/mq"
)

// HandleTriggerFired — обработчик очереди triggers.fired.
//
//   - дубликат активного run — сообщение подтверждается
//   - flow выключен — сообщение подтверждается, run не создаётся
//   - некорректное сообщение, неизвестный flow или триггер — в DLQ
//   - прочие ошибки — сообщение возвращается в очередь
func (o *Orchestrator) HandleTriggerFired(ctx context.Context, d *mq.Delivery) error {
	if d.Message.Type != mq.MessageTypeTriggerFired {
		return mq.Reject(fmt.Errorf("%w: %s", mq.ErrUnexpectedMessage, d.Message.Type))
	}

	payload, err := mq.ParsePayload[mq.TriggerFiredPayload](&d.Message)
	if err != nil {
		return mq.Reject(err)
	}

	run, err := o.StartRun(ctx, payload.FlowID, payload.TriggerNodeID, payload.Context)
	if err != nil {
		var dup *domain.DuplicateRunError
		switch {
		case errors.As(err, &dup):
			o.logger.Info("trigger event ignored: run already active",
				"message_id", d.Message.ID,
				"existing_run_id", dup.ExistingRunID,
			)
			return nil

		case errors.Is(err, ErrFlowDisabled):
			o.logger.Info("trigger event ignored: flow disabled",
				"message_id", d.Message.ID,
				"flow_id", payload.FlowID,
			)
			return nil

		case errors.Is(err, ErrFlowNotFound), errors.Is(err, ErrNotTrigger), errors.Is(err, ErrInvalidGraph):
			return mq.Reject(err)
		}
		return err
	}

	o.logger.Debug("trigger event accepted", "message_id", d.Message.ID, "run_id", run.ID)
	return nil
}
