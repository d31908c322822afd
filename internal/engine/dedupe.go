package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// DedupeKey вычисляет ключ дедупликации run.
//
// Ключ зависит от flow, trigger-узла и содержимого trigger context.
// encoding/json сортирует ключи map, поэтому одинаковый контекст даёт
// одинаковый ключ независимо от порядка полей в исходном событии.
func DedupeKey(flowID uuid.UUID, triggerNodeID string, triggerContext map[string]any) (string, error) {
	if triggerContext == nil {
		triggerContext = map[string]any{}
	}

	payload, err := json.Marshal(triggerContext)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(payload)
	return flowID.String() + ":" + triggerNodeID + ":" + hex.EncodeToString(sum[:]), nil
}
