package worker

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// getString извлекает строку из map с default значением.
func getString(m map[string]any, key, defaultVal string) string {
	if val, ok := m[key]; ok {
		if s, ok := val.(string); ok {
			return s
		}
	}
	return defaultVal
}

// getStringAny возвращает первое непустое строковое значение из keys.
// Числа приводятся к строке (идентификаторы из JSON приходят как float64).
func getStringAny(m map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := m[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		case int64:
			return strconv.FormatInt(v, 10)
		}
	}
	return ""
}

// maxSeconds — наибольшее число секунд, представимое в time.Duration.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// getSeconds извлекает длительность, заданную числом секунд.
func getSeconds(m map[string]any, key string) (time.Duration, bool, error) {
	val, ok := m[key]
	if !ok || val == nil {
		return 0, false, nil
	}

	var sec float64
	switch v := val.(type) {
	case float64:
		sec = v
	case int:
		sec = float64(v)
	case int64:
		sec = float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
		}
		sec = f
	default:
		return 0, true, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidConfig, key, val)
	}

	if math.IsNaN(sec) || sec < 0 {
		return 0, true, fmt.Errorf("%w: %s must be a non-negative number", ErrInvalidConfig, key)
	}
	if sec > float64(maxSeconds) {
		return 0, true, fmt.Errorf("%w: %s exceeds %d seconds", ErrInvalidConfig, key, maxSeconds)
	}
	return time.Duration(sec * float64(time.Second)), true, nil
}

// getMap извлекает вложенный объект.
func getMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// truncate обрезает строку до указанной длины.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
