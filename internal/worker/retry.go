package worker

import (
	"math/rand/v2"
	"time"

	"github.com/shaiso/fanflow/internal/domain"
)

// Значения политики retry по умолчанию.
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 30 * time.Second
	DefaultMaxDelay    = time.Hour
)

// RetryPolicy — политика повторных попыток для временных ошибок.
//
// Задержка перед попыткой n+1: min(BaseDelay * 2^n, MaxDelay) с "equal
// jitter" — случайное значение в [d/2, d]. Задержка всегда больше нуля,
// поэтому scheduled_at каждой следующей попытки строго больше предыдущего.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int

	// BaseDelay — задержка после первой неудачи (до jitter).
	BaseDelay time.Duration

	// MaxDelay — верхняя граница задержки.
	MaxDelay time.Duration

	// Rand — источник случайности в [0, 1). nil — math/rand/v2.
	Rand func() float64
}

// DefaultRetryPolicy возвращает политику по умолчанию.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// NextAttempt решает, повторять ли узел после временной ошибки текущей
// попытки rn.Attempt, и когда.
//
// Неудач уже было rn.Attempt+1; retry разрешён, пока их меньше MaxAttempts.
func (p RetryPolicy) NextAttempt(rn *domain.RunNode, now time.Time) (time.Time, bool) {
	p = p.withDefaults()

	failures := rn.Attempt + 1
	if failures >= p.MaxAttempts {
		return time.Time{}, false
	}

	return now.Add(p.Backoff(rn.Attempt)), true
}

// Backoff возвращает задержку после неудачной попытки attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()

	delay := p.BaseDelay
	for i := 0; i < attempt && delay < p.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	random := p.Rand
	if random == nil {
		random = rand.Float64
	}

	half := delay / 2
	jittered := half + time.Duration(random()*float64(delay-half))
	if jittered <= 0 {
		jittered = time.Millisecond
	}
	return jittered
}
