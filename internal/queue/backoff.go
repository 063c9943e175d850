package queue

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff computes exponential redelivery delays: Base * 2^(attempt-1), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.Base
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = time.Second
	}
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = b.Max
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = time.Duration(math.MaxInt64)
	}
	eb.MaxElapsedTime = 0
	eb.Reset()

	delay := eb.NextBackOff()
	for i := 1; i < attempt && delay < eb.MaxInterval; i++ {
		delay = eb.NextBackOff()
	}
	if delay > eb.MaxInterval {
		delay = eb.MaxInterval
	}
	return delay
}
