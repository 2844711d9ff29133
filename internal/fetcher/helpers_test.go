package fetcher

import (
	"time"

	"github.com/rs/zerolog"

	"staking-reward-report/internal/retry"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
}
