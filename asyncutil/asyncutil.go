// Package asyncutil provides retry helpers for flaky external dependencies.
package asyncutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Retry runs fn until it succeeds, at most attempts times, doubling the
// sleep between tries. The last error is returned when all attempts fail.
func Retry(attempts int, sleep time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < attempts-1 {
			time.Sleep(sleep)
			sleep *= 2
		}
	}
	return err
}

// Await polls the condition until it holds, at most attempts times with a
// doubling sleep in between. Failing every attempt yields an error that says
// how long we waited, plus the given context messages.
func Await(attempts int, sleep time.Duration, condition func() bool, msgs ...string) error {
	totalWait := TotalRetryDuration(attempts, sleep)

	for attempt := 0; attempt < attempts; attempt++ {
		if condition() {
			return nil
		}
		if attempt < attempts-1 {
			time.Sleep(sleep)
			sleep *= 2
		}
	}

	msg := fmt.Sprintf("condition was not true after %d attempts and %s total waiting time",
		attempts, totalWait)
	if len(msgs) > 0 {
		msg += ": " + strings.Join(msgs, " ")
	}
	return errors.New(msg)
}

// TotalRetryDuration is the accumulated sleep time of a full run of attempts
// with a doubling initial sleep.
func TotalRetryDuration(attempts int, sleep time.Duration) time.Duration {
	var total time.Duration
	for attempt := 0; attempt < attempts-1; attempt++ {
		total += sleep
		sleep *= 2
	}
	return total
}
