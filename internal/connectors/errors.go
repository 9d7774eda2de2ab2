package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ThrottleError: исполнитель попросил подождать (RESOURCE_EXHAUSTED или retry_after_ms в ответе).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// RemoteError: исполнитель ответил, но с ненулевым кодом.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("executor returned error [%d]: %s", e.Code, e.Message)
}

// RetryAfter достает задержку из цепочки ошибок. ok=false — исполнитель не троттлил.
func RetryAfter(err error) (time.Duration, bool) {
	var tErr *ThrottleError
	if errors.As(err, &tErr) {
		return tErr.RetryAfter, true
	}
	return 0, false
}
