package client

import (
	"net/http"

	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// retryCondition decides whether resty should try a request again. It
// replaces resty's defaults so that the decision follows shouldRetry and
// 501 Not Implemented is never retried.
func retryCondition(res *resty.Response, err error) bool {
	if err != nil {
		return res == nil || res.Request == nil || res.Request.Context().Err() == nil
	}
	if res == nil {
		return false
	}
	status := res.StatusCode()
	if status == http.StatusNotImplemented {
		return false
	}
	return shouldRetry(classifyStatus(status))
}

// retryHook records each retry attempt.
func retryHook(logger zerolog.Logger) resty.RetryHookFunc {
	return func(res *resty.Response, err error) {
		retriesTotal.Inc()

		event := logger.Debug()
		if err != nil {
			event = event.Err(err)
		}
		if res != nil {
			event = event.Int("status", res.StatusCode())
			if res.Request != nil {
				event = event.Str("url", res.Request.URL).Int("attempt", res.Request.Attempt)
			}
		}
		event.Msg("Retrying request")
	}
}
