package handlers

import (
	"context"
	"errors"
	"net/http"

	"fireflow/internal/domain"
)

// remoteError maps a service failure to a gateway status. The remote payload
// is passed through so callers see why the service refused.
func (a *App) remoteError(w http.ResponseWriter, err error) {
	var (
		authErr   *domain.AuthError
		submitErr *domain.SubmissionError
		failedErr *domain.JobFailedError
		timeout   *domain.PollTimeoutError
		cfgErr    *domain.ConfigError
		transfer  *domain.TransferError
	)
	switch {
	case errors.Is(err, context.Canceled):
		a.error(w, http.StatusServiceUnavailable, "cancelled", "request cancelled")
	case errors.As(err, &cfgErr):
		a.error(w, http.StatusServiceUnavailable, "not_configured", cfgErr.Error())
	case errors.As(err, &authErr):
		a.error(w, http.StatusBadGateway, "auth_failed", authErr.Error())
	case errors.As(err, &submitErr):
		code := http.StatusBadGateway
		if submitErr.Status >= 400 && submitErr.Status < 500 && !submitErr.Unauthorized() {
			code = http.StatusUnprocessableEntity
		}
		a.error(w, code, "rejected", submitErr.Error())
	case errors.As(err, &failedErr):
		a.error(w, http.StatusBadGateway, "job_failed", failedErr.Error())
	case errors.As(err, &timeout):
		a.error(w, http.StatusGatewayTimeout, "job_timeout", timeout.Error())
	case errors.As(err, &transfer):
		a.error(w, http.StatusBadGateway, "transfer_failed", transfer.Error())
	default:
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
