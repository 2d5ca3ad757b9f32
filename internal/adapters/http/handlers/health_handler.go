package handlers

import (
	"net/http"

	"github.com/JeanGrijp/request-limit/internal/adapters/http/response"
	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

const healthSentinelKey = "request:limit:healthz"

// NewHealthHandler responde 200 enquanto o storage aceitar comandos.
func NewHealthHandler(storage ports.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := storage.Exists(r.Context(), healthSentinelKey); err != nil {
			response.Write(w, http.StatusServiceUnavailable, response.Fail(domain.StatusFailure))
			return
		}
		response.Write(w, http.StatusOK, response.Success("ok"))
	}
}
