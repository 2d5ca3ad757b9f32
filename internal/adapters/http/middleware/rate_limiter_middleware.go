// Package middleware disponibiliza middlewares HTTP específicos da aplicação.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/JeanGrijp/request-limit/internal/adapters/http/response"
	"github.com/JeanGrijp/request-limit/internal/core/domain"
	"github.com/JeanGrijp/request-limit/internal/core/ports"
)

// Options controla como o middleware identifica o cliente e responde às negações.
type Options struct {
	// RejectStatus é o status HTTP das requisições limitadas. Padrão 429.
	RejectStatus int
	// TrustForwardedFor usa X-Forwarded-For/X-Real-IP. Só deve ser ligado atrás de
	// um proxy que sobrescreve esses headers.
	TrustForwardedFor bool
}

// NewRequestLimitMiddleware consulta o gate antes do handler. Requisições negadas
// recebem o corpo de limite e não chegam ao próximo handler.
func NewRequestLimitMiddleware(gate ports.DecisionGate, opts Options) func(http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gate == nil {
				next.ServeHTTP(w, r)
				return
			}

			verdict := gate.Evaluate(r.Context(), domain.Request{
				Method:     r.Method,
				Path:       r.URL.Path,
				ClientAddr: extractIP(r, opts.TrustForwardedFor),
			})

			switch verdict.Outcome {
			case domain.OutcomeLimited:
				response.SetRetryAfter(w, verdict.RetryAfter)
				response.Write(w, opts.RejectStatus, response.Fail(domain.StatusRequestLimit))
				return
			case domain.OutcomeFailClosed:
				response.Write(w, http.StatusServiceUnavailable, response.Fail(domain.StatusFailure))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		xForwardedFor := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
		if xForwardedFor != "" {
			parts := strings.Split(xForwardedFor, ",")
			if first := strings.TrimSpace(parts[0]); first != "" {
				return first
			}
		}

		xRealIP := strings.TrimSpace(r.Header.Get("X-Real-IP"))
		if xRealIP != "" {
			return xRealIP
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}

	return host
}
