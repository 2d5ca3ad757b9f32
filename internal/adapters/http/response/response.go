// Package response padroniza o corpo JSON {code, message, data} das respostas HTTP.
package response

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/JeanGrijp/request-limit/internal/core/domain"
)

// fallbackBody é escrito quando o corpo não pode ser serializado.
const fallbackBody = `{"code":50000,"message":"system error"}`

var marshal = json.Marshal

type Result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(data any) Result {
	return Result{Code: domain.StatusSuccess.Code, Message: domain.StatusSuccess.Message, Data: data}
}

func Fail(status domain.StatusCode) Result {
	return Result{Code: status.Code, Message: status.Message}
}

// Write serializa result com o status HTTP informado. Se a serialização falhar,
// responde 500 com o corpo genérico de falha.
func Write(w http.ResponseWriter, httpStatus int, result Result) {
	body, err := marshal(result)
	if err != nil {
		body = []byte(fallbackBody)
		httpStatus = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(body)
}

// SetRetryAfter grava o header Retry-After em segundos, arredondando para cima e
// nunca abaixo de 1.
func SetRetryAfter(w http.ResponseWriter, d time.Duration) {
	seconds := int64(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
}
