// Package domain concentra entidades e estruturas centrais do rate limiter.
package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// KeyPrefix prefixa as chaves de contador e de log por cliente/rota.
	KeyPrefix = "request:limit:"

	unknownClient = "unknown"
)

// LimitPolicy permite no máximo MaxCount requisições a cada Second segundos.
type LimitPolicy struct {
	Second   int
	MaxCount int
}

// DefaultLimitPolicy devolve a política aplicada quando a rota não informa valores.
func DefaultLimitPolicy() LimitPolicy {
	return LimitPolicy{Second: 1, MaxCount: 1}
}

// Validate falha com ErrPolicyMisconfigured para janelas ou limites não positivos.
func (p LimitPolicy) Validate() error {
	if p.Second <= 0 {
		return fmt.Errorf("%w: second must be positive, got %d", ErrPolicyMisconfigured, p.Second)
	}
	if p.MaxCount <= 0 {
		return fmt.Errorf("%w: maxCount must be positive, got %d", ErrPolicyMisconfigured, p.MaxCount)
	}
	return nil
}

// Window é a janela da política como time.Duration.
func (p LimitPolicy) Window() time.Duration {
	return time.Duration(p.Second) * time.Second
}

// Route identifica um endpoint. Method vazio casa com qualquer método.
type Route struct {
	Method string
	Path   string
}

func (r Route) String() string {
	if r.Method == "" {
		return r.Path
	}
	return r.Method + " " + r.Path
}

// Request é a visão mínima de uma requisição de entrada usada pelo gate.
type Request struct {
	Method     string
	Path       string
	ClientAddr string
}

// Decision é o resultado de uma consulta a um limiter.
type Decision struct {
	Allowed    bool
	Key        string
	Count      int64
	Limit      int64
	RetryAfter time.Duration
}

// Err devolve ErrLimitExceeded para decisões negadas e nil caso contrário.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ErrLimitExceeded
}

// Outcome classifica o que o gate fez com a requisição.
type Outcome string

const (
	OutcomeAllowed    Outcome = "allowed"
	OutcomeLimited    Outcome = "limited"
	OutcomeBypassed   Outcome = "bypassed"
	OutcomeFailOpen   Outcome = "fail_open"
	OutcomeFailClosed Outcome = "fail_closed"
)

// Verdict agrega a decisão do limiter com a política aplicada e o desfecho.
type Verdict struct {
	Decision
	Outcome Outcome
	Policy  LimitPolicy
	Err     error
}

// Permitted informa se a requisição deve seguir para o handler.
func (v Verdict) Permitted() bool {
	switch v.Outcome {
	case OutcomeAllowed, OutcomeBypassed, OutcomeFailOpen:
		return true
	default:
		return false
	}
}

// BuildLimiterKey monta request:limit:<path>:<client>. O endereço do cliente tem ':'
// trocado por '-', então a parte do cliente nunca contém ':' e pares distintos de
// (cliente, rota) não colidem.
func BuildLimiterKey(path, clientAddr string) string {
	client := strings.TrimSpace(clientAddr)
	if client == "" {
		client = unknownClient
	}
	client = strings.ReplaceAll(client, ":", "-")
	return KeyPrefix + path + ":" + client
}
