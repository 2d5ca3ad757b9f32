package domain

// StatusCode é o código de negócio devolvido no corpo JSON, distinto do status HTTP.
type StatusCode struct {
	Code    int
	Message string
}

var (
	StatusSuccess       = StatusCode{Code: 20000, Message: "success"}
	StatusParamError    = StatusCode{Code: 40000, Message: "invalid parameter"}
	StatusRequestLimit  = StatusCode{Code: 40003, Message: "request limited"}
	StatusNotFound      = StatusCode{Code: 40004, Message: "resource not found"}
	StatusFailure       = StatusCode{Code: 50000, Message: "system error"}
	StatusCustomFailure = StatusCode{Code: 50001, Message: "custom failure"}
)
