package domain

import "errors"

var (
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrPolicyMisconfigured = errors.New("policy misconfigured")
	ErrLimitExceeded       = errors.New("request limited")
	ErrKeyNotFound         = errors.New("key not found")
)

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
