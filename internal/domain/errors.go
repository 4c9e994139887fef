package domain

import "errors"

var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrStoreTransaction = errors.New("store transaction failed")
	ErrDecode           = errors.New("decode error")
)
