package models

import (
	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
)

func errValidation(msg string) error {
	return qerr.Validation(msg)
}

func errValidationf(format string, args ...interface{}) error {
	return qerr.Validationf(format, args...)
}
