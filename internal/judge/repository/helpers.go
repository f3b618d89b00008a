package repository

import (
	appErr "gavel/pkg/errors"
)

func errInvalid(msg string) error {
	return appErr.BadRequest(msg)
}
