package repository

import "errors"

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrProductAlreadyExists = errors.New("product already exists")
	ErrReservationNotFound  = errors.New("reservation not found")
)
