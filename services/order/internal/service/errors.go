package service

import (
	"errors"

	"github.com/sakashimaa/order-saga/services/order/internal/repository"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrInvalidState         = errors.New("order cannot change from its current status")
	ErrInvalidPaymentMethod = errors.New("unsupported payment method")
	ErrPersistence          = errors.New("order could not be saved")
	ErrOrderNotFound        = repository.ErrOrderNotFound
)
