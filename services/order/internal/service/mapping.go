package service

import (
	"time"

	"github.com/google/uuid"
	generalDomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/services/order/internal/cart"
	"github.com/sakashimaa/order-saga/services/order/internal/domain"
)

func newOrderFromCart(c *cart.Cart, method domain.PaymentMethod, contact domain.ContactInfo) *domain.Order {
	order := &domain.Order{
		ID:      uuid.New(),
		BuyerID: c.BuyerID,
		Status:  domain.OrderStatusPending,
		Contact: contact,
		Items:   make([]domain.OrderItem, 0, len(c.Items)),
	}

	for _, item := range c.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	order.CalculateTotal()
	order.Payment = &domain.Payment{
		Amount: order.TotalAmount,
		Method: method,
		Status: domain.PaymentStatusPending,
	}

	return order
}

func orderLines(order *domain.Order) []generalDomain.OrderLine {
	lines := make([]generalDomain.OrderLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, generalDomain.OrderLine{
			LineID:      item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	return lines
}

func orderCreatedEvent(order *domain.Order) *generalDomain.OrderCreatedEvent {
	return &generalDomain.OrderCreatedEvent{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		Email:       order.Contact.Email,
		UserName:    order.Contact.UserName,
		PhoneNumber: order.Contact.PhoneNumber,
		TotalAmount: order.TotalAmount,
		ItemCount:   order.ItemCount(),
		Items:       orderLines(order),
		OrderDate:   order.CreatedAt.UTC(),
	}
}

func orderCancelledEvent(order *domain.Order, reason string) *generalDomain.OrderCancelledEvent {
	return &generalDomain.OrderCancelledEvent{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		Email:       order.Contact.Email,
		UserName:    order.Contact.UserName,
		PhoneNumber: order.Contact.PhoneNumber,
		TotalAmount: order.TotalAmount,
		Reason:      reason,
		Items:       orderLines(order),
		CancelledAt: time.Now().UTC(),
	}
}
