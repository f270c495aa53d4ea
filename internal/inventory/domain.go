// Package inventory keeps warehouse stock balances and the movements that
// change them.
package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported inventory movements.
type MovementType string

const (
	// MovementOut represents goods leaving a warehouse on a posted delivery.
	MovementOut MovementType = "OUT"
	// MovementAdjust indicates manual adjustments.
	MovementAdjust MovementType = "ADJUST"
)

// Balance summarises stock in warehouse per product.
type Balance struct {
	WarehouseID int64
	ProductID   int64
	Qty         decimal.Decimal
	UpdatedAt   time.Time
}

// Movement is one stock change. QtyChange is negative for outbound moves.
type Movement struct {
	Type        MovementType
	WarehouseID int64
	ProductID   int64
	QtyChange   decimal.Decimal
	RefModule   string
	RefID       int64
	Note        string
	PostedAt    time.Time
}

// ErrInsufficientStock triggered when movement would result in negative qty.
var ErrInsufficientStock = errors.New("inventory: insufficient stock")

// ErrInvalidQuantity indicates invalid qty.
var ErrInvalidQuantity = errors.New("inventory: quantity must be non zero")

// ErrBalanceNotFound indicates missing balance row.
var ErrBalanceNotFound = errors.New("inventory: balance not found")

// StockError reports the balance that could not cover a draw.
type StockError struct {
	WarehouseID int64
	ProductID   int64
	OnHand      decimal.Decimal
	Requested   decimal.Decimal
}

func (e *StockError) Error() string {
	return fmt.Sprintf("%s: product %d warehouse %d has %s, need %s", ErrInsufficientStock.Error(), e.ProductID, e.WarehouseID, e.OnHand, e.Requested)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }
