package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "paper-exchange/internal/errors"
)

// OrderRequest is the caller's description of an order to place.
type OrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Amount        decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	ClientOrderID string
	Leverage      decimal.Decimal // zero means 1x
	ExpiresAt     *time.Time
}

// Order represents a virtual order and its fill state.
type Order struct {
	ID            string
	AccountID     string
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Amount        decimal.Decimal
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	Status        OrderStatus
	Filled        decimal.Decimal
	Remaining     decimal.Decimal
	Cost          decimal.Decimal // quote notional of all fills
	Fees          decimal.Decimal
	Reserved      decimal.Decimal // currently locked in the ledger for this order
	ReserveAsset  string
	ClientOrderID string
	Leverage      decimal.Decimal
	TypeData      TypeData
	RejectReason  string
	ExpiresAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	FilledAt      *time.Time
}

// IsTerminal reports whether the order reached a final status.
func (o *Order) IsTerminal() bool {
	return o.Status.IsTerminal()
}

// AveragePrice returns the volume-weighted fill price, zero when nothing filled.
func (o *Order) AveragePrice() decimal.Decimal {
	if o.Filled.IsZero() {
		return decimal.Zero
	}
	return o.Cost.Div(o.Filled)
}

// FillPercentage returns filled/amount as a percentage.
func (o *Order) FillPercentage() decimal.Decimal {
	if o.Amount.IsZero() {
		return decimal.Zero
	}
	return o.Filled.Div(o.Amount).Mul(decimal.NewFromInt(100))
}

// LimitPrice returns the order's limit price or zero.
func (o *Order) LimitPrice() decimal.Decimal {
	if o.Price == nil {
		return decimal.Zero
	}
	return *o.Price
}

// TriggerPrice returns the order's stop price or zero.
func (o *Order) TriggerPrice() decimal.Decimal {
	if o.StopPrice == nil {
		return decimal.Zero
	}
	return *o.StopPrice
}

var validTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusOpen, OrderStatusFilled, OrderStatusRejected},
	OrderStatusOpen: {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled,
		OrderStatusRejected, OrderStatusExpired},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled,
		OrderStatusRejected, OrderStatusExpired},
}

// CanTransition reports whether the lifecycle allows moving from the current status to next.
func (o *Order) CanTransition(next OrderStatus) bool {
	for _, s := range validTransitions[o.Status] {
		if s == next {
			return true
		}
	}
	return false
}

// Transition moves the order to next, stamping UpdatedAt.
func (o *Order) Transition(next OrderStatus, at time.Time) error {
	if !o.CanTransition(next) {
		return fmt.Errorf("order %s: %s -> %s: %w", o.ID, o.Status, next, apperrors.ErrInvalidTransition)
	}
	o.Status = next
	o.UpdatedAt = at
	return nil
}

// ApplyFill records a fill of qty at price with fee and advances the status.
func (o *Order) ApplyFill(qty, price, fee decimal.Decimal, at time.Time) error {
	if qty.Sign() <= 0 || qty.GreaterThan(o.Remaining) {
		return fmt.Errorf("order %s: fill %s exceeds remaining %s", o.ID, qty, o.Remaining)
	}
	next := OrderStatusFilled
	if qty.LessThan(o.Remaining) {
		next = OrderStatusPartiallyFilled
	}
	if o.Status == OrderStatusPending && next == OrderStatusPartiallyFilled {
		if err := o.Transition(OrderStatusOpen, at); err != nil {
			return err
		}
	}
	if err := o.Transition(next, at); err != nil {
		return err
	}
	o.Filled = o.Filled.Add(qty)
	o.Remaining = o.Amount.Sub(o.Filled)
	o.Cost = o.Cost.Add(qty.Mul(price))
	o.Fees = o.Fees.Add(fee)
	if next == OrderStatusFilled {
		t := at
		o.FilledAt = &t
	}
	return nil
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	if o.StopPrice != nil {
		p := *o.StopPrice
		c.StopPrice = &p
	}
	if o.ExpiresAt != nil {
		t := *o.ExpiresAt
		c.ExpiresAt = &t
	}
	if o.FilledAt != nil {
		t := *o.FilledAt
		c.FilledAt = &t
	}
	if o.TypeData != nil {
		c.TypeData = o.TypeData.clone()
	}
	return &c
}

// TypeDataKind discriminates the per-type payload of an order.
type TypeDataKind string

const (
	TypeDataNone         TypeDataKind = ""
	TypeDataOCO          TypeDataKind = "oco"
	TypeDataTrailingStop TypeDataKind = "trailing_stop"
	TypeDataIceberg      TypeDataKind = "iceberg"
	TypeDataIcebergChild TypeDataKind = "iceberg_child"
)

// TypeData is the sealed set of per-type order payloads:
// *OCOLink, *TrailingStopData, *IcebergData and *IcebergChild.
type TypeData interface {
	Kind() TypeDataKind
	clone() TypeData
}

// OCOLeg names which side of an OCO pair an order is.
type OCOLeg string

const (
	OCOLegLimit OCOLeg = "limit"
	OCOLegStop  OCOLeg = "stop"
)

// OCOLink cross-links the two legs of a One-Cancels-Other pair.
type OCOLink struct {
	OrderListID string `json:"orderListId"`
	SiblingID   string `json:"siblingId"`
	Leg         OCOLeg `json:"leg"`
}

func (*OCOLink) Kind() TypeDataKind { return TypeDataOCO }
func (l *OCOLink) clone() TypeData  { c := *l; return &c }

// TrailingStopData tracks the moving trigger of a trailing stop.
type TrailingStopData struct {
	TrailingAmount   *decimal.Decimal `json:"trailingAmount,omitempty"`
	TrailingPercent  *decimal.Decimal `json:"trailingPercent,omitempty"`
	ActivationPrice  *decimal.Decimal `json:"activationPrice,omitempty"`
	CurrentStopPrice decimal.Decimal  `json:"currentStopPrice"`
	HighestPrice     decimal.Decimal  `json:"highestPrice"`
	LowestPrice      decimal.Decimal  `json:"lowestPrice"`
	IsActivated      bool             `json:"isActivated"`
	TriggeredAt      *time.Time       `json:"triggeredAt,omitempty"`
}

func (*TrailingStopData) Kind() TypeDataKind { return TypeDataTrailingStop }

func (d *TrailingStopData) clone() TypeData {
	c := *d
	c.TrailingAmount = cloneDecimal(d.TrailingAmount)
	c.TrailingPercent = cloneDecimal(d.TrailingPercent)
	c.ActivationPrice = cloneDecimal(d.ActivationPrice)
	if d.TriggeredAt != nil {
		t := *d.TriggeredAt
		c.TriggeredAt = &t
	}
	return &c
}

// StopFrom derives the stop price for a reference price on the given side.
func (d *TrailingStopData) StopFrom(ref decimal.Decimal, side OrderSide) decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	if side == OrderSideSell {
		if d.TrailingAmount != nil {
			return ref.Sub(*d.TrailingAmount)
		}
		return ref.Mul(decimal.NewFromInt(1).Sub(d.TrailingPercent.Div(hundred)))
	}
	if d.TrailingAmount != nil {
		return ref.Add(*d.TrailingAmount)
	}
	return ref.Mul(decimal.NewFromInt(1).Add(d.TrailingPercent.Div(hundred)))
}

// IcebergData tracks the hidden and executed portions of an iceberg parent.
// executedSize + hiddenRemaining + outstanding child amounts == totalSize.
type IcebergData struct {
	VisibleSize     decimal.Decimal `json:"visibleSize"`
	TotalSize       decimal.Decimal `json:"totalSize"`
	ExecutedSize    decimal.Decimal `json:"executedSize"`
	HiddenRemaining decimal.Decimal `json:"hiddenRemaining"`
	ChildOrders     []string        `json:"childOrders"`
	ActiveChildID   string          `json:"activeChildId,omitempty"`
}

func (*IcebergData) Kind() TypeDataKind { return TypeDataIceberg }

func (d *IcebergData) clone() TypeData {
	c := *d
	c.ChildOrders = append([]string(nil), d.ChildOrders...)
	return &c
}

// NextChildSize returns min(visibleSize, hiddenRemaining).
func (d *IcebergData) NextChildSize() decimal.Decimal {
	return decimal.Min(d.VisibleSize, d.HiddenRemaining)
}

// IcebergChild marks a visible slice of an iceberg parent.
type IcebergChild struct {
	ParentID string `json:"parentId"`
	Sequence int    `json:"sequence"`
}

func (*IcebergChild) Kind() TypeDataKind { return TypeDataIcebergChild }
func (c *IcebergChild) clone() TypeData  { cc := *c; return &cc }

// MarshalTypeData encodes a payload with its discriminator for storage.
func MarshalTypeData(td TypeData) (TypeDataKind, []byte, error) {
	if td == nil {
		return TypeDataNone, nil, nil
	}
	data, err := json.Marshal(td)
	if err != nil {
		return "", nil, err
	}
	return td.Kind(), data, nil
}

// UnmarshalTypeData decodes a payload previously produced by MarshalTypeData.
func UnmarshalTypeData(kind TypeDataKind, data []byte) (TypeData, error) {
	var td TypeData
	switch kind {
	case TypeDataNone:
		return nil, nil
	case TypeDataOCO:
		td = &OCOLink{}
	case TypeDataTrailingStop:
		td = &TrailingStopData{}
	case TypeDataIceberg:
		td = &IcebergData{}
	case TypeDataIcebergChild:
		td = &IcebergChild{}
	default:
		return nil, fmt.Errorf("unknown type data kind %q", kind)
	}
	if err := json.Unmarshal(data, td); err != nil {
		return nil, fmt.Errorf("decoding %s type data: %w", kind, err)
	}
	return td, nil
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// DecimalPtr returns a pointer to d.
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
