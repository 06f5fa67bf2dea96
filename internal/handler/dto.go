package handler

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/failedorder"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
)

// Request bodies. Amounts are decoded as decimals; responses use plain JSON
// numbers rounded to cents.

type cartItemRequest struct {
	ProductID     string              `json:"productId"`
	Name          string              `json:"name"`
	Image         string              `json:"image"`
	Price         decimal.NullDecimal `json:"price"`
	Quantity      *float64            `json:"quantity"`
	Weight        decimal.NullDecimal `json:"weight"`
	SelectedSize  string              `json:"selectedSize"`
	SelectedColor string              `json:"selectedColor"`
}

type orderMetadataRequest struct {
	DeliveryType  string              `json:"deliveryType"`
	DeliveryZone  string              `json:"deliveryZone"`
	TotalWeight   decimal.NullDecimal `json:"totalWeight"`
	PaymentMethod string              `json:"paymentMethod"`
}

// createOrderRequest ignores client subtotal and tax; total is only compared.
type createOrderRequest struct {
	Items           []cartItemRequest    `json:"items"`
	ShippingAddress string               `json:"shippingAddress"`
	Phone           string               `json:"phone"`
	Notes           string               `json:"notes"`
	Total           decimal.NullDecimal  `json:"total"`
	TransactionID   string               `json:"transactionId"`
	CouponCode      string               `json:"couponCode"`
	Metadata        orderMetadataRequest `json:"metadata"`
}

func (req createOrderRequest) domain(userID string) order.CreateRequest {
	items := make([]pricing.CartItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = pricing.CartItem{
			ProductID:     it.ProductID,
			Name:          it.Name,
			Image:         it.Image,
			ClientPrice:   it.Price,
			Quantity:      it.Quantity,
			SelectedSize:  it.SelectedSize,
			SelectedColor: it.SelectedColor,
			ClientWeight:  it.Weight,
		}
	}
	return order.CreateRequest{
		UserID:          userID,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		Phone:           req.Phone,
		Notes:           req.Notes,
		TransactionID:   req.TransactionID,
		CouponCode:      req.CouponCode,
		ClientTotal:     req.Total,
		DeliveryType:    pricing.DeliveryType(req.Metadata.DeliveryType),
		DeliveryZone:    req.Metadata.DeliveryZone,
		PaymentMethod:   req.Metadata.PaymentMethod,
		TotalWeight:     req.Metadata.TotalWeight.Decimal,
	}
}

// estimateRequest is the calculate-total body. Client tax is ignored.
type estimateRequest struct {
	Subtotal     decimal.NullDecimal `json:"subtotal"`
	DeliveryCost decimal.NullDecimal `json:"deliveryCost"`
	CouponCode   string              `json:"couponCode"`
	DeliveryType string              `json:"deliveryType"`
	DeliveryZone string              `json:"deliveryZone"`
	TotalWeight  decimal.NullDecimal `json:"totalWeight"`
}

type paymentRequest struct {
	Amount        decimal.NullDecimal `json:"amount"`
	Currency      string              `json:"currency"`
	PaymentMethod string              `json:"paymentMethod"`
	CouponCode    string              `json:"couponCode"`
	Subtotal      decimal.NullDecimal `json:"subtotal"`
	DeliveryCost  decimal.NullDecimal `json:"deliveryCost"`
	DeliveryType  string              `json:"deliveryType"`
	DeliveryZone  string              `json:"deliveryZone"`
	TotalWeight   decimal.NullDecimal `json:"totalWeight"`
}

type failedOrderRequest struct {
	TransactionID string          `json:"transactionId"`
	OrderData     json.RawMessage `json:"orderData"`
	Error         string          `json:"error"`
}

type patchOrderRequest struct {
	Status          *string `json:"status"`
	ShippingAddress *string `json:"shippingAddress"`
	Phone           *string `json:"phone"`
	Notes           *string `json:"notes"`
	Metadata        *struct {
		PaymentMethod *string `json:"paymentMethod"`
	} `json:"metadata"`
}

func (req patchOrderRequest) domain() order.PatchRequest {
	p := order.PatchRequest{
		ShippingAddress: req.ShippingAddress,
		Phone:           req.Phone,
		Notes:           req.Notes,
	}
	if req.Status != nil {
		s := order.Status(*req.Status)
		p.Status = &s
	}
	if req.Metadata != nil {
		p.PaymentMethod = req.Metadata.PaymentMethod
	}
	return p
}

type reviewRequest struct {
	Status string `json:"status"`
}

// Responses.

func money(d decimal.Decimal) float64 {
	return pricing.Round2(d).InexactFloat64()
}

type discountResponse struct {
	Type       string  `json:"type"`
	Percentage float64 `json:"percentage"`
	Amount     float64 `json:"amount"`
	Reason     string  `json:"reason,omitempty"`
	CouponCode string  `json:"couponCode,omitempty"`
}

func toDiscount(d *pricing.Discount) *discountResponse {
	if d == nil || !d.Applied() {
		return nil
	}
	return &discountResponse{
		Type:       string(d.Type),
		Percentage: d.Percentage.InexactFloat64(),
		Amount:     money(d.Amount),
		Reason:     d.Reason,
		CouponCode: d.CouponCode,
	}
}

// quoteResponse is shared by calculate-total and the order body so both
// paths render the same numbers.
type quoteResponse struct {
	SubtotalBeforeDiscount float64           `json:"subtotalBeforeDiscount"`
	Discount               *discountResponse `json:"discount"`
	Subtotal               float64           `json:"subtotal"`
	DeliveryCost           float64           `json:"deliveryCost"`
	Tax                    float64           `json:"tax"`
	Total                  float64           `json:"total"`
}

func toQuote(t pricing.Totals, d *pricing.Discount) quoteResponse {
	return quoteResponse{
		SubtotalBeforeDiscount: money(t.SubtotalBeforeDiscount),
		Discount:               toDiscount(d),
		Subtotal:               money(t.Subtotal),
		DeliveryCost:           money(t.DeliveryCost),
		Tax:                    money(t.Tax),
		Total:                  money(t.Total),
	}
}

type itemResponse struct {
	ProductID     string  `json:"productId,omitempty"`
	Name          string  `json:"name"`
	Image         string  `json:"image,omitempty"`
	Quantity      int     `json:"quantity"`
	Price         float64 `json:"price"`
	Weight        float64 `json:"weight"`
	SelectedSize  string  `json:"selectedSize,omitempty"`
	SelectedColor string  `json:"selectedColor,omitempty"`
}

type metadataResponse struct {
	DeliveryType  string  `json:"deliveryType"`
	DeliveryZone  string  `json:"deliveryZone,omitempty"`
	PaymentMethod string  `json:"paymentMethod,omitempty"`
	TotalWeight   float64 `json:"totalWeight"`
}

type orderResponse struct {
	ID     string         `json:"id"`
	UserID string         `json:"userId"`
	Items  []itemResponse `json:"items"`
	quoteResponse
	Status          string           `json:"status"`
	ShippingAddress string           `json:"shippingAddress,omitempty"`
	Phone           string           `json:"phone,omitempty"`
	Notes           string           `json:"notes,omitempty"`
	TransactionID   string           `json:"transactionId,omitempty"`
	CouponCode      string           `json:"couponCode,omitempty"`
	Metadata        metadataResponse `json:"metadata"`
	Archived        bool             `json:"archived"`
	ArchivedAt      *time.Time       `json:"archivedAt,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

func toOrder(o *order.Order) orderResponse {
	items := make([]itemResponse, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemResponse{
			ProductID:     it.ProductID,
			Name:          it.Name,
			Image:         it.Image,
			Quantity:      it.Quantity,
			Price:         money(it.UnitPrice),
			Weight:        it.Weight.InexactFloat64(),
			SelectedSize:  it.SelectedSize,
			SelectedColor: it.SelectedColor,
		}
	}
	totals := pricing.Totals{
		SubtotalBeforeDiscount: o.SubtotalBeforeDiscount,
		Subtotal:               o.Subtotal,
		DeliveryCost:           o.DeliveryCost,
		Tax:                    o.Tax,
		Total:                  o.Total,
	}
	if o.Discount != nil {
		totals.DiscountAmount = o.Discount.Amount
	}
	return orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           items,
		quoteResponse:   toQuote(totals, o.Discount),
		Status:          string(o.Status),
		ShippingAddress: o.ShippingAddress,
		Phone:           o.Phone,
		Notes:           o.Notes,
		TransactionID:   o.TransactionID,
		CouponCode:      o.CouponCode,
		Metadata: metadataResponse{
			DeliveryType:  string(o.Metadata.DeliveryType),
			DeliveryZone:  o.Metadata.DeliveryZone,
			PaymentMethod: o.Metadata.PaymentMethod,
			TotalWeight:   o.Metadata.TotalWeight.InexactFloat64(),
		},
		Archived:   o.Archived,
		ArchivedAt: o.ArchivedAt,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

func toOrders(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrder(&orders[i])
	}
	return out
}

type createdResponse struct {
	ID            string  `json:"id"`
	Message       string  `json:"message"`
	TransactionID string  `json:"transactionId,omitempty"`
	Total         float64 `json:"total,omitempty"`
}

type paymentResponse struct {
	Success       bool    `json:"success"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
}

type failedOrderResponse struct {
	ID            string          `json:"id"`
	TransactionID string          `json:"transactionId"`
	UserID        string          `json:"userId"`
	Amount        float64         `json:"amount"`
	OrderData     json.RawMessage `json:"orderData"`
	Error         string          `json:"error,omitempty"`
	Status        string          `json:"status"`
	ReviewedBy    string          `json:"reviewedBy,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func toFailedOrder(r *failedorder.Record) failedOrderResponse {
	return failedOrderResponse{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		UserID:        r.UserID,
		Amount:        money(r.Amount),
		OrderData:     r.OrderData,
		Error:         r.Comment,
		Status:        string(r.Status),
		ReviewedBy:    r.ReviewedBy,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
