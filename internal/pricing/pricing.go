// Package pricing computes the immutable price breakdown stored on an order.
// Everything here is pure: no I/O, no clock, no randomness.
package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/prepmarket-backend/pkg/money"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

const earthRadiusKm = 6371.0

// ServiceFeePercent is charged on the subtotal of every order.
var ServiceFeePercent = decimal.NewFromInt(3)

// LineItem is one priced cart line.
type LineItem struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

// DeliveryPolicy is the vendor's distance-tiered delivery pricing.
type DeliveryPolicy struct {
	BaseFee  decimal.Decimal
	PerKmFee decimal.Decimal
}

// Input gathers everything the breakdown depends on. Percentages are given as
// whole-number percents (7.5 means 7.5%).
type Input struct {
	Items           []LineItem
	Policy          DeliveryPolicy
	Origin          types.Point
	Destination     types.Point
	TaxPercent      decimal.Decimal
	DiscountPercent decimal.Decimal
}

// Breakdown is the rounded price snapshot. Total always equals
// Subtotal + DeliveryFee + ServiceFee + Tax - Discount exactly.
type Breakdown struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	ServiceFee  decimal.Decimal
	Tax         decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
	DistanceKm  float64
}

// Cents is the storage form of a Breakdown.
type Cents struct {
	Subtotal    int64
	DeliveryFee int64
	ServiceFee  int64
	Tax         int64
	Discount    int64
	Total       int64
}

// Compute prices the given input.
func Compute(in Input) (Breakdown, error) {
	if len(in.Items) == 0 {
		return Breakdown{}, fmt.Errorf("at least one line item is required")
	}
	if err := validatePolicy(in.Policy); err != nil {
		return Breakdown{}, err
	}
	if in.TaxPercent.IsNegative() || in.DiscountPercent.IsNegative() {
		return Breakdown{}, fmt.Errorf("tax and discount percentages must not be negative")
	}
	if in.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return Breakdown{}, fmt.Errorf("discount percentage must not exceed 100")
	}

	subtotal := decimal.Zero
	for i, item := range in.Items {
		if item.Quantity < 1 {
			return Breakdown{}, fmt.Errorf("line %d: quantity must be at least 1", i)
		}
		if item.UnitPrice.IsNegative() {
			return Breakdown{}, fmt.Errorf("line %d: unit price must not be negative", i)
		}
		subtotal = subtotal.Add(LineTotal(item))
	}
	subtotal = money.Round(subtotal)

	km := DistanceKm(in.Origin, in.Destination)
	delivery := DeliveryFee(in.Policy, km)
	service := money.Percent(subtotal, ServiceFeePercent)
	tax := money.Percent(subtotal.Add(service).Add(delivery), in.TaxPercent)
	discount := money.Percent(subtotal, in.DiscountPercent)

	return Breakdown{
		Subtotal:    subtotal,
		DeliveryFee: delivery,
		ServiceFee:  service,
		Tax:         tax,
		Discount:    discount,
		Total:       subtotal.Add(delivery).Add(service).Add(tax).Sub(discount),
		DistanceKm:  km,
	}, nil
}

// LineTotal is unit price times quantity, rounded.
func LineTotal(item LineItem) decimal.Decimal {
	return money.Round(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
}

// DeliveryFee charges the base fee plus PerKmFee for every started kilometre,
// and never less than the base fee.
func DeliveryFee(policy DeliveryPolicy, km float64) decimal.Decimal {
	if km < 0 || math.IsNaN(km) {
		km = 0
	}
	started := decimal.NewFromFloat(math.Ceil(km))
	fee := policy.BaseFee.Add(policy.PerKmFee.Mul(started))
	if fee.LessThan(policy.BaseFee) {
		fee = policy.BaseFee
	}
	return money.Round(fee)
}

// DistanceKm is the great-circle distance between two points.
func DistanceKm(a, b types.Point) float64 {
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Cents converts the breakdown for storage.
func (b Breakdown) Cents() Cents {
	return Cents{
		Subtotal:    money.ToCents(b.Subtotal),
		DeliveryFee: money.ToCents(b.DeliveryFee),
		ServiceFee:  money.ToCents(b.ServiceFee),
		Tax:         money.ToCents(b.Tax),
		Discount:    money.ToCents(b.Discount),
		Total:       money.ToCents(b.Total),
	}
}

func validatePolicy(p DeliveryPolicy) error {
	if p.BaseFee.IsNegative() || p.PerKmFee.IsNegative() {
		return fmt.Errorf("delivery fees must not be negative")
	}
	return nil
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
