package pricing

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func policy(base, perKm string) DeliveryPolicy {
	return DeliveryPolicy{BaseFee: d(base), PerKmFee: d(perKm)}
}

func TestDeliveryFeeFloorAtZeroDistance(t *testing.T) {
	fee := DeliveryFee(policy("5", "2"), 0)
	assert.True(t, fee.Equal(d("5")), "got %s", fee)
}

func TestDeliveryFeeTenKilometres(t *testing.T) {
	fee := DeliveryFee(policy("5", "2"), 10)
	assert.True(t, fee.Equal(d("25")), "got %s", fee)
}

func TestDeliveryFeeRoundsDistanceUp(t *testing.T) {
	fee := DeliveryFee(policy("5", "2"), 2.01)
	assert.True(t, fee.Equal(d("11")), "got %s", fee)
}

func TestDistanceKmHaversine(t *testing.T) {
	// One degree of latitude along a meridian.
	km := DistanceKm(types.Point{Lng: 0, Lat: 0}, types.Point{Lng: 0, Lat: 1})
	assert.InDelta(t, 111.19, km, 0.01)
	assert.Zero(t, DistanceKm(types.Point{Lng: 3.4, Lat: 6.5}, types.Point{Lng: 3.4, Lat: 6.5}))
}

func TestComputeThirtyDollarCartThreeKilometres(t *testing.T) {
	in := Input{
		Items: []LineItem{
			{UnitPrice: d("12.50"), Quantity: 2},
			{UnitPrice: d("5.00"), Quantity: 1},
		},
		Policy:      policy("5", "2"),
		Origin:      types.Point{Lng: 3.0, Lat: 6.0},
		Destination: types.Point{Lng: 3.0, Lat: 6.025},
	}

	got, err := Compute(in)
	require.NoError(t, err)

	assert.InDelta(t, 2.78, got.DistanceKm, 0.01)
	assert.Equal(t, "30.00", got.Subtotal.StringFixed(2))
	assert.Equal(t, "11.00", got.DeliveryFee.StringFixed(2))
	assert.Equal(t, "0.90", got.ServiceFee.StringFixed(2))
	assert.Equal(t, "0.00", got.Tax.StringFixed(2))
	assert.Equal(t, "0.00", got.Discount.StringFixed(2))
	assert.Equal(t, "41.90", got.Total.StringFixed(2))

	cents := got.Cents()
	assert.Equal(t, int64(4190), cents.Total)
	assert.Equal(t, int64(90), cents.ServiceFee)
}

func TestComputeTaxAndDiscount(t *testing.T) {
	in := Input{
		Items:           []LineItem{{UnitPrice: d("20.00"), Quantity: 1}},
		Policy:          policy("5", "0"),
		TaxPercent:      d("10"),
		DiscountPercent: d("15"),
	}

	got, err := Compute(in)
	require.NoError(t, err)

	// tax: 10% of (20 + 0.60 + 5) = 2.56; discount: 15% of 20 = 3.00
	assert.Equal(t, "0.60", got.ServiceFee.StringFixed(2))
	assert.Equal(t, "2.56", got.Tax.StringFixed(2))
	assert.Equal(t, "3.00", got.Discount.StringFixed(2))
	assert.Equal(t, "25.16", got.Total.StringFixed(2))
}

func TestComputeRejectsBadInput(t *testing.T) {
	cases := map[string]Input{
		"no items":      {Policy: policy("5", "2")},
		"zero quantity": {Items: []LineItem{{UnitPrice: d("1"), Quantity: 0}}, Policy: policy("5", "2")},
		"negative fee":  {Items: []LineItem{{UnitPrice: d("1"), Quantity: 1}}, Policy: policy("-1", "2")},
		"discount >100": {Items: []LineItem{{UnitPrice: d("1"), Quantity: 1}}, Policy: policy("5", "2"), DiscountPercent: d("101")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compute(in)
			require.Error(t, err)
		})
	}
}

func TestComputeIsDeterministicAndBalanced(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		items := make([]LineItem, 1+rng.Intn(5))
		for j := range items {
			items[j] = LineItem{
				UnitPrice: decimal.New(int64(rng.Intn(10000)), -2),
				Quantity:  1 + rng.Intn(4),
			}
		}
		in := Input{
			Items:           items,
			Policy:          DeliveryPolicy{BaseFee: decimal.New(int64(rng.Intn(1000)), -2), PerKmFee: decimal.New(int64(rng.Intn(300)), -2)},
			Origin:          types.Point{Lng: rng.Float64()*2 - 1, Lat: rng.Float64()*2 - 1},
			Destination:     types.Point{Lng: rng.Float64()*2 - 1, Lat: rng.Float64()*2 - 1},
			TaxPercent:      decimal.New(int64(rng.Intn(2000)), -2),
			DiscountPercent: decimal.New(int64(rng.Intn(5000)), -2),
		}

		first, err := Compute(in)
		require.NoError(t, err)
		second, err := Compute(in)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		sum := first.Subtotal.Add(first.DeliveryFee).Add(first.ServiceFee).Add(first.Tax).Sub(first.Discount)
		assert.True(t, first.Total.Equal(sum), "total %s != components %s", first.Total, sum)
		assert.True(t, first.DeliveryFee.GreaterThanOrEqual(in.Policy.BaseFee))
		assert.LessOrEqual(t, first.Total.Exponent(), int32(0))
		assert.GreaterOrEqual(t, first.Total.Exponent(), int32(-2))
	}
}
