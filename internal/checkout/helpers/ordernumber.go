package helpers

import (
	"fmt"
	"regexp"
	"time"

	"github.com/angelmondragon/prepmarket-backend/pkg/security"
)

const (
	orderNumberPrefix   = "ORD"
	orderNumberRandLen  = 6
	deliveryCodeDigits  = 4
	orderNumberDateForm = "20060102"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{8}-[A-Z2-9]{6}$`)

// OrderNumber builds "ORD-YYYYMMDD-XXXXXX". Collisions are possible and are
// caught by the unique index on orders.order_number.
func OrderNumber(now time.Time) (string, error) {
	suffix, err := security.RandomToken(orderNumberRandLen)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.UTC().Format(orderNumberDateForm), suffix), nil
}

// ValidOrderNumber reports whether s has the order number shape.
func ValidOrderNumber(s string) bool {
	return orderNumberPattern.MatchString(s)
}

// DeliveryCode returns the code the customer shows the rider at handoff.
func DeliveryCode() (string, error) {
	return security.RandomDigits(deliveryCodeDigits)
}
