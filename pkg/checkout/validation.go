package checkout

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
)

// MaxLineQuantity caps a single cart line.
const MaxLineQuantity = 50

// LineInput describes one cart line being ordered.
type LineInput struct {
	MealID    uuid.UUID
	MealName  string
	VendorID  uuid.UUID
	Available bool
	Quantity  int
}

// LineViolation is returned to callers when a cart line cannot be ordered.
type LineViolation struct {
	MealID       uuid.UUID `json:"meal_id"`
	MealName     string    `json:"meal_name,omitempty"`
	Problem      string    `json:"problem"`
	RequestedQty int       `json:"requested_qty,omitempty"`
}

// ValidateLines checks every line belongs to vendorID, is available and has a
// sane quantity.
func ValidateLines(vendorID uuid.UUID, lines []LineInput) error {
	var violations []LineViolation
	for _, line := range lines {
		switch {
		case line.VendorID != vendorID:
			violations = append(violations, LineViolation{MealID: line.MealID, MealName: line.MealName, Problem: "meal belongs to another vendor"})
		case !line.Available:
			violations = append(violations, LineViolation{MealID: line.MealID, MealName: line.MealName, Problem: "meal is unavailable"})
		case line.Quantity < 1 || line.Quantity > MaxLineQuantity:
			violations = append(violations, LineViolation{MealID: line.MealID, MealName: line.MealName, Problem: "quantity out of range", RequestedQty: line.Quantity})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%d cart item(s) cannot be ordered", len(violations))).WithDetails(map[string]any{
		"violations": violations,
	})
}

// ValidateSchedule rejects delivery dates in the past or beyond maxAhead.
func ValidateSchedule(scheduled, now time.Time, maxAhead time.Duration) error {
	if scheduled.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery date is required")
	}
	if scheduled.Before(now) {
		return pkgerrors.New(pkgerrors.CodeValidation, "delivery date must be in the future")
	}
	if maxAhead > 0 && scheduled.After(now.Add(maxAhead)) {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("delivery date must be within %s", maxAhead))
	}
	return nil
}
