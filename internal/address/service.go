package address

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/maps"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

type placeResolver interface {
	Autocomplete(ctx context.Context, req maps.AutocompleteRequest) ([]maps.AutocompleteSuggestion, error)
	ResolvePlace(ctx context.Context, placeID string) (*maps.PlaceDetails, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type Service interface {
	Suggest(ctx context.Context, req SuggestRequest) ([]Suggestion, error)
	Save(ctx context.Context, customerID uuid.UUID, req SaveRequest) (*models.Address, error)
	List(ctx context.Context, customerID uuid.UUID) ([]models.Address, error)
	ResolveDelivery(ctx context.Context, customerID uuid.UUID, addressID *uuid.UUID) (*models.Address, error)
}

type service struct {
	repo Repository
	tx   txRunner
	maps placeResolver
}

// NewService builds the address service. places may be nil, in which case
// Suggest and Save report a dependency error while lookups keep working.
func NewService(repo Repository, tx txRunner, places placeResolver) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("address repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, maps: places}, nil
}

func (s *service) Suggest(ctx context.Context, req SuggestRequest) ([]Suggestion, error) {
	if s.maps == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "maps client unavailable")
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "query is required")
	}

	payload := maps.AutocompleteRequest{Input: req.Query}
	if country := strings.TrimSpace(req.Country); country != "" {
		payload.IncludedRegionCodes = []string{strings.ToUpper(country)}
	}

	resp, err := s.maps.Autocomplete(ctx, payload)
	if err != nil {
		return nil, err
	}
	suggestions := make([]Suggestion, 0, len(resp))
	for _, item := range resp {
		suggestions = append(suggestions, Suggestion{PlaceID: item.PlaceID, Description: item.Description})
	}
	return suggestions, nil
}

// Save resolves a place into coordinates and stores it. The first saved
// address becomes the default.
func (s *service) Save(ctx context.Context, customerID uuid.UUID, req SaveRequest) (*models.Address, error) {
	if s.maps == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "maps client unavailable")
	}
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "customer identity missing")
	}
	if strings.TrimSpace(req.PlaceID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "place_id is required")
	}

	details, err := s.maps.ResolvePlace(ctx, req.PlaceID)
	if err != nil {
		return nil, err
	}
	address, err := mapPlaceDetails(details)
	if err != nil {
		return nil, err
	}
	address.CustomerID = customerID
	address.Label = strings.TrimSpace(req.Label)
	if line2 := strings.TrimSpace(req.Line2); line2 != "" {
		address.Line2 = &line2
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.ListByCustomer(ctx, customerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list addresses")
		}
		address.IsDefault = req.MakeDefault || len(existing) == 0
		if address.IsDefault {
			if err := repo.ClearDefault(ctx, customerID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear default address")
			}
		}
		if err := repo.Create(ctx, address); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save address")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return address, nil
}

func (s *service) List(ctx context.Context, customerID uuid.UUID) ([]models.Address, error) {
	rows, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list addresses")
	}
	return rows, nil
}

// ResolveDelivery picks the address for a new order: the requested one, else
// the default, else the only saved address.
func (s *service) ResolveDelivery(ctx context.Context, customerID uuid.UUID, addressID *uuid.UUID) (*models.Address, error) {
	noAddress := func(msg string) error {
		return pkgerrors.New(pkgerrors.CodeValidation, msg).WithReason(pkgerrors.ReasonNoAddress)
	}

	if addressID != nil && *addressID != uuid.Nil {
		address, err := s.repo.FindForCustomer(ctx, *addressID, customerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, noAddress("delivery address not found")
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load address")
		}
		return address, nil
	}

	rows, err := s.List(ctx, customerID)
	if err != nil {
		return nil, err
	}
	switch {
	case len(rows) == 0:
		return nil, noAddress("no delivery address on file")
	case len(rows) == 1:
		return &rows[0], nil
	}
	for i := range rows {
		if rows[i].IsDefault {
			return &rows[i], nil
		}
	}
	return nil, noAddress("choose a delivery address or mark one as default")
}

// Snapshot copies a saved address onto an order.
func Snapshot(address *models.Address) types.DeliveryAddress {
	return types.DeliveryAddress{
		AddressID:  address.ID.String(),
		Line1:      address.Line1,
		Line2:      address.Line2,
		City:       address.City,
		State:      address.State,
		PostalCode: address.PostalCode,
		Country:    address.Country,
		Location:   types.Point{Lng: address.Longitude, Lat: address.Latitude},
	}
}

func mapPlaceDetails(details *maps.PlaceDetails) (*models.Address, error) {
	if details == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "place details missing")
	}
	if details.Location.Latitude == 0 && details.Location.Longitude == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "place location missing")
	}

	find := func(kinds ...string) string {
		for _, kind := range kinds {
			for _, comp := range details.AddressComponents {
				for _, typ := range comp.Types {
					if typ == kind && comp.LongName != "" {
						return comp.LongName
					}
				}
			}
		}
		return ""
	}

	line1 := strings.TrimSpace(strings.Join([]string{find("street_number"), find("route")}, " "))
	if line1 == "" && strings.TrimSpace(details.FormattedAddress) != "" {
		line1 = strings.TrimSpace(strings.Split(details.FormattedAddress, ",")[0])
	}
	if line1 == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address line1 missing")
	}

	city := find("locality", "postal_town", "sublocality", "administrative_area_level_2")
	if city == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "city missing")
	}

	country := find("country")
	if country == "" {
		country = "US"
	}

	address := &models.Address{
		Line1:      line1,
		City:       city,
		State:      find("administrative_area_level_1"),
		PostalCode: find("postal_code"),
		Country:    country,
		Latitude:   details.Location.Latitude,
		Longitude:  details.Location.Longitude,
	}
	if sub := find("subpremise"); sub != "" {
		address.Line2 = &sub
	}
	return address, nil
}

type SuggestRequest struct {
	Query   string
	Country string
}

type SaveRequest struct {
	PlaceID     string
	Label       string
	Line2       string
	MakeDefault bool
}

type Suggestion struct {
	PlaceID     string `json:"place_id"`
	Description string `json:"description"`
}
