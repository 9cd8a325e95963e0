package address

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/maps"
)

const placeBody = `{
  "id": "place_lekki",
  "formattedAddress": "12 Admiralty Way, Lekki, Lagos, Nigeria",
  "location": {"latitude": 6.0, "longitude": 3.0},
  "addressComponents": [
    {"longText": "12", "types": ["street_number"]},
    {"longText": "Admiralty Way", "types": ["route"]},
    {"longText": "Flat 3", "types": ["subpremise"]},
    {"longText": "Lekki", "types": ["locality"]},
    {"longText": "Lagos", "types": ["administrative_area_level_1"]},
    {"longText": "Nigeria", "types": ["country"]}
  ]
}`

func newTestService(t *testing.T) (Service, Repository) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/places/place_lekki"):
			_, _ = w.Write([]byte(placeBody))
		case strings.HasSuffix(r.URL.Path, "places:autocomplete"):
			_, _ = w.Write([]byte(`{"suggestions":[{"placePrediction":{"placeId":"place_lekki","text":{"text":"12 Admiralty Way"}}}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := maps.NewClient("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)

	conn := dbtest.Open(t, &models.Address{})
	repo := NewRepository(conn)
	svc, err := NewService(repo, db.Wrap(conn), client)
	require.NoError(t, err)
	return svc, repo
}

func TestSaveResolvesPlaceAndDefaultsFirstAddress(t *testing.T) {
	svc, _ := newTestService(t)
	customerID := uuid.New()

	first, err := svc.Save(context.Background(), customerID, SaveRequest{PlaceID: "place_lekki", Label: "home"})
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	assert.Equal(t, "12 Admiralty Way", first.Line1)
	require.NotNil(t, first.Line2)
	assert.Equal(t, "Flat 3", *first.Line2)
	assert.Equal(t, "Lekki", first.City)
	assert.Equal(t, 6.0, first.Latitude)
	assert.Equal(t, 3.0, first.Longitude)

	second, err := svc.Save(context.Background(), customerID, SaveRequest{PlaceID: "place_lekki", Label: "office"})
	require.NoError(t, err)
	assert.False(t, second.IsDefault)

	third, err := svc.Save(context.Background(), customerID, SaveRequest{PlaceID: "place_lekki", Label: "gym", MakeDefault: true})
	require.NoError(t, err)
	assert.True(t, third.IsDefault)

	rows, err := svc.List(context.Background(), customerID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	defaults := 0
	for _, row := range rows {
		if row.IsDefault {
			defaults++
			assert.Equal(t, third.ID, row.ID)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestSaveUnknownPlace(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Save(context.Background(), uuid.New(), SaveRequest{PlaceID: "nowhere"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSuggest(t *testing.T) {
	svc, _ := newTestService(t)
	got, err := svc.Suggest(context.Background(), SuggestRequest{Query: "12 Adm", Country: "ng"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "place_lekki", got[0].PlaceID)
}

func TestResolveDelivery(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	customerID := uuid.New()

	_, err := svc.ResolveDelivery(ctx, customerID, nil)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ReasonNoAddress, pkgerrors.ReasonOf(err))

	only := &models.Address{CustomerID: customerID, Line1: "1 Only St", City: "Lagos", Latitude: 6, Longitude: 3}
	require.NoError(t, repo.Create(ctx, only))
	got, err := svc.ResolveDelivery(ctx, customerID, nil)
	require.NoError(t, err)
	assert.Equal(t, only.ID, got.ID)

	other := &models.Address{CustomerID: customerID, Line1: "2 Other St", City: "Lagos", Latitude: 6, Longitude: 3}
	require.NoError(t, repo.Create(ctx, other))
	_, err = svc.ResolveDelivery(ctx, customerID, nil)
	assert.Equal(t, pkgerrors.ReasonNoAddress, pkgerrors.ReasonOf(err))

	got, err = svc.ResolveDelivery(ctx, customerID, &other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.ID, got.ID)

	_, err = svc.ResolveDelivery(ctx, uuid.New(), &other.ID)
	assert.Equal(t, pkgerrors.ReasonNoAddress, pkgerrors.ReasonOf(err))

	snap := Snapshot(got)
	assert.Equal(t, other.ID.String(), snap.AddressID)
	assert.Equal(t, 3.0, snap.Location.Lng)
}

func TestMapPlaceDetailsMissingCity(t *testing.T) {
	details := &maps.PlaceDetails{
		AddressComponents: []maps.AddressComponent{
			{LongName: "12", Types: []string{"street_number"}},
			{LongName: "Admiralty Way", Types: []string{"route"}},
		},
		Location: maps.LatLng{Latitude: 6, Longitude: 3},
	}
	_, err := mapPlaceDetails(details)
	require.Error(t, err)
}
