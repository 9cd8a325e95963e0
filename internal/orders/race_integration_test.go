package orders

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/internal/ledger"
	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox"
)

// TestAcceptDeliveryRacePostgres runs the rider race against real row-level
// concurrency. Set PREPMARKET_INTEGRATION=1 with a Docker daemon available.
func TestAcceptDeliveryRacePostgres(t *testing.T) {
	if os.Getenv("PREPMARKET_INTEGRATION") != "1" {
		t.Skip("set PREPMARKET_INTEGRATION=1 to run postgres integration tests")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("prepmarket"),
		tcpostgres.WithUsername("prepmarket"),
		tcpostgres.WithPassword("prepmarket"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&models.Order{}, &models.OrderItem{}, &models.OrderTimelineEntry{},
		&models.OutboxEvent{}, &models.Wallet{}, &models.Transaction{},
	))

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), enums.CurrencyUSD)
	require.NoError(t, err)
	repo := NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:              repo,
		TransactionRunner: db.Wrap(conn),
		Outbox:            outbox.NewService(outbox.NewRepository(conn), nil),
		Earnings:          ledgerSvc,
		Refunder:          &fakeRefunder{},
		CommissionPercent: decimal.NewFromInt(3),
	})
	require.NoError(t, err)

	h := &harness{conn: conn, repo: repo}
	order := h.seedOrder(t, seed{status: enums.OrderStatusReady, paymentStatus: enums.PaymentStatusCompleted})

	const riders = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		claimed int
		start   = make(chan struct{})
	)
	for i := 0; i < riders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.AcceptDelivery(ctx, order.ID, Actor{ID: uuid.New(), Role: enums.ActorRoleRider})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case pkgerrors.ReasonOf(err) == pkgerrors.ReasonAlreadyClaimed:
				claimed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, riders-1, claimed)

	stored, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusAccepted, stored.Status)
	require.Len(t, stored.Timeline, 2)
}
