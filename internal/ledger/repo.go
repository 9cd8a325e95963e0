package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	"github.com/angelmondragon/prepmarket-backend/pkg/pagination"
)

// Repository persists wallets and their transactions. Balance changes are
// single conditional UPDATE statements so concurrent writers cannot
// interleave a read-check-write.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	EnsureWallet(ctx context.Context, userID uuid.UUID, role enums.ActorRole, currency enums.Currency) (*models.Wallet, error)
	FindWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	LockWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Credit(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error)
	Debit(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error)
	AddPending(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error)
	ReleasePending(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error)
	SetPIN(ctx context.Context, userID uuid.UUID, hash string) error
	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, processedAt time.Time) (bool, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Transaction, error)
	AllTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) EnsureWallet(ctx context.Context, userID uuid.UUID, role enums.ActorRole, currency enums.Currency) (*models.Wallet, error) {
	wallet := models.Wallet{
		UserID:   userID,
		Role:     role,
		Currency: currency,
		IsActive: true,
	}
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&wallet).Error; err != nil {
		return nil, err
	}
	return r.FindWallet(ctx, userID)
}

func (r *repository) FindWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) LockWallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) Credit(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents + ?", amountCents),
			"updated_at":    time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) Debit(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND balance_cents >= ? AND is_active = ?", userID, amountCents, true).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents - ?", amountCents),
			"updated_at":    time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) AddPending(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"pending_cents": gorm.Expr("pending_cents + ?", amountCents),
			"updated_at":    time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// ReleasePending moves amountCents from pending into the available balance.
// It reports false when pending holds less than amountCents.
func (r *repository) ReleasePending(ctx context.Context, userID uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ? AND pending_cents >= ?", userID, amountCents).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents + ?", amountCents),
			"pending_cents": gorm.Expr("pending_cents - ?", amountCents),
			"updated_at":    time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) SetPIN(ctx context.Context, userID uuid.UUID, hash string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"pin_hash":   hash,
			"pin_set":    true,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *repository) FindTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) FindTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *repository) UpdateTransactionStatus(ctx context.Context, id uuid.UUID, from, to enums.TransactionStatus, processedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":       to,
			"processed_at": processedAt,
			"updated_at":   processedAt,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.Transaction, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit)
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Transaction
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) AllTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	var rows []models.Transaction
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
