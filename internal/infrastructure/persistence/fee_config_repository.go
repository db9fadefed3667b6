package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormFeeConfigRepository implements payment.FeeConfigProvider using GORM
type GormFeeConfigRepository struct {
	db *gorm.DB
}

// NewGormFeeConfigRepository creates a new GormFeeConfigRepository
func NewGormFeeConfigRepository(db *gorm.DB) *GormFeeConfigRepository {
	return &GormFeeConfigRepository{db: db}
}

// Lookup finds the fee row for an already normalized brand
func (r *GormFeeConfigRepository) Lookup(ctx context.Context, brand string, paymentType payment.PaymentType, installments int) (*payment.FeeConfig, error) {
	var model models.FeeConfigModel
	err := r.db.WithContext(ctx).
		Where("brand = ? AND payment_type = ? AND installments = ?", brand, paymentType, installments).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.NewDomainError(shared.CodeNotFound,
				fmt.Sprintf("no fee row for %s/%s/%d", brand, paymentType, installments))
		}
		return nil, persistenceError("load fee config", err)
	}
	return model.ToDomain(), nil
}

// Upsert stores a fee row, replacing the rates of an existing row with the same key
func (r *GormFeeConfigRepository) Upsert(ctx context.Context, cfg *payment.FeeConfig) error {
	model := models.FeeConfigModelFromDomain(cfg)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "brand"}, {Name: "payment_type"}, {Name: "installments"}},
			DoUpdates: clause.AssignmentColumns([]string{"rate", "anticipation_rate", "updated_at"}),
		}).
		Create(model).Error
	if err != nil {
		return persistenceError("upsert fee config", err)
	}
	return nil
}

var _ payment.FeeConfigProvider = (*GormFeeConfigRepository)(nil)

// GormTaxRateRepository implements payment.TaxRateProvider using GORM
type GormTaxRateRepository struct {
	db       *gorm.DB
	fallback decimal.Decimal
	now      func() time.Time
}

// NewGormTaxRateRepository creates a tax rate repository. fallback is returned
// for clinics without any rate in force.
func NewGormTaxRateRepository(db *gorm.DB, fallback decimal.Decimal) *GormTaxRateRepository {
	return &GormTaxRateRepository{db: db, fallback: fallback, now: time.Now}
}

// CurrentCombinedRate sums every tax rate of the clinic in force right now
func (r *GormTaxRateRepository) CurrentCombinedRate(ctx context.Context, clinicID uuid.UUID) (decimal.Decimal, error) {
	now := r.now()
	var rows []models.TaxRateModel
	if err := r.db.WithContext(ctx).
		Scopes(ClinicScope(clinicID), EffectiveAt(now)).
		Find(&rows).Error; err != nil {
		return decimal.Zero, persistenceError("load tax rates", err)
	}
	if len(rows) == 0 {
		return r.fallback, nil
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Rate)
	}
	return total, nil
}

// Add stores a tax rate for a clinic
func (r *GormTaxRateRepository) Add(ctx context.Context, clinicID uuid.UUID, name string, rate decimal.Decimal, from time.Time, to *time.Time) error {
	now := r.now()
	model := &models.TaxRateModel{
		BaseModel:     models.BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		ClinicID:      clinicID,
		Name:          name,
		Rate:          rate,
		EffectiveFrom: from,
		EffectiveTo:   to,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return persistenceError("add tax rate", err)
	}
	return nil
}

var _ payment.TaxRateProvider = (*GormTaxRateRepository)(nil)
