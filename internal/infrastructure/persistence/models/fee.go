package models

import (
	"time"

	"github.com/clinic/backend/internal/domain/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FeeConfigModel is a card fee row. Brand is stored folded so lookups match
// regardless of case or accents.
type FeeConfigModel struct {
	BaseModel
	Brand            string              `gorm:"type:varchar(60);not null;uniqueIndex:idx_fee_brand_type_installments,priority:1"`
	PaymentType      payment.PaymentType `gorm:"type:varchar(10);not null;uniqueIndex:idx_fee_brand_type_installments,priority:2"`
	Installments     int                 `gorm:"not null;uniqueIndex:idx_fee_brand_type_installments,priority:3"`
	Rate             decimal.Decimal     `gorm:"type:decimal(9,4);not null"`
	AnticipationRate decimal.NullDecimal `gorm:"type:decimal(9,4)"`
}

// TableName returns the table name for GORM
func (FeeConfigModel) TableName() string {
	return "card_fee_configs"
}

// ToDomain converts the persistence model to a domain FeeConfig
func (m *FeeConfigModel) ToDomain() *payment.FeeConfig {
	cfg := &payment.FeeConfig{
		Brand:        m.Brand,
		PaymentType:  m.PaymentType,
		Installments: m.Installments,
		Rate:         m.Rate,
	}
	if m.AnticipationRate.Valid {
		rate := m.AnticipationRate.Decimal
		cfg.AnticipationRate = &rate
	}
	return cfg
}

// FeeConfigModelFromDomain creates a persistence model with a folded brand
func FeeConfigModelFromDomain(cfg *payment.FeeConfig) *FeeConfigModel {
	now := time.Now()
	m := &FeeConfigModel{
		BaseModel:    BaseModel{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Brand:        payment.NormalizeBrand(cfg.Brand),
		PaymentType:  cfg.PaymentType,
		Installments: cfg.Installments,
		Rate:         cfg.Rate,
	}
	if cfg.AnticipationRate != nil {
		m.AnticipationRate = decimal.NewNullDecimal(*cfg.AnticipationRate)
	}
	return m
}

// TaxRateModel is one tax applied to a clinic's revenue, e.g. ISS or PIS.
// A row without EffectiveTo is open ended.
type TaxRateModel struct {
	BaseModel
	ClinicID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	Name          string          `gorm:"type:varchar(60);not null"`
	Rate          decimal.Decimal `gorm:"type:decimal(9,4);not null"`
	EffectiveFrom time.Time       `gorm:"not null"`
	EffectiveTo   *time.Time
}

// TableName returns the table name for GORM
func (TaxRateModel) TableName() string {
	return "clinic_tax_rates"
}
