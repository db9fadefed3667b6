package handler

import (
	"github.com/clinic/backend/internal/application/settlement"
	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/interfaces/http/dto"
	"github.com/clinic/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
)

// RatesHandler serves the card fee and tax rate tables
type RatesHandler struct {
	BaseHandler
	service *settlement.RatesService
}

// NewRatesHandler creates a new RatesHandler
func NewRatesHandler(service *settlement.RatesService) *RatesHandler {
	return &RatesHandler{service: service}
}

// UpsertFeeConfig handles PUT /fee-configs
func (h *RatesHandler) UpsertFeeConfig(c *gin.Context) {
	var req dto.FeeConfigRequest
	if !h.bind(c, &req) {
		return
	}
	cfg, err := h.service.UpsertFeeConfig(c.Request.Context(), settlement.FeeConfigInput{
		Brand:            req.Brand,
		PaymentType:      payment.PaymentType(req.PaymentType),
		Installments:     req.Installments,
		Rate:             req.Rate,
		AnticipationRate: req.AnticipationRate,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, cfg)
}

// ResolveFee handles GET /fee-configs/resolve and returns the row a payment
// with these terms would use, sentinel fallback included
func (h *RatesHandler) ResolveFee(c *gin.Context) {
	var q dto.FeeLookupQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	cfg, err := h.service.ResolveFee(c.Request.Context(), q.Brand, payment.PaymentType(q.PaymentType), q.Installments)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, cfg)
}

// AddTaxRate handles POST /tax-rates
func (h *RatesHandler) AddTaxRate(c *gin.Context) {
	var req dto.TaxRateRequest
	if !h.bind(c, &req) {
		return
	}
	clinicID := middleware.GetClinicID(c)
	err := h.service.AddTaxRate(c.Request.Context(), settlement.TaxRateInput{
		ClinicID:      clinicID,
		Name:          req.Name,
		Rate:          req.Rate,
		EffectiveFrom: req.EffectiveFrom,
		EffectiveTo:   req.EffectiveTo,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.currentTaxRate(c, true)
}

// CurrentTaxRate handles GET /tax-rates/current
func (h *RatesHandler) CurrentTaxRate(c *gin.Context) {
	h.currentTaxRate(c, false)
}

func (h *RatesHandler) currentTaxRate(c *gin.Context, created bool) {
	clinicID := middleware.GetClinicID(c)
	rate, err := h.service.CurrentTaxRate(c.Request.Context(), clinicID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	resp := dto.TaxRateResponse{ClinicID: clinicID, Rate: rate}
	if created {
		h.Created(c, resp)
		return
	}
	h.Success(c, resp)
}
