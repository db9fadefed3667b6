package handler

import (
	"context"
	"net/http"

	"github.com/clinic/backend/internal/application/settlement"
	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/payment"
	"github.com/clinic/backend/internal/interfaces/http/dto"
	"github.com/clinic/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BudgetHandler serves the budget lifecycle and payment endpoints
type BudgetHandler struct {
	BaseHandler
	service *settlement.SettlementService
}

// NewBudgetHandler creates a new BudgetHandler
func NewBudgetHandler(service *settlement.SettlementService) *BudgetHandler {
	return &BudgetHandler{service: service}
}

// CreateBudget handles POST /budgets
func (h *BudgetHandler) CreateBudget(c *gin.Context) {
	var req dto.CreateBudgetRequest
	if !h.bind(c, &req) {
		return
	}

	b, err := h.service.CreateBudget(c.Request.Context(), settlement.CreateBudgetInput{
		ClinicID:  middleware.GetClinicID(c),
		PatientID: uuid.MustParse(req.PatientID),
		Date:      req.Date,
		Items:     req.ToLineItemInputs(),
		Notes:     req.Notes,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, dto.ToBudgetResponse(b))
}

// GetBudget handles GET /budgets/:id
func (h *BudgetHandler) GetBudget(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	b, err := h.service.GetBudget(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToBudgetResponse(b))
}

// ListPatientBudgets handles GET /patients/:patient_id/budgets
func (h *BudgetHandler) ListPatientBudgets(c *gin.Context) {
	patientID, ok := h.uuidParam(c, "patient_id")
	if !ok {
		return
	}
	list, err := h.service.ListPatientBudgets(c.Request.Context(), middleware.GetClinicID(c), patientID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToBudgetResponses(list))
}

// ApproveItems handles POST /budgets/:id/items/approve
func (h *BudgetHandler) ApproveItems(c *gin.Context) {
	h.toggleItems(c, h.service.ApproveItems)
}

// RevertItems handles POST /budgets/:id/items/revert
func (h *BudgetHandler) RevertItems(c *gin.Context) {
	h.toggleItems(c, h.service.RevertItems)
}

func (h *BudgetHandler) toggleItems(c *gin.Context, apply func(context.Context, settlement.ItemsInput) (*budget.Budget, error)) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.ItemIndicesRequest
	if !h.bind(c, &req) {
		return
	}

	b, err := apply(c.Request.Context(), settlement.ItemsInput{BudgetID: id, ItemIndices: req.ItemIndices})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.ToBudgetResponse(b))
}

// PreviewPayment handles POST /budgets/:id/payments/preview
func (h *BudgetHandler) PreviewPayment(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.PreviewPaymentRequest
	if !h.bind(c, &req) {
		return
	}

	preview, err := h.service.PreviewPayment(c.Request.Context(), settlement.PreviewInput{
		BudgetID:     id,
		ItemIndices:  req.ItemIndices,
		PaymentTerms: h.terms(c, req.PaymentTermsRequest),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, preview)
}

// PayItem handles POST /budgets/:id/items/:index/pay
func (h *BudgetHandler) PayItem(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	index, ok := h.indexParam(c)
	if !ok {
		return
	}
	var req dto.PayItemRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.service.PayItem(c.Request.Context(), settlement.PayItemInput{
		BudgetID:     id,
		ItemIndex:    index,
		PaymentTerms: h.terms(c, req.PaymentTermsRequest),
	})
	h.paymentResponse(c, res, err)
}

// PaySelectedItems handles POST /budgets/:id/items/pay
func (h *BudgetHandler) PaySelectedItems(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	var req dto.PaySelectedItemsRequest
	if !h.bind(c, &req) {
		return
	}

	res, err := h.service.PaySelectedItems(c.Request.Context(), settlement.PaySelectedItemsInput{
		BudgetID:     id,
		ItemIndices:  req.ItemIndices,
		ApproveFirst: req.ApproveFirst,
		PaymentTerms: h.terms(c, req.PaymentTermsRequest),
	})
	h.paymentResponse(c, res, err)
}

// RetryDispatch handles POST /budgets/:id/items/:index/dispatch
func (h *BudgetHandler) RetryDispatch(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	index, ok := h.indexParam(c)
	if !ok {
		return
	}

	res, err := h.service.RetryDispatch(c.Request.Context(), id, index)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, res)
}

// DispatchStatus handles GET /budgets/:id/items/:index/dispatch
func (h *BudgetHandler) DispatchStatus(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	index, ok := h.indexParam(c)
	if !ok {
		return
	}

	res, err := h.service.DispatchStatus(c.Request.Context(), id, index)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, res)
}

// ListTransactions handles GET /budgets/:id/transactions
func (h *BudgetHandler) ListTransactions(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	txs, err := h.service.ListTransactions(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if txs == nil {
		txs = []*payment.LedgerTransaction{}
	}
	h.Success(c, txs)
}

// ListOrders handles GET /budgets/:id/orders
func (h *BudgetHandler) ListOrders(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	orders, err := h.service.ListOrders(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, orders)
}

// terms converts the request terms. A request id in the body wins over the
// Idempotency-Key header.
func (h *BudgetHandler) terms(c *gin.Context, req dto.PaymentTermsRequest) settlement.PaymentTerms {
	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		requestID, _ = uuid.Parse(c.GetHeader(middleware.IdempotencyKeyHeader))
	}
	return settlement.PaymentTerms{
		RequestID:    requestID,
		Method:       req.PaymentMethod(),
		Installments: req.Installments,
		Brand:        req.Brand,
		Anticipate:   req.Anticipate,
		Payer:        payment.PayerInfo{Name: req.Payer.Name, Document: req.Payer.Document},
		Description:  req.Description,
	}
}

// paymentResponse answers 201 for a new payment and 200 for a replayed one
func (h *BudgetHandler) paymentResponse(c *gin.Context, res *settlement.PaymentResult, err error) {
	if err != nil {
		h.HandleError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, dto.NewSuccessResponse(res))
}
