package event

import (
	"context"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// AuditLogHandler writes one structured log entry per budget event. It
// subscribes to every event type.
type AuditLogHandler struct {
	logger *zap.Logger
}

func NewAuditLogHandler(l *zap.Logger) *AuditLogHandler {
	return &AuditLogHandler{logger: l.Named("audit")}
}

func (h *AuditLogHandler) EventTypes() []string { return nil }

func (h *AuditLogHandler) Handle(ctx context.Context, ev shared.DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_type", ev.EventType()),
		zap.String("event_id", ev.EventID().String()),
		zap.String("aggregate_type", ev.AggregateType()),
		zap.String("aggregate_id", ev.AggregateID().String()),
		zap.String("clinic_id", ev.ClinicID().String()),
		zap.Time("occurred_at", ev.OccurredAt()),
	}

	switch e := ev.(type) {
	case *budget.BudgetCreatedEvent:
		fields = append(fields,
			zap.String("patient_id", e.PatientID.String()),
			zap.Int64("value", e.Value),
			zap.Int("item_count", e.ItemCount),
		)
	case *budget.BudgetItemsApprovedEvent:
		fields = append(fields, zap.Int("items", len(e.LineItemIDs)), zap.String("status", e.Status.String()))
	case *budget.BudgetItemsRevertedEvent:
		fields = append(fields, zap.Int("items", len(e.LineItemIDs)), zap.String("status", e.Status.String()))
	case *budget.BudgetItemPaidEvent:
		fields = append(fields,
			zap.String("line_item_id", e.LineItemID.String()),
			zap.String("request_id", e.RequestID.String()),
			zap.String("method", e.Method.String()),
			zap.Int("installments", e.Installments),
			zap.Int64("gross", e.Breakdown.GrossAmount),
			zap.Int64("net", e.Breakdown.NetAmount),
			zap.String("status", e.Status.String()),
		)
	}

	logger.Enrich(ctx, h.logger).Info("Budget event", fields...)
	return nil
}

var _ shared.EventHandler = (*AuditLogHandler)(nil)
