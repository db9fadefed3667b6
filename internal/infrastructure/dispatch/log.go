package dispatch

import (
	"context"

	"github.com/clinic/backend/internal/domain/fulfillment"
	"go.uber.org/zap"
)

// LogOrderDispatcher only logs order requests. Used in development when no
// broker is configured.
type LogOrderDispatcher struct {
	logger *zap.Logger
}

func NewLogOrderDispatcher(logger *zap.Logger) *LogOrderDispatcher {
	return &LogOrderDispatcher{logger: logger}
}

func (d *LogOrderDispatcher) CreateLabOrder(ctx context.Context, spec fulfillment.LabOrderSpec) (string, error) {
	id := ExternalID(spec.BudgetID, spec.LineItemID, fulfillment.OrderKindLabOrder)
	d.logger.Info("Lab order requested",
		zap.String("external_id", id),
		zap.String("budget_id", spec.BudgetID.String()),
		zap.String("line_item_id", spec.LineItemID.String()),
		zap.Strings("treatments", spec.Treatments),
		zap.String("lab_name", spec.LabName),
		zap.Int64("price", spec.Price),
	)
	return id, nil
}

func (d *LogOrderDispatcher) CreateOrthoCase(ctx context.Context, spec fulfillment.OrthoCaseSpec) (string, error) {
	id := ExternalID(spec.BudgetID, spec.LineItemID, fulfillment.OrderKindOrthoCase)
	d.logger.Info("Ortho case requested",
		zap.String("external_id", id),
		zap.String("budget_id", spec.BudgetID.String()),
		zap.String("line_item_id", spec.LineItemID.String()),
		zap.Strings("treatments", spec.Treatments),
		zap.Int64("price", spec.Price),
	)
	return id, nil
}
