package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/domain/budget"
	"github.com/clinic/backend/internal/domain/shared"
	"github.com/google/uuid"
)

// DefaultClaimTTL is how long a dispatch claim is held when none is configured
const DefaultClaimTTL = 24 * time.Hour

// OutcomeStatus describes what the gate did for one order kind
type OutcomeStatus string

const (
	OutcomeCreated           OutcomeStatus = "created"
	OutcomeAlreadyDispatched OutcomeStatus = "already_dispatched"
	OutcomeInProgress        OutcomeStatus = "in_progress" // another caller holds the claim
	OutcomeFailed            OutcomeStatus = "failed"
	OutcomePending           OutcomeStatus = "pending" // not created and nobody is creating it
)

// Outcome is the result of the gate for one order kind of one item
type Outcome struct {
	Kind       OrderKind     `json:"kind"`
	Status     OutcomeStatus `json:"status"`
	ExternalID string        `json:"external_id,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// DispatchResult collects the outcomes for one paid line item.
// Items needing no downstream order have no outcomes.
type DispatchResult struct {
	BudgetID   uuid.UUID `json:"budget_id"`
	LineItemID uuid.UUID `json:"line_item_id"`
	Outcomes   []Outcome `json:"outcomes"`
}

// Plan is what a paid item needs downstream
type Plan struct {
	LabOrder  *LabOrderSpec
	OrthoCase *OrthoCaseSpec
}

// IsEmpty returns true if the item needs no downstream order
func (p Plan) IsEmpty() bool {
	return p.LabOrder == nil && p.OrthoCase == nil
}

// PlanFor classifies the item's treatments. A lab order is needed when at least
// one lab-prosthetic treatment is flagged for lab fulfillment; an ortho case when
// any treatment is orthodontic.
func PlanFor(b *budget.Budget, li *budget.LineItem) Plan {
	var (
		plan                 Plan
		labTreatments        []string
		orthoTreatments      []string
		labPrice, orthoPrice int64
		labName              string
	)
	for _, t := range li.Treatments {
		switch ClassifyTreatment(t) {
		case TreatmentKindLabProsthetic:
			if !li.LabFulfillment[t] {
				continue
			}
			labTreatments = append(labTreatments, t)
			labPrice += li.Values[t]
			if labName == "" {
				labName = li.LabNames[t]
			}
		case TreatmentKindOrthodontic:
			orthoTreatments = append(orthoTreatments, t)
			orthoPrice += li.Values[t]
		}
	}

	paidAt := time.Now()
	if li.Payment != nil {
		paidAt = li.Payment.PaidAt
	}

	if len(labTreatments) > 0 {
		materials := make(map[string]string, len(labTreatments))
		for _, t := range labTreatments {
			if m, ok := li.Materials[t]; ok {
				materials[t] = m
			}
		}
		plan.LabOrder = &LabOrderSpec{
			ClinicID:   b.ClinicID,
			BudgetID:   b.ID,
			LineItemID: li.ID,
			PatientID:  b.PatientID,
			Target:     li.Target,
			Treatments: labTreatments,
			Faces:      li.Faces,
			Materials:  materials,
			LabName:    labName,
			Price:      labPrice,
			PaidAt:     paidAt,
		}
	}
	if len(orthoTreatments) > 0 {
		plan.OrthoCase = &OrthoCaseSpec{
			ClinicID:   b.ClinicID,
			BudgetID:   b.ID,
			LineItemID: li.ID,
			PatientID:  b.PatientID,
			Target:     li.Target,
			Treatments: orthoTreatments,
			Price:      orthoPrice,
			StartDate:  paidAt,
		}
	}
	return plan
}

// ClaimStore holds short-lived claims on dispatch keys. The first caller to
// claim a key may create the order it guards; the claim lapses after its TTL
// or when released.
type ClaimStore interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Held(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Gate creates downstream orders for paid line items at most once per
// (budget, line item, kind). A durable registry record is checked first; a
// short-lived claim in the ClaimStore then keeps concurrent callers from
// racing between the check and the record.
type Gate struct {
	dispatcher OrderDispatcher
	registry   OrderRegistry
	claims     ClaimStore
	claimTTL   time.Duration
}

// NewGate creates a new Gate. claims may be nil, in which case only the registry
// guards against duplicates.
func NewGate(dispatcher OrderDispatcher, registry OrderRegistry, claims ClaimStore, claimTTL time.Duration) *Gate {
	if claimTTL <= 0 {
		claimTTL = DefaultClaimTTL
	}
	return &Gate{
		dispatcher: dispatcher,
		registry:   registry,
		claims:     claims,
		claimTTL:   claimTTL,
	}
}

// ClaimKey returns the key guarding one order kind of one item
func ClaimKey(budgetID, lineItemID uuid.UUID, kind OrderKind) string {
	return fmt.Sprintf("order-dispatch:%s:%s:%s", budgetID, lineItemID, kind)
}

// Dispatch runs the gate for the paid item at index. Each order kind is handled
// independently; a failure on one does not stop the other. The returned error
// joins all per-kind failures.
func (g *Gate) Dispatch(ctx context.Context, b *budget.Budget, index int) (DispatchResult, error) {
	li, err := b.Item(index)
	if err != nil {
		return DispatchResult{}, err
	}
	if !li.IsPaid() {
		return DispatchResult{}, shared.NewDomainError(shared.CodeInvalidTransition,
			fmt.Sprintf("line item %s is not paid", li.ID))
	}

	result := DispatchResult{BudgetID: b.ID, LineItemID: li.ID}
	plan := PlanFor(b, li)
	var errs []error

	if plan.LabOrder != nil {
		spec := *plan.LabOrder
		outcome, err := g.dispatchOnce(ctx, b, li, OrderKindLabOrder, func(ctx context.Context) (string, error) {
			return g.dispatcher.CreateLabOrder(ctx, spec)
		})
		result.Outcomes = append(result.Outcomes, outcome)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if plan.OrthoCase != nil {
		spec := *plan.OrthoCase
		outcome, err := g.dispatchOnce(ctx, b, li, OrderKindOrthoCase, func(ctx context.Context) (string, error) {
			return g.dispatcher.CreateOrthoCase(ctx, spec)
		})
		result.Outcomes = append(result.Outcomes, outcome)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return result, errors.Join(errs...)
}

// Status reports, without creating anything, where each order the paid item at
// index needs stands. A kind with no record is in_progress while a claim on it
// is held and pending otherwise.
func (g *Gate) Status(ctx context.Context, b *budget.Budget, index int) (DispatchResult, error) {
	li, err := b.Item(index)
	if err != nil {
		return DispatchResult{}, err
	}
	if !li.IsPaid() {
		return DispatchResult{}, shared.NewDomainError(shared.CodeInvalidTransition,
			fmt.Sprintf("line item %s is not paid", li.ID))
	}

	result := DispatchResult{BudgetID: b.ID, LineItemID: li.ID}
	plan := PlanFor(b, li)
	var kinds []OrderKind
	if plan.LabOrder != nil {
		kinds = append(kinds, OrderKindLabOrder)
	}
	if plan.OrthoCase != nil {
		kinds = append(kinds, OrderKindOrthoCase)
	}

	for _, kind := range kinds {
		outcome := Outcome{Kind: kind, Status: OutcomePending}
		exists, err := g.registry.Exists(ctx, b.ID, li.ID, kind)
		if err != nil {
			return result, shared.WrapDomainError(shared.CodePersistenceFailure, "failed to check order registry", err)
		}
		switch {
		case exists:
			outcome.Status = OutcomeAlreadyDispatched
		case g.claims != nil:
			held, err := g.claims.Held(ctx, ClaimKey(b.ID, li.ID, kind))
			if err != nil {
				return result, shared.WrapDomainError(shared.CodePersistenceFailure, "failed to read dispatch claim", err)
			}
			if held {
				outcome.Status = OutcomeInProgress
			}
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (g *Gate) dispatchOnce(
	ctx context.Context,
	b *budget.Budget,
	li *budget.LineItem,
	kind OrderKind,
	create func(context.Context) (string, error),
) (Outcome, error) {
	outcome := Outcome{Kind: kind}
	fail := func(err error) (Outcome, error) {
		outcome.Status = OutcomeFailed
		outcome.Error = err.Error()
		return outcome, err
	}

	exists, err := g.registry.Exists(ctx, b.ID, li.ID, kind)
	if err != nil {
		return fail(shared.WrapDomainError(shared.CodePersistenceFailure, "failed to check order registry", err))
	}
	if exists {
		outcome.Status = OutcomeAlreadyDispatched
		return outcome, nil
	}

	key := ClaimKey(b.ID, li.ID, kind)
	if g.claims != nil {
		claimed, err := g.claims.Claim(ctx, key, g.claimTTL)
		if err != nil {
			return fail(shared.WrapDomainError(shared.CodePersistenceFailure, "failed to claim order dispatch", err))
		}
		if !claimed {
			outcome.Status = OutcomeInProgress
			return outcome, nil
		}
	}

	externalID, err := create(ctx)
	if err != nil {
		if g.claims != nil {
			// release so a later retry can try again
			_ = g.claims.Release(ctx, key)
		}
		return fail(fmt.Errorf("create %s for line item %s: %w", kind, li.ID, err))
	}

	// The order exists from here on. The claim is kept even if recording fails so
	// that retries within the TTL do not create a second one.
	err = g.registry.Record(ctx, &OrderRecord{
		ID:         uuid.New(),
		ClinicID:   b.ClinicID,
		BudgetID:   b.ID,
		LineItemID: li.ID,
		Kind:       kind,
		ExternalID: externalID,
		CreatedAt:  time.Now(),
	})
	outcome.ExternalID = externalID
	if err != nil && !errors.Is(err, shared.ErrConcurrencyConflict) {
		return fail(shared.WrapDomainError(shared.CodePersistenceFailure,
			fmt.Sprintf("%s %s created but not recorded", kind, externalID), err))
	}
	outcome.Status = OutcomeCreated
	return outcome, nil
}
