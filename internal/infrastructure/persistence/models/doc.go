// Package models contains GORM persistence models that map to database tables.
// They are kept apart from the domain entities so the domain layer stays free of
// ORM concerns; each model has FromDomain/ToDomain mappers.
//
//   - base.go: BaseModel and AggregateModel
//   - budget.go: budgets with their line items as a JSONB document
//   - ledger.go: append-only ledger transactions
//   - fee.go: card fee rows and clinic tax rates
//   - fulfillment.go: records of dispatched downstream orders
package models
