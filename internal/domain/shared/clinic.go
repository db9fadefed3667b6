package shared

import (
	"context"

	"github.com/google/uuid"
)

type clinicKey struct{}

// WithClinicID returns a context acting for one clinic. Repositories restrict
// reads to that clinic's rows.
func WithClinicID(ctx context.Context, clinicID uuid.UUID) context.Context {
	return context.WithValue(ctx, clinicKey{}, clinicID)
}

// ClinicIDFrom returns the clinic a context acts for. Contexts of background
// work carry none.
func ClinicIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(clinicKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
