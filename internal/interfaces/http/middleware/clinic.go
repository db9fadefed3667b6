package middleware

import (
	"net/http"

	"github.com/clinic/backend/internal/domain/shared"
	"github.com/clinic/backend/internal/infrastructure/logger"
	"github.com/clinic/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ClinicIDHeader names the clinic a request acts for. Authentication happens
// upstream; the gateway sets this header after verifying the caller.
const ClinicIDHeader = "X-Clinic-ID"

// IdempotencyKeyHeader may carry a payment request id instead of the body
const IdempotencyKeyHeader = "Idempotency-Key"

// ClinicIDKey is the gin context key holding the parsed clinic id
const ClinicIDKey = "clinic_id"

// Clinic rejects requests without a valid clinic id and stores it on the
// gin and request contexts
func Clinic() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(ClinicIDHeader)
		clinicID, err := uuid.Parse(raw)
		if raw == "" || err != nil || clinicID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeClinicRequired,
				ClinicIDHeader+" header must be a clinic UUID",
				GetRequestID(c),
			))
			return
		}
		c.Set(ClinicIDKey, clinicID)
		ctx := shared.WithClinicID(c.Request.Context(), clinicID)
		c.Request = c.Request.WithContext(logger.WithClinicID(ctx, clinicID.String()))
		c.Next()
	}
}

// GetClinicID returns the clinic id set by Clinic, or uuid.Nil
func GetClinicID(c *gin.Context) uuid.UUID {
	if v, ok := c.Get(ClinicIDKey); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
