package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"unicode"

	"github.com/clinic/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// SetupValidator configures gin's validator for the API types: errors name
// fields by their JSON (or query) tag, and decimal.Decimal rates compare as
// numbers so gte/lte bounds apply to them.
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(tagName)
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
}

func tagName(fld reflect.StructField) string {
	for _, key := range []string{"json", "form"} {
		name, _, _ := strings.Cut(fld.Tag.Get(key), ",")
		switch name {
		case "-":
			return ""
		case "":
			continue
		default:
			return name
		}
	}
	return ""
}

func decimalValue(v reflect.Value) any {
	d, ok := v.Interface().(decimal.Decimal)
	if !ok {
		return nil
	}
	return d.InexactFloat64()
}

// HandleValidationError answers a failed bind: 413 when the body hit the size
// limit, 400 with per-field details for validation failures, plain 400 for
// anything unparseable.
func HandleValidationError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		abortTooLarge(c)
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, FormatValidationErrors(err, GetRequestID(c)))
}

// FormatValidationErrors builds the 400 body for a binding error
func FormatValidationErrors(err error, requestID string) dto.Response {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return dto.NewErrorResponseWithRequestID(dto.ErrCodeBadRequest, "Malformed request body", requestID)
	}
	details := make([]dto.ValidationDetail, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		details = append(details, dto.ValidationDetail{Field: fieldPath(fe), Message: describe(fe)})
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// fieldPath renders the JSON path of the field, items[0].target. The root
// struct and embedded structs appear under their Go names and are dropped.
func fieldPath(fe validator.FieldError) string {
	var kept []string
	for _, p := range strings.Split(fe.Namespace(), ".")[1:] {
		if p == "" || unicode.IsUpper(rune(p[0])) {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return fe.Field()
	}
	return strings.Join(kept, ".")
}

var messages = map[string]func(fe validator.FieldError) string{
	"required": func(validator.FieldError) string { return "This field is required" },
	"uuid":     func(validator.FieldError) string { return "Invalid UUID format" },
	"oneof":    func(fe validator.FieldError) string { return "Must be one of: " + fe.Param() },
	"gte":      func(fe validator.FieldError) string { return "Must be greater than or equal to " + fe.Param() },
	"lte":      func(fe validator.FieldError) string { return "Must be less than or equal to " + fe.Param() },
	"min":      func(fe validator.FieldError) string { return "Must be at least " + fe.Param() + unit(fe, "characters", "entries") },
	"max":      func(fe validator.FieldError) string { return "Must be at most " + fe.Param() + unit(fe, "characters", "entries") },
}

func describe(fe validator.FieldError) string {
	if msg, ok := messages[fe.Tag()]; ok {
		return msg(fe)
	}
	return "Invalid value"
}

// unit names what a length bound counts, or nothing for numbers
func unit(fe validator.FieldError, chars, entries string) string {
	switch fe.Kind() {
	case reflect.String:
		return " " + chars
	case reflect.Slice, reflect.Map:
		return " " + entries
	}
	return ""
}
