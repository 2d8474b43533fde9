package common

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"unicode"

	validator "github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// FieldError describes a single rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with decimal-aware range checks.
type Validator struct {
	v *validator.Validate
}

// NewValidator builds a validator that reports JSON field names and
// checks decimal.Decimal bounds with the dgte and dlte tags.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.String()
		}
		return nil
	}, decimal.Decimal{})
	_ = v.RegisterValidation("dgte", decimalBound(func(c int) bool { return c >= 0 }))
	_ = v.RegisterValidation("dlte", decimalBound(func(c int) bool { return c <= 0 }))
	return &Validator{v: v}
}

// decimalBound compares a decimal field, seen as its string form, against
// the tag parameter with exact decimal arithmetic.
func decimalBound(ok func(cmp int) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.String {
			return false
		}
		val, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		bound, err := decimal.NewFromString(fl.Param())
		if err != nil {
			return false
		}
		return ok(val.Cmp(bound))
	}
}

// ruleName reports decimal bounds under their generic names.
func ruleName(tag string) string {
	switch tag {
	case "dgte":
		return "gte"
	case "dlte":
		return "lte"
	}
	return tag
}

// Struct validates s and returns an *AppError listing every failed field.
func (val *Validator) Struct(s any) error {
	if val == nil || val.v == nil {
		return nil
	}
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{
			Field:   fieldPath(fe.Namespace()),
			Rule:    ruleName(fe.Tag()),
			Message: describe(fe),
		})
	}
	return ValidationFailed(fields[0].Field+" "+fields[0].Message, fields)
}

// ValidationFailed builds the canonical 422 error.
func ValidationFailed(message string, details any) *AppError {
	appErr := NewAppError(CodeValidationFailed, message, http.StatusUnprocessableEntity, nil)
	appErr.Details = details
	return appErr
}

// fieldPath drops the root type and embedded struct names from a validator
// namespace, leaving the JSON path, e.g. "lineItems[0].unitPrice".
func fieldPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	kept := parts[:0]
	for _, part := range parts {
		if part == "" || unicode.IsUpper(rune(part[0])) {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return namespace
	}
	return strings.Join(kept, ".")
}

func describe(fe validator.FieldError) string {
	switch ruleName(fe.Tag()) {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return "is invalid"
	}
}
