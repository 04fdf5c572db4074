package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"courier/internal/types"
)

// ValidationError describes one rejected field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the notification rules:
//
//	notification_type      one of the supported channels
//	notification_priority  high, normal or low
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator. Field names in errors use the json tag.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "notification_type", func(fl validator.FieldLevel) bool {
		return types.NotificationType(fl.Field().String()).Valid()
	})
	mustRegister(v, "notification_priority", func(fl validator.FieldLevel) bool {
		return types.Priority(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// ValidateStruct returns nil or an AppError whose code is taken from the
// first failing field. Every failure is listed in details.validation_errors.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request could not be validated", err)
	}

	errs := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, toValidationError(fe))
	}
	first := errs[0]
	return types.NewAppErrorWithDetails(types.ErrorCode(first.Code), first.Message, err,
		map[string]any{
			"field":             first.Field,
			"validation_errors": errs,
		})
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationMissingField),
			Message: field + " is required",
		}
	case "notification_type":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidType),
			Message: fmt.Sprintf("%s must be one of email, push; got %q", field, fe.Value()),
		}
	case "notification_priority":
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidPriority),
			Message: fmt.Sprintf("%s must be one of high, normal, low; got %q", field, fe.Value()),
		}
	default:
		return ValidationError{
			Field:   field,
			Code:    string(types.ErrCodeValidationInvalidField),
			Message: fmt.Sprintf("%s failed %s validation", field, fe.Tag()),
		}
	}
}
