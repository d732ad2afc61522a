package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Validation errors.
var (
	// ErrValidationFailed is returned when struct validation fails.
	ErrValidationFailed = errors.New("validation failed")
	// ErrFieldRequired is returned when a required field is missing.
	ErrFieldRequired = errors.New("field is required")
	// ErrFieldMaxLength is returned when a field exceeds maximum length.
	ErrFieldMaxLength = errors.New("field exceeds maximum length")
	// ErrFieldMinLength is returned when a field is below minimum length.
	ErrFieldMinLength = errors.New("field below minimum length")
	// ErrFieldOneOf is returned when a field must be one of allowed values.
	ErrFieldOneOf = errors.New("field must be one of allowed values")
	// ErrFieldPositiveAmount is returned when a field must be a positive amount.
	ErrFieldPositiveAmount = errors.New("field must be a positive amount")
	// ErrBodyParseFailed is returned when request body parsing fails.
	ErrBodyParseFailed = errors.New("failed to parse request body")
	// ErrUnsupportedContentType is returned when the Content-Type is not application/json.
	ErrUnsupportedContentType = errors.New("Content-Type must be application/json")
)

// ErrValidatorInit is returned when custom validator registration fails during initialization.
var ErrValidatorInit = errors.New("validator initialization failed")

var (
	validate     *validator.Validate
	validateOnce sync.Once
	errValidate  error
)

// initValidators creates and configures the validator with custom validation
// rules. Field names in error messages follow the json tag so callers see the
// wire name, not the Go identifier.
func initValidators() (*validator.Validate, error) {
	vld := validator.New(validator.WithRequiredStructEnabled())

	vld.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}

		return name
	})

	// Note: no custom type func for decimal.Decimal because returning the same
	// type loops the validator. positive_decimal reads the field directly.
	if err := vld.RegisterValidation("positive_decimal", func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(decimal.Decimal)
		if !ok {
			return false
		}

		return value.IsPositive()
	}); err != nil {
		return nil, fmt.Errorf("%w: failed to register 'positive_decimal': %w", ErrValidatorInit, err)
	}

	return vld, nil
}

// GetValidator returns the singleton validator instance.
// Returns the validator and any initialization error that may have occurred.
func GetValidator() (*validator.Validate, error) {
	validateOnce.Do(func() {
		validate, errValidate = initValidators()
	})

	return validate, errValidate
}

// ValidateStruct validates a struct using the go-playground/validator tags.
// Returns nil if validation passes, or the first validation error.
func ValidateStruct(payload any) error {
	vld, initErr := GetValidator()
	if initErr != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, initErr)
	}

	if err := vld.Struct(payload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			return formatValidationError(validationErrors[0])
		}

		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	return nil
}

// validationErrorFormatters maps validation tags to their error formatting functions.
var validationErrorFormatters = map[string]func(field, param string) error{
	"required": func(field, _ string) error {
		return fmt.Errorf("%w: '%s'", ErrFieldRequired, field)
	},
	"max": func(field, param string) error {
		return fmt.Errorf("%w: '%s' must be at most %s", ErrFieldMaxLength, field, param)
	},
	"min": func(field, param string) error {
		return fmt.Errorf("%w: '%s' must be at least %s", ErrFieldMinLength, field, param)
	},
	"oneof": func(field, param string) error {
		return fmt.Errorf("%w: '%s' must be one of [%s]", ErrFieldOneOf, field, param)
	},
	"positive_decimal": func(field, _ string) error {
		return fmt.Errorf("%w: '%s'", ErrFieldPositiveAmount, field)
	},
}

// formatValidationError creates a caller-facing error message from the first
// validation failure.
func formatValidationError(fe validator.FieldError) error {
	if formatter, ok := validationErrorFormatters[fe.Tag()]; ok {
		return formatter(fe.Field(), fe.Param())
	}

	return fmt.Errorf("%w: '%s' failed '%s' check", ErrValidationFailed, fe.Field(), fe.Tag())
}

// ParseBodyAndValidate parses the request body into the given struct and
// validates it. Rejects non-JSON Content-Type headers up front so callers get
// a clear error instead of a partial parse.
func ParseBodyAndValidate(fiberCtx *fiber.Ctx, payload any) error {
	ct := fiberCtx.Get(fiber.HeaderContentType)
	if ct != "" && !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
		return ErrUnsupportedContentType
	}

	if err := fiberCtx.BodyParser(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrBodyParseFailed, err)
	}

	return ValidateStruct(payload)
}
