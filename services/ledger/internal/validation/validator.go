// Package validation registers the ledger's request tags on gin's validator engine and
// turns binding failures into field errors.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/apperr"
	"github.com/VictorAbrao/swap-fintech-core-sub000/services/ledger/internal/operation"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterGin installs the custom tags on gin's default validator. Safe to call repeatedly.
func RegisterGin() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = errors.New("gin validator engine is not go-playground/validator")
			return
		}
		registerErr = Register(v)
	})
	return registerErr
}

// Register adds the currency, decimal, positive, side, status and kind tags to v and
// reports fields by their json name.
func Register(v *validator.Validate) error {
	v.RegisterTagNameFunc(jsonName)
	tags := map[string]validator.Func{
		"currency": func(fl validator.FieldLevel) bool {
			return operation.Currency(fl.Field().String()).Valid()
		},
		"decimal": func(fl validator.FieldLevel) bool {
			_, err := ParseDecimal(fl.Field().String())
			return err == nil
		},
		"positive": func(fl validator.FieldLevel) bool {
			d, err := ParseDecimal(fl.Field().String())
			return err == nil && d.IsPositive()
		},
		"side": func(fl validator.FieldLevel) bool {
			_, err := operation.ParseSide(fl.Field().String())
			return err == nil
		},
		"status": func(fl validator.FieldLevel) bool {
			_, err := operation.ParseStatus(fl.Field().String())
			return err == nil
		},
		"kind": func(fl validator.FieldLevel) bool {
			_, err := operation.ParseKind(fl.Field().String())
			return err == nil
		},
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

func jsonName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// ParseDecimal parses a trimmed decimal string. Empty input is an error.
func ParseDecimal(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, errors.New("value is required")
	}
	return decimal.NewFromString(trimmed)
}

// FromBindError converts a ShouldBindJSON error into a validation error with one entry
// per failing field.
func FromBindError(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := &apperr.ValidationError{Fields: make([]apperr.FieldError, 0, len(verrs))}
		for _, fe := range verrs {
			out.Fields = append(out.Fields, apperr.FieldError{Field: fe.Field(), Message: message(fe)})
		}
		return out
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return apperr.Invalid(typeErr.Field, "has the wrong type")
	}
	return apperr.Invalid("body", "invalid payload")
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "currency":
		return "must be one of " + currencyList()
	case "decimal":
		return "must be a decimal"
	case "positive":
		return "must be a positive decimal"
	case "side":
		return "must be buy or sell"
	case "status":
		return "must be pending, executed, cancelled or failed"
	case "kind":
		return "unknown operation type"
	case "uuid", "uuid4":
		return "must be a uuid"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	}
	return "failed " + fe.Tag()
}

func currencyList() string {
	names := make([]string, 0, len(operation.Currencies))
	for _, c := range operation.Currencies {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}
