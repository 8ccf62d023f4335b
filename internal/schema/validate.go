package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// FieldError describes one invalid field.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError is returned when a record payload fails validation.
type ValidationError struct {
	Kind   Kind
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s (%s)", f.Field, f.Rule))
	}
	return fmt.Sprintf("invalid %s: %s", e.Kind, strings.Join(parts, ", "))
}

func validateEntity(e Entity) error {
	verr := &ValidationError{Kind: e.Kind()}

	err := validatorInstance().Struct(e)
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			verr.Fields = append(verr.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
		}
	} else if err != nil {
		return fmt.Errorf("validate %s: %w", e.Kind(), err)
	}

	if t, ok := e.(*Test); ok {
		if len(t.Results) > 0 && !json.Valid(t.Results) {
			verr.Fields = append(verr.Fields, FieldError{Field: "results", Rule: "json"})
		}
		if len(t.NormalRange) > 0 && !json.Valid(t.NormalRange) {
			verr.Fields = append(verr.Fields, FieldError{Field: "normal_range", Rule: "json"})
		}
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}
