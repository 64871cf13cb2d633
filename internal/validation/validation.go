package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"ms-roster/internal/apperr"
	"ms-roster/internal/models"
	"net/http"
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a validator that reports JSON field names and carries the roster's struct-level rules.
func New() *validatorv10.Validate {
	v := validatorv10.New()
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
	v.RegisterStructValidation(manualBookingStructValidation, models.ManualBookingInput{})
	return v
}

// manualBookingStructValidation rejects names made only of whitespace, which "required" lets through.
func manualBookingStructValidation(sl validatorv10.StructLevel) {
	in := sl.Current().Interface().(models.ManualBookingInput)
	if in.FirstName != "" && strings.TrimSpace(in.FirstName) == "" {
		sl.ReportError(in.FirstName, "firstName", "FirstName", "required", "")
	}
	if in.LastName != "" && strings.TrimSpace(in.LastName) == "" {
		sl.ReportError(in.LastName, "lastName", "LastName", "required", "")
	}
}

// Struct validates s and converts failures into an *apperr.ValidationError keyed by JSON field name.
func Struct(v *validatorv10.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	return apperr.NewValidation("validation failed", validationErrorsToMap(ve))
}

// DecodeAndValidate decodes a JSON body into out and validates it.
func DecodeAndValidate(r *http.Request, out interface{}, v *validatorv10.Validate) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.NewValidation("request body is empty", nil)
		}
		return apperr.NewValidation(fmt.Sprintf("invalid request body: %v", err), nil)
	}
	return Struct(v, out)
}

func validationErrorsToMap(ve validatorv10.ValidationErrors) map[string]string {
	out := make(map[string]string, len(ve))
	for _, fe := range ve {
		out[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
