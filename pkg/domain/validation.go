package domain

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// NormalizeCallsign trims and upper-cases a unit callsign.
func NormalizeCallsign(callsign string) string {
	return strings.ToUpper(strings.TrimSpace(callsign))
}

// ValidateStruct runs tag validation on any entity or form payload and
// converts failures into ValidationErrors.
func ValidateStruct(v any) error {
	err := structValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		reason := ReasonInvalid
		if fe.Tag() == "required" {
			reason = ReasonMissing
		}
		out = append(out, &ValidationError{Field: fe.Field(), Reason: reason})
	}
	return out
}

// ValidateCAD checks required fields and enumerations of a CAD. Whitespace-only
// values count as missing.
func ValidateCAD(c CAD) error {
	trimmed := c
	trimmed.Type = strings.TrimSpace(c.Type)
	trimmed.Location = strings.TrimSpace(c.Location)
	trimmed.Description = strings.TrimSpace(c.Description)
	var errs ValidationErrors
	if err := ValidateStruct(trimmed); err != nil {
		if !errors.As(err, &errs) {
			return err
		}
	}
	if c.Grading != "" && !c.Grading.Valid() {
		errs = append(errs, &ValidationError{Field: "grading", Reason: ReasonInvalid, Detail: string(c.Grading)})
	}
	if c.Status != "" && !c.Status.Valid() {
		errs = append(errs, &ValidationError{Field: "status", Reason: ReasonInvalid, Detail: string(c.Status)})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateUnit checks required fields and the status enumeration of a unit.
func ValidateUnit(u Unit) error {
	trimmed := u
	trimmed.Callsign = NormalizeCallsign(u.Callsign)
	trimmed.Type = strings.TrimSpace(u.Type)
	trimmed.Crew = strings.TrimSpace(u.Crew)
	var errs ValidationErrors
	if err := ValidateStruct(trimmed); err != nil {
		if !errors.As(err, &errs) {
			return err
		}
	}
	if u.Status != "" && !u.Status.Valid() {
		errs = append(errs, &ValidationError{Field: "status", Reason: ReasonInvalid, Detail: string(u.Status)})
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateNewUnit additionally rejects a callsign already present in existing.
func ValidateNewUnit(u Unit, existing []Unit) error {
	if err := ValidateUnit(u); err != nil {
		return err
	}
	callsign := NormalizeCallsign(u.Callsign)
	for _, other := range existing {
		if NormalizeCallsign(other.Callsign) == callsign {
			return &ValidationError{Field: "callsign", Reason: ReasonDuplicate, Detail: callsign}
		}
	}
	return nil
}
