package config

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	stepIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)
)

// validatorInstance lazily builds the shared validator.Validate used across
// the config package, registering the custom tags spec.md §4.2 needs beyond
// the stock set.
func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("step_id", func(fl validator.FieldLevel) bool {
			return stepIDPattern.MatchString(fl.Field().String())
		})

		validateInst = v
	})

	return validateInst
}

// GetValidator exposes the shared validator instance to other packages
// (e.g. cmd/loomwork for standalone field-level checks).
func GetValidator() *validator.Validate {
	return validatorInstance()
}
