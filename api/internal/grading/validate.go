package grading

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json paths (rubric_scores.final) instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("mistake_type", func(fl validator.FieldLevel) bool {
		_, ok := mistakeTypes[MistakeType(fl.Field().String())]
		return ok
	})
	return v
}

// Validate is the strict pass every normalized candidate must clear.
func Validate(r *Result) error {
	if r == nil {
		return Errorf(KindSchemaViolation, "schema_validation_failed: empty result")
	}
	err := validate.Struct(r)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		path := strings.TrimPrefix(fe.Namespace(), "Result.")
		return Errorf(KindSchemaViolation, "schema_validation_failed:%s failed %q", path, fe.Tag())
	}
	return Wrap(KindSchemaViolation, err, "schema_validation_failed")
}
