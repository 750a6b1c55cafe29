package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validationMessage flattens a validator error into one human-readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		f := verrs[0]
		if f.Param() != "" {
			return fmt.Sprintf("field %s failed validation (%s=%s)", f.Field(), f.Tag(), f.Param())
		}
		return fmt.Sprintf("field %s failed validation (%s)", f.Field(), f.Tag())
	}
	return "invalid request body"
}
