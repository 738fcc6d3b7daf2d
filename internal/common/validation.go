package common

import (
	"encoding/json"
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"
)

// DecodeJSON reads the request body into dst and validates it when v is set.
// On failure it writes the error response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return false
	}
	if v == nil {
		return true
	}
	if err := v.Struct(dst); err != nil {
		JSONError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid payload", ValidationDetails(err))
		return false
	}
	return true
}

// ValidationDetails maps failing fields to the rule they broke.
func ValidationDetails(err error) map[string]string {
	details := map[string]string{}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			details[fe.Field()] = fe.Tag()
		}
	}
	return details
}
