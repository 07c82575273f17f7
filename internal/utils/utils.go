package utils

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError is the JSON shape of one failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func ValidationErr(err validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(err))
	for _, fe := range err {
		out = append(out, FieldError{
			Field:   fieldName(fe),
			Rule:    fe.ActualTag(),
			Message: Message(fe),
		})
	}
	return out
}

// fieldName turns a namespace like "startReq.UserIDs[0]" into "UserIDs[0]".
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func Message(fe validator.FieldError) string {
	switch fe.ActualTag() {
	case "required":
		return "This field is required."
	case "url":
		return "This field must be a valid URL."
	case "email":
		return "This field must be a valid email address."
	case "min":
		return "This field is below the minimum of " + fe.Param() + "."
	case "max":
		return "This field exceeds the maximum of " + fe.Param() + "."
	case "oneof":
		return "This field must be one of: " + fe.Param() + "."
	case "required_without":
		return "This field is required when " + fe.Param() + " is not set."
	default:
		return "This field is invalid (" + fe.ActualTag() + ")."
	}
}
