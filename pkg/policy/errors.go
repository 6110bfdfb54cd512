package policy

import (
	"net/http"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
)

// FieldError scopes a validation failure to one draft field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// FieldErrors is an ordered list of validation failures. The first entry is
// the one surfaced to the operator.
type FieldErrors []FieldError

func (e FieldErrors) Error() string {
	msgs := make([]string, len(e))
	for i, fe := range e {
		msgs[i] = fe.Error()
	}
	return strings.Join(msgs, "; ")
}

// First returns the first violated rule's message.
func (e FieldErrors) First() string {
	if len(e) == 0 {
		return ""
	}
	return e[0].Message
}

func (e FieldErrors) ToHTTPError() *httperror.HTTPError {
	err := httperror.NewHTTPError(http.StatusBadRequest, e.Error())
	for _, fe := range e {
		err = err.AddMetaValue(fe.Field, fe.Message)
	}
	return err
}

// IsFieldErrors reports whether err carries draft validation failures.
func IsFieldErrors(err error) bool {
	_, ok := err.(FieldErrors)
	return ok
}
