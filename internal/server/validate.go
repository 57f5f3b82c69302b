package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/campuskit/trustguard"
	"github.com/campuskit/trustguard/middleware"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// fieldError is one failed rule on a request body field.
type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

type invalidBody struct {
	fields []fieldError
}

func (e *invalidBody) Error() string { return "invalid request body" }

func (e *invalidBody) Unwrap() error { return trustguard.ErrInvalidRequest }

// decodeBody reads a JSON body into v and checks its validate tags.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return trustguard.ErrInvalidRequest
	}
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return trustguard.ErrInvalidRequest
	}
	out := &invalidBody{fields: make([]fieldError, 0, len(ve))}
	for _, fe := range ve {
		out.fields = append(out.fields, fieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return out
}

// writeRequestError writes err, listing failed fields for body validation errors.
func writeRequestError(w http.ResponseWriter, err error) {
	var ib *invalidBody
	if !errors.As(err, &ib) {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusBadRequest, map[string]any{
		"error":   trustguard.ErrorCode(err),
		"message": trustguard.PublicMessage(err),
		"fields":  ib.fields,
	})
}
