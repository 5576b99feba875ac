package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/libinventory/internal/core"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Validator wraps go-playground/validator and reports field errors by
// their JSON names.
type Validator struct {
	v *validator.Validate
}

// NewValidator creates a validator that names fields by their json tag.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return &Validator{v: v}
}

// RequestError is a request body that failed validation.
type RequestError struct {
	Fields map[string]string
}

func (e *RequestError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Validate checks s against its validate tags.
func (v *Validator) Validate(s any) error {
	err := v.v.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = friendlyMessage(fe)
	}
	return badRequest(&RequestError{Fields: fields})
}

func friendlyMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return "is required when " + fe.Param() + " is missing"
	case "required_with":
		return "is required with " + fe.Param()
	case "max":
		return fmt.Sprintf("must not exceed %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "uuid":
		return "must be a valid UUID"
	default:
		return "is invalid"
	}
}

// badRequest wraps err so that it maps to REQ001.
func badRequest(err error) error {
	return &core.UserError{
		Technical: err,
		User: core.UserMessage{
			Message: "The request is invalid",
			Action:  err.Error(),
			Code:    "REQ001",
		},
	}
}

// fieldErrors extracts per-field messages from a validation failure.
func fieldErrors(err error) map[string]string {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Fields
	}
	return nil
}

// decodeJSON reads a JSON body into dst and validates it.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return badRequest(errors.New("request body is empty"))
		}
		return badRequest(fmt.Errorf("malformed JSON: %v", err))
	}
	return s.validate.Validate(dst)
}
