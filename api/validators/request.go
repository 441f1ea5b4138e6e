package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
	"github.com/go-playground/validator/v10"
)

// MaxBodyBytes bounds every decoded request body.
const MaxBodyBytes = 64 << 10

var (
	currencyRe   = regexp.MustCompile(`^[a-z]{3,10}$`)
	productRefRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name, _, _ := strings.Cut(f.Tag.Get("json"), ","); name != "" && name != "-" {
			return name
		}
		return f.Name
	})
	// currency: a lowercase ISO-style code as the gateway expects it.
	_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return currencyRe.MatchString(fl.Field().String())
	})
	// product_ref: a ledger id or slug, safe to embed in urls and file names.
	_ = v.RegisterValidation("product_ref", func(fl validator.FieldLevel) bool {
		return productRefRe.MatchString(fl.Field().String())
	})
	return v
}

// DecodeJSONBody reads at most MaxBodyBytes of JSON into dest and validates
// it. Unknown fields and trailing content are rejected; an empty body
// decodes to the zero value and is still validated.
func DecodeJSONBody(r *http.Request, dest any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return malformedBody(err)
	}
	if dec.More() {
		return malformedBody(errors.New("unexpected data after JSON object"))
	}
	return ValidateStruct(dest)
}

func malformedBody(err error) error {
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

// ValidateStruct runs the validate tags of v and reports one message per
// failing field, keyed by its json name.
func ValidateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "url":
		return "must be a valid url"
	case "currency":
		return "must be a 3-10 letter currency code"
	case "product_ref":
		return "must be a product id or slug"
	default:
		return "is invalid"
	}
}

// RequireQuery returns the trimmed value of key, rejecting empty or
// oversized values.
func RequireQuery(r *http.Request, key string, maxLen int) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	switch {
	case raw == "":
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "%s is required", key).
			WithDetails(map[string]any{"field": key})
	case maxLen > 0 && len(raw) > maxLen:
		return "", pkgerrors.Newf(pkgerrors.CodeValidation, "%s is too long", key).
			WithDetails(map[string]any{"field": key, "max": maxLen})
	}
	return raw, nil
}
