package downloads

import (
	"fmt"

	pkgerrors "github.com/angelmondragon/storefront-autopilot/pkg/errors"
)

// Kind classifies why a download token was refused.
type Kind string

const (
	KindExpired          Kind = "EXPIRED"
	KindInvalidSignature Kind = "INVALID_SIGNATURE"
	KindOrderNotPaid     Kind = "ORDER_NOT_PAID"
	KindOrderNotFound    Kind = "ORDER_NOT_FOUND"
)

var codeByKind = map[Kind]pkgerrors.Code{
	KindExpired:          pkgerrors.CodeTokenExpired,
	KindInvalidSignature: pkgerrors.CodeTokenInvalid,
	KindOrderNotPaid:     pkgerrors.CodeOrderNotPaid,
	KindOrderNotFound:    pkgerrors.CodeNotFound,
}

// TokenError is the typed failure of Issue and Validate. It unwraps to a
// pkg/errors value so the HTTP layer renders it without extra mapping.
type TokenError struct {
	Kind    Kind
	OrderID string
	cause   error
}

func newTokenError(kind Kind, orderID string, cause error) *TokenError {
	return &TokenError{Kind: kind, OrderID: orderID, cause: cause}
}

func (e *TokenError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("download token %s: %v", e.Kind, e.cause)
	}
	return "download token " + string(e.Kind)
}

// Code returns the API error code for the failure kind.
func (e *TokenError) Code() pkgerrors.Code {
	if code, ok := codeByKind[e.Kind]; ok {
		return code
	}
	return pkgerrors.CodeTokenInvalid
}

func (e *TokenError) Unwrap() error {
	return pkgerrors.Wrap(e.Code(), e.cause, pkgerrors.MetadataFor(e.Code()).PublicMessage)
}
