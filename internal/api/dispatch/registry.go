// Package dispatch maps tagged requests from chat and HTTP front ends to
// ledger operations. The mapping lives here so the core services never see
// request kinds.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	domainerrors "github.com/helgykoin/hkn_ledger/internal/domain/errors"
)

// Kind names one request variant
type Kind string

// Request is the tagged envelope: {"kind": "...", ...payload fields}.
type Request struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the whole object as the payload so variant fields can
// sit next to "kind".
func (r *Request) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	r.Kind = head.Kind
	r.Payload = append(r.Payload[:0], data...)
	return nil
}

// Handler executes one request kind on behalf of actorID.
type Handler func(ctx context.Context, actorID int64, payload json.RawMessage) (any, error)

// Registry holds the handler of each request kind
type Registry struct {
	handlers map[Kind]Handler
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register binds kind to h. Registering a kind twice panics.
func (r *Registry) Register(kind Kind, h Handler) {
	if _, dup := r.handlers[kind]; dup {
		panic(fmt.Sprintf("dispatch: kind %q registered twice", kind))
	}
	r.handlers[kind] = h
}

// Kinds lists the registered kinds in order
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch routes req to the handler registered for its kind.
func (r *Registry) Dispatch(ctx context.Context, actorID int64, req Request) (any, error) {
	h, ok := r.handlers[req.Kind]
	if !ok {
		return nil, domainerrors.ValidationError("kind", fmt.Sprintf("unknown request kind %q", req.Kind))
	}
	return h(ctx, actorID, req.Payload)
}

var validate = validator.New()

// Typed adapts fn to a Handler that decodes and validates payload as P.
// An empty payload decodes to P's zero value.
func Typed[P any](fn func(ctx context.Context, actorID int64, p P) (any, error)) Handler {
	return func(ctx context.Context, actorID int64, payload json.RawMessage) (any, error) {
		var p P
		if len(bytes.TrimSpace(payload)) > 0 {
			if err := checkAmounts(payload); err != nil {
				return nil, err
			}
			if err := json.Unmarshal(payload, &p); err != nil {
				return nil, domainerrors.ValidationError("payload", "malformed request: "+err.Error())
			}
		}
		if err := validate.Struct(p); err != nil {
			if _, ok := err.(*validator.InvalidValidationError); !ok {
				return nil, domainerrors.ValidationError("payload", err.Error())
			}
		}
		return fn(ctx, actorID, p)
	}
}

// amountFields are the payload fields holding token quantities.
var amountFields = []string{"amount", "price"}

// checkAmounts reports an amount field that is not a decimal number as
// InvalidAmount rather than a generic malformed payload.
func checkAmounts(payload json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil
	}
	for _, name := range amountFields {
		raw, ok := fields[name]
		if !ok {
			continue
		}
		var d decimal.Decimal
		if err := d.UnmarshalJSON(raw); err != nil {
			return domainerrors.InvalidAmountError(name, "not a decimal number")
		}
	}
	return nil
}
