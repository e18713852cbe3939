// Package schema validates order and action payloads against embedded CUE
// definitions before they are enqueued.
//
// The replay engine trusts whatever is queued, so this is the one place a
// malformed payload from the CLI or shell is rejected.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/tablesync/internal/model"
)

//go:embed tablesync.cue
var source []byte

// Validation error codes.
const (
	ErrMalformedJSON   = "E201" // payload is not JSON
	ErrUnknownKind     = "E202" // action kind has no definition
	ErrSchemaViolation = "E203" // payload does not satisfy its definition
)

// ValidationError is one reason a payload was rejected.
type ValidationError struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Errors is the full list of violations for one payload.
type Errors []ValidationError

// Error implements the error interface.
func (es Errors) Error() string {
	msgs := make([]string, len(es))
	for i, e := range es {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Definition returns the CUE definition that governs kind.
func Definition(kind model.ActionKind) (string, bool) {
	switch kind {
	case model.KindCreateMenuItem:
		return "#MenuItem", true
	case model.KindCreateCategory:
		return "#Category", true
	case model.KindCreateTable:
		return "#Table", true
	case model.KindUpdateMenuItem, model.KindUpdateCategory, model.KindUpdateTable:
		return "#Patch", true
	case model.KindDeleteMenuItem, model.KindDeleteCategory, model.KindDeleteTable:
		return "#Delete", true
	case model.KindUpdateOrderStatus:
		return "#StatusChange", true
	}
	return "", false
}

// Validator checks payloads against the compiled definitions.
//
// Thread-safety: a cue.Context is not safe for concurrent use; callers
// share a Validator only from one goroutine.
type Validator struct {
	ctx  *cue.Context
	root cue.Value
}

// New compiles the embedded definitions.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	root := ctx.CompileBytes(source, cue.Filename("tablesync.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{ctx: ctx, root: root}, nil
}

// Order validates an order payload and decodes it, with CUE defaults applied.
func (v *Validator) Order(payload []byte) (model.OrderPayload, error) {
	var out model.OrderPayload
	if err := v.check("#Order", payload, &out); err != nil {
		return model.OrderPayload{}, err
	}
	return out, nil
}

// Action validates the payload of kind and builds the typed action.
func (v *Validator) Action(kind model.ActionKind, payload []byte) (model.Action, error) {
	def, ok := Definition(kind)
	if !ok {
		return nil, Errors{{Message: fmt.Sprintf("unknown action kind %q", kind), Code: ErrUnknownKind}}
	}
	var normalized json.RawMessage
	if err := v.check(def, payload, &normalized); err != nil {
		return nil, err
	}
	action, err := model.DecodeAction(kind, normalized)
	if err != nil {
		return nil, Errors{{Message: err.Error(), Code: ErrSchemaViolation}}
	}
	return action, nil
}

// check unifies payload with the named definition and decodes the
// concrete result into dst.
func (v *Validator) check(def string, payload []byte, dst any) error {
	expr, err := cuejson.Extract("payload.json", payload)
	if err != nil {
		return Errors{{Message: err.Error(), Code: ErrMalformedJSON}}
	}
	schema := v.root.LookupPath(cue.ParsePath(def))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("lookup %s: %w", def, err)
	}

	value := schema.Unify(v.ctx.BuildExpr(expr))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return toErrors(err)
	}
	data, err := value.MarshalJSON()
	if err != nil {
		return Errors{{Message: err.Error(), Code: ErrSchemaViolation}}
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return Errors{{Message: err.Error(), Code: ErrSchemaViolation}}
	}
	return nil
}

func toErrors(err error) Errors {
	var out Errors
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
			Code:    ErrSchemaViolation,
		})
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error(), Code: ErrSchemaViolation})
	}
	return out
}
