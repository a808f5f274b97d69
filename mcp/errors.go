package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	"escrow-backend/core/escrow"

	"github.com/mark3labs/mcp-go/mcp"
)

// ToolError is the structured body of a failed tool call.
type ToolError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Tool      string `json:"tool,omitempty"`
	Field     string `json:"field,omitempty"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	Reconcile bool   `json:"reconcile,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	ErrCodeMissingRequired = "MISSING_REQUIRED_FIELD"
	ErrCodeInvalidValue    = "INVALID_FIELD_VALUE"
	ErrCodeInternalError   = "INTERNAL_ERROR"
)

// hints for the error kinds a caller can act on.
var kindHints = map[escrow.Err]string{
	escrow.ErrNoSigner:            "Call connect_wallet first.",
	escrow.ErrProviderUnavailable: "Check that the signer is running and reachable.",
	escrow.ErrUserRejected:        "The request was declined in the signer.",
	escrow.ErrInvalidTransition:   "Call get_job to see the current status.",
	escrow.ErrFeeChanged:          "Read creation_fee again and resubmit.",
	escrow.ErrOperationInProgress: "Wait for the pending write to confirm.",
	escrow.ErrEventNotFound:       "The write may have landed; call reconcile_job.",
	escrow.ErrUnauthorized:        "Check the content store credentials.",
}

// classifyError maps an orchestrator error onto a ToolError.
func classifyError(tool string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		if te.Tool == "" {
			te.Tool = tool
		}
		return te
	}
	out := &ToolError{
		Code:      ErrCodeInternalError,
		Message:   err.Error(),
		Tool:      tool,
		Retryable: escrow.Retryable(err),
		Reconcile: escrow.NeedsReconcile(err),
	}
	if kind := escrow.KindOf(err); kind != "" {
		out.Code = codeFor(kind)
		out.Hint = kindHints[kind]
	}
	return out
}

// codeFor turns "creation fee changed" into "CREATION_FEE_CHANGED".
func codeFor(kind escrow.Err) string {
	b := []byte(kind)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z':
			b[i] = c - 'a' + 'A'
		case c == ' ':
			b[i] = '_'
		}
	}
	return string(b)
}

func missingField(field string) *ToolError {
	return &ToolError{Code: ErrCodeMissingRequired, Message: field + " is required", Field: field}
}

func invalidField(field, msg string) *ToolError {
	return &ToolError{Code: ErrCodeInvalidValue, Message: msg, Field: field}
}

func errorResult(tool string, err error) *mcp.CallToolResult {
	body, merr := json.Marshal(classifyError(tool, err))
	if merr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(body))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(body)), nil
}
