package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	conerrors "github.com/jepras/ConstructionRAG-sub001/internal/errors"
)

func TestMapErrorNil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapErrorByKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not found", conerrors.NotFound(conerrors.ErrCodeRunNotFound, "indexing run", "r1"), ErrCodeNotFound},
		{"invalid input", conerrors.InvalidInput("query is empty"), ErrCodeInvalidParams},
		{"config", conerrors.ConfigError("bad yaml", nil), ErrCodeInvalidParams},
		{"conflict", conerrors.Conflict("run r1 is already being processed"), ErrCodeRunConflict},
		{"unavailable", conerrors.Unavailable("embedding", fmt.Errorf("dial tcp")), ErrCodeUpstreamUnavailable},
		{"malformed", conerrors.Malformed("chat", fmt.Errorf("bad json")), ErrCodeUpstreamUnavailable},
		{"cancelled", conerrors.Cancelled(context.Canceled), ErrCodeTimeout},
		{"internal", conerrors.Internal("boom", nil), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError(tt.err)
			require.NotNil(t, mapped)
			assert.Equal(t, tt.code, mapped.Code)
			assert.NotEmpty(t, mapped.Message)
		})
	}
}

func TestMapErrorWrappedPipelineError(t *testing.T) {
	err := fmt.Errorf("stage retrieval: %w", conerrors.NotFound(conerrors.ErrCodeRunNotFound, "indexing run", "r9"))

	mapped := MapError(err)

	require.NotNil(t, mapped)
	assert.Equal(t, ErrCodeNotFound, mapped.Code)
	assert.Contains(t, mapped.Message, "r9")
}

func TestMapErrorAppendsSuggestion(t *testing.T) {
	err := conerrors.InvalidInput("run has no embedded chunks").
		WithSuggestion("run 'conrag index' first")

	mapped := MapError(err)

	assert.Contains(t, mapped.Message, "no embedded chunks")
	assert.Contains(t, mapped.Message, "conrag index")
}

func TestMapErrorContextErrors(t *testing.T) {
	assert.Equal(t, ErrCodeTimeout, MapError(context.DeadlineExceeded).Code)
	assert.Equal(t, ErrCodeTimeout, MapError(context.Canceled).Code)
}

func TestMapErrorUnknownErrorHidesDetail(t *testing.T) {
	mapped := MapError(errors.New("pq: relation does not exist"))

	assert.Equal(t, ErrCodeInternalError, mapped.Code)
	assert.Equal(t, "Internal server error.", mapped.Message)
}

func TestMCPErrorFormatting(t *testing.T) {
	err := NewInvalidParamsError("query is required")
	assert.Equal(t, "MCP error -32602: query is required", err.Error())
}
