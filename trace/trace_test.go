package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootHasNoParent(t *testing.T) {
	ctx := NewRoot()
	assert.NotEmpty(t, ctx.TraceID)
	assert.NotEmpty(t, ctx.SpanID)
	assert.Empty(t, ctx.ParentSpanID)
	assert.False(t, ctx.IsDistributed())
}

func TestChildInheritsTraceIDAndParentsSpan(t *testing.T) {
	root := NewRoot()
	child := root.Child()

	assert.Equal(t, root.TraceID, child.TraceID)
	assert.NotEqual(t, root.SpanID, child.SpanID)
	assert.Equal(t, root.SpanID, child.ParentSpanID)
	assert.True(t, child.IsDistributed())
}

func TestInjectEnvSetsPropagationVars(t *testing.T) {
	ctx := NewRoot()
	env := ctx.InjectEnv([]string{"PATH=/bin", "POE_TRACE_ID=stale"})

	found := map[string]string{}
	for _, kv := range env {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				found[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	assert.Equal(t, ctx.TraceID, found[EnvTraceID])
	assert.Equal(t, ctx.SpanID, found[EnvParentID])
	assert.Equal(t, "/bin", found["PATH"])
}

func TestFromEnvReturnsFalseWithoutTraceID(t *testing.T) {
	t.Setenv(EnvTraceID, "")
	_, ok := FromEnv()
	require.False(t, ok)
}

func TestFromEnvReconstructsFromParentProcess(t *testing.T) {
	t.Setenv(EnvTraceID, "abc-123")
	t.Setenv(EnvParentID, "span-1")

	ctx, ok := FromEnv()
	require.True(t, ok)
	assert.Equal(t, "abc-123", ctx.TraceID)
	assert.Equal(t, "span-1", ctx.ParentSpanID)
	assert.True(t, ctx.IsDistributed())
}
