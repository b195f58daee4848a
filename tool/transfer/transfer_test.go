package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/agent"
)

func newTool() *Tool {
	return New([]agent.Info{
		{Name: "billing", Description: "Handles invoices."},
		{Name: "support", Description: "Handles technical issues."},
	})
}

func TestDeclarationListsCandidates(t *testing.T) {
	decl := newTool().Declaration()

	assert.Equal(t, ToolName, decl.Name)
	require.Contains(t, decl.InputSchema.Properties, "agent_name")
	assert.Contains(t, decl.InputSchema.Properties["agent_name"].Description, "billing")
	assert.Contains(t, decl.InputSchema.Properties["agent_name"].Description, "support")
	assert.Equal(t, []string{"agent_name"}, decl.InputSchema.Required)
}

func TestCallRecordsTransferInfo(t *testing.T) {
	invocation := &agent.Invocation{InvocationID: "inv-1"}
	ctx := agent.NewInvocationContext(context.Background(), invocation)

	result, err := newTool().Call(ctx, []byte(`{"agent_name":"billing","message":"invoice 42"}`))
	require.NoError(t, err)

	rsp, ok := result.(Response)
	require.True(t, ok)
	assert.True(t, rsp.Success)
	assert.Equal(t, "billing", rsp.TargetAgent)

	require.NotNil(t, invocation.TransferInfo)
	assert.Equal(t, "billing", invocation.TransferInfo.TargetAgentName)
	assert.Equal(t, "invoice 42", invocation.TransferInfo.Message)
}

func TestCallUnknownTarget(t *testing.T) {
	invocation := &agent.Invocation{InvocationID: "inv-1"}
	ctx := agent.NewInvocationContext(context.Background(), invocation)

	result, err := newTool().Call(ctx, []byte(`{"agent_name":"nobody"}`))
	require.NoError(t, err)

	rsp := result.(Response)
	assert.False(t, rsp.Success)
	assert.Contains(t, rsp.Message, "not found")
	assert.Nil(t, invocation.TransferInfo)
}

func TestCallWithoutInvocationContext(t *testing.T) {
	result, err := newTool().Call(context.Background(), []byte(`{"agent_name":"billing"}`))
	require.NoError(t, err)

	rsp := result.(Response)
	assert.False(t, rsp.Success)
	assert.Contains(t, rsp.Message, "no invocation context")
}

func TestCallMalformedArguments(t *testing.T) {
	result, err := newTool().Call(context.Background(), []byte(`{not json`))
	require.NoError(t, err)

	rsp := result.(Response)
	assert.False(t, rsp.Success)
}
