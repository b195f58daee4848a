// Package telemetry provides tracing helpers for agent operations.
package telemetry

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

const (
	ServiceName      = "telemetry"
	ServiceVersion   = "v0.1.0"
	ServiceNamespace = "agentkit"
	InstrumentName   = "agentkit"

	SpanNameCallModel         = "call_model"
	SpanNamePrefixExecuteTool = "execute_tool"
	SpanNamePrefixRunner      = "invocation"
)

const (
	// ProtocolGRPC selects the gRPC OTLP exporter.
	ProtocolGRPC string = "grpc"
	// ProtocolHTTP selects the HTTP OTLP exporter.
	ProtocolHTTP string = "http"
)

var (
	KeyEventID      = "agentkit.event_id"
	KeySessionID    = "agentkit.session_id"
	KeyInvocationID = "agentkit.invocation_id"
	KeyModelRequest = "agentkit.model_request"
	KeyModelReply   = "agentkit.model_response"
)

// TraceToolCall records a tool execution on the span.
func TraceToolCall(span trace.Span, declaration *tool.Declaration, args []byte, rspEvent *event.Event) {
	span.SetAttributes(
		attribute.String("gen_ai.system", "agentkit"),
		attribute.String("gen_ai.operation.name", "tool.execute"),
		attribute.String("gen_ai.tool.name", declaration.Name),
		attribute.String("gen_ai.tool.description", declaration.Description),
		attribute.String(KeyEventID, rspEvent.ID),
		attribute.String("agentkit.tool_call_args", string(args)),
	)

	if bts, err := json.Marshal(rspEvent.Response); err == nil {
		span.SetAttributes(attribute.String("agentkit.tool_response", string(bts)))
	} else {
		span.SetAttributes(attribute.String("agentkit.tool_response", "<not json serializable>"))
	}
}

// TraceCallModel records a model call on the span.
func TraceCallModel(span trace.Span, invocation *agent.Invocation, req *model.Request, rsp *model.Response, eventID string) {
	span.SetAttributes(
		attribute.String("gen_ai.system", "agentkit"),
		attribute.String(KeyInvocationID, invocation.InvocationID),
		attribute.String(KeyEventID, eventID),
	)
	if invocation.Session != nil {
		span.SetAttributes(attribute.String(KeySessionID, invocation.Session.ID))
	}
	if invocation.Model != nil {
		span.SetAttributes(attribute.String("gen_ai.request.model", invocation.Model.Info().Name))
	}

	if bts, err := json.Marshal(req); err == nil {
		span.SetAttributes(attribute.String(KeyModelRequest, string(bts)))
	} else {
		span.SetAttributes(attribute.String(KeyModelRequest, "<not json serializable>"))
	}
	if bts, err := json.Marshal(rsp); err == nil {
		span.SetAttributes(attribute.String(KeyModelReply, string(bts)))
	} else {
		span.SetAttributes(attribute.String(KeyModelReply, "<not json serializable>"))
	}
}

// NewGRPCConn dials the OpenTelemetry collector.
func NewGRPCConn(endpoint string) (*grpc.ClientConn, error) {
	// Insecure transport; front the collector with TLS in production.
	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gRPC connection to collector: %w", err)
	}
	return conn, nil
}
