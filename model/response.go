package model

import (
	"time"
)

// Error type constants for ResponseError.Type.
const (
	ErrorTypeStreamError = "stream_error"
	ErrorTypeAPIError    = "api_error"
	ErrorTypeFlowError   = "flow_error"
	// ErrorTypePluginError marks errors raised by plugin hooks.
	ErrorTypePluginError = "plugin_error"
)

// Object type constants for Response.Object.
const (
	// ObjectTypeError marks error responses.
	ObjectTypeError = "error"
	// ObjectTypeToolResponse marks tool result events.
	ObjectTypeToolResponse = "tool.response"
	// ObjectTypePreprocessingBasic marks basic request preprocessing events.
	ObjectTypePreprocessingBasic = "preprocessing.basic"
	// ObjectTypePreprocessingInstruction marks instruction preprocessing events.
	ObjectTypePreprocessingInstruction = "preprocessing.instruction"
	// ObjectTypePreprocessingIdentity marks identity preprocessing events.
	ObjectTypePreprocessingIdentity = "preprocessing.identity"
	// ObjectTypePreprocessingContent marks content preprocessing events.
	ObjectTypePreprocessingContent = "preprocessing.content"
	// ObjectTypeTransfer marks agent hand-off events.
	ObjectTypeTransfer = "agent.transfer"
	// ObjectTypeRunnerCompletion marks the final event of a run.
	ObjectTypeRunnerCompletion = "runner.completion"
	// ObjectTypeChatCompletion marks complete model responses.
	ObjectTypeChatCompletion = "chat.completion"
	// ObjectTypeChatCompletionChunk marks streamed partial responses.
	ObjectTypeChatCompletionChunk = "chat.completion.chunk"
)

// Choice is a single completion alternative.
type Choice struct {
	Index int `json:"index"`

	// Message is the complete message for non-streaming responses.
	Message Message `json:"message,omitempty"`

	// Delta is the incremental message content for streaming responses.
	Delta Message `json:"delta,omitempty"`

	// FinishReason reports why generation stopped ("stop", "length",
	// "tool_calls", ...).
	FinishReason *string `json:"finish_reason,omitempty"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one unit of backend output. For streamed generations many
// partial responses precede the final one.
type Response struct {
	// ID is the backend-assigned identifier of the response.
	ID string `json:"id"`

	// Object describes the response kind, e.g. "chat.completion".
	Object string `json:"object"`

	// Created is the Unix timestamp of creation.
	Created int64 `json:"created"`

	// Model names the backend model that produced the response.
	Model string `json:"model"`

	// Choices holds the completion alternatives.
	Choices []Choice `json:"choices"`

	// Usage is nil for intermediate streaming chunks.
	Usage *Usage `json:"usage,omitempty"`

	// Error carries an API-level failure; nil on success.
	Error *ResponseError `json:"error,omitempty"`

	// Timestamp records when this response was received.
	Timestamp time.Time `json:"timestamp"`

	// Done indicates the generation loop should stop.
	Done bool `json:"done"`

	// IsPartial marks intermediate streaming chunks.
	IsPartial bool `json:"is_partial"`

	// Interrupted marks a generation cut short by new input on a live
	// connection. An interrupted response ends the current turn.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Clone creates a deep copy of the response.
func (rsp *Response) Clone() *Response {
	if rsp == nil {
		return nil
	}
	clone := *rsp
	clone.Choices = make([]Choice, len(rsp.Choices))
	copy(clone.Choices, rsp.Choices)
	if rsp.Usage != nil {
		usage := *rsp.Usage
		clone.Usage = &usage
	}
	if rsp.Error != nil {
		respErr := *rsp.Error
		clone.Error = &respErr
	}
	return &clone
}

// IsToolCallResponse reports whether the response requests tool calls.
func (rsp *Response) IsToolCallResponse() bool {
	return rsp != nil && len(rsp.Choices) > 0 && len(rsp.Choices[0].Message.ToolCalls) > 0
}

// IsToolResultResponse reports whether the response carries tool results.
func (rsp *Response) IsToolResultResponse() bool {
	return rsp != nil && len(rsp.Choices) > 0 && rsp.Choices[0].Message.ToolID != ""
}

// IsValidContent reports whether the response carries content worth
// persisting.
func (rsp *Response) IsValidContent() bool {
	if rsp == nil {
		return false
	}
	if rsp.IsToolCallResponse() || rsp.IsToolResultResponse() {
		return true
	}
	for _, choice := range rsp.Choices {
		if choice.Message.Content != "" || choice.Delta.Content != "" {
			return true
		}
	}
	return false
}

// IsFinalResponse reports whether the response terminates the turn. Tool
// call requests and partial chunks keep the loop going; an interruption
// ends the turn regardless of completion state.
func (rsp *Response) IsFinalResponse() bool {
	if rsp == nil {
		return true
	}
	if rsp.Interrupted {
		return true
	}
	if rsp.IsPartial || rsp.IsToolCallResponse() {
		return false
	}
	return rsp.Done && (len(rsp.Choices) > 0 || rsp.Error != nil)
}

// ResponseError is an API-level failure delivered through the response
// channel.
type ResponseError struct {
	// Message is the error message.
	Message string `json:"message"`

	// Type classifies the error.
	Type string `json:"type"`

	// Code is the backend-specific error code.
	Code *string `json:"code,omitempty"`
}
