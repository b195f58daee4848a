// Package openai adapts OpenAI-compatible chat completion APIs to the
// model interface.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

const functionToolType = "function"

// defaultChannelBufferSize is the default response channel buffer size.
const defaultChannelBufferSize = 256

// Model implements model.Model on top of an OpenAI-compatible chat
// completions endpoint.
type Model struct {
	client            openai.Client
	name              string
	channelBufferSize int
	extraFields       map[string]any
}

type options struct {
	APIKey            string
	BaseURL           string
	ChannelBufferSize int
	OpenAIOptions     []openaiopt.RequestOption
	ExtraFields       map[string]any
}

// Option is a function that configures an OpenAI model.
type Option func(*options)

// WithAPIKey sets the API key for the client.
func WithAPIKey(key string) Option {
	return func(opts *options) {
		opts.APIKey = key
	}
}

// WithBaseURL sets the base URL, for OpenAI-compatible providers.
func WithBaseURL(url string) Option {
	return func(opts *options) {
		opts.BaseURL = url
	}
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(opts *options) {
		if size <= 0 {
			size = defaultChannelBufferSize
		}
		opts.ChannelBufferSize = size
	}
}

// WithOpenAIOptions passes request options through to the underlying
// client, e.g. openaiopt.WithMiddleware.
func WithOpenAIOptions(openaiOpts ...openaiopt.RequestOption) Option {
	return func(opts *options) {
		opts.OpenAIOptions = append(opts.OpenAIOptions, openaiOpts...)
	}
}

// WithExtraFields adds fields to the JSON body of every request.
func WithExtraFields(extraFields map[string]any) Option {
	return func(opts *options) {
		if opts.ExtraFields == nil {
			opts.ExtraFields = make(map[string]any)
		}
		for k, v := range extraFields {
			opts.ExtraFields[k] = v
		}
	}
}

// New creates a model backed by the named OpenAI-compatible model.
func New(name string, opts ...Option) *Model {
	o := &options{
		ChannelBufferSize: defaultChannelBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	var clientOpts []openaiopt.RequestOption
	if o.APIKey != "" {
		clientOpts = append(clientOpts, openaiopt.WithAPIKey(o.APIKey))
	}
	if o.BaseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.BaseURL))
	}
	clientOpts = append(clientOpts, o.OpenAIOptions...)

	return &Model{
		client:            openai.NewClient(clientOpts...),
		name:              name,
		channelBufferSize: o.ChannelBufferSize,
		extraFields:       o.ExtraFields,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name}
}

// GenerateContent implements the model.Model interface.
func (m *Model) GenerateContent(
	ctx context.Context,
	request *model.Request,
) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	responseChan := make(chan *model.Response, m.channelBufferSize)

	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: m.convertMessages(request.Messages),
		Tools:    m.convertTools(request.Tools),
	}
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}
	if request.TopP != nil {
		chatRequest.TopP = openai.Float(*request.TopP)
	}
	if len(request.Stop) > 0 {
		chatRequest.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfString: openai.String(request.Stop[0]),
		}
	}

	var opts []openaiopt.RequestOption
	for key, value := range m.extraFields {
		opts = append(opts, openaiopt.WithJSONSet(key, value))
	}

	if request.Stream {
		chatRequest.StreamOptions = openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		}
	}

	go func() {
		defer close(responseChan)
		if request.Stream {
			m.handleStreamingResponse(ctx, chatRequest, responseChan, opts...)
		} else {
			m.handleNonStreamingResponse(ctx, chatRequest, responseChan, opts...)
		}
	}()

	return responseChan, nil
}

// convertMessages converts messages to OpenAI's union format.
func (m *Model) convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
				},
			}
		case model.RoleAssistant:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCalls: m.convertToolCalls(msg.ToolCalls),
				},
			}
		case model.RoleTool:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfTool: &openai.ChatCompletionToolMessageParam{
					Content: openai.ChatCompletionToolMessageParamContentUnion{
						OfString: openai.String(msg.Content),
					},
					ToolCallID: msg.ToolID,
				},
			}
		default:
			result[i] = openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: m.convertUserContent(msg),
				},
			}
		}
	}
	return result
}

// convertUserContent renders a user message, inlining image attachments
// as data URLs.
func (m *Model) convertUserContent(msg model.Message) openai.ChatCompletionUserMessageParamContentUnion {
	if len(msg.Attachments) == 0 {
		return openai.ChatCompletionUserMessageParamContentUnion{
			OfString: openai.String(msg.Content),
		}
	}
	var parts []openai.ChatCompletionContentPartUnionParam
	if msg.Content != "" {
		parts = append(parts, openai.ChatCompletionContentPartUnionParam{
			OfText: &openai.ChatCompletionContentPartTextParam{Text: msg.Content},
		})
	}
	for _, att := range msg.Attachments {
		// Only inline image data can be rendered; off-loaded attachments
		// carry a version reference instead of bytes.
		if len(att.Data) == 0 || !strings.HasPrefix(att.MimeType, "image/") {
			continue
		}
		url := "data:" + att.MimeType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
		parts = append(parts, openai.ChatCompletionContentPartUnionParam{
			OfImageURL: &openai.ChatCompletionContentPartImageParam{
				ImageURL: openai.ChatCompletionContentPartImageImageURLParam{
					URL: url,
				},
			},
		})
	}
	if len(parts) == 0 {
		return openai.ChatCompletionUserMessageParamContentUnion{
			OfString: openai.String(msg.Content),
		}
	}
	return openai.ChatCompletionUserMessageParamContentUnion{
		OfArrayOfContentParts: parts,
	}
}

func (m *Model) convertToolCalls(toolCalls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	var result []openai.ChatCompletionMessageToolCallParam
	for _, toolCall := range toolCalls {
		result = append(result, openai.ChatCompletionMessageToolCallParam{
			ID: toolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      toolCall.Function.Name,
				Arguments: string(toolCall.Function.Arguments),
			},
		})
	}
	return result
}

func (m *Model) convertTools(tools map[string]tool.Tool) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, t := range tools {
		declaration := t.Declaration()
		schemaBytes, err := json.Marshal(declaration.InputSchema)
		if err != nil {
			log.Errorf("failed to marshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		var parameters shared.FunctionParameters
		if err := json.Unmarshal(schemaBytes, &parameters); err != nil {
			log.Errorf("failed to unmarshal tool schema for %s: %v", declaration.Name, err)
			continue
		}
		result = append(result, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        declaration.Name,
				Description: openai.String(declaration.Description),
				Parameters:  parameters,
			},
		})
	}
	return result
}

// handleStreamingResponse forwards streamed chunks as partial responses
// and emits one aggregated final response carrying usage and assembled
// tool calls.
func (m *Model) handleStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
	opts ...openaiopt.RequestOption,
) {
	stream := m.client.Chat.Completions.NewStreaming(ctx, chatRequest, opts...)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		// Tool call deltas surface only in the aggregated final response;
		// emitting them piecemeal would hand half-assembled arguments to
		// the processors.
		if suppressChunk(chunk) {
			continue
		}

		select {
		case responseChan <- partialResponse(chunk):
		case <-ctx.Done():
			return
		}
	}

	m.sendFinalResponse(ctx, stream, acc, responseChan)
}

// suppressChunk reports whether a chunk carries nothing worth emitting.
func suppressChunk(chunk openai.ChatCompletionChunk) bool {
	if len(chunk.Choices) == 0 {
		return true
	}
	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		return false
	}
	if choice.Delta.JSON.ToolCalls.Valid() {
		return true
	}
	return choice.FinishReason == ""
}

// partialResponse wraps one streamed chunk.
func partialResponse(chunk openai.ChatCompletionChunk) *model.Response {
	object := string(chunk.Object)
	if object == "" {
		object = model.ObjectTypeChatCompletionChunk
	}
	response := &model.Response{
		ID:        chunk.ID,
		Object:    object,
		Created:   chunk.Created,
		Model:     chunk.Model,
		Timestamp: time.Now(),
		IsPartial: true,
	}
	if len(chunk.Choices) > 0 {
		choice := model.Choice{
			Delta: model.Message{
				Role:    model.RoleAssistant,
				Content: chunk.Choices[0].Delta.Content,
			},
		}
		if chunk.Choices[0].FinishReason != "" {
			finishReason := chunk.Choices[0].FinishReason
			choice.FinishReason = &finishReason
		}
		response.Choices = []model.Choice{choice}
	}
	return response
}

// sendFinalResponse emits the aggregated end-of-stream response, or an
// error response when the stream failed.
func (m *Model) sendFinalResponse(
	ctx context.Context,
	stream *ssestream.Stream[openai.ChatCompletionChunk],
	acc openai.ChatCompletionAccumulator,
	responseChan chan<- *model.Response,
) {
	if err := stream.Err(); err != nil {
		errorResponse := &model.Response{
			Error: &model.ResponseError{
				Message: err.Error(),
				Type:    model.ErrorTypeStreamError,
			},
			Timestamp: time.Now(),
			Done:      true,
		}
		select {
		case responseChan <- errorResponse:
		case <-ctx.Done():
		}
		return
	}

	var toolCalls []model.ToolCall
	if len(acc.Choices) > 0 {
		toolCalls = accumulatedToolCalls(acc.Choices[0].Message.ToolCalls)
	}
	hasToolCall := len(toolCalls) > 0

	finalResponse := &model.Response{
		Object:  model.ObjectTypeChatCompletion,
		ID:      acc.ID,
		Created: acc.Created,
		Model:   acc.Model,
		Choices: make([]model.Choice, len(acc.Choices)),
		Usage: &model.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		},
		Timestamp: time.Now(),
		Done:      !hasToolCall,
	}
	for i, choice := range acc.Choices {
		finalResponse.Choices[i] = model.Choice{
			Index: int(choice.Index),
			Message: model.Message{
				Role:    model.RoleAssistant,
				Content: choice.Message.Content,
			},
		}
		if hasToolCall && i == 0 {
			finalResponse.Choices[i].Message.ToolCalls = toolCalls
		}
	}

	select {
	case responseChan <- finalResponse:
	case <-ctx.Done():
	}
}

// accumulatedToolCalls converts assembled tool call deltas. Providers
// that omit the call id get a synthesized one so pairing with the tool
// result still works.
func accumulatedToolCalls(calls []openai.ChatCompletionMessageToolCall) []model.ToolCall {
	result := make([]model.ToolCall, 0, len(calls))
	for i, toolCall := range calls {
		if toolCall.Function.Name == "" && toolCall.ID == "" {
			continue
		}
		id := toolCall.ID
		if id == "" {
			id = fmt.Sprintf("auto_call_%d", i)
		}
		index := i
		result = append(result, model.ToolCall{
			Index: &index,
			ID:    id,
			Type:  functionToolType,
			Function: model.FunctionCall{
				Name:      toolCall.Function.Name,
				Arguments: []byte(toolCall.Function.Arguments),
			},
		})
	}
	return result
}

// handleNonStreamingResponse performs a single blocking completion.
func (m *Model) handleNonStreamingResponse(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
	opts ...openaiopt.RequestOption,
) {
	chatCompletion, err := m.client.Chat.Completions.New(ctx, chatRequest, opts...)
	if err != nil {
		errorResponse := &model.Response{
			Error: &model.ResponseError{
				Message: err.Error(),
				Type:    model.ErrorTypeAPIError,
			},
			Timestamp: time.Now(),
			Done:      true,
		}
		select {
		case responseChan <- errorResponse:
		case <-ctx.Done():
		}
		return
	}

	response := &model.Response{
		ID:        chatCompletion.ID,
		Object:    string(chatCompletion.Object),
		Created:   chatCompletion.Created,
		Model:     chatCompletion.Model,
		Timestamp: time.Now(),
		Done:      true,
		Usage: &model.Usage{
			PromptTokens:     int(chatCompletion.Usage.PromptTokens),
			CompletionTokens: int(chatCompletion.Usage.CompletionTokens),
			TotalTokens:      int(chatCompletion.Usage.TotalTokens),
		},
	}
	response.Choices = make([]model.Choice, len(chatCompletion.Choices))
	for i, choice := range chatCompletion.Choices {
		msg := model.Message{
			Role:    model.RoleAssistant,
			Content: choice.Message.Content,
		}
		for j, toolCall := range choice.Message.ToolCalls {
			id := toolCall.ID
			if id == "" {
				id = fmt.Sprintf("auto_call_%d", j)
			}
			msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
				ID:   id,
				Type: string(toolCall.Type),
				Function: model.FunctionCall{
					Name:      toolCall.Function.Name,
					Arguments: []byte(toolCall.Function.Arguments),
				},
			})
		}
		response.Choices[i] = model.Choice{
			Index:   int(choice.Index),
			Message: msg,
		}
		if choice.FinishReason != "" {
			finishReason := choice.FinishReason
			response.Choices[i].FinishReason = &finishReason
		}
	}
	if response.IsToolCallResponse() {
		response.Done = false
	}

	select {
	case responseChan <- response:
	case <-ctx.Done():
	}
}
