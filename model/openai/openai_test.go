package openai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

type stubTool struct {
	decl *tool.Declaration
}

func (s stubTool) Declaration() *tool.Declaration { return s.decl }

func TestNewDefaults(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("test-key"))
	require.NotNil(t, m)
	assert.Equal(t, "gpt-4o-mini", m.Info().Name)
	assert.Equal(t, defaultChannelBufferSize, m.channelBufferSize)
}

func TestGenerateContentNilRequest(t *testing.T) {
	m := New("gpt-4o-mini", WithAPIKey("test-key"))

	_, err := m.GenerateContent(context.Background(), nil)
	require.Error(t, err)
}

func TestConvertMessagesRoleVariants(t *testing.T) {
	m := New("dummy")

	msgs := []model.Message{
		model.NewSystemMessage("system content"),
		model.NewUserMessage("user content"),
		{
			Role:    model.RoleAssistant,
			Content: "assistant content",
			ToolCalls: []model.ToolCall{{
				ID:   "call-1",
				Type: "function",
				Function: model.FunctionCall{
					Name:      "hello",
					Arguments: []byte(`{"a":1}`),
				},
			}},
		},
		model.NewToolMessage("call-1", "hello", "tool response"),
		{Role: "unknown", Content: "fallback content"},
	}

	converted := m.convertMessages(msgs)
	require.Len(t, converted, len(msgs))

	assert.NotNil(t, converted[0].OfSystem)
	assert.NotNil(t, converted[1].OfUser)
	require.NotNil(t, converted[2].OfAssistant)
	assert.NotNil(t, converted[3].OfTool)
	// Unknown roles degrade to user messages.
	assert.NotNil(t, converted[4].OfUser)

	require.Len(t, converted[2].OfAssistant.ToolCalls, 1)
	assert.Equal(t, "call-1", converted[2].OfAssistant.ToolCalls[0].ID)
	assert.Equal(t, `{"a":1}`, converted[2].OfAssistant.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call-1", converted[3].OfTool.ToolCallID)
}

func TestConvertUserContentInlinesImages(t *testing.T) {
	m := New("dummy")

	msg := model.NewUserMessage("look at this")
	msg.Attachments = []model.Attachment{
		{Name: "photo.png", MimeType: "image/png", Data: []byte{1, 2, 3}},
		{Name: "notes.txt", MimeType: "text/plain", Data: []byte("skip me")},
		{Name: "offloaded.png", MimeType: "image/png", ArtifactVersion: 3},
	}

	content := m.convertUserContent(msg)
	require.Len(t, content.OfArrayOfContentParts, 2)
	assert.NotNil(t, content.OfArrayOfContentParts[0].OfText)
	require.NotNil(t, content.OfArrayOfContentParts[1].OfImageURL)
	assert.Contains(t, content.OfArrayOfContentParts[1].OfImageURL.ImageURL.URL, "data:image/png;base64,")
}

func TestConvertUserContentFallsBackToString(t *testing.T) {
	m := New("dummy")

	// Attachments that cannot be inlined leave a plain string message.
	msg := model.Message{Role: model.RoleUser, Attachments: []model.Attachment{
		{Name: "offloaded.png", MimeType: "image/png", ArtifactVersion: 1},
	}}

	content := m.convertUserContent(msg)
	assert.Empty(t, content.OfArrayOfContentParts)
	assert.True(t, content.OfString.Valid())
}

func TestConvertTools(t *testing.T) {
	m := New("dummy")

	tools := map[string]tool.Tool{
		"clock": stubTool{decl: &tool.Declaration{
			Name:        "clock",
			Description: "tells the time",
			InputSchema: &tool.Schema{Type: "object"},
		}},
	}

	params := m.convertTools(tools)
	require.Len(t, params, 1)
	assert.Equal(t, "clock", params[0].Function.Name)
	require.True(t, params[0].Function.Description.Valid())
	assert.Equal(t, "tells the time", params[0].Function.Description.Value)
	assert.NotEmpty(t, params[0].Function.Parameters)
}
