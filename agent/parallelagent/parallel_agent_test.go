package parallelagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/event"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/tool"
)

// burstAgent emits a numbered sequence of events on its own branch.
type burstAgent struct {
	name  string
	count int
}

func (a *burstAgent) Run(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error) {
	ch := make(chan *event.Event, a.count)
	for i := 0; i < a.count; i++ {
		evt := event.New(invocation.InvocationID, a.name,
			event.WithBranch(invocation.Branch),
		)
		evt.Response.Done = true
		evt.Response.Choices = []model.Choice{{
			Message: model.Message{Role: model.RoleAssistant, Content: string(rune('0' + i))},
		}}
		ch <- evt
	}
	close(ch)
	return ch, nil
}

func (a *burstAgent) Tools() []tool.Tool              { return nil }
func (a *burstAgent) Info() agent.Info                { return agent.Info{Name: a.name} }
func (a *burstAgent) SubAgents() []agent.Agent        { return nil }
func (a *burstAgent) FindSubAgent(string) agent.Agent { return nil }

func TestParallelForwardsAllSubAgentEvents(t *testing.T) {
	fanout := New("fanout", WithSubAgents([]agent.Agent{
		&burstAgent{name: "left", count: 3},
		&burstAgent{name: "right", count: 2},
	}))

	ch, err := fanout.Run(context.Background(), &agent.Invocation{InvocationID: "inv-1"})
	require.NoError(t, err)

	perAuthor := make(map[string][]string)
	for evt := range ch {
		perAuthor[evt.Author] = append(perAuthor[evt.Author], evt.Choices[0].Message.Content)
	}

	// Overall interleaving is arbitrary, each branch stays ordered.
	assert.Equal(t, []string{"0", "1", "2"}, perAuthor["left"])
	assert.Equal(t, []string{"0", "1"}, perAuthor["right"])
}

func TestParallelAssignsDisjointBranches(t *testing.T) {
	fanout := New("fanout", WithSubAgents([]agent.Agent{
		&burstAgent{name: "left", count: 1},
		&burstAgent{name: "right", count: 1},
	}))

	ch, err := fanout.Run(context.Background(), &agent.Invocation{InvocationID: "inv-1"})
	require.NoError(t, err)

	branches := make(map[string]string)
	for evt := range ch {
		branches[evt.Author] = evt.Branch
	}

	assert.Equal(t, "fanout.left", branches["left"])
	assert.Equal(t, "fanout.right", branches["right"])
}

func TestParallelNestsUnderExistingBranch(t *testing.T) {
	fanout := New("fanout", WithSubAgents([]agent.Agent{
		&burstAgent{name: "left", count: 1},
	}))

	ch, err := fanout.Run(context.Background(), &agent.Invocation{
		InvocationID: "inv-1",
		Branch:       "outer",
	})
	require.NoError(t, err)

	var branch string
	for evt := range ch {
		branch = evt.Branch
	}
	assert.Equal(t, "outer.fanout.left", branch)
}

func TestParallelBeforeAgentCallbackShortCircuits(t *testing.T) {
	callbacks := agent.NewCallbacks()
	callbacks.RegisterBeforeAgent(func(ctx context.Context, invocation *agent.Invocation) (*model.Response, error) {
		return &model.Response{
			Done: true,
			Choices: []model.Choice{{
				Message: model.Message{Role: model.RoleAssistant, Content: "blocked"},
			}},
		}, nil
	})
	fanout := New("fanout",
		WithSubAgents([]agent.Agent{&burstAgent{name: "left", count: 5}}),
		WithAgentCallbacks(callbacks),
	)

	ch, err := fanout.Run(context.Background(), &agent.Invocation{InvocationID: "inv-1"})
	require.NoError(t, err)

	var events []*event.Event
	for evt := range ch {
		events = append(events, evt)
	}
	require.Len(t, events, 1)
	assert.Equal(t, "blocked", events[0].Choices[0].Message.Content)
}
