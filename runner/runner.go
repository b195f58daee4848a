// Package runner drives one invocation end to end: it resolves the
// session, dispatches the plugin chain, selects the active agent, runs
// it and persists every emitted event.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tomekpanek/agentkit/agent"
	"github.com/tomekpanek/agentkit/artifact"
	"github.com/tomekpanek/agentkit/event"
	itelemetry "github.com/tomekpanek/agentkit/internal/telemetry"
	"github.com/tomekpanek/agentkit/log"
	"github.com/tomekpanek/agentkit/model"
	"github.com/tomekpanek/agentkit/plugin"
	"github.com/tomekpanek/agentkit/session"
	"github.com/tomekpanek/agentkit/session/inmemory"
	"github.com/tomekpanek/agentkit/telemetry/trace"
	"github.com/tomekpanek/agentkit/tool"
)

// Author markers for events the runner creates itself.
const (
	authorUser  = "user"
	authorModel = "model"
)

// liveBufferSize caps the per-tool live input buffer.
const liveBufferSize = 16

// liveAgent is implemented by agents that support persistent duplex
// execution.
type liveAgent interface {
	RunLive(ctx context.Context, invocation *agent.Invocation) (<-chan *event.Event, error)
}

// Option is a function that configures a Runner.
type Option func(*Options)

// Options is the options for the Runner.
type Options struct {
	sessionService  session.Service
	artifactService artifact.Service
	plugins         *plugin.Registry
}

// WithSessionService sets the session service to use.
func WithSessionService(service session.Service) Option {
	return func(opts *Options) {
		opts.sessionService = service
	}
}

// WithArtifactService sets the artifact service to use.
func WithArtifactService(service artifact.Service) Option {
	return func(opts *Options) {
		opts.artifactService = service
	}
}

// WithPlugins sets the plugin registry whose interceptors wrap every
// run.
func WithPlugins(registry *plugin.Registry) Option {
	return func(opts *Options) {
		opts.plugins = registry
	}
}

// Runner runs an agent tree against a session.
type Runner struct {
	appName         string
	agent           agent.Agent
	sessionService  session.Service
	artifactService artifact.Service
	plugins         *plugin.Registry
}

// New creates a runner for the given root agent. Without an explicit
// session service an in-memory one is used.
func New(appName string, rootAgent agent.Agent, opts ...Option) *Runner {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}
	if options.sessionService == nil {
		options.sessionService = inmemory.NewSessionService()
	}
	if options.plugins == nil {
		options.plugins = plugin.NewRegistry()
	}
	return &Runner{
		appName:         appName,
		agent:           rootAgent,
		sessionService:  options.sessionService,
		artifactService: options.artifactService,
		plugins:         options.plugins,
	}
}

// Run executes one turn. The returned channel yields events in emission
// order and is closed when the turn finishes; errors arrive in-stream
// as error events.
func (r *Runner) Run(
	ctx context.Context,
	userID string,
	sessionID string,
	message model.Message,
	runOpts ...agent.RunOption,
) (<-chan *event.Event, error) {
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNamePrefixRunner)
	fail := func(err error) (<-chan *event.Event, error) {
		span.RecordError(err)
		span.End()
		return nil, err
	}

	sess, invocation, err := r.prepareInvocation(ctx, userID, sessionID, message, runOpts)
	if err != nil {
		return fail(err)
	}

	// Let plugins inspect or replace the user message before anything is
	// persisted.
	replaced, err := r.plugins.RunOnUserMessage(ctx, invocation, message)
	if err != nil {
		return fail(err)
	}
	if replaced != nil {
		message = *replaced
		invocation.Message = message
	}

	// An empty message after the hook is valid and simply skips the
	// append.
	if message.Content != "" || len(message.Attachments) > 0 {
		if err := r.appendUserEvent(ctx, sess, invocation, message); err != nil {
			return fail(err)
		}
	}

	// Re-read the session and resolve the active agent. Selection is
	// deliberately evaluated after the user event's state delta has
	// merged: any earlier evaluation would be discarded here anyway,
	// since the hook or the delta may have changed the history the
	// scan walks.
	sess, err = r.refreshSession(ctx, userID, sessionID)
	if err != nil {
		return fail(err)
	}
	invocation.Session = sess
	active := selectActiveAgent(r.agent, sess)
	invocation.Agent = active
	invocation.AgentName = active.Info().Name

	ctx = agent.NewInvocationContext(ctx, invocation)

	// A before-run result replaces the whole agent execution.
	shortcut, err := r.plugins.RunBeforeRun(ctx, invocation)
	if err != nil {
		return fail(err)
	}
	if shortcut != nil {
		return r.emitShortcut(ctx, span, sess, invocation, shortcut), nil
	}

	agentEventCh, err := active.Run(ctx, invocation)
	if err != nil {
		return fail(err)
	}

	processedCh := make(chan *event.Event)
	go r.processEvents(ctx, span, sess, invocation, agentEventCh, processedCh)
	return processedCh, nil
}

// prepareInvocation resolves the session, creating it when absent, and
// builds the invocation with the plugin bridges wired in.
func (r *Runner) prepareInvocation(
	ctx context.Context,
	userID, sessionID string,
	message model.Message,
	runOpts []agent.RunOption,
) (*session.Session, *agent.Invocation, error) {
	sessionKey := session.Key{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
	}
	sess, err := r.sessionService.GetSession(ctx, sessionKey)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		if sess, err = r.sessionService.CreateSession(ctx, sessionKey, session.StateMap{}); err != nil {
			return nil, nil, err
		}
	}

	var ro agent.RunOptions
	for _, opt := range runOpts {
		opt(&ro)
	}

	invocation := &agent.Invocation{
		Agent:           r.agent,
		AgentName:       r.agent.Info().Name,
		InvocationID:    "invocation-" + uuid.New().String(),
		Session:         sess,
		Message:         message,
		RunOptions:      ro,
		ArtifactService: r.artifactService,
		AgentCallbacks:  r.plugins.AgentCallbacks(),
		ModelCallbacks:  r.plugins.ModelCallbacks(),
		ToolCallbacks:   r.plugins.ToolCallbacks(),
	}
	return sess, invocation, nil
}

// appendUserEvent persists the user turn. Inline attachment bytes are
// off-loaded to the artifact service first and replaced with versioned
// references.
func (r *Runner) appendUserEvent(
	ctx context.Context,
	sess *session.Session,
	invocation *agent.Invocation,
	message model.Message,
) error {
	artifactDelta, err := r.offloadAttachments(ctx, sess, &message)
	if err != nil {
		return err
	}
	invocation.Message = message

	userEvent := event.New(invocation.InvocationID, authorUser)
	userEvent.Response.Choices = []model.Choice{{Message: message}}
	if len(invocation.RunOptions.RuntimeState) > 0 {
		userEvent.StateDelta = invocation.RunOptions.RuntimeState
	}
	if len(artifactDelta) > 0 {
		userEvent.Actions = &event.Actions{ArtifactDelta: artifactDelta}
	}
	return r.sessionService.AppendEvent(ctx, sess, userEvent)
}

// offloadAttachments saves every inline attachment as an artifact and
// clears its data, leaving only the versioned reference.
func (r *Runner) offloadAttachments(
	ctx context.Context,
	sess *session.Session,
	message *model.Message,
) (map[string]int, error) {
	if r.artifactService == nil {
		return nil, nil
	}
	var delta map[string]int
	info := artifact.SessionInfo{
		AppName:   sess.AppName,
		UserID:    sess.UserID,
		SessionID: sess.ID,
	}
	for i := range message.Attachments {
		att := &message.Attachments[i]
		if len(att.Data) == 0 {
			continue
		}
		name := att.Name
		if name == "" {
			name = uuid.New().String()
		}
		version, err := r.artifactService.SaveArtifact(ctx, info, name, &artifact.Artifact{
			Data:     att.Data,
			MimeType: att.MimeType,
			Name:     name,
		})
		if err != nil {
			return nil, fmt.Errorf("save attachment %q: %w", name, err)
		}
		att.Name = name
		att.Data = nil
		att.ArtifactVersion = version
		if delta == nil {
			delta = make(map[string]int)
		}
		delta[name] = version
	}
	return delta, nil
}

// refreshSession re-reads the session after the user event append. A
// session that vanished in between is fatal.
func (r *Runner) refreshSession(ctx context.Context, userID, sessionID string) (*session.Session, error) {
	fresh, err := r.sessionService.GetSession(ctx, session.Key{
		AppName:   r.appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, session.ErrSessionNotFound
	}
	return fresh, nil
}

// emitShortcut turns a before-run result into a single synthetic
// model-authored event; the agent itself never runs.
func (r *Runner) emitShortcut(
	ctx context.Context,
	span oteltrace.Span,
	sess *session.Session,
	invocation *agent.Invocation,
	rsp *model.Response,
) <-chan *event.Event {
	ch := make(chan *event.Event, 1)
	go func() {
		defer span.End()
		defer close(ch)

		evt := event.NewResponseEvent(invocation.InvocationID, authorModel, rsp)
		if err := r.sessionService.AppendEvent(ctx, sess, evt); err != nil {
			log.Errorf("Failed to append short-circuit event to session: %v", err)
		}
		select {
		case ch <- evt:
		case <-ctx.Done():
		}
		if err := r.plugins.RunAfterRun(ctx, invocation, nil); err != nil {
			log.Errorf("After-run hook failed: %v", err)
		}
	}()
	return ch
}

// processEvents appends each agent event to the session, runs the
// on-event hook (substitution allowed) and forwards the result.
func (r *Runner) processEvents(
	ctx context.Context,
	span oteltrace.Span,
	sess *session.Session,
	invocation *agent.Invocation,
	agentEventCh <-chan *event.Event,
	out chan<- *event.Event,
) {
	defer span.End()
	defer close(out)
	defer invocation.CleanupNotices()

	var runErr error
	for agentEvent := range agentEventCh {
		if isCompleteEvent(agentEvent) {
			if err := r.sessionService.AppendEvent(ctx, sess, agentEvent); err != nil {
				log.Errorf("Failed to append event to session: %v", err)
			}
		}

		// Append barriers are a handshake with the flow, not conversation
		// steps; acknowledge them and keep them out of the caller's stream.
		if agentEvent.RequiresCompletion {
			if err := invocation.NotifyCompletion(agent.AppendNoticeKey(agentEvent.ID)); err != nil {
				log.Debugf("Append notice had no waiter: %v", err)
			}
			continue
		}

		replaced, err := r.plugins.RunOnEvent(ctx, invocation, agentEvent)
		if err != nil {
			runErr = err
			span.RecordError(err)
			errEvent := event.NewErrorEvent(
				invocation.InvocationID,
				invocation.AgentName,
				model.ErrorTypePluginError,
				err.Error(),
			)
			select {
			case out <- errEvent:
			case <-ctx.Done():
			}
			break
		}
		if replaced != nil {
			agentEvent = replaced
		}

		if agentEvent.Response != nil && agentEvent.Response.Error != nil {
			runErr = errors.New(agentEvent.Response.Error.Message)
		}
		select {
		case out <- agentEvent:
		case <-ctx.Done():
			runErr = ctx.Err()
			if err := r.plugins.RunAfterRun(ctx, invocation, runErr); err != nil {
				log.Errorf("After-run hook failed: %v", err)
			}
			return
		}
	}

	if err := r.plugins.RunAfterRun(ctx, invocation, runErr); err != nil {
		log.Errorf("After-run hook failed: %v", err)
	}
	if runErr != nil {
		return
	}

	// The completion marker is a stream terminator for the caller, not a
	// conversation step; it is never persisted.
	completion := r.newCompletionEvent(invocation.InvocationID)
	select {
	case out <- completion:
	case <-ctx.Done():
	}
}

func (r *Runner) newCompletionEvent(invocationID string) *event.Event {
	return &event.Event{
		Response: &model.Response{
			ID:      "runner-completion-" + uuid.New().String(),
			Object:  model.ObjectTypeRunnerCompletion,
			Created: time.Now().Unix(),
			Done:    true,
		},
		InvocationID: invocationID,
		Author:       r.appName,
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
	}
}

// isCompleteEvent reports whether an event should be persisted.
// Partial streaming chunks are forwarded but never appended.
func isCompleteEvent(evt *event.Event) bool {
	if evt.StateDelta != nil {
		return true
	}
	return evt.Response != nil && !evt.Response.IsPartial && evt.Response.Choices != nil
}

// RunLive starts a persistent duplex turn. The caller feeds input
// through the queue and must close it to end the conversation; closing
// the queue never errors the output stream. Events are persisted as a
// side effect without running the on-event hook, keeping live output
// latency independent of plugin round-trips.
func (r *Runner) RunLive(
	ctx context.Context,
	userID string,
	sessionID string,
	queue *agent.LiveRequestQueue,
	runOpts ...agent.RunOption,
) (<-chan *event.Event, error) {
	if queue == nil {
		return nil, errors.New("runner: live request queue is nil")
	}
	ctx, span := trace.Tracer.Start(ctx, itelemetry.SpanNamePrefixRunner+" live")
	fail := func(err error) (<-chan *event.Event, error) {
		span.RecordError(err)
		span.End()
		return nil, err
	}

	sess, invocation, err := r.prepareInvocation(ctx, userID, sessionID, model.Message{}, runOpts)
	if err != nil {
		return fail(err)
	}

	active := selectActiveAgent(r.agent, sess)
	invocation.Agent = active
	invocation.AgentName = active.Info().Name

	live, ok := active.(liveAgent)
	if !ok {
		return fail(fmt.Errorf("runner: agent %q does not support live mode", invocation.AgentName))
	}

	// Give every live-capable tool its own input stream so it can
	// consume continuous input independent of the main duplex queue.
	inputs := r.registerLiveToolInputs(active)
	invocation.LiveToolInputs = inputs

	// The agent consumes an internal queue; the fan-out goroutine copies
	// each caller request to it and mirrors blob payloads into the
	// per-tool streams.
	internal := agent.NewLiveRequestQueue()
	invocation.LiveRequestQueue = internal
	go fanOutLiveRequests(ctx, queue, internal, inputs)

	ctx = agent.NewInvocationContext(ctx, invocation)
	agentEventCh, err := live.RunLive(ctx, invocation)
	if err != nil {
		return fail(err)
	}

	out := make(chan *event.Event)
	go func() {
		defer span.End()
		defer close(out)
		defer closeLiveToolInputs(inputs)
		defer invocation.CleanupNotices()

		for agentEvent := range agentEventCh {
			if isCompleteEvent(agentEvent) {
				if err := r.sessionService.AppendEvent(ctx, sess, agentEvent); err != nil {
					log.Errorf("Failed to append live event to session: %v", err)
				}
			}
			if agentEvent.RequiresCompletion {
				if err := invocation.NotifyCompletion(agent.AppendNoticeKey(agentEvent.ID)); err != nil {
					log.Debugf("Append notice had no waiter: %v", err)
				}
				continue
			}
			select {
			case out <- agentEvent:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// registerLiveToolInputs builds one buffered input stream per tool that
// implements the live contract.
func (r *Runner) registerLiveToolInputs(active agent.Agent) map[string]*tool.Stream {
	inputs := make(map[string]*tool.Stream)
	for _, t := range active.Tools() {
		if _, ok := t.(tool.LiveTool); !ok {
			continue
		}
		decl := t.Declaration()
		if decl == nil || decl.Name == "" {
			continue
		}
		inputs[decl.Name] = tool.NewStream(liveBufferSize)
	}
	return inputs
}

// fanOutLiveRequests copies caller requests to the agent's queue and
// mirrors binary payloads into every registered live tool stream.
func fanOutLiveRequests(
	ctx context.Context,
	caller *agent.LiveRequestQueue,
	internal *agent.LiveRequestQueue,
	inputs map[string]*tool.Stream,
) {
	defer internal.Close()
	for {
		select {
		case req, ok := <-caller.Requests():
			if !ok {
				return
			}
			if req.Close {
				return
			}
			if len(req.Blob) > 0 {
				for _, s := range inputs {
					s.Writer.Send(tool.Chunk{
						Content:  req.Blob,
						Metadata: tool.ChunkMetadata{CreatedAt: time.Now()},
					}, nil)
				}
			}
			if !internal.Send(ctx, req) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func closeLiveToolInputs(inputs map[string]*tool.Stream) {
	for _, s := range inputs {
		s.Writer.Close()
	}
}
