// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridchat/grid-tui/internal/event"
	"github.com/gridchat/grid-tui/internal/jobs"
	"github.com/gridchat/grid-tui/internal/model"
	"github.com/gridchat/grid-tui/internal/sse"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrTurnInFlight rejects a submission while another turn is loading.
	ErrTurnInFlight = errors.New("a turn is already in flight")
	// ErrEmptyQuery rejects a submission with no query text.
	ErrEmptyQuery = errors.New("empty query")
)

// abortSuffix is appended to the partial answer of a cancelled turn;
// abortMarker stands alone when the turn was cancelled before any output.
const (
	abortSuffix = "...aborted"
	abortMarker = "`...aborted`"
)

// genericErrorText is shown in place of real errors when verbose-error
// display is off.
const genericErrorText = "Something went wrong."

// noResponseText is the fallback for a stream that ended with nothing.
const noResponseText = "Something went wrong. No response from the model."

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// ConversationLog is the append-only turn history for the active thread.
type ConversationLog interface {
	AppendTurn(turn model.Turn) error
	Turns() []model.Turn
}

// ThreadStore receives best-effort thread metadata updates.
type ThreadStore interface {
	UpdateThreadTitle(id, title string) error
}

// JobClient performs the side-effecting job operations.
type JobClient interface {
	CreateJob(ctx context.Context, definition json.RawMessage, marketKey string, timeoutMinutes float64) (*jobs.CreateResult, error)
	StopJob(ctx context.Context, jobID string) (*jobs.StopResult, error)
	ExtendJob(ctx context.Context, jobID string, minutes float64) (string, error)
}

// CredentialProvider gates job operations on a connected wallet or API key.
type CredentialProvider interface {
	Connected() bool
	Credential() string
	Ensure() error
}

// Settings is the per-turn configuration snapshot.
type Settings struct {
	Model         string
	Mode          string
	CustomPrompt  string
	Websearch     bool
	Thinking      bool
	VerboseErrors bool
	Sampling      SamplingConfig
	ExplorerURL   string
	DeployedModel *DeployedModel
}

// Deps are the engine's injected collaborators.
type Deps struct {
	// AskURL is the streaming chat endpoint.
	AskURL string
	// HTTPClient performs the streaming request; defaults to a client with
	// no timeout (stream lifetime is bounded by cancellation).
	HTTPClient *http.Client

	Log         ConversationLog
	Threads     ThreadStore
	Jobs        JobClient
	Validate    func(json.RawMessage) jobs.ValidationResult
	Credentials CredentialProvider
	Settings    func() Settings

	// Alert surfaces an immediate user-visible notice outside the
	// conversation log. Optional.
	Alert func(msg string)
	// OnStatus receives transient status-label updates. Optional.
	OnStatus func(label string)
	// OnFlush fires after each throttled buffer flush. Optional.
	OnFlush func()

	Logger *log.Logger
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine drives the request/response lifecycle of conversation turns.
// At most one turn is in flight at a time; SubmitTurn blocks until the turn
// completes, so callers run it from their own goroutine.
type Engine struct {
	deps      Deps
	throttler *Throttler

	mu            sync.Mutex
	inFlight      bool
	cancel        context.CancelFunc
	approval      Approval
	status        string
	threadID      string
	selectedModel string
}

// TurnOptions modify a single submission.
type TurnOptions struct {
	// ModelOverride forces the model for this turn only.
	ModelOverride string
	// ToolContinuation marks a synthesized tool-result turn; no user turn
	// is appended for it.
	ToolContinuation bool
}

// New creates an engine with the given collaborators.
func New(deps Deps) *Engine {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	e := &Engine{deps: deps}
	e.throttler = NewThrottler(DefaultFlushInterval, deps.OnFlush)
	return e
}

// Throttler exposes the streaming fragment state for the presentation layer.
func (e *Engine) Throttler() *Throttler { return e.throttler }

// InFlight reports whether a turn is loading.
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Status returns the transient status label.
func (e *Engine) Status() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// PendingCall returns a copy of the outstanding approval request, if any.
func (e *Engine) PendingCall() *PendingToolCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.approval.Pending == nil {
		return nil
	}
	call := *e.approval.Pending
	return &call
}

// ApprovalPhase returns the approval machine phase.
func (e *Engine) ApprovalPhase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.approval.Phase
}

// SetThread binds the engine to a persisted thread id ("" for a fresh
// conversation).
func (e *Engine) SetThread(id string) {
	e.mu.Lock()
	e.threadID = id
	e.mu.Unlock()
}

// SetModel selects the model for subsequent turns.
func (e *Engine) SetModel(id string) {
	e.mu.Lock()
	e.selectedModel = id
	e.mu.Unlock()
}

// CancelTurn aborts the in-flight network read, if any. The turn finalizes
// with an aborted record; a tool invocation already executing is not
// cancelled.
func (e *Engine) CancelTurn() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// setStatus updates the transient label and notifies the presentation layer.
func (e *Engine) setStatus(label string) {
	e.mu.Lock()
	e.status = label
	onStatus := e.deps.OnStatus
	e.mu.Unlock()
	if onStatus != nil {
		onStatus(label)
	}
}

// alert raises a user-visible notice when a sink is wired.
func (e *Engine) alert(msg string) {
	if e.deps.Alert != nil {
		e.deps.Alert(msg)
	}
}

// appendTurn commits a turn, logging append failures rather than surfacing
// them.
func (e *Engine) appendTurn(turn model.Turn) {
	if err := e.deps.Log.AppendTurn(turn); err != nil {
		e.deps.Logger.Printf("engine: append turn: %v", err)
	}
}

// =============================================================================
// TURN STATE
// =============================================================================

// turnState accumulates everything one in-flight turn produces.
type turnState struct {
	answer    strings.Builder
	fallback  strings.Builder
	reasoning strings.Builder

	searchResults []model.SearchResult
	followUps     []model.FollowUp
	responseTime  float64

	// modelID is the resolved model for this turn, carried for error turns.
	modelID string

	// errorEmitted is set when a stream error record already produced an
	// error turn; the no-response fallback must not double-emit.
	errorEmitted bool
	// done ends the record loop before stream close.
	done bool
}

// =============================================================================
// TURN SUBMISSION
// =============================================================================

// SubmitTurn runs one conversation turn to completion. It is rejected while
// another turn is in flight or when query is empty. The call blocks for the
// lifetime of the stream; cancel via CancelTurn or the context.
func (e *Engine) SubmitTurn(ctx context.Context, query string, opts TurnOptions) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrEmptyQuery
	}

	e.mu.Lock()
	if e.inFlight {
		e.mu.Unlock()
		return ErrTurnInFlight
	}
	e.inFlight = true
	turnCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.approval = Approval{}
	threadID := e.threadID
	selectedModel := e.selectedModel
	e.mu.Unlock()

	settings := e.deps.Settings()
	modelToSend := firstNonEmpty(opts.ModelOverride, selectedModel, settings.Model)

	chatID := uuid.NewString()
	if !opts.ToolContinuation {
		e.appendTurn(model.Turn{
			ID:        chatID,
			Role:      model.RoleUser,
			Status:    model.StatusMessage,
			Content:   query,
			Timestamp: time.Now(),
		})
	}
	e.throttler.Reset()

	// Unconditional cleanup: buffers cleared, state idle, status blank,
	// cancellation handle released.
	defer func() {
		cancel()
		e.throttler.Reset()
		e.mu.Lock()
		e.inFlight = false
		e.cancel = nil
		e.mu.Unlock()
		e.setStatus("")
	}()

	ts := &turnState{modelID: modelToSend}
	err := e.runStream(turnCtx, ts, query, modelToSend, chatID, threadID, settings)
	e.throttler.Flush()
	e.finalize(ts, err, modelToSend, threadID, settings)
	return nil
}

// runStream builds the request, opens the event stream and drives the
// framer/dispatcher loop to exhaustion.
func (e *Engine) runStream(ctx context.Context, ts *turnState, query, modelToSend, chatID, threadID string, settings Settings) error {
	reqBody := askRequest{
		Query:        query,
		Model:        modelToSend,
		Mode:         settings.Mode,
		CustomConfig: settings.Sampling,
		Chats:        e.historyWindow(),
		CustomPrompt: settings.CustomPrompt,
		Websearch:    settings.Websearch,
		Thinking:     settings.Thinking,
		ThreadID:     threadID,
		ChatID:       chatID,
	}
	if settings.Mode != "" && e.deps.Credentials.Connected() {
		reqBody.WalletPublicKey = e.deps.Credentials.Credential()
	}
	if settings.DeployedModel != nil {
		dm := *settings.DeployedModel
		if dm.Model == "" {
			dm.Model = modelToSend
		}
		reqBody.DeployedModel = &dm
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.deps.AskURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.deps.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return parseErrorResponse(resp.StatusCode, resp.Status, body)
	}

	parser := &sse.Parser{}
	buf := make([]byte, 4096)
	for !ts.done {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, rec := range parser.ProcessChunk(buf[:n]) {
				if err := e.handleEvent(ts, event.Decode(rec)); err != nil {
					return err
				}
				if ts.done {
					break
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return nil
			}
			return readErr
		}
	}
	return nil
}

// historyWindow reduces the recent conversation log to the transport shape.
func (e *Engine) historyWindow() []chatEntry {
	turns := e.deps.Log.Turns()
	if len(turns) > maxHistoryWindow {
		turns = turns[len(turns)-maxHistoryWindow:]
	}
	entries := make([]chatEntry, 0, len(turns))
	for _, t := range turns {
		entries = append(entries, chatEntry{
			Role:    t.Role.String(),
			Content: t.Content,
			Metadata: chatMeta{
				Status:    string(t.Status),
				ID:        t.ID,
				Reasoning: t.Reasoning,
				Model:     t.Model,
			},
		})
	}
	return entries
}

// =============================================================================
// EVENT DISPATCH
// =============================================================================

// handleEvent routes one decoded event into turn state. A returned error
// fails the whole turn; most failures are absorbed here instead.
func (e *Engine) handleEvent(ts *turnState, ev event.Event) error {
	switch ev := ev.(type) {
	case event.Thinking:
		ts.reasoning.WriteString(ev.Text)
		e.throttler.AppendReasoning(ev.Text)

	case event.Answer:
		if ev.Fallback {
			ts.fallback.WriteString(ev.Text)
		} else {
			ts.answer.WriteString(ev.Text)
		}
		e.throttler.AppendAnswer(ev.Text)

	case event.Status:
		e.setStatus(ev.Label)

	case event.ThreadTitle:
		e.updateThreadTitle(ev.Title)

	case event.SearchResults:
		ts.searchResults = ev.Results

	case event.StreamError:
		e.emitStreamError(ts, ev.Message)

	case event.ToolExecute:
		return e.proposeToolCall(ev.Call)

	case event.Duration:
		ts.responseTime = ev.Millis

	case event.FollowUps:
		ts.followUps = ev.Questions

	case event.Malformed:
		e.deps.Logger.Printf("engine: dropped malformed %q record: %s", ev.EventType, ev.Raw)

	case event.Unknown:
		// Unrecognized event types are ignored.
	}
	return nil
}

// updateThreadTitle requests a best-effort title update. It runs detached,
// never blocks the stream loop and cannot fail the turn; failures are only
// logged.
func (e *Engine) updateThreadTitle(title string) {
	e.mu.Lock()
	threadID := e.threadID
	e.mu.Unlock()
	if threadID == "" || e.deps.Threads == nil {
		return
	}
	go func() {
		if err := e.deps.Threads.UpdateThreadTitle(threadID, title); err != nil {
			e.deps.Logger.Printf("engine: update thread title: %v", err)
		}
	}()
}

// emitStreamError appends an error turn for an in-stream error record and
// terminates the turn immediately.
func (e *Engine) emitStreamError(ts *turnState, message string) {
	settings := e.deps.Settings()
	modelToSend := ts.modelID

	if settings.VerboseErrors {
		content := fmt.Sprintf(
			"An error occurred: in Response from %s... Expand to check full error message.",
			firstN(message, 50),
		)
		e.appendTurn(model.NewErrorTurn(content, "An error occurred: "+message, modelToSend))
	} else {
		e.appendTurn(model.NewErrorTurn(genericErrorText, "", modelToSend))
	}

	e.deps.Logger.Printf("engine: stream error: %s", message)
	ts.errorEmitted = true
	ts.done = true
}

// proposeToolCall validates the credential requirement and installs a
// pending approval request. Unsupported tools are logged and skipped.
func (e *Engine) proposeToolCall(call event.ToolCall) error {
	if !supportedTool(call.Name) {
		e.deps.Logger.Printf("engine: unknown tool name: %s", call.Name)
		return nil
	}

	if err := e.deps.Credentials.Ensure(); err != nil {
		return err
	}

	pending := PendingToolCall{
		Name:    call.Name,
		Heading: headingFor(call.Name),
		Prompt:  call.Prompt,
		Args:    call.Args,
	}

	e.mu.Lock()
	next, effects := e.approval.Step(Propose{Call: pending})
	e.approval = next
	e.mu.Unlock()

	for _, eff := range effects {
		if warn, ok := eff.(EffectWarnOverwrite); ok {
			e.deps.Logger.Printf("engine: pending tool call %s overwritten by %s", warn.Previous, warn.Next)
		}
	}
	return nil
}

// =============================================================================
// TURN FINALIZATION
// =============================================================================

// finalize commits the turn's terminal record: a model turn on normal
// completion, an aborted turn on cancellation, an error turn on failure.
func (e *Engine) finalize(ts *turnState, err error, modelToSend, threadID string, settings Settings) {
	if err != nil {
		if errors.Is(err, context.Canceled) {
			content := abortMarker
			if partial := ts.answer.String(); partial != "" {
				content = partial + "\n\n  " + abortSuffix
			}
			e.appendTurn(model.Turn{
				ID:        uuid.NewString(),
				Role:      model.RoleModel,
				Status:    model.StatusAborted,
				Content:   content,
				Reasoning: strings.TrimSpace(ts.reasoning.String()),
				Model:     modelToSend,
				Collapsed: true,
				Timestamp: time.Now(),
			})
			return
		}

		e.deps.Logger.Printf("engine: turn failed: %v", err)
		if settings.VerboseErrors {
			reasoning := err.Error()
			var reqErr *requestError
			if errors.As(err, &reqErr) && reqErr.reasoning != "" {
				reasoning = reqErr.reasoning
			}
			e.appendTurn(model.NewErrorTurn(err.Error(), reasoning, modelToSend))
		} else {
			e.appendTurn(model.NewErrorTurn(genericErrorText, "", modelToSend))
		}
		return
	}

	content := strings.TrimSpace(ts.answer.String() + ts.fallback.String())
	reasoning := ts.reasoning.String()
	if content != "" || strings.TrimSpace(reasoning) != "" {
		turn := model.NewModelTurn(content, modelToSend)
		turn.Reasoning = strings.TrimSpace(reasoning)
		turn.SearchResults = ts.searchResults
		turn.FollowUps = ts.followUps
		turn.ResponseTime = ts.responseTime
		turn.Collapsed = true
		e.appendTurn(turn)
		return
	}

	// Empty stream: emit the generic fallback only for an established
	// thread with verbose errors off; the verbose path already surfaced a
	// specific error turn when one occurred.
	if threadID != "" && !settings.VerboseErrors && !ts.errorEmitted {
		e.appendTurn(model.NewErrorTurn(noResponseText, "", modelToSend))
	}
}

// =============================================================================
// APPROVAL TRANSITIONS
// =============================================================================

// ConfirmPending approves the outstanding tool call, executes its effect and
// reports the outcome back to the conversation as a continuation turn. The
// pending call is cleared regardless of outcome.
func (e *Engine) ConfirmPending(ctx context.Context) {
	e.mu.Lock()
	next, effects := e.approval.Step(Confirm{})
	e.approval = next
	e.mu.Unlock()

	for _, eff := range effects {
		if exec, ok := eff.(EffectExecute); ok {
			e.executeTool(ctx, exec.Call)
		}
	}

	e.mu.Lock()
	e.approval, _ = e.approval.Step(Finished{})
	e.mu.Unlock()
}

// CancelPending declines the outstanding tool call and resumes the
// conversation with a cancellation continuation.
func (e *Engine) CancelPending(ctx context.Context) {
	e.mu.Lock()
	next, effects := e.approval.Step(Cancel{})
	e.approval = next
	e.mu.Unlock()

	for _, eff := range effects {
		if c, ok := eff.(EffectCancelContinuation); ok {
			e.deps.Logger.Printf("engine: cancelled tool call: %s", c.Call.Name)
			prompt := FollowBackPrompt(c.Call.Name, OutcomeCancelled, cancelledResult, nil)
			e.submitContinuation(ctx, prompt, CancelFollowUpModel)
		}
	}
}

// executeTool runs the approved side effect for one tool kind.
func (e *Engine) executeTool(ctx context.Context, call PendingToolCall) {
	e.deps.Logger.Printf("engine: executing tool: %s", call.Name)

	switch call.Name {
	case ToolCreateJob:
		e.executeCreateJob(ctx, call)

	case ToolStopJob:
		result, err := e.deps.Jobs.StopJob(ctx, call.Args.JobID)
		if err != nil {
			e.deps.Logger.Printf("engine: stopJob failed: %v", err)
			e.submitContinuation(ctx, FollowBackPrompt(call.Name, OutcomeFailed, err.Error(), nil), "")
			return
		}
		e.submitContinuation(ctx, FollowBackPrompt(call.Name, OutcomeApproved, result.Result, nil), "")

	case ToolExtendJob:
		minutes := call.Args.ExtensionSeconds / 60
		result, err := e.deps.Jobs.ExtendJob(ctx, call.Args.JobID, minutes)
		if err != nil {
			e.deps.Logger.Printf("engine: extendJobRuntime failed: %v", err)
			e.alert("❌ " + err.Error())
			e.submitContinuation(ctx, FollowBackPrompt(call.Name, OutcomeFailed, err.Error(), nil), "")
			return
		}
		summary := fmt.Sprintf("the job extended for %g minutes successfully with result: %s", minutes, result)
		e.submitContinuation(ctx, FollowBackPrompt(call.Name, OutcomeApproved, summary, nil), "")
	}
}

// executeCreateJob validates and deploys a job definition, then reports a
// structured result summary. Validation failures never reach the job client.
func (e *Engine) executeCreateJob(ctx context.Context, call PendingToolCall) {
	settings := e.deps.Settings()

	fail := func(err error) {
		e.deps.Logger.Printf("engine: createJob failed: %v", err)
		e.alert("❌ " + err.Error())
		result := "The tool failed with error: " + err.Error()
		e.submitContinuation(ctx, FollowBackPrompt(call.Name, OutcomeFailed, result, nil), "")
	}

	if v := e.deps.Validate(call.Prompt); !v.Success {
		fail(errors.New(v.Error()))
		return
	}

	result, err := e.deps.Jobs.CreateJob(ctx, call.Prompt, call.Args.MarketPubKey, call.Args.TimeoutSeconds/60)
	if err != nil {
		fail(err)
		return
	}

	explorerBase := settings.ExplorerURL
	if result.JobID == "" {
		e.alert(fmt.Sprintf(
			"consider checking job manually on the dashboard, something went wrong: no jobId returned %s",
			firstNonEmpty(explorerBase, jobs.DefaultExplorerURL),
		))
	}

	summary := NewJobResultSummary(
		result.JobID,
		jobs.ServiceURL(result.Result),
		jobs.ExplorerURL(explorerBase, result.Result, result.JobID),
		jobs.TestGenerationCurl(call.Args.Provider, call.Args.TestGeneration),
	)
	prompt := FollowBackPrompt(call.Name, OutcomeApproved, summary, call.Prompt)
	e.submitContinuation(ctx, prompt, "")
}

// submitContinuation feeds a synthesized tool-result turn back into the
// conversation. The triggering turn has already finished, so the in-flight
// guard admits it; a rejection can only mean user activity and is logged.
func (e *Engine) submitContinuation(ctx context.Context, prompt, modelOverride string) {
	err := e.SubmitTurn(ctx, prompt, TurnOptions{
		ModelOverride:    modelOverride,
		ToolContinuation: true,
	})
	if err != nil {
		e.deps.Logger.Printf("engine: tool continuation rejected: %v", err)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// firstN returns at most n runes of s.
func firstN(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
