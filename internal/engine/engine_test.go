// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gridchat/grid-tui/internal/jobs"
	"github.com/gridchat/grid-tui/internal/model"
)

// =============================================================================
// FAKES
// =============================================================================

type memLog struct {
	mu    sync.Mutex
	turns []model.Turn
}

func (l *memLog) AppendTurn(t model.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turns = append(l.turns, t)
	return nil
}

func (l *memLog) Turns() []model.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Turn(nil), l.turns...)
}

func (l *memLog) last(t *testing.T) model.Turn {
	t.Helper()
	turns := l.Turns()
	require.NotEmpty(t, turns)
	return turns[len(turns)-1]
}

type fakeThreads struct {
	mu     sync.Mutex
	titles map[string]string
}

func (f *fakeThreads) UpdateThreadTitle(id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.titles == nil {
		f.titles = make(map[string]string)
	}
	f.titles[id] = title
	return nil
}

type fakeJobs struct {
	mu          sync.Mutex
	createCalls int
	createRes   *jobs.CreateResult
	createErr   error
	stopRes     *jobs.StopResult
	stopErr     error
	extendRes   string
	extendErr   error
}

func (f *fakeJobs) CreateJob(_ context.Context, _ json.RawMessage, _ string, _ float64) (*jobs.CreateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	return f.createRes, f.createErr
}

func (f *fakeJobs) StopJob(context.Context, string) (*jobs.StopResult, error) {
	return f.stopRes, f.stopErr
}

func (f *fakeJobs) ExtendJob(context.Context, string, float64) (string, error) {
	return f.extendRes, f.extendErr
}

func (f *fakeJobs) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

type fakeCreds struct {
	connected bool
	ensureErr error
}

func (f *fakeCreds) Connected() bool    { return f.connected }
func (f *fakeCreds) Credential() string { return "wallet-key" }
func (f *fakeCreds) Ensure() error      { return f.ensureErr }

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	engine  *Engine
	log     *memLog
	threads *fakeThreads
	jobs    *fakeJobs
	creds   *fakeCreds
	server  *httptest.Server

	mu       sync.Mutex
	requests []askRequest
	alerts   []string
	settings Settings
}

func (h *harness) requestCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.requests)
}

func (h *harness) request(i int) askRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.requests[i]
}

// newHarness wires an engine to a test server. handler receives the decoded
// request plus a flushing SSE writer.
func newHarness(t *testing.T, handler func(h *harness, req askRequest, w http.ResponseWriter)) *harness {
	t.Helper()
	h := &harness{
		log:     &memLog{},
		threads: &fakeThreads{},
		jobs:    &fakeJobs{},
		creds:   &fakeCreds{connected: true},
		settings: Settings{
			Model:         "test-model",
			Mode:          "deployer",
			VerboseErrors: true,
			Sampling:      DefaultSampling(),
		},
	}

	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		h.mu.Lock()
		h.requests = append(h.requests, req)
		h.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		handler(h, req, w)
	}))
	t.Cleanup(h.server.Close)

	h.engine = New(Deps{
		AskURL:      h.server.URL,
		HTTPClient:  h.server.Client(),
		Log:         h.log,
		Threads:     h.threads,
		Jobs:        h.jobs,
		Validate:    jobs.ValidateDefinition,
		Credentials: h.creds,
		Settings: func() Settings {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.settings
		},
		Alert: func(msg string) {
			h.mu.Lock()
			h.alerts = append(h.alerts, msg)
			h.mu.Unlock()
		},
	})
	return h
}

// sendEvent writes one SSE block and flushes it to the client.
func sendEvent(w http.ResponseWriter, event, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// =============================================================================
// ORCHESTRATOR TESTS
// =============================================================================

func TestTurnCommitsModelTurn(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "thinking", `"Let me think. "`)
		sendEvent(w, "llmResult", `"Hello"`)
		sendEvent(w, "llmResult", `" world"`)
		sendEvent(w, "searchResult", `[{"url":"https://docs.example","title":"Docs"}]`)
		sendEvent(w, "Duration", `123.5`)
		sendEvent(w, "followUp", `[{"question":"Deploy another?"}]`)
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "deploy a model", TurnOptions{}))

	turns := h.log.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, model.RoleUser, turns[0].Role)
	require.Equal(t, "deploy a model", turns[0].Content)

	mt := turns[1]
	require.Equal(t, model.RoleModel, mt.Role)
	require.Equal(t, model.StatusMessage, mt.Status)
	require.Equal(t, "Hello world", mt.Content)
	require.Equal(t, "Let me think.", mt.Reasoning)
	require.Equal(t, "test-model", mt.Model)
	require.InDelta(t, 123.5, mt.ResponseTime, 0.001)
	require.True(t, mt.Collapsed)
	require.Len(t, mt.SearchResults, 1)
	require.Equal(t, "Docs", mt.SearchResults[0].Title)
	require.Len(t, mt.FollowUps, 1)
	require.Equal(t, "Deploy another?", mt.FollowUps[0].Question)

	require.False(t, h.engine.InFlight())
	require.Empty(t, h.engine.Status())
}

func TestRequestBodyShape(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "llmResult", `"ok"`)
	})
	h.engine.SetThread("thread-7")

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}))

	req := h.request(0)
	require.Equal(t, "hello", req.Query)
	require.Equal(t, "test-model", req.Model)
	require.Equal(t, "deployer", req.Mode)
	require.Equal(t, "wallet-key", req.WalletPublicKey)
	require.Equal(t, "thread-7", req.ThreadID)
	require.NotEmpty(t, req.ChatID)
	require.InDelta(t, 0.7, req.CustomConfig.Temperature, 0.001)
	require.Equal(t, "end", req.CustomConfig.Context.TruncateFrom)

	// The user turn is visible in the history window of the next request.
	require.NoError(t, h.engine.SubmitTurn(context.Background(), "again", TurnOptions{}))
	second := h.request(1)
	require.NotEmpty(t, second.Chats)
	require.Equal(t, "hello", second.Chats[0].Content)
	require.Equal(t, "user", second.Chats[0].Role)
	require.Equal(t, "message", second.Chats[0].Metadata.Status)
}

func TestEmptyQueryRejected(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {})

	require.ErrorIs(t, h.engine.SubmitTurn(context.Background(), "   ", TurnOptions{}), ErrEmptyQuery)
	require.Zero(t, h.requestCount())
	require.Empty(t, h.log.Turns())
}

func TestInFlightGuard(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "llmResult", `"started"`)
		<-release
	})

	done := make(chan error, 1)
	go func() { done <- h.engine.SubmitTurn(context.Background(), "first", TurnOptions{}) }()

	require.Eventually(t, h.engine.InFlight, time.Second, 5*time.Millisecond)
	before := len(h.log.Turns())

	require.ErrorIs(t, h.engine.SubmitTurn(context.Background(), "second", TurnOptions{}), ErrTurnInFlight)
	require.Len(t, h.log.Turns(), before)
	require.Equal(t, 1, h.requestCount())

	close(release)
	require.NoError(t, <-done)
}

func TestValidationErrorAggregation(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": "[{\"message\":\"bad\",\"path\":[\"model\"],\"code\":\"invalid\"}]"}`)
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}))

	turns := h.log.Turns()
	require.Len(t, turns, 2)
	et := turns[1]
	require.Equal(t, model.StatusError, et.Status)
	require.Equal(t, "bad", et.Content)
	require.Contains(t, et.Reasoning, "model: bad [invalid]")
}

func TestTerseErrorHidesDetail(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"kaboom"}`)
	})
	h.mu.Lock()
	h.settings.VerboseErrors = false
	h.mu.Unlock()

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}))

	et := h.log.last(t)
	require.Equal(t, model.StatusError, et.Status)
	require.Equal(t, genericErrorText, et.Content)
	require.NotContains(t, et.Content, "kaboom")
}

func TestCancelMidStream(t *testing.T) {
	blocked := make(chan struct{})
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "llmResult", `"Hello wor"`)
		<-blocked
	})
	defer close(blocked)

	done := make(chan error, 1)
	go func() { done <- h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}) }()

	require.Eventually(t, func() bool {
		_, answer := h.engine.Throttler().Snapshot()
		return len(answer) > 0
	}, time.Second, 5*time.Millisecond)

	h.engine.CancelTurn()
	require.NoError(t, <-done)

	turns := h.log.Turns()
	require.Len(t, turns, 2)
	at := turns[1]
	require.Equal(t, model.StatusAborted, at.Status)
	require.Equal(t, "Hello wor\n\n  "+abortSuffix, at.Content)
	require.True(t, strings.HasSuffix(at.Content, abortSuffix))
	require.False(t, h.engine.InFlight())
}

func TestCancelBeforeOutputUsesBareMarker(t *testing.T) {
	blocked := make(chan struct{})
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "thinking", `"mulling it over"`)
		<-blocked
	})
	defer close(blocked)

	done := make(chan error, 1)
	go func() { done <- h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}) }()

	require.Eventually(t, h.engine.InFlight, time.Second, 5*time.Millisecond)
	h.engine.CancelTurn()
	require.NoError(t, <-done)

	at := h.log.last(t)
	require.Equal(t, model.StatusAborted, at.Status)
	require.Equal(t, abortMarker, at.Content)
}

func TestStreamErrorEndsTurn(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "error", `{"message":"model exploded spectacularly with a very long diagnostic message attached"}`)
		// Anything after the error record must not matter.
		sendEvent(w, "llmResult", `"ignored"`)
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}))

	turns := h.log.Turns()
	require.Len(t, turns, 2)
	et := turns[1]
	require.Equal(t, model.StatusError, et.Status)
	require.Contains(t, et.Content, "model exploded spectacularly")
	require.Contains(t, et.Content, "Expand to check full error message")
	require.Contains(t, et.Reasoning, "very long diagnostic message")
}

func TestThreadTitleUpdate(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "threadTitle", `"GPU deployment chat"`)
		sendEvent(w, "llmResult", `"done"`)
	})
	h.engine.SetThread("thread-9")

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}))

	require.Eventually(t, func() bool {
		h.threads.mu.Lock()
		defer h.threads.mu.Unlock()
		return h.threads.titles["thread-9"] == "GPU deployment chat"
	}, time.Second, 5*time.Millisecond)
}

func TestLLMResultFallbackKeepsRawText(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "llmResult", `not {valid json`)
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}))

	mt := h.log.last(t)
	require.Equal(t, model.StatusMessage, mt.Status)
	require.Equal(t, "not {valid json", mt.Content)
}

// =============================================================================
// TOOL APPROVAL TESTS
// =============================================================================

const validJobDef = `{"version":"0.1","type":"container","ops":[{"type":"container/run","id":"serve","args":{"image":"ghcr.io/acme/tgi"}}]}`

func toolExecuteData(name, prompt string, args string) string {
	return fmt.Sprintf(`{"toolname":%q,"prompt":%s,"args":%s}`, name, prompt, args)
}

func TestUnknownToolIgnored(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "toolExecute", toolExecuteData("weirdTool", `{}`, `{}`))
		sendEvent(w, "llmResult", `"ok"`)
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}))

	require.Nil(t, h.engine.PendingCall())
	require.Equal(t, PhaseIdle, h.engine.ApprovalPhase())
	require.Equal(t, "ok", h.log.last(t).Content)
}

func TestToolExecuteInstallsPendingCall(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "toolExecute", toolExecuteData(ToolCreateJob, validJobDef,
			`{"marketPubKey":"market-1","timeoutSeconds":1800,"provider":"huggingface","testGeneration":true}`))
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "deploy it", TurnOptions{}))

	call := h.engine.PendingCall()
	require.NotNil(t, call)
	require.Equal(t, ToolCreateJob, call.Name)
	require.Equal(t, "JOB definition confirmation", call.Heading)
	require.Equal(t, "market-1", call.Args.MarketPubKey)
	require.Equal(t, PhaseAwaiting, h.engine.ApprovalPhase())
}

func TestToolExecuteStringEncodedPayload(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		// The backend ships the tool payload as a JSON string holding JSON.
		inner := toolExecuteData(ToolCreateJob, validJobDef, `{"marketPubKey":"market-1"}`)
		wrapped, err := json.Marshal(inner)
		require.NoError(t, err)
		sendEvent(w, "toolExecute", string(wrapped))
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "deploy it", TurnOptions{}))

	call := h.engine.PendingCall()
	require.NotNil(t, call)
	require.Equal(t, ToolCreateJob, call.Name)
	require.Equal(t, "market-1", call.Args.MarketPubKey)
	require.Equal(t, PhaseAwaiting, h.engine.ApprovalPhase())
}

func TestConfirmCreateJobSuccess(t *testing.T) {
	h := newHarness(t, func(h *harness, req askRequest, w http.ResponseWriter) {
		if h.requestCount() == 1 {
			sendEvent(w, "toolExecute", toolExecuteData(ToolCreateJob, validJobDef,
				`{"marketPubKey":"market-1","timeoutSeconds":1800,"provider":"huggingface","testGeneration":true}`))
			return
		}
		sendEvent(w, "llmResult", `"job is live"`)
	})
	h.jobs.createRes = &jobs.CreateResult{
		JobID:  "job-42",
		Result: json.RawMessage(`{"jobDetails":{"serviceUrl":"https://svc.example"}}`),
	}

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "deploy it", TurnOptions{}))
	h.engine.ConfirmPending(context.Background())

	require.Equal(t, 1, h.jobs.creates())
	require.Nil(t, h.engine.PendingCall())
	require.Equal(t, PhaseIdle, h.engine.ApprovalPhase())

	// The continuation request carries the result summary and no user turn.
	require.Equal(t, 2, h.requestCount())
	cont := h.request(1)
	require.Contains(t, cont.Query, "status: "+OutcomeApproved)
	require.Contains(t, cont.Query, "job-42")
	require.Contains(t, cont.Query, "https://svc.example")
	require.Contains(t, cont.Query, "curl -s -X POST")

	turns := h.log.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "job is live", turns[1].Content)
}

func TestConfirmCreateJobValidationFailure(t *testing.T) {
	h := newHarness(t, func(h *harness, req askRequest, w http.ResponseWriter) {
		if h.requestCount() == 1 {
			sendEvent(w, "toolExecute", toolExecuteData(ToolCreateJob, `{"type":"bogus"}`,
				`{"marketPubKey":"market-1","timeoutSeconds":1800}`))
			return
		}
		sendEvent(w, "llmResult", `"understood"`)
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "deploy it", TurnOptions{}))
	require.NotNil(t, h.engine.PendingCall())

	h.engine.ConfirmPending(context.Background())

	// The job client is never reached; the failure goes back as a
	// continuation and the pending call is cleared.
	require.Zero(t, h.jobs.creates())
	require.Nil(t, h.engine.PendingCall())

	require.Equal(t, 2, h.requestCount())
	cont := h.request(1)
	require.Contains(t, cont.Query, "status: "+OutcomeFailed)
	require.Contains(t, cont.Query, "invalid job definition")

	h.mu.Lock()
	alerts := append([]string(nil), h.alerts...)
	h.mu.Unlock()
	require.NotEmpty(t, alerts)
	require.Contains(t, alerts[0], "invalid job definition")
}

func TestCancelPendingToolCall(t *testing.T) {
	h := newHarness(t, func(h *harness, req askRequest, w http.ResponseWriter) {
		if h.requestCount() == 1 {
			sendEvent(w, "toolExecute", toolExecuteData(ToolStopJob, `{}`, `{"jobId":"job-42"}`))
			return
		}
		sendEvent(w, "llmResult", `"okay, leaving it running"`)
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "stop my job", TurnOptions{}))
	h.engine.CancelPending(context.Background())

	require.Nil(t, h.engine.PendingCall())
	require.Equal(t, 2, h.requestCount())

	cont := h.request(1)
	require.Contains(t, cont.Query, "status: "+OutcomeCancelled)
	require.Equal(t, CancelFollowUpModel, cont.Model)
}

func TestExtendJobConvertsSecondsToMinutes(t *testing.T) {
	h := newHarness(t, func(h *harness, req askRequest, w http.ResponseWriter) {
		if h.requestCount() == 1 {
			sendEvent(w, "toolExecute", toolExecuteData(ToolExtendJob, `{}`,
				`{"jobId":"job-42","extensionSeconds":600}`))
			return
		}
		sendEvent(w, "llmResult", `"extended"`)
	})
	h.jobs.extendRes = "tx-abc"

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "extend my job", TurnOptions{}))
	h.engine.ConfirmPending(context.Background())

	cont := h.request(1)
	require.Contains(t, cont.Query, "status: "+OutcomeApproved)
	require.Contains(t, cont.Query, "extended for 10 minutes")
	require.Contains(t, cont.Query, "tx-abc")
}

func TestContinuationSkipsUserTurn(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		sendEvent(w, "llmResult", `"ack"`)
	})

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "tool result payload", TurnOptions{ToolContinuation: true}))

	turns := h.log.Turns()
	require.Len(t, turns, 1)
	require.Equal(t, model.RoleModel, turns[0].Role)
	require.Equal(t, "ack", turns[0].Content)
}

func TestNoResponseFallback(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {
		// Stream closes without producing anything.
	})
	h.mu.Lock()
	h.settings.VerboseErrors = false
	h.mu.Unlock()
	h.engine.SetThread("thread-3")

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}))

	et := h.log.last(t)
	require.Equal(t, model.StatusError, et.Status)
	require.Equal(t, noResponseText, et.Content)
}

func TestNoResponseFallbackSuppressedWithoutThread(t *testing.T) {
	h := newHarness(t, func(_ *harness, _ askRequest, w http.ResponseWriter) {})
	h.mu.Lock()
	h.settings.VerboseErrors = false
	h.mu.Unlock()

	require.NoError(t, h.engine.SubmitTurn(context.Background(), "hello", TurnOptions{}))

	turns := h.log.Turns()
	require.Len(t, turns, 1)
	require.Equal(t, model.RoleUser, turns[0].Role)
}
