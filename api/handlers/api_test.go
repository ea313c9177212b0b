package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BaSui01/agentcircle/agent/conversation"
	"github.com/BaSui01/agentcircle/agent/embedding"
	"github.com/BaSui01/agentcircle/agent/invoker"
	"github.com/BaSui01/agentcircle/agent/library"
	"github.com/BaSui01/agentcircle/agent/mailbox"
	"github.com/BaSui01/agentcircle/agent/memory"
	"github.com/BaSui01/agentcircle/agent/notify"
	"github.com/BaSui01/agentcircle/agent/persistence"
	"github.com/BaSui01/agentcircle/agent/runtime"
	"github.com/BaSui01/agentcircle/agent/scheduler"
	"github.com/BaSui01/agentcircle/agent/tools"
	"github.com/BaSui01/agentcircle/internal/clock"
	"github.com/BaSui01/agentcircle/types"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// =============================================================================
// 🧪 测试辅助
// =============================================================================

type testAPI struct {
	mux      *http.ServeMux
	rt       *runtime.Runtime
	clock    *clock.Mock
	mailbox  *mailbox.MemoryMailbox
	notices  *notify.Recorder
	library  *library.GormLibrary
	embedder *embedding.HashEmbedder
	turns    chan conversation.TurnReport
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	kv := persistence.NewMemoryKV()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	require.NoError(t, err)
	lib, err := library.NewGormLibrary(db, memory.DefaultSimilarityFloor, nil)
	require.NoError(t, err)

	api := &testAPI{
		clock:    clock.NewMock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)),
		mailbox:  mailbox.NewMemoryMailbox(nil),
		notices:  notify.NewRecorder(10),
		library:  lib,
		embedder: embedding.NewHashEmbedder(64, nil),
		turns:    make(chan conversation.TurnReport, 8),
	}
	registry := conversation.NewRegistry(ctx, kv, nil)
	sessions := scheduler.NewKVStore(kv, nil)
	rt, err := runtime.New(runtime.Dependencies{
		Registry:  registry,
		Store:     conversation.NewStore(ctx, kv, nil),
		Engine:    memory.NewEngine(memory.NewInMemoryStore(memory.InMemoryStoreConfig{}, nil), memory.DefaultEngineConfig(), nil),
		Embedder:  api.embedder,
		Mailbox:   api.mailbox,
		Library:   lib,
		Notifier:  api.notices,
		Policy:    tools.NewPolicy(registry, nil, nil),
		Invoker:   &invoker.StaticInvoker{Replies: []string{"Ciao a tutti."}},
		Templates: scheduler.NewTemplateBook(sessions, nil),
		Sessions:  sessions,
		Clock:     api.clock,
	}, runtime.DefaultConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, rt.Start(ctx))
	t.Cleanup(rt.Shutdown)
	rt.OnTurn(func(r conversation.TurnReport) { api.turns <- r })

	api.rt = rt
	api.mux = NewRouter(rt, nil, nil, NewNotificationHandler(api.notices))
	return api
}

func (a *testAPI) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, req)

	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w, resp
}

// decode re-encodes resp.Data into out.
func decode(t *testing.T, resp Response, out any) {
	t.Helper()
	raw, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func (a *testAPI) seedAgents(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		w, _ := a.do(t, http.MethodPost, "/api/v1/agents", CreateAgentRequest{
			ID: id, Name: id + "-name", Backend: "static:echo",
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}
}

func (a *testAPI) waitTurn(t *testing.T) conversation.TurnReport {
	t.Helper()
	select {
	case r := <-a.turns:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a turn")
		return conversation.TurnReport{}
	}
}

// =============================================================================
// 🧪 Agents
// =============================================================================

func TestAgentAPI(t *testing.T) {
	api := newTestAPI(t)

	w, resp := api.do(t, http.MethodPost, "/api/v1/agents", CreateAgentRequest{
		ID: "nova", Name: "Nova", Backend: "openai:gpt-4o-mini",
		Deny: []string{string(types.ToolContactOperator)},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created AgentInfo
	decode(t, resp, &created)
	assert.Equal(t, "nova", created.ID)
	assert.NotContains(t, created.Tools, types.ToolContactOperator)

	w, resp = api.do(t, http.MethodPost, "/api/v1/agents", CreateAgentRequest{ID: "nova2", Name: "Nova"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrAlreadyExists), resp.Error.Code)

	_, resp = api.do(t, http.MethodGet, "/api/v1/agents", nil)
	var list []AgentInfo
	decode(t, resp, &list)
	require.Len(t, list, 1)

	w, resp = api.do(t, http.MethodPatch, "/api/v1/agents/nova", UpdateAgentRequest{Persona: "Poetessa"})
	require.Equal(t, http.StatusOK, w.Code)
	var updated AgentInfo
	decode(t, resp, &updated)
	assert.Equal(t, "Poetessa", updated.Persona)
	assert.Equal(t, "openai:gpt-4o-mini", updated.Backend)

	w, _ = api.do(t, http.MethodGet, "/api/v1/agents/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// new agents join the common room
	conv, ok := api.rt.Deps().Store.Get(types.CommonRoomID)
	require.True(t, ok)
	assert.Contains(t, conv.Participants, "nova")
}

func TestAgentAPI_RejectsBadBodies(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents", bytes.NewBufferString(`{"id":"x"}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	api.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := api.do(t, http.MethodPost, "/api/v1/agents", map[string]string{"id": "x", "colour": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)

	w, _ = api.do(t, http.MethodPost, "/api/v1/agents", CreateAgentRequest{ID: "user", Name: "User"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMailboxAPI(t *testing.T) {
	api := newTestAPI(t)
	api.seedAgents(t, "nova", "sol")

	_, err := api.mailbox.Deliver(context.Background(), types.Mail{From: "sol", To: "nova", Body: "ciao"})
	require.NoError(t, err)

	w, resp := api.do(t, http.MethodGet, "/api/v1/mailbox/nova", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var mail []types.Mail
	decode(t, resp, &mail)
	require.Len(t, mail, 1)
	assert.Equal(t, "ciao", mail[0].Body)

	w, resp = api.do(t, http.MethodGet, "/api/v1/mailbox/sol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, resp, &mail)
	assert.Empty(t, mail)

	w, _ = api.do(t, http.MethodGet, "/api/v1/mailbox/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// 🧪 Conversations & orchestrator
// =============================================================================

func TestConversationAPI(t *testing.T) {
	api := newTestAPI(t)
	api.seedAgents(t, "nova", "sol")

	w, resp := api.do(t, http.MethodPost, "/api/v1/conversations", CreateConversationRequest{
		ID: "salotto", Title: "Salotto", Participants: []string{"nova", "ghost"},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(types.ErrNotFound), resp.Error.Code)

	w, _ = api.do(t, http.MethodPost, "/api/v1/conversations", CreateConversationRequest{
		ID: "salotto", Title: "Salotto", Participants: []string{"nova"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp = api.do(t, http.MethodPost, "/api/v1/conversations/salotto/participants", AddParticipantRequest{AgentID: "sol"})
	require.Equal(t, http.StatusOK, w.Code)
	var info ConversationInfo
	decode(t, resp, &info)
	assert.Equal(t, []string{"nova", "sol"}, info.Participants)

	_, resp = api.do(t, http.MethodGet, "/api/v1/conversations", nil)
	var list []ConversationInfo
	decode(t, resp, &list)
	assert.Len(t, list, 2) // common room + salotto

	w, resp = api.do(t, http.MethodPost, "/api/v1/conversations/salotto/messages", PostMessageRequest{Text: "Buongiorno"})
	require.Equal(t, http.StatusCreated, w.Code)
	var msg types.Message
	decode(t, resp, &msg)
	assert.Equal(t, types.SenderUser, msg.Sender)

	w, _ = api.do(t, http.MethodPost, "/api/v1/conversations/salotto/messages", PostMessageRequest{Text: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, resp = api.do(t, http.MethodGet, "/api/v1/conversations/salotto/messages?limit=10", nil)
	var msgs []types.Message
	decode(t, resp, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Buongiorno", msgs[0].Text)

	w, _ = api.do(t, http.MethodGet, "/api/v1/conversations/ghost/messages", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestOrchestratorAPI(t *testing.T) {
	api := newTestAPI(t)
	api.seedAgents(t, "nova", "sol")

	w, resp := api.do(t, http.MethodPost, "/api/v1/orchestrator/play", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrInvalidTransition), resp.Error.Code)

	w, resp = api.do(t, http.MethodPost, "/api/v1/conversations/common/bind", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status conversation.Status
	decode(t, resp, &status)
	assert.Equal(t, types.CommonRoomID, status.ConversationID)
	assert.Equal(t, conversation.StateAutoWaiting, status.State)

	_, resp = api.do(t, http.MethodPost, "/api/v1/orchestrator/auto", nil)
	decode(t, resp, &status)
	assert.Equal(t, conversation.StateManualWaiting, status.State)

	_, resp = api.do(t, http.MethodPost, "/api/v1/orchestrator/play", nil)
	decode(t, resp, &status)
	assert.Equal(t, conversation.StateContinuousPlaying, status.State)

	_, resp = api.do(t, http.MethodPost, "/api/v1/orchestrator/continuous", ContinuousRequest{On: false})
	decode(t, resp, &status)
	assert.Equal(t, conversation.StateManualWaiting, status.State)

	w, resp = api.do(t, http.MethodPost, "/api/v1/orchestrator/force/ghost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrUnknownParticipant), resp.Error.Code)

	w, _ = api.do(t, http.MethodPost, "/api/v1/orchestrator/force/sol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := api.waitTurn(t)
	assert.Equal(t, "sol", report.AgentID)
	assert.Equal(t, conversation.TriggerForce, report.Trigger)
	require.NoError(t, report.Err)

	msgs := api.rt.Deps().Store.Messages(types.CommonRoomID, 0)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "sol", msgs[len(msgs)-1].Sender)

	_, resp = api.do(t, http.MethodGet, "/api/v1/orchestrator", nil)
	decode(t, resp, &status)
	assert.False(t, status.Busy)
}

// =============================================================================
// 🧪 Templates & sessions
// =============================================================================

func TestTemplateAPI(t *testing.T) {
	api := newTestAPI(t)

	_, resp := api.do(t, http.MethodGet, "/api/v1/templates", nil)
	var defaults []types.Template
	decode(t, resp, &defaults)
	assert.NotEmpty(t, defaults)

	w, resp := api.do(t, http.MethodPost, "/api/v1/templates", CreateTemplateRequest{Title: "Sogni", Prompt: "Parlate dei vostri sogni."})
	require.Equal(t, http.StatusCreated, w.Code)
	var created types.Template
	decode(t, resp, &created)
	assert.Equal(t, types.SenderUser, created.ProposedBy)

	w, _ = api.do(t, http.MethodPost, "/api/v1/templates", CreateTemplateRequest{Title: "Vuoto"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.do(t, http.MethodDelete, "/api/v1/templates/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = api.do(t, http.MethodDelete, "/api/v1/templates/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionAPI_Lifecycle(t *testing.T) {
	api := newTestAPI(t)
	api.seedAgents(t, "nova", "sol")
	base := "/api/v1/conversations/common/sessions"

	w, resp := api.do(t, http.MethodPost, base, CreateSessionRequest{ScheduleRequest: scheduler.ScheduleRequest{
		TemplateID: "x", CustomPrompt: "y", DurationMinutes: 5,
	}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)

	w, resp = api.do(t, http.MethodPost, base, CreateSessionRequest{ScheduleRequest: scheduler.ScheduleRequest{
		CustomPrompt:    "Che cos'è la gentilezza?",
		ScheduledAt:     api.clock.Now().Add(time.Hour),
		DurationMinutes: 10,
	}})
	require.Equal(t, http.StatusCreated, w.Code)
	var first types.ScheduledSession
	decode(t, resp, &first)
	assert.Equal(t, types.SessionScheduled, first.Status)

	// 未绑定的会话不能开始
	w, resp = api.do(t, http.MethodPost, base+"/"+first.ID+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrNoActiveSession), resp.Error.Code)
	w, resp = api.do(t, http.MethodPost, base, CreateSessionRequest{
		ScheduleRequest: scheduler.ScheduleRequest{CustomPrompt: "subito", DurationMinutes: 5},
		StartNow:        true,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrNoActiveSession), resp.Error.Code)
	_, resp = api.do(t, http.MethodGet, base, nil)
	var before SessionOverview
	decode(t, resp, &before)
	assert.Nil(t, before.Active)

	w, _ = api.do(t, http.MethodPost, "/api/v1/conversations/common/bind", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = api.do(t, http.MethodPost, base+"/"+first.ID+"/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var started types.ScheduledSession
	decode(t, resp, &started)
	assert.Equal(t, types.SessionRunning, started.Status)

	msgs := api.rt.Deps().Store.Messages(types.CommonRoomID, 0)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "Che cos'è la gentilezza?", msgs[len(msgs)-1].Text)

	w, resp = api.do(t, http.MethodPost, base, CreateSessionRequest{
		ScheduleRequest: scheduler.ScheduleRequest{CustomPrompt: "altro", DurationMinutes: 5},
		StartNow:        true,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrSessionRunning), resp.Error.Code)

	_, resp = api.do(t, http.MethodGet, base, nil)
	var overview SessionOverview
	decode(t, resp, &overview)
	require.NotNil(t, overview.Active)
	assert.Equal(t, first.ID, overview.Active.ID)
	assert.Equal(t, 600, overview.RemainingSeconds)

	w, resp = api.do(t, http.MethodPost, base+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stopped types.ScheduledSession
	decode(t, resp, &stopped)
	assert.Equal(t, types.SessionCompleted, stopped.Status)

	w, resp = api.do(t, http.MethodPost, base+"/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrNoActiveSession), resp.Error.Code)

	w, resp = api.do(t, http.MethodPost, base+"/"+first.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(types.ErrInvalidTransition), resp.Error.Code)

	w, _ = api.do(t, http.MethodGet, "/api/v1/conversations/ghost/sessions", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionAPI_Cancel(t *testing.T) {
	api := newTestAPI(t)
	base := "/api/v1/conversations/common/sessions"

	_, resp := api.do(t, http.MethodPost, base, CreateSessionRequest{ScheduleRequest: scheduler.ScheduleRequest{
		TemplateID:      "missing-template",
		ScheduledAt:     api.clock.Now().Add(time.Hour),
		DurationMinutes: 15,
	}})
	var sess types.ScheduledSession
	decode(t, resp, &sess)

	w, resp := api.do(t, http.MethodPost, base+"/"+sess.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, resp, &sess)
	assert.Equal(t, types.SessionCancelled, sess.Status)
	assert.NotNil(t, sess.CompletedAt)

	w, _ = api.do(t, http.MethodPost, base+"/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// 🧪 Library
// =============================================================================

func TestLibraryAPI(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()

	for _, doc := range []struct{ title, body string }{
		{"Il mare", "onde sale vento mare"},
		{"La montagna", "neve roccia silenzio vetta"},
	} {
		vec, err := api.embedder.Embed(ctx, doc.body)
		require.NoError(t, err)
		_, err = api.library.Save(ctx, types.LibraryDocument{Title: doc.title, Body: doc.body, AuthorID: "nova", Embedding: vec})
		require.NoError(t, err)
	}

	w, resp := api.do(t, http.MethodGet, "/api/v1/library?q=onde+sale+vento+mare&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hits []library.SearchResult
	decode(t, resp, &hits)
	require.Len(t, hits, 1)
	assert.Equal(t, "Il mare", hits[0].Document.Title)
	assert.Greater(t, hits[0].Similarity, 0.9)

	_, resp = api.do(t, http.MethodGet, "/api/v1/library", nil)
	decode(t, resp, &hits)
	assert.Len(t, hits, 2)
}

func TestNotificationAPI(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	for _, body := range []string{"primo", "secondo", "terzo"} {
		require.NoError(t, api.notices.Notify(ctx, types.Notification{From: "nova", Body: body}))
	}

	w, resp := api.do(t, http.MethodGet, "/api/v1/notifications?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var items []types.Notification
	decode(t, resp, &items)
	require.Len(t, items, 2)
	assert.Equal(t, "secondo", items[0].Body)
	assert.Equal(t, "terzo", items[1].Body)
}
