package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BaSui01/agentcircle/agent/conversation"
	"github.com/BaSui01/agentcircle/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 错误响应
// =============================================================================

func TestWriteError_RuntimeConflicts(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{
			name:       "second session while one runs",
			err:        types.Errorf(types.ErrSessionRunning, "session %s is already running", "s-1"),
			wantStatus: http.StatusConflict,
			wantCode:   types.ErrSessionRunning,
		},
		{
			name:       "force turn while an agent speaks",
			err:        types.Errorf(types.ErrAgentBusy, "%s is still speaking", "nova"),
			wantStatus: http.StatusConflict,
			wantCode:   types.ErrAgentBusy,
		},
		{
			name:       "start in an unbound room",
			err:        types.Errorf(types.ErrNoActiveSession, "conversation %s is not bound", "salotto"),
			wantStatus: http.StatusConflict,
			wantCode:   types.ErrNoActiveSession,
		},
		{
			name:       "start a cancelled session",
			err:        types.NewError(types.ErrInvalidTransition, "session s-1 was stopped before it started"),
			wantStatus: http.StatusConflict,
			wantCode:   types.ErrInvalidTransition,
		},
		{
			name:       "force turn for a stranger",
			err:        types.Errorf(types.ErrUnknownParticipant, "%s does not take part in %s", "ghost", types.CommonRoomID),
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrUnknownParticipant,
		},
		{
			name:       "embedding of the wrong size",
			err:        types.NewError(types.ErrDimensionMismatch, "embedding has 32 dimensions, store expects 64"),
			wantStatus: http.StatusBadRequest,
			wantCode:   types.ErrDimensionMismatch,
		},
		{
			name:       "library search before the embedder is up",
			err:        types.NewError(types.ErrEmbedderNotReady, "embedder not initialized"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   types.ErrEmbedderNotReady,
		},
		{
			name:       "missing bearer token",
			err:        types.NewError(types.ErrUnauthorized, "invalid or expired token"),
			wantStatus: http.StatusUnauthorized,
			wantCode:   types.ErrUnauthorized,
		},
		{
			name:       "wrapped by the scheduler",
			err:        fmt.Errorf("tick: %w", types.NewError(types.ErrSessionRunning, "session s-2 is already running")),
			wantStatus: http.StatusConflict,
			wantCode:   types.ErrSessionRunning,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			w.Header().Set("X-Request-ID", "req-circle")
			WriteError(w, tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.wantCode), resp.Error.Code)
			assert.Equal(t, "req-circle", resp.RequestID)

			apiErr, ok := types.AsError(tt.err)
			require.True(t, ok)
			assert.Equal(t, apiErr.Message, resp.Error.Message)
		})
	}
}

func TestWriteError_UpstreamFailureIsRetryable(t *testing.T) {
	err := types.NewError(types.ErrUpstreamError, "local returned status 503").
		WithProvider("local").
		WithRetryable(true).
		WithCause(errors.New("503 Service Unavailable"))

	w := httptest.NewRecorder()
	WriteError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(types.ErrUpstreamError), resp.Error.Code)
	assert.True(t, resp.Error.Retryable)
	assert.NotContains(t, resp.Error.Message, "Service Unavailable")
}

func TestWriteError_PlainErrorHidesCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("redis: dial tcp 10.0.0.7:6379: connection refused"), zap.NewNop())

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrInternalError), resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "10.0.0.7")
}

func TestMapErrorCodeToHTTPStatus_CoversEveryCode(t *testing.T) {
	codes := []types.ErrorCode{
		types.ErrInvalidRequest, types.ErrNotFound, types.ErrAlreadyExists,
		types.ErrUnauthorized, types.ErrPermissionDenied, types.ErrInternalError,
		types.ErrAgentBusy, types.ErrInvalidTransition, types.ErrSessionRunning,
		types.ErrNoActiveSession, types.ErrUnknownParticipant,
		types.ErrDimensionMismatch, types.ErrEmbedderNotReady, types.ErrUpstreamError,
		types.ErrProviderNotSet,
	}
	for _, code := range codes {
		status := mapErrorCodeToHTTPStatus(code)
		if code == types.ErrInternalError {
			assert.Equal(t, http.StatusInternalServerError, status)
			continue
		}
		// 每个业务错误码都有明确映射，不落入 500 兜底
		assert.NotEqual(t, http.StatusInternalServerError, status, code)
	}
	assert.Equal(t, http.StatusInternalServerError, mapErrorCodeToHTTPStatus("CANDLE_BLOWN_OUT"))
}

// =============================================================================
// 🧪 成功响应与请求解析
// =============================================================================

func TestWriteSuccess_OrchestratorStatus(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-status")
	WriteSuccess(w, conversation.Status{
		ConversationID: types.CommonRoomID,
		State:          conversation.StateContinuousPlaying,
		Busy:           true,
		Speaking:       "nova",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "req-status", resp.RequestID)

	var status conversation.Status
	decode(t, resp, &status)
	assert.Equal(t, "nova", status.Speaking)
	assert.True(t, status.Busy)
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()
	WriteCreated(w, types.Template{ID: "tpl-1", Title: "Stelle cadenti"})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestDecodeJSONBody_PostMessage(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
		check   func(*testing.T, PostMessageRequest)
	}{
		{
			name: "text with attachment",
			body: `{"text":"leggi qui","attachment":{"name":"mappa.txt","content":"orione a sud"}}`,
			check: func(t *testing.T, req PostMessageRequest) {
				assert.Equal(t, "leggi qui", req.Text)
				require.NotNil(t, req.Attachment)
				assert.Equal(t, "mappa.txt", req.Attachment.Name)
			},
		},
		{
			name:    "unknown field",
			body:    `{"text":"ciao","sender":"nova"}`,
			wantErr: "invalid JSON body",
		},
		{
			name:    "empty body",
			body:    ``,
			wantErr: "request body is empty",
		},
		{
			name:    "attachment over the size limit",
			body:    `{"text":"x","attachment":{"name":"big.txt","content":"` + strings.Repeat("x", maxBodyBytes) + `"}}`,
			wantErr: "request body too large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/common/messages", strings.NewReader(tt.body))

			var req PostMessageRequest
			err := DecodeJSONBody(w, r, &req, zap.NewNop())
			if tt.wantErr == "" {
				require.NoError(t, err)
				tt.check(t, req)
				return
			}
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, string(types.ErrInvalidRequest), resp.Error.Code)
			assert.Equal(t, tt.wantErr, resp.Error.Message)
		})
	}
}

func TestDecodeJSONBody_CreateSession(t *testing.T) {
	body := `{"template_id":"default-free","scheduled_at":"2026-06-01T21:00:00Z","duration_minutes":30,"start_now":true}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/common/sessions", strings.NewReader(body))

	var req CreateSessionRequest
	require.NoError(t, DecodeJSONBody(w, r, &req, zap.NewNop()))
	assert.Equal(t, "default-free", req.TemplateID)
	assert.Equal(t, 30, req.DurationMinutes)
	assert.Equal(t, 21, req.ScheduledAt.Hour())
	assert.True(t, req.StartNow)
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=UTF-8", true},
		{"text/plain", false},
		{"", false},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/api/v1/library", nil)
		r.Header.Set("Content-Type", tt.contentType)
		assert.Equal(t, tt.want, ValidateContentType(w, r, nil), tt.contentType)
		if !tt.want {
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 50},
		{"limit=10", 10},
		{"limit=0", 50},
		{"limit=-3", 50},
		{"limit=tanti", 50},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/conversations/common/messages?"+tt.query, nil)
		assert.Equal(t, tt.want, queryInt(r, "limit", 50), tt.query)
	}
}

func TestResponseWriter_KeepsFirstStatus(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	assert.Equal(t, http.StatusOK, rw.StatusCode)

	rw.WriteHeader(http.StatusConflict)
	rw.WriteHeader(http.StatusOK)
	assert.Equal(t, http.StatusConflict, rw.StatusCode)
	assert.True(t, rw.Written)

	n, err := rw.Write([]byte(`{"success":false}`))
	require.NoError(t, err)
	assert.Equal(t, 17, n)
}
