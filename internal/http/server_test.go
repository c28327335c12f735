package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlorchat/parlor-server/internal/authz"
	"github.com/parlorchat/parlor-server/internal/channels"
	"github.com/parlorchat/parlor-server/internal/config"
	"github.com/parlorchat/parlor-server/internal/hub"
	"github.com/parlorchat/parlor-server/internal/messages"
	"github.com/parlorchat/parlor-server/internal/models"
	"github.com/parlorchat/parlor-server/internal/ratelimit"
	"github.com/parlorchat/parlor-server/internal/roles"
	"github.com/parlorchat/parlor-server/internal/testutil"
	"github.com/parlorchat/parlor-server/internal/voice"
	"github.com/parlorchat/parlor-server/internal/ws"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	*Server
	world *testutil.World
	hub   *hub.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	world := testutil.NewWorld(t)
	logger := testutil.Logger()

	az := authz.NewResolver(world.Store, logger)
	h := hub.NewHub(world.Store, logger)
	t.Cleanup(h.Close)

	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Auth.JWTSecret = testSecret

	srv := NewServer(cfg, Deps{
		Messages: messages.NewService(world.Store, az, h, logger),
		Voice:    voice.NewService(world.Store, az, h, logger),
		Channels: channels.NewService(world.Store, az, logger),
		Roles:    roles.NewService(world.Store, az, logger),
		Gateway:  ws.NewGateway(h, logger),
		Limiter:  ratelimit.NewLimiter(100, 100, logger),
	}, logger)

	return &testServer{Server: srv, world: world, hub: h}
}

func tokenFor(t *testing.T, userID int64) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) do(t *testing.T, userID int64, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if userID > 0 {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, userID))
	}
	rec := httptest.NewRecorder()
	ts.routes().ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate(t *testing.T) {
	ts := newTestServer(t)
	path := fmt.Sprintf("/api/servers/%d/channels", ts.world.Server.ID)

	t.Run("missing token", func(t *testing.T) {
		rec := ts.do(t, 0, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		ts.routes().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		rec := ts.do(t, testutil.CreatorUserID, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestMessageRoutes(t *testing.T) {
	ts := newTestServer(t)
	ch := ts.world.AddChannel(t, models.ChannelKindText, ts.world.StudentRole.ID)
	base := fmt.Sprintf("/api/channels/%d/messages", ch.ID)

	t.Run("create", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodPost, base, map[string]any{"text": "hello"})
		require.Equal(t, http.StatusCreated, rec.Code)

		var msg models.MessageWithReply
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, int64(1), msg.ID)
	})

	t.Run("create without write grant is forbidden", func(t *testing.T) {
		viewOnly := &models.Channel{
			ServerID: ts.world.Server.ID,
			Name:     "view-only",
			Kind:     models.ChannelKindText,
			CanView:  models.NewRoleSet(ts.world.StudentRole.ID),
			CanWrite: models.NewRoleSet(),
			CanJoin:  models.NewRoleSet(),
			Notified: models.NewRoleSet(),
		}
		require.NoError(t, ts.world.Store.CreateChannel(context.Background(), viewOnly))

		rec := ts.do(t, testutil.StudentUserID, http.MethodPost,
			fmt.Sprintf("/api/channels/%d/messages", viewOnly.ID), map[string]any{"text": "nope"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("create without view grant reads as missing", func(t *testing.T) {
		rec := ts.do(t, testutil.GuestUserID, http.MethodPost, base, map[string]any{"text": "nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("empty text fails validation", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodPost, base, map[string]any{"text": ""})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("edit by non-author", func(t *testing.T) {
		rec := ts.do(t, testutil.CreatorUserID, http.MethodPatch, base+"/1", map[string]any{"text": "mine now"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("list", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodGet, base+"?limit=10", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var page []models.MessageWithReply
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
		assert.Len(t, page, 1)
	})

	t.Run("unknown channel reads as missing", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodGet, "/api/channels/999/messages", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete by author", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodDelete, base+"/1", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestChannelRoutes(t *testing.T) {
	ts := newTestServer(t)
	base := fmt.Sprintf("/api/servers/%d/channels", ts.world.Server.ID)

	t.Run("create requires manage capability", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodPost, base, map[string]any{"name": "general", "kind": "text"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	var created models.Channel
	t.Run("creator creates", func(t *testing.T) {
		rec := ts.do(t, testutil.CreatorUserID, http.MethodPost, base, map[string]any{"name": "general", "kind": "text"})
		require.Equal(t, http.StatusCreated, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.Equal(t, models.ChannelKindText, created.Kind)
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		rec := ts.do(t, testutil.CreatorUserID, http.MethodPost, base, map[string]any{"name": "x", "kind": "forum"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("retire then restore", func(t *testing.T) {
		chPath := fmt.Sprintf("/api/channels/%d", created.ID)
		rec := ts.do(t, testutil.CreatorUserID, http.MethodPost, chPath+"/retire", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.do(t, testutil.CreatorUserID, http.MethodPost, chPath+"/restore", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("update grants", func(t *testing.T) {
		chPath := fmt.Sprintf("/api/channels/%d/grants", created.ID)
		rec := ts.do(t, testutil.CreatorUserID, http.MethodPut, chPath, map[string]any{
			"can_view":  []int64{ts.world.StudentRole.ID},
			"can_write": []int64{ts.world.StudentRole.ID},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var ch models.Channel
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ch))
		assert.True(t, ch.CanView.Contains(ts.world.StudentRole.ID))
		assert.Empty(t, ch.CanJoin)
	})
}

func TestVoiceRoutes(t *testing.T) {
	ts := newTestServer(t)
	ch := ts.world.AddChannel(t, models.ChannelKindVoice, ts.world.StudentRole.ID)
	joinPath := fmt.Sprintf("/api/channels/%d/voice/join", ch.ID)

	t.Run("join", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodPost, joinPath, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var p models.Presence
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, ch.ID, p.ChannelID)
		assert.True(t, p.Inside)
	})

	t.Run("roster", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodGet, fmt.Sprintf("/api/channels/%d/voice/roster", ch.ID), nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var roster []models.Presence
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roster))
		assert.Len(t, roster, 1)
	})

	t.Run("mute self", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodPost, "/api/voice/mute", map[string]any{"muted": true})
		require.Equal(t, http.StatusOK, rec.Code)

		var p models.Presence
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.True(t, p.MutedSelf)
	})

	t.Run("leave", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodPost, "/api/voice/leave", nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("leave while absent conflicts", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodPost, "/api/voice/leave", nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestRoleRoutes(t *testing.T) {
	ts := newTestServer(t)
	base := fmt.Sprintf("/api/servers/%d/roles", ts.world.Server.ID)

	var created models.Role
	t.Run("create", func(t *testing.T) {
		rec := ts.do(t, testutil.CreatorUserID, http.MethodPost, base, map[string]any{
			"name":         "moderator",
			"color":        "#ff0000",
			"capabilities": map[string]bool{"mute_others": true},
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
		assert.Equal(t, models.RoleKindCustom, created.Kind)
		assert.True(t, created.Capabilities.MuteOthers)
	})

	t.Run("assign and unassign", func(t *testing.T) {
		memberPath := fmt.Sprintf("/api/servers/%d/members/%d/roles/%d",
			ts.world.Server.ID, testutil.GuestUserID, created.ID)

		rec := ts.do(t, testutil.CreatorUserID, http.MethodPost, memberPath, nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = ts.do(t, testutil.CreatorUserID, http.MethodDelete, memberPath, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("structural role delete refused", func(t *testing.T) {
		rec := ts.do(t, testutil.CreatorUserID, http.MethodDelete,
			fmt.Sprintf("/api/roles/%d", ts.world.CreatorRole.ID), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("transfer ownership by non-creator", func(t *testing.T) {
		rec := ts.do(t, testutil.StudentUserID, http.MethodPost,
			fmt.Sprintf("/api/servers/%d/transfer-ownership", ts.world.Server.ID),
			map[string]any{"new_owner_id": testutil.GuestUserID})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t)
	ts.limiter = ratelimit.NewLimiter(1, 2, testutil.Logger())
	ch := ts.world.AddChannel(t, models.ChannelKindText, ts.world.StudentRole.ID)
	base := fmt.Sprintf("/api/channels/%d/messages", ch.ID)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		rec := ts.do(t, testutil.StudentUserID, http.MethodPost, base, map[string]any{"text": "spam"})
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, http.StatusCreated, codes[0])
	assert.Equal(t, http.StatusCreated, codes[1])
	assert.Contains(t, codes[2:], http.StatusTooManyRequests)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
