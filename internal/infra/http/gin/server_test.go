package ginserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettz/internal/app/bootstrap"
	"lettz/internal/app/dto"
	domainconversation "lettz/internal/domain/conversation"
	domainlistings "lettz/internal/domain/listings"
	domainuser "lettz/internal/domain/user"
	"lettz/internal/infra/obs"
	"lettz/internal/infra/storage/memory"
)

var testSecret = []byte("test-secret")

type testServer struct {
	router http.Handler
	store  *memory.Store
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "bob", DisplayName: "Bob", Listings: []string{"L"}, ConversationIDs: []string{"C"}}))
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "alice", DisplayName: "Alice", ConversationIDs: []string{"C"}}))
	require.NoError(t, s.PutUser(ctx, domainuser.User{UID: "carol", DisplayName: "Carol"}))
	require.NoError(t, s.PutListing(ctx, domainlistings.Listing{ID: "L", Owner: "bob", Title: "Flat"}))
	require.NoError(t, s.PutConversation(ctx, domainconversation.Conversation{
		ID:           "C",
		ListingID:    "L",
		Participants: []domainconversation.Participant{{UID: "alice", DisplayName: "Alice"}, {UID: "bob", DisplayName: "Bob"}},
		Messages:     []domainconversation.Message{{Sender: "alice", Text: "hi", Timestamp: time.Now().UTC()}},
		LastMessage:  domainconversation.LastMessage{Text: "hi", Timestamp: time.Now().UTC()},
	}))

	app := bootstrap.Build(bootstrap.Deps{Store: s, Outbox: memory.NewOutbox(), Idempotency: memory.NewIdempotencyStore()})
	t.Cleanup(app.Hub.Close)
	router := NewRouter("test", obs.Middleware{}, obs.HealthHandlers{Ready: s.Ping}, Handlers{
		Listing:        ListingHandler{Commands: app.Commands},
		Conversation:   ConversationHandler{Commands: app.Commands, Queries: app.Queries},
		Notification:   NotificationHandler{Commands: app.Commands, Queries: app.Queries, Hub: app.Hub},
		Live:           LiveHandler{Store: s, Tracker: app.Tracker},
		AuthMiddleware: JWTAuth{Secret: testSecret}.Handle,
	})
	return testServer{router: router, store: s}
}

func (ts testServer) do(t *testing.T, method, path, uid, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if uid != "" {
		token, err := IssueToken(testSecret, uid, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/livez", "", "").Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/readyz", "", "").Code)
}

func TestRemoveListingEndpoint(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodDelete, "/api/v1/listings/L", "", "").Code)
	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodDelete, "/api/v1/listings/L", "alice", "").Code)

	rec := ts.do(t, http.MethodDelete, "/api/v1/listings/L", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var removal dto.ListingRemoval
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removal))
	assert.Equal(t, []string{"C"}, removal.ConversationIDs)

	st := ts.store.State()
	assert.NotContains(t, st.Listings, "L")
	assert.Empty(t, st.Users["alice"].ConversationIDs)

	rec = ts.do(t, http.MethodDelete, "/api/v1/listings/L", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removal))
	assert.True(t, removal.AlreadyRemoved)
}

func TestRemoveListingFailureIsGeneric(t *testing.T) {
	ts := newTestServer(t)
	ts.store.FailNextCommit(assert.AnError)

	rec := ts.do(t, http.MethodDelete, "/api/v1/listings/L", "bob", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
	assert.Contains(t, ts.store.State().Listings, "L")
}

func TestContactListingEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/listings/L/conversations", "carol", `{"text":"is it free?","local_timestamp":5}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res dto.ContactResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Created)
	assert.Equal(t, "is it free?", res.Conversation.LastMessage)

	rec = ts.do(t, http.MethodPost, "/api/v1/listings/L/conversations", "carol", `{"text":"still?"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/listings/L/conversations", "carol", `{"text":"  "}`).Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodPost, "/api/v1/listings/L/conversations", "", `{"text":"x"}`).Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/v1/listings/L/conversations", "bob", `{"text":"me"}`).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/v1/listings/nope/conversations", "carol", `{"text":"x"}`).Code)
}

func TestListMyConversations(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/me/conversations", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list dto.ConversationList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, "C", list.Items[0].ID)
	assert.True(t, list.Items[0].HasNewMessage)
	assert.Equal(t, "Alice", list.Items[0].Counterpart.DisplayName)

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/v1/me/conversations", "", "").Code)
}

func TestNotificationEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPut, "/api/v1/me/notifications/explore", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var n dto.Notifications
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.True(t, n.Flags["explore"])
	assert.True(t, n.Any)

	rec = ts.do(t, http.MethodDelete, "/api/v1/me/notifications/explore", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.False(t, n.Flags["explore"])

	rec = ts.do(t, http.MethodGet, "/api/v1/me/notifications", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPut, "/api/v1/me/notifications/a.b", "bob", "").Code)
	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/api/v1/me/notifications", "", "").Code)
}

func TestParseTokenRejectsBadTokens(t *testing.T) {
	good, err := IssueToken(testSecret, "bob", time.Hour)
	require.NoError(t, err)
	uid, err := ParseToken(testSecret, good)
	require.NoError(t, err)
	assert.Equal(t, "bob", uid)

	_, err = ParseToken([]byte("other"), good)
	assert.Error(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "bob",
		"exp":     time.Now().Add(-time.Minute).Unix(),
	}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "bob"}).SignedString(testSecret)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, anonymous)
	assert.ErrorIs(t, err, errMissingSubject)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "bob"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = ParseToken(testSecret, unsigned)
	assert.Error(t, err)
}

func readFrame(t *testing.T, conn *websocket.Conn, match func(outboundFrame) bool) outboundFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var f outboundFrame
		require.NoError(t, conn.ReadJSON(&f))
		if match(f) {
			return f
		}
	}
}

func TestLiveConversationOverWebsocket(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	token, err := IssueToken(testSecret, "bob", time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversations/C?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	ready := readFrame(t, conn, func(f outboundFrame) bool { return f.Type == frameView && f.View.State == "ready" })
	require.NotNil(t, ready.View.Conversation)
	assert.Len(t, ready.View.Messages, 1)

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: frameSend, Text: "see you at 5"}))
	sent := readFrame(t, conn, func(f outboundFrame) bool {
		return f.Type == frameView && f.View.Conversation != nil && f.View.Conversation.LastMessage == "see you at 5"
	})
	assert.Equal(t, "see you at 5", sent.View.Messages[len(sent.View.Messages)-1].Text)

	require.NoError(t, conn.WriteJSON(inboundFrame{Type: frameSend, Text: "   "}))
	failed := readFrame(t, conn, func(f outboundFrame) bool { return f.Type == frameError })
	assert.Equal(t, frameSend, failed.Ack)

	conv, err := ts.store.GetConversation(context.Background(), "C")
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 2)
}

func TestLiveConversationRejectsNonParticipant(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	token, err := IssueToken(testSecret, "carol", time.Hour)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversations/C?access_token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var denied bool
	for {
		var f outboundFrame
		err := conn.ReadJSON(&f)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "unexpected read error: %v", err)
			break
		}
		if f.Type == frameView {
			require.NotNil(t, f.View)
			assert.Nil(t, f.View.Conversation)
			assert.Empty(t, f.View.Messages)
		}
		if f.Type == frameError {
			assert.Equal(t, domainconversation.ErrNotParticipant.Error(), f.Error)
			denied = true
		}
	}
	assert.True(t, denied)
}

func TestLiveConversationRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversations/C"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		conn.Close()
	}
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
