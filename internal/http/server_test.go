package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/court-matching/internal/app"
	"github.com/example/court-matching/internal/config"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/realtime"
	"github.com/example/court-matching/internal/swipe"
)

type api struct {
	t   *testing.T
	ts  *httptest.Server
	app *app.App
}

const eventsSecret = "gateway-secret"

func newAPI(t *testing.T) *api {
	t.Helper()
	return newAPIWith(t, nil)
}

func newAPIWith(t *testing.T, mutate func(*config.ServerConfig)) *api {
	t.Helper()
	cfg, err := config.LoadServerConfig()
	require.NoError(t, err)
	cfg.PGDSN, cfg.RedisAddr, cfg.RealtimeBus = "", "", "local"
	cfg.KafkaBrokers = nil
	cfg.BookingURL, cfg.StripeAPIKey, cfg.PushEndpoint, cfg.AttachmentsBucket = "", "", "", ""
	cfg.SuperLikeDailyQuota = 1
	cfg.BusinessOwners = map[string][]string{"club-1": {"desk"}}
	cfg.PaymentEventsSecret = eventsSecret
	if mutate != nil {
		mutate(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a, err := app.New(ctx, cfg, nil)
	require.NoError(t, err)
	ts := httptest.NewServer(a.API.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
		_ = a.Close()
	})
	return &api{t: t, ts: ts, app: a}
}

func (c *api) do(method, path, user string, body any) (int, []byte) {
	c.t.Helper()
	h := http.Header{}
	if user != "" {
		h.Set("X-User-ID", user)
	}
	return c.send(method, path, h, body)
}

// postEvent delivers a payment event with the given bearer token.
func (c *api) postEvent(token string, evt any) (int, []byte) {
	c.t.Helper()
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return c.send("POST", "/internal/payments/events", h, evt)
}

func (c *api) send(method, path string, h http.Header, body any) (int, []byte) {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.ts.URL+path, r)
	require.NoError(c.t, err)
	for k, v := range h {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.ts.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, raw
}

// call decodes a successful response into out and returns the status.
func (c *api) call(method, path, user string, body, out any) int {
	c.t.Helper()
	status, raw := c.do(method, path, user, body)
	if out != nil && status < 300 {
		require.NoError(c.t, json.Unmarshal(raw, out), string(raw))
	}
	return status
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *api) fail(method, path, user string, body any) (int, errorBody) {
	c.t.Helper()
	status, raw := c.do(method, path, user, body)
	var e errorBody
	require.NoError(c.t, json.Unmarshal(raw, &e), string(raw))
	return status, e
}

func profileFor(lat, lon float64) map[string]any {
	return map[string]any{
		"sports":           []string{"Tennis"},
		"skillLevel":       "intermediate",
		"location":         map[string]float64{"lat": lat, "lon": lon},
		"gender":           "female",
		"genderPreference": "any",
		"age":              29,
	}
}

func (c *api) seedProfiles() {
	c.t.Helper()
	require.Equal(c.t, http.StatusOK, c.call("PUT", "/api/v1/matching/profile", "alice", profileFor(40.7128, -74.0060), nil))
	require.Equal(c.t, http.StatusOK, c.call("PUT", "/api/v1/matching/profile", "bob", profileFor(40.7150, -74.0040), nil))
}

func (c *api) swipe(actor, target, action string) (int, swipe.Result) {
	c.t.Helper()
	var res swipe.Result
	status := c.call("POST", "/api/v1/matching/swipes", actor,
		map[string]string{"targetId": target, "action": action, "sport": "tennis"}, &res)
	return status, res
}

func (c *api) matched() *models.Match {
	c.t.Helper()
	c.seedProfiles()
	status, _ := c.swipe("alice", "bob", "like")
	require.Equal(c.t, http.StatusCreated, status)
	status, res := c.swipe("bob", "alice", "like")
	require.Equal(c.t, http.StatusCreated, status)
	require.True(c.t, res.Matched)
	return res.Match
}

func TestProbes(t *testing.T) {
	c := newAPI(t)
	status, body := c.do("GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", string(body))

	status, body = c.do("GET", "/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", string(body))

	status, body = c.do("GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "http_requests_total")
}

func TestAPIRequiresCaller(t *testing.T) {
	c := newAPI(t)
	status, e := c.fail("GET", "/api/v1/matching/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthenticated", e.Error)
}

func TestProfileRoundTrip(t *testing.T) {
	c := newAPI(t)
	status, e := c.fail("GET", "/api/v1/matching/profile", "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "profile_not_found", e.Error)

	incomplete := profileFor(1, 1)
	delete(incomplete, "age")
	status, e = c.fail("PUT", "/api/v1/matching/profile", "alice", incomplete)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "profile_incomplete", e.Error)

	c.seedProfiles()
	var p models.MatchProfile
	require.Equal(t, http.StatusOK, c.call("GET", "/api/v1/matching/profile", "alice", nil, &p))
	assert.Equal(t, "alice", p.UserID)
	assert.Equal(t, []string{"tennis"}, p.Sports)
	assert.Equal(t, models.SkillIntermediate, p.SkillLevel)
	assert.True(t, p.Active)
}

func TestMalformedBody(t *testing.T) {
	c := newAPI(t)
	status, raw := c.do("POST", "/api/v1/matching/swipes", "alice", json.RawMessage(`1`))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(raw), "bad_request")
}

func TestCandidatesSwipeAndMatch(t *testing.T) {
	c := newAPI(t)
	c.seedProfiles()

	var found struct {
		Candidates []struct {
			Profile    models.MatchProfile `json:"profile"`
			DistanceKm float64             `json:"distanceKm"`
		} `json:"candidates"`
	}
	require.Equal(t, http.StatusOK, c.call("GET", "/api/v1/matching/candidates?sport=tennis", "alice", nil, &found))
	require.Len(t, found.Candidates, 1)
	assert.Equal(t, "bob", found.Candidates[0].Profile.UserID)
	assert.Less(t, found.Candidates[0].DistanceKm, 1.0)

	status, res := c.swipe("alice", "bob", "like")
	require.Equal(t, http.StatusCreated, status)
	assert.False(t, res.Matched)

	status, e := c.fail("POST", "/api/v1/matching/swipes", "alice",
		map[string]string{"targetId": "bob", "action": "like", "sport": "tennis"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "duplicate_swipe", e.Error)

	status, res = c.swipe("bob", "alice", "like")
	require.Equal(t, http.StatusCreated, status)
	require.True(t, res.Matched)
	assert.Equal(t, "alice", res.Match.User1ID)

	var list struct {
		Matches []models.Match `json:"matches"`
	}
	require.Equal(t, http.StatusOK, c.call("GET", "/api/v1/matching/matches", "bob", nil, &list))
	require.Len(t, list.Matches, 1)
	assert.Equal(t, res.Match.ID, list.Matches[0].ID)

	// swiped users leave the candidate list
	require.Equal(t, http.StatusOK, c.call("GET", "/api/v1/matching/candidates", "alice", nil, &found))
	assert.Empty(t, found.Candidates)

	status, e = c.fail("GET", "/api/v1/matching/matches/"+res.Match.ID, "mallory", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_participant", e.Error)
}

func TestSuperLikeQuota(t *testing.T) {
	c := newAPI(t)
	c.seedProfiles()
	require.Equal(t, http.StatusOK, c.call("PUT", "/api/v1/matching/profile", "carol", profileFor(40.7100, -74.0100), nil))

	status, _ := c.swipe("alice", "bob", "super_like")
	require.Equal(t, http.StatusCreated, status)

	var me struct {
		SuperLikesRemaining int `json:"superLikesRemaining"`
	}
	require.Equal(t, http.StatusOK, c.call("GET", "/api/v1/matching/profile", "alice", nil, &me))
	assert.Zero(t, me.SuperLikesRemaining)

	status, e := c.fail("POST", "/api/v1/matching/swipes", "alice",
		map[string]string{"targetId": "carol", "action": "super_like", "sport": "tennis"})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "quota_exceeded", e.Error)

	var hist struct {
		Swipes []models.Swipe `json:"swipes"`
	}
	require.Equal(t, http.StatusOK, c.call("GET", "/api/v1/matching/swipes", "alice", nil, &hist))
	assert.Len(t, hist.Swipes, 1)
}

func TestChatOverREST(t *testing.T) {
	c := newAPI(t)
	mt := c.matched()
	room := "/api/v1/chats/" + mt.ChatRoomID

	var msg models.Message
	require.Equal(t, http.StatusCreated, c.call("POST", room+"/messages", "alice", map[string]string{"content": "rally at six?"}, &msg))
	assert.Equal(t, "alice", msg.SenderID)

	status, e := c.fail("POST", room+"/messages", "mallory", map[string]string{"content": "hi"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_participant", e.Error)

	var hist struct {
		Messages []models.Message `json:"messages"`
	}
	require.Equal(t, http.StatusOK, c.call("GET", room+"/messages", "bob", nil, &hist))
	require.NotEmpty(t, hist.Messages)
	assert.Equal(t, msg.ID, hist.Messages[len(hist.Messages)-1].ID)

	var read struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, c.call("POST", room+"/read", "bob", nil, &read))
	assert.GreaterOrEqual(t, read.Count, 1)
	require.Equal(t, http.StatusOK, c.call("POST", room+"/read", "bob", nil, &read))
	assert.Zero(t, read.Count)

	status, e = c.fail("POST", room+"/attachments", "alice", map[string]string{"fileName": "a.png", "contentType": "image/png"})
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "attachments_disabled", e.Error)
}

func TestBusinessRoom(t *testing.T) {
	c := newAPI(t)
	var first, again models.Room
	require.Equal(t, http.StatusOK, c.call("POST", "/api/v1/chats/business", "alice", map[string]string{"businessProfileId": "club-1"}, &first))
	require.Equal(t, http.StatusOK, c.call("POST", "/api/v1/chats/business", "alice", map[string]string{"businessProfileId": "club-1"}, &again))
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, models.RoomBusiness, first.Kind)

	require.Equal(t, http.StatusCreated, c.call("POST", "/api/v1/chats/"+first.ID+"/messages", "desk", map[string]string{"content": "court 3 is free"}, nil))
	status, _ := c.fail("POST", "/api/v1/chats/"+first.ID+"/messages", "bob", map[string]string{"content": "me too"})
	assert.Equal(t, http.StatusForbidden, status)
}

func TestProposalAndPaymentEvents(t *testing.T) {
	c := newAPI(t)
	mt := c.matched()
	base := "/api/v1/matching/matches/" + mt.ID + "/proposals"
	slot := map[string]any{"fieldId": "f1", "courtId": "c1", "date": "2026-11-02", "startTime": "18:00", "endTime": "19:00", "amount": 3000}

	var p models.Proposal
	require.Equal(t, http.StatusCreated, c.call("POST", base, "alice", slot, &p))
	assert.Equal(t, models.ProposalPending, p.Status)
	assert.Equal(t, int64(1500), p.ShareAmount)

	status, e := c.fail("POST", base, "bob", slot)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "proposal_open", e.Error)

	status, e = c.fail("POST", base+"/"+p.BookingID+"/accept", "alice", nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "not_receiver", e.Error)

	require.Equal(t, http.StatusOK, c.call("POST", base+"/"+p.BookingID+"/accept", "bob", nil, &p))
	assert.Equal(t, models.ProposalAccepted, p.Status)

	event := func(id, user string) models.PaymentEvent {
		return models.PaymentEvent{ID: id, Type: models.PaymentSucceeded, BookingID: p.BookingID, UserID: user}
	}
	deliver := func(evt models.PaymentEvent) (int, string) {
		status, raw := c.postEvent(eventsSecret, evt)
		var out map[string]string
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
		return status, out["result"]
	}
	status, result := deliver(event("e1", "alice"))
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "handled", result)
	status, result = deliver(event("e1", "alice"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "duplicate", result)
	status, _ = deliver(event("e2", "bob"))
	require.Equal(t, http.StatusAccepted, status)

	var list struct {
		Proposals []models.Proposal `json:"proposals"`
	}
	require.Equal(t, http.StatusOK, c.call("GET", base, "bob", nil, &list))
	require.Len(t, list.Proposals, 1)
	assert.Equal(t, models.ProposalCompleted, list.Proposals[0].Status)

	var confirmed models.Match
	require.Equal(t, http.StatusOK, c.call("GET", "/api/v1/matching/matches/"+mt.ID, "alice", nil, &confirmed))
	assert.Equal(t, models.MatchScheduled, confirmed.Status)
	require.NotNil(t, confirmed.Schedule)
	assert.Equal(t, p.BookingID, confirmed.Schedule.BookingID)

	status, raw := c.postEvent(eventsSecret, models.PaymentEvent{Type: models.PaymentSucceeded})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, "invalid_event", e.Error)
}

func TestPaymentEventsRequireSecret(t *testing.T) {
	c := newAPI(t)
	mt := c.matched()
	base := "/api/v1/matching/matches/" + mt.ID + "/proposals"
	slot := map[string]any{"fieldId": "f1", "date": "2026-11-02", "startTime": "18:00", "endTime": "19:00", "amount": 3000}
	var p models.Proposal
	require.Equal(t, http.StatusCreated, c.call("POST", base, "alice", slot, &p))

	forged := models.PaymentEvent{ID: "f1", Type: models.PaymentSucceeded, BookingID: p.BookingID, UserID: "alice"}
	for _, token := range []string{"", "guess"} {
		status, raw := c.postEvent(token, forged)
		assert.Equal(t, http.StatusUnauthorized, status)
		var e errorBody
		require.NoError(t, json.Unmarshal(raw, &e))
		assert.Equal(t, "unauthenticated", e.Error)
	}
	status, _ := c.do("POST", "/internal/payments/events", "alice", forged)
	assert.Equal(t, http.StatusUnauthorized, status)

	var list struct {
		Proposals []models.Proposal `json:"proposals"`
	}
	require.Equal(t, http.StatusOK, c.call("GET", base, "alice", nil, &list))
	require.Len(t, list.Proposals, 1)
	assert.Equal(t, models.ShareUnpaid, list.Proposals[0].Proposer.Status)
}

func TestPaymentEventsDisabledWithoutSecret(t *testing.T) {
	c := newAPIWith(t, func(cfg *config.ServerConfig) { cfg.PaymentEventsSecret = "" })
	status, _ := c.postEvent("", models.PaymentEvent{Type: models.PaymentSucceeded, BookingID: "b1", UserID: "alice"})
	assert.Equal(t, http.StatusNotFound, status)
}

func TestWebsocketReceivesMatch(t *testing.T) {
	c := newAPI(t)
	c.seedProfiles()

	url := "ws" + strings.TrimPrefix(c.ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"X-User-ID": []string{"alice"}})
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return c.app.Services.Realtime.Online("alice") }, 2*time.Second, 5*time.Millisecond)

	c.swipe("alice", "bob", "like")
	c.swipe("bob", "alice", "like")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f realtime.Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == "match:created" {
			var payload struct {
				Match models.Match `json:"match"`
			}
			require.NoError(t, json.Unmarshal(f.Data, &payload))
			assert.Equal(t, "bob", payload.Match.User2ID)
			return
		}
	}
}
