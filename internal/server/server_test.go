package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukerupert/livinlog/internal/cloud"
	"github.com/dukerupert/livinlog/internal/events"
	"github.com/dukerupert/livinlog/internal/household"
	"github.com/dukerupert/livinlog/internal/invite"
	"github.com/dukerupert/livinlog/internal/middleware"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/replica"
	"github.com/dukerupert/livinlog/internal/router"
	"github.com/dukerupert/livinlog/internal/selection"
	"github.com/dukerupert/livinlog/internal/share"
	ws "github.com/dukerupert/livinlog/internal/websocket"
)

type testApp struct {
	srv     *httptest.Server
	backend *cloud.Memory
	router  *router.Router
}

func setupApp(t *testing.T, limiter *middleware.Limiter) *testApp {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()

	replicas, err := replica.Open(ctx, replica.Config{Dir: dir, ContainerID: "iCloud.test"}, nil)
	if err != nil {
		t.Fatalf("open replicas: %v", err)
	}
	t.Cleanup(func() { replicas.Close() })

	selStore, err := selection.Open(filepath.Join(dir, selection.FileName))
	if err != nil {
		t.Fatalf("open selection: %v", err)
	}
	t.Cleanup(func() { selStore.Close() })

	backend := cloud.NewMemory("iCloud.test")
	bus := events.NewBus(nil)
	sharing := share.NewCoordinator(replicas, backend, bus, share.Config{}, nil)
	reconciler := selection.NewReconciler(replicas, selStore, nil)
	rt := router.New(replicas, backend, reconciler, bus, time.Second, nil)

	s := New(Deps{
		Router:        rt,
		Households:    household.NewService(replicas, sharing, bus, nil),
		Sharing:       sharing,
		Invites:       invite.NewFlow(replicas, backend, bus, time.Second, nil),
		Selection:     reconciler,
		Hub:           ws.NewHub(nil),
		InviteLimiter: limiter,
	}, nil)

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testApp{srv: srv, backend: backend, router: rt}
}

func (a *testApp) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("%s %s: status = %d, want %d (body %v)", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

type onboardResponse struct {
	Household model.Household `json:"household"`
	Member    model.Member    `json:"member"`
	Route     router.Snapshot `json:"route"`
}

func (a *testApp) onboard(t *testing.T, name string) onboardResponse {
	t.Helper()
	resp := a.do(t, "POST", "/api/onboarding", map[string]string{"household_name": name, "display_name": "Pat"})
	expectStatus(t, resp, http.StatusCreated)
	var out onboardResponse
	decode(t, resp, &out)
	return out
}

func TestHealth(t *testing.T) {
	app := setupApp(t, nil)
	resp := app.do(t, "GET", "/health", nil)
	expectStatus(t, resp, http.StatusOK)
	if id := resp.Header.Get(middleware.RequestIDHeader); id == "" {
		t.Error("missing request id header")
	}
}

func TestRouteRetry(t *testing.T) {
	app := setupApp(t, nil)

	var snap router.Snapshot
	decode(t, app.do(t, "GET", "/api/route", nil), &snap)
	if snap.State != router.StateLoading {
		t.Errorf("initial state = %s", snap.State)
	}

	app.backend.SetAccountStatus(cloud.StatusNoAccount)
	resp := app.do(t, "POST", "/api/route/retry", nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &snap)
	if snap.State != router.StateSyncUnavailable {
		t.Errorf("state = %s, want sync_unavailable", snap.State)
	}

	app.backend.SetAccountStatus(cloud.StatusAvailable)
	resp = app.do(t, "POST", "/api/route/retry", nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &snap)
	if snap.State != router.StateOnboarding {
		t.Errorf("state = %s, want onboarding", snap.State)
	}
}

func TestOnboardingAndMembers(t *testing.T) {
	app := setupApp(t, nil)

	out := app.onboard(t, "Smith Family")
	if out.Route.State != router.StateMain {
		t.Errorf("route = %s, want main", out.Route.State)
	}
	if out.Route.Selection.MemberID != out.Member.ID {
		t.Errorf("selection = %+v, member = %s", out.Route.Selection, out.Member.ID)
	}

	hid := out.Household.ID
	resp := app.do(t, "POST", "/api/households/"+hid+"/members", map[string]string{"display_name": "Sam"})
	expectStatus(t, resp, http.StatusCreated)

	var members []model.Member
	decode(t, app.do(t, "GET", "/api/households/"+hid+"/members", nil), &members)
	if len(members) != 2 || members[0].DisplayName != "Pat" || members[1].DisplayName != "Sam" {
		t.Fatalf("members = %+v", members)
	}

	resp = app.do(t, "DELETE", "/api/households/"+hid+"/members/"+members[1].ID, nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp = app.do(t, "DELETE", "/api/households/"+hid+"/members/"+members[0].ID, nil)
	expectStatus(t, resp, http.StatusConflict)

	resp = app.do(t, "GET", "/api/households/missing/members", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestOnboardingRequiresName(t *testing.T) {
	app := setupApp(t, nil)
	resp := app.do(t, "POST", "/api/onboarding", map[string]string{"household_name": " "})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = app.do(t, "POST", "/api/onboarding", map[string]string{"unknown": "x"})
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestShareLifecycle(t *testing.T) {
	app := setupApp(t, nil)
	hid := app.onboard(t, "Smith Family").Household.ID
	base := "/api/households/" + hid + "/share"

	expectStatus(t, app.do(t, "GET", base, nil), http.StatusNotFound)

	resp := app.do(t, "POST", base, nil)
	expectStatus(t, resp, http.StatusOK)
	var rec model.ShareRecord
	decode(t, resp, &rec)
	if rec.URL == "" || rec.Thumbnail != "SF" {
		t.Errorf("share = %+v", rec)
	}

	var again model.ShareRecord
	decode(t, app.do(t, "POST", base, nil), &again)
	if again.ID != rec.ID {
		t.Errorf("second POST created %s, want %s", again.ID, rec.ID)
	}

	var view struct {
		model.ShareRecord
		LastStatus *share.Status `json:"last_status"`
	}
	resp = app.do(t, "GET", base, nil)
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &view)
	if view.ID != rec.ID || view.LastStatus == nil || view.LastStatus.State != share.StatusShared {
		t.Errorf("GET share = %+v, status %+v", view.ShareRecord, view.LastStatus)
	}

	resp = app.do(t, "PUT", base+"/policy", map[string]string{"permission": "publicReadOnly"})
	expectStatus(t, resp, http.StatusOK)
	decode(t, resp, &rec)
	if rec.Permission != model.PermissionPublicReadOnly {
		t.Errorf("permission = %s", rec.Permission)
	}
	expectStatus(t, app.do(t, "PUT", base+"/policy", map[string]string{"permission": "everyone"}), http.StatusBadRequest)

	expectStatus(t, app.do(t, "DELETE", base, nil), http.StatusNoContent)
	expectStatus(t, app.do(t, "GET", base, nil), http.StatusNotFound)
	expectStatus(t, app.do(t, "DELETE", base, nil), http.StatusNotFound)
}

func TestShareCreationFailure(t *testing.T) {
	app := setupApp(t, nil)
	hid := app.onboard(t, "Home").Household.ID
	app.backend.ReturnNilShare(true)

	resp := app.do(t, "POST", "/api/households/"+hid+"/share", nil)
	expectStatus(t, resp, http.StatusBadGateway)
	var body map[string]string
	decode(t, resp, &body)
	if body["error"] == "" {
		t.Error("expected a user-facing message")
	}

	var notShared struct {
		Error      string        `json:"error"`
		LastStatus *share.Status `json:"last_status"`
	}
	resp = app.do(t, "GET", "/api/households/"+hid+"/share", nil)
	expectStatus(t, resp, http.StatusNotFound)
	decode(t, resp, &notShared)
	if notShared.LastStatus == nil || notShared.LastStatus.State != share.StatusFailed || notShared.LastStatus.Error == "" {
		t.Errorf("last status = %+v", notShared.LastStatus)
	}
}

func TestAcceptInvitation(t *testing.T) {
	app := setupApp(t, nil)
	_, err := app.backend.CreateShare(context.Background(), cloud.CreateShareRequest{
		Scope:     model.ScopeOwner,
		Household: model.Household{ID: "theirs", Name: "Theirs"},
		Members:   []model.Member{{ID: "m1", HouseholdID: "theirs", DisplayName: "Alex"}},
		Title:     "Theirs",
	})
	if err != nil {
		t.Fatalf("remote share: %v", err)
	}
	token, _ := app.backend.TokenFor("theirs")

	resp := app.do(t, "POST", "/api/invitations", map[string]string{"token": token})
	expectStatus(t, resp, http.StatusOK)
	var out struct {
		HouseholdID string       `json:"household_id"`
		Status      invite.Status `json:"status"`
	}
	decode(t, resp, &out)
	if out.HouseholdID != "theirs" || out.Status.Outcome != invite.StateAccepted {
		t.Errorf("accept = %+v", out)
	}

	var members []model.Member
	decode(t, app.do(t, "GET", "/api/households/theirs/members", nil), &members)
	if len(members) != 1 {
		t.Errorf("members = %+v", members)
	}

	expectStatus(t, app.do(t, "POST", "/api/invitations", map[string]string{"token": "bogus"}), http.StatusBadGateway)
	var st invite.Status
	decode(t, app.do(t, "GET", "/api/invitations/status", nil), &st)
	if st.Outcome != invite.StateFailed || st.Failure == "" {
		t.Errorf("status = %+v", st)
	}

	expectStatus(t, app.do(t, "POST", "/api/invitations", map[string]string{"token": ""}), http.StatusBadRequest)

	// Leaving a shared household keeps the owner's share intact.
	expectStatus(t, app.do(t, "DELETE", "/api/households/theirs", nil), http.StatusNoContent)
	if _, ok := app.backend.TokenFor("theirs"); !ok {
		t.Error("leave revoked the owner's share")
	}
}

func TestInvitationRateLimit(t *testing.T) {
	app := setupApp(t, middleware.NewLimiter(1, time.Minute))

	expectStatus(t, app.do(t, "POST", "/api/invitations", map[string]string{"token": "a"}), http.StatusBadGateway)
	resp := app.do(t, "POST", "/api/invitations", map[string]string{"token": "b"})
	expectStatus(t, resp, http.StatusTooManyRequests)
}

func TestSelection(t *testing.T) {
	app := setupApp(t, nil)
	out := app.onboard(t, "Home")
	hid := out.Household.ID

	var sam model.Member
	decode(t, app.do(t, "POST", "/api/households/"+hid+"/members", map[string]string{"display_name": "Sam"}), &sam)

	resp := app.do(t, "PUT", "/api/selection", map[string]string{"member_id": sam.ID})
	expectStatus(t, resp, http.StatusOK)
	var st model.SelectionState
	decode(t, resp, &st)
	if st.MemberID != sam.ID || st.HouseholdID != hid {
		t.Errorf("selection = %+v", st)
	}

	expectStatus(t, app.do(t, "PUT", "/api/selection", map[string]string{"member_id": "nobody"}), http.StatusConflict)
	expectStatus(t, app.do(t, "PUT", "/api/selection", map[string]string{}), http.StatusBadRequest)

	decode(t, app.do(t, "GET", "/api/selection", nil), &st)
	if st.MemberID != sam.ID {
		t.Errorf("selection = %+v", st)
	}
}

func TestDeleteHousehold(t *testing.T) {
	app := setupApp(t, nil)
	hid := app.onboard(t, "Home").Household.ID
	expectStatus(t, app.do(t, "POST", "/api/households/"+hid+"/share", nil), http.StatusOK)

	expectStatus(t, app.do(t, "DELETE", "/api/households/"+hid, nil), http.StatusNoContent)
	expectStatus(t, app.do(t, "GET", "/api/households/"+hid, nil), http.StatusNotFound)
	if _, ok := app.backend.TokenFor(hid); ok {
		t.Error("share survived household deletion")
	}
	expectStatus(t, app.do(t, "DELETE", "/api/households/"+hid, nil), http.StatusNotFound)
}
