package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL       string
	ProjectID string
	client    *http.Client
	close     func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("gateline", "tester")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	projectID, _, err := e.InitProject(context.Background(), engine.InitOptions{
		Name:    "gateline",
		Type:    domain.ProjectSoftware,
		Owner:   "tester",
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("init project: %v", err)
	}
	handler, err := New(Config{
		Engine:    e,
		BasePath:  "/v0",
		Workspace: workspace,
		Auth:      AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:       "http://" + ln.Addr().String(),
		ProjectID: projectID,
		client:    &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.Close)
	return testSrv
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func doJSON(t *testing.T, srv *testServer, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signToken(t, "alice"))
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthNoAuth(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Get(srv.URL + "/v0/health")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Get(srv.URL + "/v0/projects")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("code = %q", envelope.Error.Code)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	srv := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v0/projects", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestGateApprovalFlow(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv, http.MethodGet, "/v0/projects/"+srv.ProjectID+"/gates/next", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("next gate status %d: %s", res.StatusCode, data)
	}
	var next struct {
		Gate *domain.Gate `json:"gate"`
	}
	if err := json.Unmarshal(data, &next); err != nil {
		t.Fatal(err)
	}
	if next.Gate == nil || next.Gate.ID != "spec-approved" {
		t.Fatalf("next gate = %+v", next.Gate)
	}

	res, data = doJSON(t, srv, http.MethodPost,
		"/v0/projects/"+srv.ProjectID+"/gates/spec-approved/approve",
		map[string]any{"comments": "ship it"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status %d: %s", res.StatusCode, data)
	}
	var decision GateDecisionResponse
	if err := json.Unmarshal(data, &decision); err != nil {
		t.Fatal(err)
	}
	if decision.Gate.Status != domain.GateApproved || decision.Gate.Approver != "alice" {
		t.Fatalf("gate = %+v", decision.Gate)
	}
	if decision.Phase != domain.PhaseDesign {
		t.Fatalf("phase = %s", decision.Phase)
	}
}

func TestRejectGateWithoutComments(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv, http.MethodPost,
		"/v0/projects/"+srv.ProjectID+"/gates/spec-approved/reject", map[string]any{})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestApproveUnknownGateIs404(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv, http.MethodPost,
		"/v0/projects/"+srv.ProjectID+"/gates/no-such-gate/approve", map[string]any{})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
}

func TestTaskEndpoints(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv, http.MethodPost, "/v0/projects/"+srv.ProjectID+"/tasks", map[string]any{
		"title":            "Build the parser",
		"type":             "implementation",
		"success_criteria": "fixtures pass",
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, data)
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatal(err)
	}
	if created.Status != domain.TaskBacklog {
		t.Fatalf("status = %s", created.Status)
	}

	res, data = doJSON(t, srv, http.MethodPatch, "/v0/tasks/"+created.ID, map[string]any{
		"status": "done",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, data)
	}
	var updated domain.Task
	if err := json.Unmarshal(data, &updated); err != nil {
		t.Fatal(err)
	}
	if updated.Status != domain.TaskDone || updated.CompletedAt == nil {
		t.Fatalf("task = %+v", updated)
	}

	res, data = doJSON(t, srv, http.MethodGet, "/v0/projects/"+srv.ProjectID+"/tasks", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, data)
	}
	var list domain.TaskList
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Tasks) != 1 || list.Progress != 100 {
		t.Fatalf("list = %+v", list)
	}
}

func TestBudgetEndpoints(t *testing.T) {
	srv := newTestServer(t)

	res, data := doJSON(t, srv, http.MethodPut, "/v0/projects/"+srv.ProjectID+"/budget", map[string]any{
		"kind":      "software",
		"allocated": 100,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set budget status %d: %s", res.StatusCode, data)
	}

	res, data = doJSON(t, srv, http.MethodPost, "/v0/projects/"+srv.ProjectID+"/budget/licenses", map[string]any{
		"name":         "CI runner",
		"monthly_cost": 30,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add license status %d: %s", res.StatusCode, data)
	}
	var lic domain.LicenseItem
	if err := json.Unmarshal(data, &lic); err != nil {
		t.Fatal(err)
	}

	res, data = doJSON(t, srv, http.MethodPatch,
		"/v0/projects/"+srv.ProjectID+"/budget/items/"+lic.ID, map[string]any{
			"status": "active",
		})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update item status %d: %s", res.StatusCode, data)
	}
	var budgetRes struct {
		Budget domain.Budget `json:"budget"`
		Report struct {
			MonthlyCost float64 `json:"monthly_cost"`
			AnnualCost  float64 `json:"annual_cost"`
		} `json:"report"`
	}
	if err := json.Unmarshal(data, &budgetRes); err != nil {
		t.Fatal(err)
	}
	if budgetRes.Report.MonthlyCost != 30 || budgetRes.Report.AnnualCost != 360 {
		t.Fatalf("report = %+v", budgetRes.Report)
	}
}

func TestGetSingleGate(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv, http.MethodGet, "/v0/projects/"+srv.ProjectID+"/gates/tests-passed", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var g domain.Gate
	if err := json.Unmarshal(data, &g); err != nil {
		t.Fatal(err)
	}
	if g.Name != "TESTS_PASSED" || g.Status != domain.GatePending {
		t.Fatalf("gate = %+v", g)
	}
}

func TestDeleteProject(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv, http.MethodDelete, "/v0/projects/"+srv.ProjectID, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv, http.MethodGet, "/v0/projects/"+srv.ProjectID+"/state", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("state after delete: status %d: %s", res.StatusCode, data)
	}
}

func TestExportEndpoint(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv, http.MethodPost, "/v0/projects/"+srv.ProjectID+"/export", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, data)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out["version"] != "1.0" {
		t.Fatalf("export = %v", out)
	}
}
