package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"voice-relay/internal/auth"
	"voice-relay/internal/calls"
	"voice-relay/internal/config"
	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"

	"github.com/gin-gonic/gin"
)

func completeSet(tenantID string) tenants.CredentialSet {
	return tenants.CredentialSet{
		TenantID:          tenantID,
		TwilioAccountSID:  "AC1",
		TwilioAuthToken:   "tok",
		PhoneNumber:       "+15555550100",
		ElevenLabsAPIKey:  "key",
		ElevenLabsAgentID: "agent-1",
	}
}

func testRouter(t *testing.T, store *tenants.MemoryStore, providerURL string) (*gin.Engine, *auth.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{TokenSecret: "secret", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	provider := telephony.NewTwilioProvider(telephony.WithBaseURL(providerURL))
	svc := calls.NewService(tenants.NewResolver(store), provider, nil, calls.NewMemoryRegistry(), "https://relay.example.com", nil)

	h := Handlers{Calls: svc, Auth: m, StreamHost: "relay.example.com"}

	r := gin.New()
	authed := r.Group("/", auth.RequireToken(m))
	authed.POST("/outbound-call", h.OutboundCall)
	authed.POST("/end-call", h.EndCall)
	authed.GET("/call-status", h.CallStatus)
	r.Any("/outbound-call-twiml", h.OutboundCallTwiML)
	r.POST("/generate-token", h.GenerateToken)
	return r, m
}

func bearer(t *testing.T, m *auth.Manager) string {
	t.Helper()
	tok, err := m.Issue(auth.SourceBackend, time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return "Bearer " + tok
}

func TestOutboundCallHappyPath(t *testing.T) {
	var gotFrom, gotTo, gotURL string
	fakeTwilio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		gotFrom = r.PostFormValue("From")
		gotTo = r.PostFormValue("To")
		gotURL = r.PostFormValue("Url")
		_, _ = w.Write([]byte(`{"sid":"CA777"}`))
	}))
	defer fakeTwilio.Close()

	store := tenants.NewMemoryStore()
	store.Put(completeSet("t1"))
	r, m := testRouter(t, store, fakeTwilio.URL)

	body := `{"user_id":"t1","number":"+15555550123","prompt":"you are a scheduler","first_message":"hi there"}`
	req := httptest.NewRequest(http.MethodPost, "/outbound-call", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, m))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		CallSID string `json:"callSid"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.CallSID != "CA777" {
		t.Fatalf("unexpected response %s", w.Body.String())
	}

	if gotFrom != "+15555550100" || gotTo != "+15555550123" {
		t.Fatalf("unexpected call-create from/to %q %q", gotFrom, gotTo)
	}
	u, err := url.Parse(gotURL)
	if err != nil {
		t.Fatalf("callback url: %v", err)
	}
	q := u.Query()
	if q.Get("user_id") != "t1" || q.Get("prompt") != "you are a scheduler" || q.Get("first_message") != "hi there" {
		t.Fatalf("unexpected callback query %q", gotURL)
	}
}

func TestOutboundCallIncompleteCredentialsIs500AndNoProviderCall(t *testing.T) {
	providerCalled := false
	fakeTwilio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providerCalled = true
	}))
	defer fakeTwilio.Close()

	set := completeSet("t1")
	set.ElevenLabsAgentID = ""
	store := tenants.NewMemoryStore()
	store.Put(set)
	r, m := testRouter(t, store, fakeTwilio.URL)

	body := `{"user_id":"t1","number":"+15555550123","prompt":"p","first_message":"f"}`
	req := httptest.NewRequest(http.MethodPost, "/outbound-call", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, m))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Missing required credentials") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if providerCalled {
		t.Fatalf("expected no provider call-create request")
	}
}

func TestOutboundCallMissingFieldsIs400(t *testing.T) {
	store := tenants.NewMemoryStore()
	store.Put(completeSet("t1"))
	r, m := testRouter(t, store, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/outbound-call", strings.NewReader(`{"user_id":"t1"}`))
	req.Header.Set("Authorization", bearer(t, m))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestOutboundCallRequiresToken(t *testing.T) {
	store := tenants.NewMemoryStore()
	r, _ := testRouter(t, store, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/outbound-call", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestTwiMLAlways200WithParameters(t *testing.T) {
	r, _ := testRouter(t, tenants.NewMemoryStore(), "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/outbound-call-twiml?user_id=t1&prompt=hi+there&first_message=yo", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`name="user_id" value="t1"`,
		`name="prompt" value="hi there"`,
		`wss://relay.example.com/outbound-media-stream?token=`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in twiml:\n%s", want, body)
		}
	}
}

func TestTwiMLMissingParamsStill200(t *testing.T) {
	r, _ := testRouter(t, tenants.NewMemoryStore(), "http://unused.invalid")

	req := httptest.NewRequest(http.MethodGet, "/outbound-call-twiml", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `name="user_id" value=""`) {
		t.Fatalf("expected empty parameter values:\n%s", w.Body.String())
	}
}

func TestEndCallNotFoundIs404(t *testing.T) {
	fakeTwilio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer fakeTwilio.Close()

	store := tenants.NewMemoryStore()
	store.Put(completeSet("t1"))
	r, m := testRouter(t, store, fakeTwilio.URL)

	req := httptest.NewRequest(http.MethodPost, "/end-call", strings.NewReader(`{"callSid":"CAx","user_id":"t1"}`))
	req.Header.Set("Authorization", bearer(t, m))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCallStatusReturnsMetadata(t *testing.T) {
	fakeTwilio := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"in-progress","start_time":"st","end_time":"","duration":"12"}`))
	}))
	defer fakeTwilio.Close()

	store := tenants.NewMemoryStore()
	store.Put(completeSet("t1"))
	r, m := testRouter(t, store, fakeTwilio.URL)

	req := httptest.NewRequest(http.MethodGet, "/call-status?callSid=CA1&user_id=t1", nil)
	req.Header.Set("Authorization", bearer(t, m))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Success  bool   `json:"success"`
		Status   string `json:"status"`
		Duration string `json:"duration"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Status != "in-progress" || resp.Duration != "12" {
		t.Fatalf("unexpected response %s", w.Body.String())
	}
}

func TestGenerateToken(t *testing.T) {
	r, m := testRouter(t, tenants.NewMemoryStore(), "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/generate-token", strings.NewReader(`{"source":"frontend"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	claims, err := m.Verify(resp.Token, time.Now())
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if claims.Source != auth.SourceFrontend {
		t.Fatalf("unexpected source %q", claims.Source)
	}
}

func TestGenerateTokenRejectsUnknownSource(t *testing.T) {
	r, _ := testRouter(t, tenants.NewMemoryStore(), "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/generate-token", strings.NewReader(`{"source":"robot"}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
