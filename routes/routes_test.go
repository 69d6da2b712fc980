package routes

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"rag-knowledge-platform/internal/ai"
	"rag-knowledge-platform/internal/auth"
	"rag-knowledge-platform/internal/config"
	"rag-knowledge-platform/internal/database"
	"rag-knowledge-platform/internal/vectorstore/memory"
	"rag-knowledge-platform/middleware"
	"rag-knowledge-platform/models"
	"rag-knowledge-platform/services"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const manualText = "Lockout tagout procedure: isolate all energy sources, apply lockout devices and verify zero energy before maintenance on the hydraulic press."

type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string, _ models.ProviderKind) (ai.EmbedResult, error) {
	vec := make([]float32, 16)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,:?")))
		vec[int(h.Sum32())%16]++
	}
	vec[0] += 0.01
	return ai.EmbedResult{Vector: vec, Provider: "ollama", Model: "nomic-embed-text"}, nil
}

type cannedGenerator struct{}

func (cannedGenerator) Generate(context.Context, []ai.Message, models.ProviderKind) (ai.GenerateResult, error) {
	return ai.GenerateResult{Text: "Isolate all energy sources and apply lockout devices [1].", Provider: "ollama", Model: "tinyllama"}, nil
}

type fakeHealth struct{ ok bool }

func (f fakeHealth) HealthCheck(context.Context, bool, ai.Pinger) ai.HealthReport {
	return ai.HealthReport{OK: f.ok, Local: ai.ComponentHealth{OK: f.ok}}
}

type fixture struct {
	router    *gin.Engine
	ingestion *services.IngestionService
	audit     *services.AuditLogger
	store     *database.MemoryStore
	issuer    *auth.Issuer
}

func newFixture(t *testing.T, rateLimit int) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		CORSOrigins:        []string{"http://localhost:5173"},
		MaxFileSize:        1 << 20,
		RateLimitPerMinute: rateLimit,
		LocalTimeout:       time.Second,
		ChunkSizeChars:     4500,
		ChunkOverlapChars:  600,
	}

	store := database.NewMemoryStore()
	vectors := memory.New()
	files, err := services.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage: %v", err)
	}
	providers := services.NewProviderConfigService(store, models.ProviderConfig{
		DefaultChatProvider:  models.ProviderLocal,
		DefaultEmbedProvider: models.ProviderLocal,
	}, logger)

	ingestion := services.NewIngestionService(services.IngestionOptions{
		Store:        store,
		Files:        files,
		Extractor:    services.NewExtractor(cfg.MaxFileSize),
		Embedder:     wordEmbedder{},
		Vectors:      vectors,
		Providers:    providers,
		ChunkSize:    cfg.ChunkSizeChars,
		ChunkOverlap: cfg.ChunkOverlapChars,
		MaxFileSize:  cfg.MaxFileSize,
		Logger:       logger,
	})
	query := services.NewQueryService(services.QueryOptions{
		Embedder:  wordEmbedder{},
		Generator: cannedGenerator{},
		Vectors:   vectors,
		Providers: providers,
		Config:    services.DefaultQueryConfig(),
		Logger:    logger,
	})
	audit := services.NewAuditLogger(store, logger, nil)
	t.Cleanup(audit.Close)

	issuer, err := auth.NewIssuer("routes-secret", time.Hour, nil)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	router := NewRouter(Deps{
		Config:    cfg,
		Auth:      middleware.NewAuthMiddleware(issuer),
		Ingestion: ingestion,
		Chat:      services.NewChatService(store, query, logger),
		Providers: providers,
		Audit:     audit,
		Health:    fakeHealth{ok: true},
		Vectors:   vectors,
		Logger:    logger,
	})
	return &fixture{router: router, ingestion: ingestion, audit: audit, store: store, issuer: issuer}
}

func (f *fixture) token(t *testing.T, userID, role string) string {
	t.Helper()
	tok, _, err := f.issuer.Issue(context.Background(), userID, role)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	return f.do(t, method, path, token, bytes.NewReader(raw), "application/json")
}

func (f *fixture) upload(t *testing.T, token, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()
	return f.do(t, http.MethodPost, "/api/documents/upload", token, &buf, mw.FormDataContentType())
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.ingestion.Scheduler().Wait(ctx); err != nil {
		t.Fatalf("wait for worker: %v", err)
	}
}

func docx(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body><w:p><w:r><w:t>`+text+`</w:t></w:r></w:p></w:body></w:document>`)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return out
}

func TestUploadIndexAndChat(t *testing.T) {
	f := newFixture(t, 30)
	admin := f.token(t, "admin-1", auth.RoleAdmin)
	user := f.token(t, "user-1", auth.RoleUser)

	w := f.upload(t, admin, "Press Manual.docx", docx(t, manualText))
	if w.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d: %s", w.Code, w.Body.String())
	}
	uploaded := decode[struct {
		Document models.Document     `json:"document"`
		Job      models.IngestionJob `json:"job"`
	}](t, w)
	f.waitIdle(t)

	w = f.do(t, http.MethodGet, "/api/jobs/"+uploaded.Job.ID, user, nil, "")
	job := decode[models.IngestionJob](t, w)
	if w.Code != http.StatusOK || job.Status != models.JobStatusCompleted || job.Progress != 100 {
		t.Fatalf("job = %d %+v", w.Code, job)
	}

	w = f.do(t, http.MethodGet, "/api/documents", user, nil, "")
	list := decode[struct {
		Documents []models.DocumentView `json:"documents"`
	}](t, w)
	if len(list.Documents) != 1 || list.Documents[0].Status != models.DocumentStatusIndexed || list.Documents[0].LatestJob == nil {
		t.Fatalf("documents = %+v", list.Documents)
	}

	w = f.doJSON(t, http.MethodPost, "/api/chat", user, gin.H{"question": "How do I apply lockout on the hydraulic press?"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d: %s", w.Code, w.Body.String())
	}
	chat := decode[struct {
		SessionID string            `json:"session_id"`
		Answer    string            `json:"answer"`
		Citations []models.Citation `json:"citations"`
		Debug     struct {
			Outcome string `json:"outcome"`
		} `json:"debug"`
	}](t, w)
	if chat.Debug.Outcome != services.OutcomeAnswered || chat.SessionID == "" || len(chat.Citations) == 0 {
		t.Fatalf("chat = %+v", chat)
	}

	w = f.do(t, http.MethodGet, "/api/chat/sessions/"+chat.SessionID+"/messages", user, nil, "")
	history := decode[struct {
		Messages []models.ChatMessage `json:"messages"`
	}](t, w)
	if len(history.Messages) != 2 {
		t.Fatalf("history = %+v", history)
	}

	// sessions belong to their owner
	other := f.token(t, "user-2", auth.RoleUser)
	if w := f.do(t, http.MethodGet, "/api/chat/sessions/"+chat.SessionID+"/messages", other, nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("foreign session status = %d", w.Code)
	}

	f.audit.Close()
	events, err := f.store.ListAuditEvents(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	actions := map[string]bool{}
	for _, e := range events {
		actions[e.Action] = true
	}
	if !actions[models.AuditDocUpload] || !actions[models.AuditChatQuery] {
		t.Fatalf("audit actions = %v", actions)
	}
}

func TestChatRefusesUnrelatedQuestion(t *testing.T) {
	f := newFixture(t, 30)
	admin := f.token(t, "admin-1", auth.RoleAdmin)
	f.upload(t, admin, "manual.docx", docx(t, manualText))
	f.waitIdle(t)

	w := f.doJSON(t, http.MethodPost, "/api/chat", admin, gin.H{"question": "What is the weather forecast tomorrow?"})
	res := decode[struct {
		Answer string `json:"answer"`
	}](t, w)
	if w.Code != http.StatusOK || res.Answer != services.RefusalMessage {
		t.Fatalf("status %d answer %q", w.Code, res.Answer)
	}
}

func TestDocumentRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t, 30)
	user := f.token(t, "user-1", auth.RoleUser)

	if w := f.upload(t, user, "a.docx", docx(t, "text")); w.Code != http.StatusForbidden {
		t.Fatalf("user upload status = %d", w.Code)
	}
	if w := f.do(t, http.MethodDelete, "/api/documents/any", user, nil, ""); w.Code != http.StatusForbidden {
		t.Fatalf("user delete status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/documents", "", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list status = %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, 30)
	admin := f.token(t, "admin-1", auth.RoleAdmin)

	tests := []struct {
		name   string
		resp   func() *httptest.ResponseRecorder
		status int
		code   string
	}{
		{
			name:   "unsupported format",
			resp:   func() *httptest.ResponseRecorder { return f.upload(t, admin, "sheet.xlsx", []byte("x")) },
			status: http.StatusBadRequest,
			code:   "unsupported_format",
		},
		{
			name: "remote default while disallowed",
			resp: func() *httptest.ResponseRecorder {
				return f.doJSON(t, http.MethodPut, "/api/providers", admin, gin.H{"default_chat_provider": "remote"})
			},
			status: http.StatusBadRequest,
			code:   "policy_violation",
		},
		{
			name: "remote preference while disallowed",
			resp: func() *httptest.ResponseRecorder {
				return f.doJSON(t, http.MethodPut, "/api/providers/me", admin, gin.H{"chat_provider": "remote"})
			},
			status: http.StatusBadRequest,
			code:   "policy_violation",
		},
		{
			name:   "unknown job",
			resp:   func() *httptest.ResponseRecorder { return f.do(t, http.MethodGet, "/api/jobs/nope", admin, nil, "") },
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "reindex unknown document",
			resp:   func() *httptest.ResponseRecorder { return f.do(t, http.MethodPost, "/api/documents/nope/reindex", admin, nil, "") },
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name: "empty question",
			resp: func() *httptest.ResponseRecorder {
				return f.doJSON(t, http.MethodPost, "/api/chat", admin, gin.H{"question": "   "})
			},
			status: http.StatusBadRequest,
			code:   "invalid_input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.resp()
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			body := decode[struct {
				ErrorCode string `json:"error_code"`
			}](t, w)
			if body.ErrorCode != tt.code {
				t.Fatalf("error_code = %q, want %q", body.ErrorCode, tt.code)
			}
		})
	}
}

func TestProvidersViewDependsOnRole(t *testing.T) {
	f := newFixture(t, 30)

	w := f.do(t, http.MethodGet, "/api/providers", f.token(t, "user-1", auth.RoleUser), nil, "")
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), `"config"`) {
		t.Fatalf("user view = %d %s", w.Code, w.Body.String())
	}

	admin := f.token(t, "admin-1", auth.RoleAdmin)
	w = f.doJSON(t, http.MethodPut, "/api/providers", admin, gin.H{
		"allow_remote": true,
		"remote":       gin.H{"kind": "huggingface", "api_token": "hf_abcdefghijkl", "chat_model": "mistral"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "hf_abcdefghijkl") {
		t.Fatalf("token leaked: %s", w.Body.String())
	}

	w = f.do(t, http.MethodGet, "/api/providers", admin, nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"config"`) || strings.Contains(w.Body.String(), "hf_abcdefghijkl") {
		t.Fatalf("admin view = %d %s", w.Code, w.Body.String())
	}
}

func TestChatRateLimited(t *testing.T) {
	f := newFixture(t, 1)
	user := f.token(t, "user-1", auth.RoleUser)

	first := f.doJSON(t, http.MethodPost, "/api/chat", user, gin.H{"question": "anything about presses?"})
	if first.Code == http.StatusTooManyRequests {
		t.Fatalf("first request limited")
	}
	second := f.doJSON(t, http.MethodPost, "/api/chat", user, gin.H{"question": "anything about presses?"})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d", second.Code)
	}
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t, 30)
	if w := f.do(t, http.MethodGet, "/api/health", "", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/health/provider", "", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("provider health status = %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/settings", "", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous settings status = %d", w.Code)
	}
	w := f.do(t, http.MethodGet, "/api/settings", f.token(t, "u", auth.RoleUser), nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "chunk_size_chars") {
		t.Fatalf("settings = %d %s", w.Code, w.Body.String())
	}
}

func TestProviderHealthUnavailable(t *testing.T) {
	r := NewRouter(Deps{
		Config: &config.Config{LocalTimeout: time.Second},
		Auth:   middleware.NewAuthMiddleware(mustIssuer(t)),
		Health: fakeHealth{ok: false},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health/provider?deep=true", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func mustIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	iss, err := auth.NewIssuer("s", time.Hour, nil)
	if err != nil {
		t.Fatal(err)
	}
	return iss
}

func TestUnmappedErrorsHideDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", func(c *gin.Context) { respondServiceError(c, errors.New("mongo: connection refused at 10.0.0.3")) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError || strings.Contains(w.Body.String(), "10.0.0.3") {
		t.Fatalf("unexpected %d %s", w.Code, w.Body.String())
	}
}
