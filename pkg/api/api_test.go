package api

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillforge/skillforge/pkg/agent"
	"github.com/skillforge/skillforge/pkg/authn"
	"github.com/skillforge/skillforge/pkg/checkpoint"
	"github.com/skillforge/skillforge/pkg/interrupt"
	"github.com/skillforge/skillforge/pkg/llmclient"
	"github.com/skillforge/skillforge/pkg/models"
	"github.com/skillforge/skillforge/pkg/sandbox"
	"github.com/skillforge/skillforge/pkg/session"
	"github.com/skillforge/skillforge/pkg/store/memory"
	"github.com/skillforge/skillforge/pkg/stream"
	"github.com/skillforge/skillforge/pkg/upload"
	"github.com/skillforge/skillforge/pkg/validation"
	"github.com/skillforge/skillforge/pkg/webdav"
)

// fakeKV is a minimal in-memory checkpoint.KVStore, the same shape as
// pkg/agent and pkg/validation's test doubles.
type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string][]byte{}} }

func (f *fakeKV) Get(ctx context.Context, threadID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[threadID]
	if !ok {
		return nil, checkpoint.ErrKVNotFound
	}
	return v, nil
}

func (f *fakeKV) Put(ctx context.Context, threadID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[threadID] = payload
	return nil
}

func (f *fakeKV) Delete(ctx context.Context, threadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, threadID)
	return nil
}

func (f *fakeKV) Exists(ctx context.Context, threadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[threadID]
	return ok, nil
}

// fakeHandle and fakeExecutor are the same shape as pkg/sandbox's own test
// doubles: an always-alive handle and an executor that hands one out per
// owner key.
type fakeHandle struct{}

func (fakeHandle) Alive(ctx context.Context) bool              { return true }
func (fakeHandle) Destroy(ctx context.Context) error           { return nil }
func (fakeHandle) DisconnectNetwork(ctx context.Context) error { return nil }
func (fakeHandle) ReconnectNetwork(ctx context.Context) error  { return nil }
func (fakeHandle) Execute(ctx context.Context, cmd []string) (*sandbox.ExecResult, error) {
	return &sandbox.ExecResult{Stdout: "ok", ExitCode: 0}, nil
}
func (fakeHandle) Stats(ctx context.Context) (*sandbox.ResourceStats, error) {
	return &sandbox.ResourceStats{}, nil
}

type fakeExecutor struct{}

func (fakeExecutor) Create(ctx context.Context, ownerKey string, blockNetwork bool) (sandbox.ExecutorHandle, error) {
	return fakeHandle{}, nil
}

// fakeTools is an agent.ToolExecutor that never actually executes anything;
// chat/resume tests in this package exercise HTTP wiring, not the agent
// loop's own tool-call semantics (covered by pkg/agent's tests).
type fakeTools struct{}

func (fakeTools) ExecuteTool(ctx context.Context, userID string, call llmclient.ToolCall) (string, error) {
	return "", nil
}

// silentLLM immediately closes the stream with no tokens, producing a
// one-turn "done" event with empty content. Good enough for exercising the
// SSE wiring without depending on any model-specific transcript shape.
type silentLLM struct{}

func (silentLLM) Generate(ctx context.Context, in llmclient.GenerateInput, ch chan<- llmclient.StreamUnit) error {
	close(ch)
	return nil
}

type testServer struct {
	srv    *Server
	router http.Handler
	skills *memory.SkillStore
	tokens *authn.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	users := memory.NewUserStore()
	threads := memory.NewThreadStore()
	skills := memory.NewSkillStore()

	kv := newFakeKV()
	checkpoints := checkpoint.New(kv)

	sandboxes := sandbox.New(fakeExecutor{})
	runner := agent.New(checkpoints, silentLLM{}, fakeTools{})
	interrupts := interrupt.New(checkpoints, runner)
	sessions := session.New(threads, checkpoints, sandboxes)
	multiplex := stream.New(silentLLM{}, session.Titler{Threads: threads})

	uploadDir := t.TempDir()
	scratchDir := t.TempDir()
	skillsPendingDir := t.TempDir()
	uploads := upload.New(scratchDir, uploadDir, 10*1024*1024, 50*1024*1024, 0)
	dav := webdav.New(uploadDir)

	tokens := authn.NewTokenIssuer([]byte("test-signing-key"), time.Hour)

	srv := NewServer(users, skills, tokens, sessions, runner, interrupts, multiplex, sandboxes, uploads, dav, 0)
	srv.SetValidationOrchestrator(validation.New(skills, sandboxes, checkpoints, silentLLM{}, nil))
	srv.SetSkillsPendingDir(skillsPendingDir)
	srv.SetImageVersions(memory.NewImageVersionStore())
	require.NoError(t, srv.ValidateWiring())

	return &testServer{srv: srv, router: srv.Handler(), skills: skills, tokens: tokens}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) registerAndLogin(t *testing.T, username string, admin bool) (userID, token string) {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{Username: username, Password: "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var regResp registerResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &regResp))

	loginTok, err := ts.srv.tokens.Issue(regResp.UserID, admin)
	require.NoError(t, err)
	return regResp.UserID, loginTok
}

func TestHealthHandler(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRegisterThenLogin_Succeeds(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{Username: "alice", Password: "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Username: "alice", Password: "hunter2"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "bearer", resp.TokenType)
}

func TestLogin_WrongPasswordIsUnauthorized(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{Username: "bob", Password: "correct"})

	rec := ts.do(t, http.MethodPost, "/api/auth/login", "", loginRequest{Username: "bob", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterDuplicateUsername_IsConflict(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{Username: "carol", Password: "x"})
	rec := ts.do(t, http.MethodPost, "/api/auth/register", "", registerRequest{Username: "carol", Password: "y"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSessions_CreateListDestroy_RoundTrip(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.registerAndLogin(t, "dave", false)
	_ = userID

	rec := ts.do(t, http.MethodPost, "/api/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Contains(t, created.ThreadID, userID+"-")

	rec = ts.do(t, http.MethodGet, "/api/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed listSessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Total)

	rec = ts.do(t, http.MethodDelete, "/api/sessions/"+created.ThreadID, token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessions_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDestroySession_RejectsNonOwner(t *testing.T) {
	ts := newTestServer(t)
	_, tokenA := ts.registerAndLogin(t, "owner", false)
	_, tokenB := ts.registerAndLogin(t, "intruder", false)

	rec := ts.do(t, http.MethodPost, "/api/sessions", tokenA, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodDelete, "/api/sessions/"+created.ThreadID, tokenB, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusAndHistory_RejectThreadIDNotOwnedByCaller(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerAndLogin(t, "eve", false)

	rec := ts.do(t, http.MethodGet, "/api/status/someoneelse-11111111-1111-1111-1111-111111111111", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/history/someoneelse-11111111-1111-1111-1111-111111111111", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatus_IdleForFreshThread(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.registerAndLogin(t, "frank", false)

	rec := ts.do(t, http.MethodPost, "/api/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	_ = userID

	rec = ts.do(t, http.MethodGet, "/api/status/"+created.ThreadID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st session.ThreadStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, session.StatusIdle, st.Status)
}

func TestChat_StreamsSSEFramesEndingWithEnd(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerAndLogin(t, "grace", false)

	rec := ts.do(t, http.MethodPost, "/api/sessions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = ts.do(t, http.MethodPost, "/api/chat/"+created.ThreadID, token, chatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: end")
}

func TestAdmin_RequiresAdminPrivileges(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerAndLogin(t, "henry", false)

	rec := ts.do(t, http.MethodGet, "/api/admin/skills", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminSkillLifecycle_ApproveRequiresCompletedValidation(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.registerAndLogin(t, "admin1", true)

	sk := &models.Skill{SkillID: "11111111-1111-1111-1111-111111111111", Name: "demo", Status: models.SkillStatusPending, SkillPath: "/tmp/demo"}
	require.NoError(t, ts.skills.Create(context.Background(), sk))

	rec := ts.do(t, http.MethodPost, "/api/admin/skills/"+sk.SkillID+"/approve", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSkillLifecycle_RejectRecordsReason(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.registerAndLogin(t, "admin2", true)

	sk := &models.Skill{SkillID: "22222222-2222-2222-2222-222222222222", Name: "demo2", Status: models.SkillStatusPending, SkillPath: "/tmp/demo2"}
	require.NoError(t, ts.skills.Create(context.Background(), sk))

	rec := ts.do(t, http.MethodPost, "/api/admin/skills/"+sk.SkillID+"/reject", adminToken, rejectSkillRequest{Reason: "not safe"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got, err := ts.skills.Get(context.Background(), sk.SkillID)
	require.NoError(t, err)
	assert.Equal(t, models.SkillStatusRejected, got.Status)
	assert.Equal(t, "not safe", got.RejectReason)
}

func TestAdminGetSkill_NotFoundIs404(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.registerAndLogin(t, "admin3", true)

	rec := ts.do(t, http.MethodGet, "/api/admin/skills/does-not-exist", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminUploadSkill_MissingSkillMDStillCreatesRow(t *testing.T) {
	ts := newTestServer(t)
	_, adminToken := ts.registerAndLogin(t, "admin4", true)

	zipData := newZipArchive(t, map[string][]byte{"scripts/run.sh": []byte("#!/bin/sh\n")})

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", "no-skill-md.zip")
	require.NoError(t, err)
	_, err = part.Write(zipData)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/admin/skills/upload", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sk models.Skill
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sk))
	assert.Equal(t, models.SkillStatusPending, sk.Status)
	assert.False(t, sk.FormatValid)
	assert.Equal(t, []string{"Missing SKILL.md"}, sk.FormatErrors)
	assert.Equal(t, "no-skill-md", sk.Name)

	got, err := ts.skills.Get(context.Background(), sk.SkillID)
	require.NoError(t, err)
	assert.Equal(t, models.SkillStatusPending, got.Status)
}

// newZipArchive builds an in-memory zip from name -> content.
func newZipArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestWebDAV_PutThenGetRoundTrips(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerAndLogin(t, "iris", false)

	req := httptest.NewRequest(http.MethodPut, "/api/dav/notes/a.txt", bytes.NewBufferString("hello"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/dav/notes/a.txt", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

func TestWebDAV_PropfindReturnsMultistatus(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerAndLogin(t, "jack", false)

	req := httptest.NewRequest(http.MethodPut, "/api/dav/a.txt", bytes.NewBufferString("x"))
	req.Header.Set("Authorization", "Bearer "+token)
	ts.router.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("PROPFIND", "/api/dav/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Depth", "1")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "multistatus")
}

func TestFiles_InitSaveCompleteUpload_RoundTrip(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerAndLogin(t, "kim", false)

	rec := ts.do(t, http.MethodPost, "/api/files/init-upload", token, initUploadRequest{Filename: "f.txt", TotalChunks: 1, TotalSize: 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var initResp initUploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))

	body := &bytes.Buffer{}
	writer := newMultipartChunk(t, body, initResp.UploadID, 0, []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload-chunk", body)
	req.Header.Set("Content-Type", writer)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/files/complete-upload", token, completeUploadRequest{UploadID: initResp.UploadID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestFiles_ProgressNotFoundIs404(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.registerAndLogin(t, "liam", false)

	rec := ts.do(t, http.MethodGet, "/api/files/upload/does-not-exist/progress", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// newMultipartChunk writes a multipart/form-data body with a chunk field
// and returns the Content-Type header value to set on the request.
func newMultipartChunk(t *testing.T, buf *bytes.Buffer, uploadID string, chunkIndex int, data []byte) string {
	t.Helper()
	w := multipart.NewWriter(buf)
	defer w.Close()
	require.NoError(t, w.WriteField("upload_id", uploadID))
	require.NoError(t, w.WriteField("chunk_index", fmt.Sprintf("%d", chunkIndex)))
	part, err := w.CreateFormFile("chunk", "chunk_0")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	return w.FormDataContentType()
}
