package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"jardav/internal/cache"
	"jardav/internal/dependencies"
	"jardav/internal/events"
	"jardav/internal/filesystem"
	"jardav/internal/jobs"
	"jardav/internal/notify"
	"jardav/internal/preview"
	"jardav/internal/scenarios"
	"jardav/internal/source"
	"jardav/internal/storage"
	"jardav/internal/testutil"
	"jardav/pkg/types"
)

type testEnv struct {
	store     *storage.PersistentStore
	fs        *filesystem.ArchiveFS
	hub       *events.Hub
	deps      *dependencies.Registry
	scenarios *scenarios.Registry
	jobs      *jobs.Tracker
	preview   *preview.FS
	router    *notify.Router
	jar       string
}

// createTestEnv mounts a sample archive as "lib".
func createTestEnv(t *testing.T, opts ...filesystem.Option) *testEnv {
	t.Helper()

	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := events.NewHub(8)
	t.Cleanup(hub.Close)

	opts = append([]filesystem.Option{filesystem.WithEvents(hub), filesystem.WithMetadataRecorder(store)}, opts...)
	fs := filesystem.New(source.NewResolver(), opts...)
	jar := testutil.WriteZip(t, t.TempDir(), "lib.jar", testutil.SampleFiles())
	if err := store.SetMount(&types.Mount{ID: "lib", URI: "file://" + jar, Origin: types.OriginAPI}); err != nil {
		t.Fatalf("Failed to mount archive: %v", err)
	}

	deps := dependencies.NewRegistry(fs, store, hub, dependencies.WithReleaser(fs))
	scen := scenarios.NewRegistry(hub)
	tracker := jobs.NewTracker()
	p := preview.New(hub)

	return &testEnv{
		store:     store,
		fs:        fs,
		hub:       hub,
		deps:      deps,
		scenarios: scen,
		jobs:      tracker,
		preview:   p,
		router:    notify.NewRouter(deps, scen, p, tracker, nil),
		jar:       jar,
	}
}

func (e *testEnv) api() *APIHandler {
	return NewAPIHandler(e.fs, e.store, Workspace{
		Dependencies: e.deps,
		Scenarios:    e.scenarios,
		Preview:      e.preview,
		Jobs:         e.jobs,
		Router:       e.router,
	}, nil)
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var response APIResponse
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return response
}

func TestAPIHandler_ListMounts(t *testing.T) {
	env := createTestEnv(t)
	handler := env.api()

	req := httptest.NewRequest("GET", "/api/mounts", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	response := decodeResponse(t, w)
	if !response.Success {
		t.Error("Expected success to be true")
	}

	data, ok := response.Data.(map[string]interface{})
	if !ok {
		t.Fatal("Expected data to be a map")
	}
	if data["total"] != float64(1) {
		t.Errorf("Expected 1 mount, got %v", data["total"])
	}
}

func TestAPIHandler_AddAndDeleteMount(t *testing.T) {
	env := createTestEnv(t)
	handler := env.api()

	body, _ := json.Marshal(types.Mount{ID: "other", URI: "https://repo.example.com/other.jar"})
	req := httptest.NewRequest("POST", "/api/mounts", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
	}

	mount, err := env.store.GetMount("other")
	if err != nil || mount == nil {
		t.Fatalf("Expected mount to be stored, got %v, %v", mount, err)
	}
	if mount.Origin != types.OriginAPI {
		t.Errorf("Expected origin %s, got %s", types.OriginAPI, mount.Origin)
	}

	// Same id again
	req = httptest.NewRequest("POST", "/api/mounts", bytes.NewReader(body))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected status code %d, got %d", http.StatusConflict, w.Code)
	}

	req = httptest.NewRequest("DELETE", "/api/mounts/other", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	req = httptest.NewRequest("DELETE", "/api/mounts/other", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, w.Code)
	}
}

type recordingTracker struct {
	mu        sync.Mutex
	untracked []string
}

func (r *recordingTracker) Track(string) error { return nil }

func (r *recordingTracker) Untrack(location string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.untracked = append(r.untracked, location)
}

func (r *recordingTracker) released() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.untracked...)
}

func TestAPIHandler_DeleteMountReleasesArchive(t *testing.T) {
	c := cache.New(time.Minute, 4)
	t.Cleanup(c.Close)
	tracker := &recordingTracker{}
	env := createTestEnv(t, filesystem.WithCache(c), filesystem.WithTracker(tracker))
	handler := env.api()
	uri := "file://" + env.jar

	// A second mount of the same archive keeps it alive.
	if err := env.store.SetMount(&types.Mount{ID: "copy", URI: uri, Origin: types.OriginAPI}); err != nil {
		t.Fatalf("Failed to mount archive: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/fs/stat?address="+url.QueryEscape(uri+"!/c.txt"), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}
	if c.Size() != 1 {
		t.Fatalf("Expected one cached archive, got %d", c.Size())
	}

	req = httptest.NewRequest("DELETE", "/api/mounts/copy", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	if c.Size() != 1 || len(tracker.released()) != 0 {
		t.Errorf("Expected the shared archive to stay cached, got size %d and released %v", c.Size(), tracker.released())
	}

	req = httptest.NewRequest("DELETE", "/api/mounts/lib", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	if c.Size() != 0 {
		t.Errorf("Expected the archive to be evicted, got size %d", c.Size())
	}
	if got := tracker.released(); len(got) != 1 || got[0] != uri {
		t.Errorf("Expected %s to be untracked, got %v", uri, got)
	}
}

func TestAPIHandler_AddMountValidation(t *testing.T) {
	env := createTestEnv(t)
	handler := env.api()

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing id", `{"uri":"file:///x.jar"}`},
		{"nested id", `{"id":"a/b","uri":"file:///x.jar"}`},
		{"missing uri", `{"id":"x"}`},
		{"separator in uri", `{"id":"x","uri":"file:///x.jar!/inner.jar"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/mounts", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status code %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}
}

func TestAPIHandler_FileSystem(t *testing.T) {
	env := createTestEnv(t)
	handler := env.api()
	loc := "file://" + env.jar

	tests := []struct {
		name       string
		path       string
		address    string
		wantStatus int
	}{
		{"stat root", "/api/fs/stat", loc + "!", http.StatusOK},
		{"stat file", "/api/fs/stat", loc + "!/a/b.txt", http.StatusOK},
		{"stat missing", "/api/fs/stat", loc + "!/nope", http.StatusNotFound},
		{"list root", "/api/fs/list", loc + "!", http.StatusOK},
		{"list file", "/api/fs/list", loc + "!/c.txt", http.StatusNotFound},
		{"read file", "/api/fs/read", loc + "!a/b.txt", http.StatusOK},
		{"read directory", "/api/fs/read", loc + "!/a", http.StatusNotFound},
		{"no separator", "/api/fs/stat", loc, http.StatusBadRequest},
		{"unknown scheme", "/api/fs/stat", "gopher://x.jar!/a", http.StatusBadRequest},
		{"missing archive", "/api/fs/stat", "/does/not/exist.jar!/a", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path+"?address="+url.QueryEscape(tt.address), nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Expected status code %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}

	req := httptest.NewRequest("GET", "/api/fs/read?address="+url.QueryEscape(loc+"!/a/b.txt"), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Body.String() != "hello from b" {
		t.Errorf("Expected file content, got %q", w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/fs/list?address="+url.QueryEscape(loc+"!"), nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	var listing struct {
		Data []struct {
			Name string `json:"name"`
			Kind string `json:"kind"`
		} `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&listing); err != nil {
		t.Fatalf("Failed to decode listing: %v", err)
	}
	if len(listing.Data) != 2 || listing.Data[0].Name != "a" || listing.Data[0].Kind != "directory" ||
		listing.Data[1].Name != "c.txt" || listing.Data[1].Kind != "file" {
		t.Errorf("Unexpected root listing %+v", listing.Data)
	}
}

func TestAPIHandler_ArchiveMetadata(t *testing.T) {
	env := createTestEnv(t)
	handler := env.api()
	loc := "file://" + env.jar

	req := httptest.NewRequest("GET", "/api/archives?location="+url.QueryEscape(loc), nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d before the archive is read, got %d", http.StatusNotFound, w.Code)
	}

	req = httptest.NewRequest("GET", "/api/fs/stat?address="+url.QueryEscape(loc+"!"), nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest("GET", "/api/archives?location="+url.QueryEscape(loc), nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}

	data := decodeResponse(t, w).Data.(map[string]interface{})
	if data["entry_count"] != float64(3) {
		t.Errorf("Expected 3 entries, got %v", data["entry_count"])
	}
}

func TestAPIHandler_NotifyJobsAndDependencies(t *testing.T) {
	env := createTestEnv(t)
	handler := env.api()

	send := func(method, params string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(NotifyRequest{Method: method, Params: json.RawMessage(params)})
		req := httptest.NewRequest("POST", "/api/notify", bytes.NewReader(body))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	if w := send(notify.MethodJobStarted, `{"id":"j1","label":"Indexing","description":""}`); w.Code != http.StatusAccepted {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}

	req := httptest.NewRequest("GET", "/api/jobs", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	jobsList, ok := decodeResponse(t, w).Data.([]interface{})
	if !ok || len(jobsList) != 1 {
		t.Errorf("Expected one running job, got %v", jobsList)
	}

	deps := `{"dependencies":[{"uri":"file://` + env.jar + `","id":"dep"}]}`
	if w := send(notify.MethodPublishDependencies, deps); w.Code != http.StatusAccepted {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/dependencies", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	roots, ok := decodeResponse(t, w).Data.([]interface{})
	if !ok || len(roots) != 1 {
		t.Fatalf("Expected one dependency root, got %v", roots)
	}
	rootAddr := roots[0].(map[string]interface{})["address"].(string)

	req = httptest.NewRequest("GET", "/api/dependencies?address="+url.QueryEscape(rootAddr), nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	children, ok := decodeResponse(t, w).Data.([]interface{})
	if !ok || len(children) != 2 {
		t.Errorf("Expected two children, got %v", children)
	}

	if w := send("weave/workspace/unknown", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d for an unknown method, got %d", http.StatusBadRequest, w.Code)
	}
	if w := send("", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status code %d for a missing method, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestAPIHandler_Preview(t *testing.T) {
	env := createTestEnv(t)
	handler := env.api()

	env.preview.Show(preview.Result{Success: true, Content: `{"a":1}`, MimeType: "application/json", TimeTaken: 12})

	req := httptest.NewRequest("GET", "/api/preview", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var response struct {
		Data PreviewResponse `json:"data"`
	}
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Data.URI != preview.URI {
		t.Errorf("Expected uri %s, got %s", preview.URI, response.Data.URI)
	}
	if response.Data.Stat.Kind != types.KindFile || response.Data.Stat.Size != 0 {
		t.Errorf("Unexpected stat %+v", response.Data.Stat)
	}
	if len(response.Data.Entries) != 1 || response.Data.Entries[0].Name != preview.FileName {
		t.Errorf("Unexpected entries %+v", response.Data.Entries)
	}
	if response.Data.Result.TimeTaken != 12 || !response.Data.Result.Success {
		t.Errorf("Unexpected result %+v", response.Data.Result)
	}

	req = httptest.NewRequest("GET", "/api/preview/content", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status code %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}
	if w.Body.String() != `{"a":1}` {
		t.Errorf("Unexpected content %q", w.Body.String())
	}

	// A failed preview shows its error message as plain text.
	env.preview.Show(preview.Result{ErrorMessage: "boom"})
	req = httptest.NewRequest("GET", "/api/preview/content", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if ct := w.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Expected plain text, got %s", ct)
	}
	if w.Body.String() != "boom" {
		t.Errorf("Unexpected content %q", w.Body.String())
	}
}

func TestAPIHandler_Scenarios(t *testing.T) {
	env := createTestEnv(t)
	handler := env.api()

	get := func(target string) (*httptest.ResponseRecorder, []scenarios.TreeItem) {
		req := httptest.NewRequest("GET", target, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		var response struct {
			Data []scenarios.TreeItem `json:"data"`
		}
		json.Unmarshal(w.Body.Bytes(), &response)
		return w, response.Data
	}

	w, roots := get("/api/scenarios")
	if w.Code != http.StatusOK || len(roots) != 0 {
		t.Fatalf("Expected no roots before publishing, got %d %v", w.Code, roots)
	}

	params := `{"nameIdentifier":"org::Mapping","scenarios":[{"active":true,"name":"default","uri":"file:///ws/default",` +
		`"inputsUri":[{"uri":"file:///ws/default/payload.json","name":"payload.json"}],"outputsUri":"file:///ws/default/out.json"}]}`
	body, _ := json.Marshal(NotifyRequest{Method: notify.MethodPublishScenarios, Params: json.RawMessage(params)})
	req := httptest.NewRequest("POST", "/api/notify", bytes.NewReader(body))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status code %d, got %d: %s", http.StatusAccepted, w.Code, w.Body.String())
	}

	_, roots = get("/api/scenarios")
	if len(roots) != 1 || roots[0].Label != "Mapping" {
		t.Fatalf("Unexpected roots %+v", roots)
	}

	_, children := get("/api/scenarios?id=" + url.QueryEscape(roots[0].ID))
	if len(children) != 1 || children[0].Context != scenarios.ContextActiveScenario {
		t.Errorf("Unexpected scenarios %+v", children)
	}

	if w, _ := get("/api/scenarios?id=missing"); w.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestAPIHandler_InvalidEndpoint(t *testing.T) {
	env := createTestEnv(t)
	handler := env.api()

	req := httptest.NewRequest("GET", "/api/unknown", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, w.Code)
	}
	if decodeResponse(t, w).Success {
		t.Error("Expected success to be false")
	}
}

func mountOf(id, uri string) *types.Mount {
	return &types.Mount{ID: id, URI: uri, Origin: types.OriginAPI}
}
