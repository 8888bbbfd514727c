package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/bundlesync/archive"
	"github.com/pithecene-io/bundlesync/cli/config"
	"github.com/pithecene-io/bundlesync/log"
	"github.com/pithecene-io/bundlesync/transport"
	"github.com/pithecene-io/bundlesync/types"
)

// fakeService is an in-process bundle service plus webhook receiver.
type fakeService struct {
	mu sync.Mutex
	st serviceState
}

type serviceState struct {
	tokens     []string
	created    int
	extended   int
	uploaded   int
	hooks      int
	lastExtend transport.BundleRequest
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path != "/hook" {
		f.st.tokens = append(f.st.tokens, r.Header.Get(transport.TokenHeader))
	}
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/bundle":
		f.st.created++
		fmt.Fprint(w, `{"bundleId":"b1","uploadURL":"/upload/b1"}`)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/bundle/"):
		fmt.Fprint(w, `{}`)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/api/bundle/"):
		f.st.lastExtend = transport.BundleRequest{}
		_ = json.NewDecoder(r.Body).Decode(&f.st.lastExtend)
		f.st.extended++
		id := fmt.Sprintf("b%d", f.st.extended+1)
		fmt.Fprintf(w, `{"bundleId":%q,"uploadURL":"/upload/%s"}`, id, id)
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/upload/"):
		var files []transport.UploadFile
		_ = json.NewDecoder(r.Body).Decode(&files)
		f.st.uploaded += len(files)
		fmt.Fprint(w, `{}`)
	case r.Method == http.MethodPost && r.URL.Path == "/hook":
		f.st.hooks++
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeService) snapshot() serviceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.st
	st.tokens = append([]string(nil), f.st.tokens...)
	return st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDaemon_CreateThenExtend(t *testing.T) {
	svc := &fakeService{}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	root := t.TempDir()
	data := t.TempDir()
	for name, content := range map[string]string{"a.go": "package a", "b.go": "package b"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	retries := 0
	cfg := config.Defaults()
	cfg.Server.URL = srv.URL + "/api"
	cfg.Server.Token = "tok"
	cfg.Project.Name = "demo"
	cfg.Project.Root = root
	cfg.Project.Debounce = config.Duration{Duration: 20 * time.Millisecond}
	cfg.Sync.Interval = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Sync.RequestDelay = config.Duration{Duration: time.Hour}
	cfg.Sync.TestMode = true
	cfg.State = config.StateConfig{Backend: "sqlite", Path: filepath.Join(data, "state.db")}
	cfg.Notify = config.NotifyConfig{Type: "webhook", URL: srv.URL + "/hook", Retries: &retries}
	cfg.Archive = config.ArchiveConfig{Backend: archive.BackendFS, Path: filepath.Join(data, "archive")}

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	d, err := newDaemon(ctx, cfg, log.Session{SessionID: "s1", Project: "demo"}, log.NewNop())
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- d.run(ctx) }()

	waitFor(t, "bundle create", func() bool {
		s := svc.snapshot()
		return s.created == 1 && s.uploaded == 2
	})
	waitFor(t, "bundle-ready webhook", func() bool { return svc.snapshot().hooks >= 1 })

	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package a // edited"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "bundle extend", func() bool { return svc.snapshot().extended == 1 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	s := svc.snapshot()
	if _, ok := s.lastExtend.Files["a.go"]; !ok || len(s.lastExtend.Files) != 1 {
		t.Errorf("extend files = %v, want only a.go", s.lastExtend.Files)
	}
	if s.created != 1 {
		t.Errorf("created %d bundles, want 1", s.created)
	}
	for _, tok := range s.tokens {
		if tok != "tok" {
			t.Fatalf("request sent with token %q", tok)
		}
	}

	store, closeStore, err := openStore(cfg.State)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = closeStore() }()
	status, err := readStatus(t.Context(), store)
	if err != nil {
		t.Fatal(err)
	}
	if status.BundleID != "b2" || status.Busy {
		t.Errorf("status after shutdown = %+v", status)
	}

	arch, err := openArchive(t.Context(), cfg.Archive)
	if err != nil {
		t.Fatal(err)
	}
	records, err := arch.Recent(t.Context(), 0, archive.Filter{Project: "demo"})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) < 2 {
		t.Fatalf("archived %d records, want at least 2", len(records))
	}
	if records[0].Op != types.OpExtend || records[0].BundleID != "b2" {
		t.Errorf("newest record = %+v", records[0])
	}
	last := records[len(records)-1]
	if last.Op != types.OpCreate || last.BundleID != "b1" || last.Files != 2 {
		t.Errorf("oldest record = %+v", last)
	}
}
