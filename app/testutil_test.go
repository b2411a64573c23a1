package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"crosscopy/config"
	"crosscopy/discovery"
	"crosscopy/models"
)

// fakeServer is an in-memory cross-copy server. Listener watches block until
// the count for the phrase differs from the one the client sent.
type fakeServer struct {
	server *httptest.Server

	mu        sync.Mutex
	listeners map[string]int
	changed   chan struct{}
	shared    map[string][]models.WireItem
	files     map[string][]byte
	watches   map[string]int
	nextID    int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{
		listeners: make(map[string]int),
		changed:   make(chan struct{}),
		shared:    make(map[string][]models.WireItem),
		files:     make(map[string][]byte),
		watches:   make(map[string]int),
	}

	router := chi.NewRouter()
	router.Get("/api/{phrase}", fs.handleGet)
	router.Put("/api/{phrase}", fs.handleShare)
	router.Put("/data/{phrase}/{name}", fs.handleUpload)
	router.Get("/data/{phrase}/{name}", fs.handleDownload)

	fs.server = httptest.NewServer(router)
	t.Cleanup(fs.server.Close)
	return fs
}

func (fs *fakeServer) setListeners(phrase string, count int) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.listeners[phrase] = count
	close(fs.changed)
	fs.changed = make(chan struct{})
}

func (fs *fakeServer) watchCount(phrase string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.watches[phrase]
}

func (fs *fakeServer) share(phrase, data string) models.WireItem {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.nextID++
	item := models.WireItem{Data: data, ID: fmt.Sprintf("id-%d", fs.nextID)}
	fs.shared[phrase] = append(fs.shared[phrase], item)
	return item
}

func (fs *fakeServer) putFile(phrase, name string, content []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.files[phrase+"/"+name] = content
}

func (fs *fakeServer) handleGet(w http.ResponseWriter, r *http.Request) {
	phrase := chi.URLParam(r, "phrase")
	if len(phrase) > 5 && phrase[len(phrase)-5:] == ".json" {
		fs.handleReceive(w, r, phrase[:len(phrase)-5])
		return
	}

	known, err := strconv.Atoi(r.URL.Query().Get("count"))
	if err != nil {
		http.Error(w, "bad count", http.StatusBadRequest)
		return
	}

	fs.mu.Lock()
	fs.watches[phrase]++
	fs.mu.Unlock()

	for {
		fs.mu.Lock()
		current := fs.listeners[phrase]
		changed := fs.changed
		fs.mu.Unlock()

		if current != known {
			_, _ = io.WriteString(w, strconv.Itoa(current)+"\n")
			return
		}
		select {
		case <-changed:
		case <-r.Context().Done():
			return
		}
	}
}

func (fs *fakeServer) handleReceive(w http.ResponseWriter, r *http.Request, phrase string) {
	since := r.URL.Query().Get("since")

	fs.mu.Lock()
	items := append([]models.WireItem(nil), fs.shared[phrase]...)
	fs.mu.Unlock()

	out := make([]models.WireItem, 0, len(items))
	found := since == ""
	for _, item := range items {
		if found {
			out = append(out, item)
		}
		if item.ID == since {
			found = true
		}
	}
	if len(out) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (fs *fakeServer) handleShare(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	item := fs.share(chi.URLParam(r, "phrase"), string(body))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(item)
}

func (fs *fakeServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	fs.putFile(chi.URLParam(r, "phrase"), chi.URLParam(r, "name"), body)
	w.WriteHeader(http.StatusCreated)
}

func (fs *fakeServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	fs.mu.Lock()
	body, ok := fs.files[chi.URLParam(r, "phrase")+"/"+chi.URLParam(r, "name")]
	fs.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(body)
}

type staticLocator struct {
	server discovery.Server
	err    error
	calls  int
}

func (l *staticLocator) Find(context.Context) (discovery.Server, error) {
	l.calls++
	return l.server, l.err
}

func testConfig(t *testing.T, dataDir, serverURL string) *config.ClientConfig {
	t.Helper()
	return &config.ClientConfig{
		DeviceID:              "device-test",
		ServerURL:             serverURL,
		HistoryKey:            config.DefaultHistoryKey,
		FilesDir:              filepath.Join(dataDir, "files"),
		LogLevel:              config.LogLevelDebug,
		RequestTimeoutSeconds: 5,
	}
}

func openTestApp(t *testing.T, cfg *config.ClientConfig, dataDir string) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, Options{DataDir: dataDir, Operation: "test", Stderr: io.Discard})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}
