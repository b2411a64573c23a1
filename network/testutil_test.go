package network

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"crosscopy/models"
)

type recordedRequest struct {
	Method       string
	Path         string
	Query        map[string]string
	CacheControl string
	Close        bool
	Body         string
}

// fakeServer emulates the parts of the cross-copy API the client uses.
type fakeServer struct {
	t      *testing.T
	server *httptest.Server

	mu        sync.Mutex
	requests  []recordedRequest
	listeners string
	shared    map[string][]models.WireItem
	files     map[string][]byte
	nextID    int
	holdWatch chan struct{}
	failWith  int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{
		t:         t,
		listeners: "1\n",
		shared:    make(map[string][]models.WireItem),
		files:     make(map[string][]byte),
	}

	router := chi.NewRouter()
	router.Use(fs.record)
	router.Get("/api/{phrase}", fs.handleGet)
	router.Put("/api/{phrase}", fs.handleShare)
	router.Put("/data/{phrase}/{name}", fs.handleUpload)
	router.Get("/data/{phrase}/{name}", fs.handleDownload)

	fs.server = httptest.NewServer(router)
	t.Cleanup(func() {
		fs.mu.Lock()
		if fs.holdWatch != nil {
			close(fs.holdWatch)
			fs.holdWatch = nil
		}
		fs.mu.Unlock()
		fs.server.Close()
	})
	return fs
}

func (fs *fakeServer) client(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(ClientOptions{
		ServerURL: fs.server.URL,
		DeviceID:  "device-1",
		Now:       func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return client
}

func (fs *fakeServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		r.Body = io.NopCloser(strings.NewReader(string(body)))

		query := make(map[string]string)
		for key := range r.URL.Query() {
			query[key] = r.URL.Query().Get(key)
		}

		fs.mu.Lock()
		fs.requests = append(fs.requests, recordedRequest{
			Method:       r.Method,
			Path:         r.URL.Path,
			Query:        query,
			CacheControl: r.Header.Get("Cache-Control"),
			Close:        r.Close,
			Body:         string(body),
		})
		status := fs.failWith
		fs.mu.Unlock()

		if status != 0 {
			http.Error(w, "server unavailable", status)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (fs *fakeServer) lastRequest() recordedRequest {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.NotEmpty(fs.t, fs.requests)
	return fs.requests[len(fs.requests)-1]
}

func (fs *fakeServer) handleGet(w http.ResponseWriter, r *http.Request) {
	phrase := chi.URLParam(r, "phrase")
	if strings.HasSuffix(phrase, ".json") {
		fs.handleReceive(w, r, strings.TrimSuffix(phrase, ".json"))
		return
	}

	fs.mu.Lock()
	hold := fs.holdWatch
	body := fs.listeners
	fs.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}
	_, _ = io.WriteString(w, body)
}

func (fs *fakeServer) handleReceive(w http.ResponseWriter, r *http.Request, phrase string) {
	since := r.URL.Query().Get("since")

	fs.mu.Lock()
	items, ok := fs.shared[phrase]
	fs.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

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
	phrase := chi.URLParam(r, "phrase")
	body, _ := io.ReadAll(r.Body)

	fs.mu.Lock()
	fs.nextID++
	item := models.WireItem{Data: string(body), ID: fmt.Sprintf("id-%d", fs.nextID)}
	fs.shared[phrase] = append(fs.shared[phrase], item)
	fs.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(item)
}

func (fs *fakeServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "phrase") + "/" + chi.URLParam(r, "name")
	body, _ := io.ReadAll(r.Body)

	fs.mu.Lock()
	fs.files[key] = body
	fs.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
}

func (fs *fakeServer) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "phrase") + "/" + chi.URLParam(r, "name")

	fs.mu.Lock()
	body, ok := fs.files[key]
	fs.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(body)
}
