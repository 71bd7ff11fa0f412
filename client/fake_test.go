package client

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeComfy is a minimal ComfyUI server for tests.
type fakeComfy struct {
	mu           sync.Mutex
	historyCalls int
	prompts      []map[string]json.RawMessage
	deleted      []string
	interrupts   int
	viewed       []string

	// promptStatus and promptBody answer POST /prompt
	promptStatus int
	promptBody   string
	// history returns the body for the n-th history poll, starting at 1
	history    func(n int) string
	viewStatus int
	image      []byte
	// controlStatus answers /queue and /interrupt posts
	controlStatus int
}

func newFakeComfy(t *testing.T) (*fakeComfy, *httptest.Server) {
	f := &fakeComfy{
		promptStatus:  http.StatusOK,
		promptBody:    `{"prompt_id": "42", "number": 1, "node_errors": {}}`,
		history:       func(int) string { return `{}` },
		viewStatus:    http.StatusOK,
		image:         []byte("\x89PNG fake image"),
		controlStatus: http.StatusOK,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Write([]byte(`{"exec_info": {"queue_remaining": 2}}`))
			return
		}
		var payload map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		f.mu.Lock()
		f.prompts = append(f.prompts, payload)
		status, resp := f.promptStatus, f.promptBody
		f.mu.Unlock()

		w.WriteHeader(status)
		w.Write([]byte(resp))
	})
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.historyCalls++
		n := f.historyCalls
		f.mu.Unlock()
		w.Write([]byte(f.history(n)))
	})
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.viewed = append(f.viewed, r.URL.Query().Get("filename")+"|"+r.URL.Query().Get("type"))
		status := f.viewStatus
		f.mu.Unlock()
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write(f.image)
		}
	})
	mux.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"queue_running": [[0, "a"]], "queue_pending": [[1, "b"], [2, "c"]]}`))
			return
		}
		var req struct {
			Delete []string `json:"delete"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.deleted = append(f.deleted, req.Delete...)
		status := f.controlStatus
		f.mu.Unlock()
		w.WriteHeader(status)
	})
	mux.HandleFunc("/interrupt", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.interrupts++
		status := f.controlStatus
		f.mu.Unlock()
		w.WriteHeader(status)
	})
	mux.HandleFunc("/system_stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"system": {"os": "posix", "python_version": "3.11.6", "comfyui_version": "0.3.10", "embedded_python": false},
			"devices": [{"name": "cuda:0 NVIDIA GeForce RTX 4090", "type": "cuda", "index": 0, "vram_total": 25393692672, "vram_free": 24000000000}]}`))
	})
	mux.HandleFunc("/upload/image", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil || len(data) == 0 || r.FormValue("type") != "input" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		name := header.Filename
		if r.FormValue("overwrite") != "true" {
			name = strings.TrimSuffix(name, ".png") + " (1).png"
		}
		w.Write([]byte(`{"name": "` + name + `", "subfolder": "", "type": "input"}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeComfy) snapshot() (historyCalls int, deleted []string, interrupts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.historyCalls, append([]string(nil), f.deleted...), f.interrupts
}

func (f *fakeComfy) viewedFiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.viewed...)
}

func (f *fakeComfy) submitted() []map[string]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]json.RawMessage(nil), f.prompts...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(srv *httptest.Server) *ComfyClient {
	return NewComfyClient(srv.URL+"/", WithLogger(quietLogger()), WithClientID("test-client"))
}
