package roomapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/matheus3301/roomsync/internal/chat"
)

// fakeBackend records requests routed through a chi router.
type fakeBackend struct {
	mu       sync.Mutex
	queries  []string
	auth     []string
	uploads  []map[string]string
	typing   int
	recorded []bool
	deleted  []string
	failWith int
}

func (f *fakeBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.mu.Lock()
			f.auth = append(f.auth, req.Header.Get("Authorization"))
			fail := f.failWith
			f.mu.Unlock()
			if fail != 0 {
				w.WriteHeader(fail)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/rooms/{roomID}/messages", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.queries = append(f.queries, req.URL.RawQuery)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"data":[{"id":1,"room_id":7,"sender_id":2,"type":"text","content":"hi","created_at":"2024-01-01T00:00:00Z"}]}`))
	})
	r.Post("/rooms/{roomID}/messages", func(w http.ResponseWriter, req *http.Request) {
		if strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/") {
			if err := req.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			file, hdr, err := req.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)
			f.mu.Lock()
			f.uploads = append(f.uploads, map[string]string{
				"type":     req.FormValue("type"),
				"duration": req.FormValue("duration"),
				"filename": hdr.Filename,
				"file":     string(data),
			})
			f.mu.Unlock()
			_, _ = w.Write([]byte(`{"id":50,"room_id":7,"type":"` + req.FormValue("type") + `","file_reference":"up/50"}`))
			return
		}
		var body map[string]string
		_ = json.NewDecoder(req.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"id":51,"room_id":7,"type":"` + body["type"] + `","content":"` + body["content"] + `"}`))
	})
	r.Delete("/rooms/{roomID}/messages/{messageID}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.deleted = append(f.deleted, chi.URLParam(req, "messageID"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/rooms/{roomID}/typing", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.typing++
		f.mu.Unlock()
	})
	r.Post("/rooms/{roomID}/recording", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			IsRecording bool `json:"is_recording"`
		}
		_ = json.NewDecoder(req.Body).Decode(&body)
		f.mu.Lock()
		f.recorded = append(f.recorded, body.IsRecording)
		f.mu.Unlock()
	})
	return r
}

func newTestClient(t *testing.T) (*Client, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb.router())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "secret", nil), fb
}

func TestFetchMessagesQuery(t *testing.T) {
	c, fb := newTestClient(t)
	ctx := context.Background()

	msgs, err := c.FetchMessages(ctx, 7, nil, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Errorf("msgs = %+v", msgs)
	}

	after := int64(41)
	if _, err := c.FetchMessages(ctx, 7, &after, 50); err != nil {
		t.Fatal(err)
	}

	if fb.queries[0] != "limit=50" {
		t.Errorf("first query = %q, want limit only", fb.queries[0])
	}
	if fb.queries[1] != "after_id=41&limit=50" {
		t.Errorf("second query = %q", fb.queries[1])
	}
	if fb.auth[0] != "Bearer secret" {
		t.Errorf("authorization = %q", fb.auth[0])
	}
}

func TestCreateMessageJSON(t *testing.T) {
	c, _ := newTestClient(t)
	m, err := c.CreateMessage(context.Background(), 7, chat.Sticker, "wave")
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != 51 || m.Type != chat.Sticker || m.Content != "wave" {
		t.Errorf("message = %+v", m)
	}
}

func TestUploadMessageMultipart(t *testing.T) {
	c, fb := newTestClient(t)
	m, err := c.UploadMessage(context.Background(), 7, MediaUpload{
		Type:     chat.Audio,
		FileName: "voice.webm",
		File:     strings.NewReader("opus-bytes"),
		Duration: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != 50 || m.FileReference != "up/50" {
		t.Errorf("message = %+v", m)
	}
	up := fb.uploads[0]
	if up["type"] != "audio" || up["duration"] != "5" || up["filename"] != "voice.webm" || up["file"] != "opus-bytes" {
		t.Errorf("upload = %v", up)
	}
}

func TestDeleteAndReports(t *testing.T) {
	c, fb := newTestClient(t)
	ctx := context.Background()

	if err := c.DeleteMessage(ctx, 7, 99); err != nil {
		t.Fatal(err)
	}
	if err := c.ReportTyping(ctx, 7); err != nil {
		t.Fatal(err)
	}
	if err := c.ReportRecording(ctx, 7, true); err != nil {
		t.Fatal(err)
	}
	if err := c.ReportRecording(ctx, 7, false); err != nil {
		t.Fatal(err)
	}

	if len(fb.deleted) != 1 || fb.deleted[0] != "99" {
		t.Errorf("deleted = %v", fb.deleted)
	}
	if fb.typing != 1 {
		t.Errorf("typing reports = %d, want 1", fb.typing)
	}
	if len(fb.recorded) != 2 || !fb.recorded[0] || fb.recorded[1] {
		t.Errorf("recording reports = %v, want [true false]", fb.recorded)
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		code      int
		transient bool
	}{
		{http.StatusUnprocessableEntity, false},
		{http.StatusForbidden, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			c, fb := newTestClient(t)
			fb.failWith = tt.code

			_, err := c.CreateMessage(context.Background(), 7, chat.Text, "x")
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want StatusError", err)
			}
			if se.Code != tt.code || se.Message != "nope" {
				t.Errorf("status error = %+v", se)
			}
			if IsTransient(err) != tt.transient {
				t.Errorf("IsTransient = %v, want %v", IsTransient(err), tt.transient)
			}
		})
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, "", nil)
	_, err := c.FetchMessages(context.Background(), 1, nil, 50)
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if !IsTransient(err) {
		t.Errorf("IsTransient(%v) = false", err)
	}
}
