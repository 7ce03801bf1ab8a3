// Package backendtest runs an in-memory room backend for tests: the REST
// endpoints of roomapi and the websocket push channel, on one httptest
// server routed with chi.
package backendtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/roomsync/internal/chat"
)

// Server is a fake backend holding messages per room.
type Server struct {
	URL     string // REST base URL
	PushURL string // websocket URL

	srv *httptest.Server

	mu         sync.Mutex
	self       chat.Message // sender stamped on created messages
	messages   map[int64][]chat.Message
	nextID     int64
	rejectCode int
	typing     int
	recording  []bool
	deleted    []int64
	uploads    []Upload
	fetches    []fetchCall
	conns      map[*websocket.Conn]*sync.Mutex

	subscribed chan string
}

// Upload is one multipart message submission.
type Upload struct {
	Type     chat.Type
	Content  string
	FileName string
	Size     int
	Duration int
}

type fetchCall struct {
	afterID string
	limit   string
}

// New starts a server; it is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		messages:   map[int64][]chat.Message{},
		nextID:     1000,
		conns:      map[*websocket.Conn]*sync.Mutex{},
		subscribed: make(chan string, 8),
		self:       chat.Message{SenderID: 1, SenderName: "me"},
	}

	r := chi.NewRouter()
	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Get("/messages", s.handleList)
		r.Post("/messages", s.handleCreate)
		r.Delete("/messages/{messageID}", s.handleDelete)
		r.Post("/typing", s.handleTyping)
		r.Post("/recording", s.handleRecording)
	})
	r.Get("/ws", s.handlePush)

	s.srv = httptest.NewServer(r)
	s.URL = s.srv.URL
	s.PushURL = "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	t.Cleanup(s.Close)
	return s
}

// Close disconnects every push client and stops the server.
func (s *Server) Close() {
	s.Disconnect()
	s.srv.Close()
}

// SetSelf sets the sender stamped on messages created through the API.
func (s *Server) SetSelf(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self.SenderID, s.self.SenderName = id, name
}

// Seed stores messages as if other members had sent them.
func (s *Server) Seed(roomID int64, msgs ...chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		m.RoomID = roomID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		s.messages[roomID] = append(s.messages[roomID], m)
		s.nextID = max(s.nextID, m.ID)
	}
}

// Messages returns the stored messages of a room ordered by id.
func (s *Server) Messages(roomID int64) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]chat.Message(nil), s.messages[roomID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RejectWrites makes every create request fail with code; 0 restores success.
func (s *Server) RejectWrites(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectCode = code
}

// TypingReports counts POST /typing calls.
func (s *Server) TypingReports() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// RecordingReports lists the is_recording flags in arrival order.
func (s *Server) RecordingReports() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bool(nil), s.recording...)
}

// Uploads lists the accepted multipart submissions.
func (s *Server) Uploads() []Upload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Upload(nil), s.uploads...)
}

// Deleted lists deleted message ids.
func (s *Server) Deleted() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.deleted...)
}

// Fetches counts GET /messages calls.
func (s *Server) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetches)
}

// LastFetch returns the raw after_id and limit of the latest poll; ok is
// false before the first one.
func (s *Server) LastFetch() (afterID, limit string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.fetches) == 0 {
		return "", "", false
	}
	f := s.fetches[len(s.fetches)-1]
	return f.afterID, f.limit, true
}

// Subscribed receives the channel name of every push subscribe frame.
func (s *Server) Subscribed() <-chan string {
	return s.subscribed
}

// Push sends a named event to every connected push client.
func (s *Server) Push(event, channel string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(map[string]any{"event": event, "channel": channel, "data": json.RawMessage(raw)})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, wmu := range s.conns {
		wmu.Lock()
		err := conn.WriteMessage(websocket.TextMessage, frame)
		wmu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Disconnect drops every push connection.
func (s *Server) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

func roomID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "roomID"), 10, 64)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad room"})
		return
	}
	q := r.URL.Query()
	var after int64
	if v := q.Get("after_id"); v != "" {
		after, _ = strconv.ParseInt(v, 10, 64)
	}
	limit, _ := strconv.Atoi(q.Get("limit"))

	msgs := s.Messages(id)
	s.mu.Lock()
	s.fetches = append(s.fetches, fetchCall{afterID: q.Get("after_id"), limit: q.Get("limit")})
	s.mu.Unlock()

	page := []chat.Message{}
	for _, m := range msgs {
		if m.ID > after {
			page = append(page, m)
		}
	}
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": page})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad room"})
		return
	}
	s.mu.Lock()
	reject := s.rejectCode
	s.mu.Unlock()
	if reject != 0 {
		writeJSON(w, reject, map[string]string{"message": "rejected"})
		return
	}

	m := chat.Message{RoomID: id, CreatedAt: time.Now().UTC()}
	var up *Upload
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": err.Error()})
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"message": "file is required"})
			return
		}
		data, _ := io.ReadAll(f)
		_ = f.Close()
		m.Type = chat.Type(r.FormValue("type"))
		m.Content = r.FormValue("content")
		m.Duration, _ = strconv.Atoi(r.FormValue("duration"))
		up = &Upload{Type: m.Type, Content: m.Content, FileName: hdr.Filename, Size: len(data), Duration: m.Duration}
	} else {
		var body struct {
			Type    chat.Type `json:"type"`
			Content string    `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		m.Type, m.Content = body.Type, body.Content
	}

	s.mu.Lock()
	s.nextID++
	m.ID = s.nextID
	m.SenderID, m.SenderName = s.self.SenderID, s.self.SenderName
	if up != nil {
		m.FileReference = fmt.Sprintf("uploads/%d/%s", m.ID, up.FileName)
		s.uploads = append(s.uploads, *up)
	}
	s.messages[id] = append(s.messages[id], m)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]any{"data": m})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad room"})
		return
	}
	mid, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad message id"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[id]
	for i, m := range msgs {
		if m.ID == mid {
			s.messages[id] = append(msgs[:i:i], msgs[i+1:]...)
			s.deleted = append(s.deleted, mid)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "message not found"})
}

func (s *Server) handleTyping(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.typing++
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsRecording bool `json:"is_recording"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}
	s.mu.Lock()
	s.recording = append(s.recording, body.IsRecording)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns[conn] = &sync.Mutex{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		var f struct {
			Event   string `json:"event"`
			Channel string `json:"channel"`
		}
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == "subscribe" {
			select {
			case s.subscribed <- f.Channel:
			default:
			}
		}
	}
}
