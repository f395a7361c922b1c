// Package remotetest provides an in-process fake of the portal API for tests.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/xuecangming/drivefetch/internal/common/types"
)

const (
	FolderEndpoint   = "/portal/v2/folders"
	DownloadEndpoint = "/portal/v2/files"
	LogoutEndpoint   = "/logout"
)

// Item is the metadata of a listed item
type Item struct {
	ID       string
	ParentID string
	Name     string
	// Type is "root", "folder" or "file"
	Type     string
	Size     int64
	PathName string
}

type listing struct {
	meta     *Item
	children []Item
}

// Server is a fake portal API
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	folders     map[string]listing
	files       map[string][]byte
	truncate    map[string]int
	short       map[string]int
	failures    map[string]int
	ignoreRange map[string]bool
	cookieName  string
	cookieValue string
	requests    map[string]int
	ranges      map[string][]int64
	logouts     []string
}

// NewServer starts a fake portal API; it is closed by the caller
func NewServer() *Server {
	s := &Server{
		folders:     make(map[string]listing),
		files:       make(map[string][]byte),
		truncate:    make(map[string]int),
		short:       make(map[string]int),
		failures:    make(map[string]int),
		ignoreRange: make(map[string]bool),
		requests:    make(map[string]int),
		ranges:      make(map[string][]int64),
	}

	r := mux.NewRouter()
	r.PathPrefix(FolderEndpoint).Methods(http.MethodGet).HandlerFunc(s.handleFolder)
	r.PathPrefix(DownloadEndpoint).Methods(http.MethodGet).HandlerFunc(s.handleDownload)
	r.Path(LogoutEndpoint).Methods(http.MethodPost).HandlerFunc(s.handleLogout)

	s.Server = httptest.NewServer(r)
	return s
}

// RemoteConfig returns a client configuration pointing at the server
func (s *Server) RemoteConfig() types.RemoteConfig {
	return types.RemoteConfig{
		BaseURL:          s.URL,
		FolderEndpoint:   FolderEndpoint,
		DownloadEndpoint: DownloadEndpoint,
		LogoutEndpoint:   LogoutEndpoint,
		SocketTimeout:    5,
		RequestTimeout:   5,
	}
}

// AddFolder registers the listing served for path
func (s *Server) AddFolder(path string, meta *Item, children ...Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[path] = listing{meta: meta, children: children}
}

// AddFile registers the content served for path
func (s *Server) AddFile(path string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = content
}

// TruncateNext makes the next n downloads of path drop the connection halfway
func (s *Server) TruncateNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truncate[path] = n
}

// ShortNext makes the next n downloads of path end cleanly halfway
func (s *Server) ShortNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.short[path] = n
}

// FailNext makes the next n requests for path answer 503
func (s *Server) FailNext(path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = n
}

// IgnoreRange makes downloads of path answer 200 with the full content
func (s *Server) IgnoreRange(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ignoreRange[path] = true
}

// RequireCookie rejects requests that do not carry the cookie with 401
func (s *Server) RequireCookie(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cookieName, s.cookieValue = name, value
}

// Requests returns how many requests were made for path
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[path]
}

// Ranges returns the offsets requested for path, 0 when no Range was sent
func (s *Server) Ranges(path string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ranges[path]...)
}

// Logouts returns the CSRF tokens posted to the logout endpoint
func (s *Server) Logouts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logouts...)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cookieName == "" {
		return true
	}
	ck, err := r.Cookie(s.cookieName)
	return err == nil && ck.Value == s.cookieValue
}

// consume decrements a per-path counter and reports whether it was positive
func consume(m map[string]int, path string) bool {
	if m[path] > 0 {
		m[path]--
		return true
	}
	return false
}

func trimPath(prefix, p string) string {
	p = strings.TrimPrefix(p, prefix)
	if p == "" || p[0] != '/' {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func (s *Server) handleFolder(w http.ResponseWriter, r *http.Request) {
	path := trimPath(FolderEndpoint, r.URL.Path)

	s.mu.Lock()
	s.requests[path]++
	authorized := s.authorized(r)
	fail := consume(s.failures, path)
	l, ok := s.folders[path]
	s.mu.Unlock()

	switch {
	case !authorized:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	case fail:
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	case !ok:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{"result": nil, "error": "folder not found"})
		return
	}

	items := make([]map[string]any, 0, len(l.children))
	for _, c := range l.children {
		items = append(items, encodeItem(c))
	}
	result := map[string]any{"items": items}
	if l.meta != nil {
		result["meta"] = encodeItem(*l.meta)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"result": result, "error": nil})
}

func encodeItem(it Item) map[string]any {
	m := map[string]any{
		"id":                         it.ID,
		"parent_id":                  it.ParentID,
		"name":                       it.Name,
		"type":                       it.Type,
		"version":                    1,
		"date_created":               1.4e12,
		"date_content_last_modified": 1.4e12,
		"application_data": map[string]any{
			"running_path_name": it.PathName,
			"_server": map[string]any{
				"nebula": map[string]any{"nonce": "n-" + it.ID, "blid": "b-" + it.ID},
			},
		},
	}
	if it.Type == "file" {
		m["size"] = it.Size
		m["mime"] = "application/octet-stream"
	}
	return m
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	path := trimPath(DownloadEndpoint, r.URL.Path)

	var offset int64
	if h := r.Header.Get("Range"); strings.HasPrefix(h, "bytes=") {
		offset, _ = strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(h, "bytes="), "-"), 10, 64)
	}

	s.mu.Lock()
	s.requests[path]++
	s.ranges[path] = append(s.ranges[path], offset)
	authorized := s.authorized(r)
	fail := consume(s.failures, path)
	truncate := consume(s.truncate, path)
	short := consume(s.short, path)
	ignoreRange := s.ignoreRange[path]
	content, ok := s.files[path]
	s.mu.Unlock()

	switch {
	case !authorized:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	case fail:
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	case !ok:
		http.NotFound(w, r)
		return
	}

	status := http.StatusOK
	if offset > 0 && !ignoreRange {
		if offset >= int64(len(content)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		content = content[offset:]
		status = http.StatusPartialContent
		w.Header().Set("Content-Range", "bytes "+strconv.FormatInt(offset, 10)+"-"+
			strconv.Itoa(int(offset)+len(content)-1)+"/"+strconv.Itoa(int(offset)+len(content)))
	}

	half := content[:len(content)/2]
	switch {
	case truncate:
		// announce everything, deliver half, then drop the connection
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(status)
		w.Write(half)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	case short:
		w.Header().Set("Content-Length", strconv.Itoa(len(half)))
		w.WriteHeader(status)
		w.Write(half)
	default:
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		w.WriteHeader(status)
		w.Write(content)
	}
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.logouts = append(s.logouts, r.PostForm.Get("csrf_token"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}
