// internal/browser/cdptest/cdptest.go

// Package cdptest provides a stand-in for Chrome so the browser lifecycle can
// be tested without a real browser.
//
// A Server is an in-process DevTools websocket endpoint plus a tiny shell
// script to use as the allocator's ExecPath. The script announces the
// endpoint the way Chrome does ("DevTools listening on ws://...") and then
// stays alive until the browser is closed over CDP, so chromedp's exec
// allocator launches, attaches to and shuts down the fake exactly as it would
// a real process. The server answers the commands chromedp issues while
// discovering the first tab, creating and attaching further tabs, enabling
// domains and evaluating scripts. Everything else is acknowledged with an
// empty result.
package cdptest

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	json "github.com/json-iterator/go"
)

const firstTarget = "page-1"

// EvaluateFunc computes the value a Runtime.evaluate call returns. A nil
// result is reported as undefined.
type EvaluateFunc func(expression string) any

// Server is a fake browser endpoint. It is safe for concurrent use.
type Server struct {
	srv      *httptest.Server
	dir      string
	stopFile string
	execPath string

	mu          sync.Mutex
	conns       []net.Conn
	connections int
	targets     int
	calls       map[string]int
	evaluate    EvaluateFunc
}

type request struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"sessionId,omitempty"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
}

type response struct {
	ID        int64  `json:"id"`
	SessionID string `json:"sessionId,omitempty"`
	Result    any    `json:"result"`
}

type event struct {
	SessionID string `json:"sessionId,omitempty"`
	Method    string `json:"method"`
	Params    any    `json:"params"`
}

type object = map[string]any

// New starts a server and writes its launcher script. Both are torn down
// with the test. Tests using it are skipped on Windows, which cannot run the
// script.
func New(t testing.TB) *Server {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping: the fake browser launcher is a POSIX shell script")
	}

	s := &Server{
		dir:   t.TempDir(),
		calls: make(map[string]int),
	}
	s.stopFile = filepath.Join(s.dir, "stop")
	s.srv = httptest.NewServer(http.HandlerFunc(s.serveWS))
	t.Cleanup(s.close)

	wsURL := "ws://" + strings.TrimPrefix(s.srv.URL, "http://") + "/devtools/browser/cdptest"
	// The directory check keeps a stray launcher from outliving the test.
	s.execPath = writeScript(t, s.dir, "chrome", fmt.Sprintf(`rm -f %[1]q
echo "DevTools listening on %[2]s" >&2
while [ ! -e %[1]q ] && [ -d %[3]q ]; do sleep 0.05; done
`, s.stopFile, wsURL, s.dir))
	return s
}

// HangingExecPath returns a launcher that starts but never announces a
// DevTools endpoint, like a browser stuck during startup.
func HangingExecPath(t testing.TB) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping: the fake browser launcher is a POSIX shell script")
	}
	dir := t.TempDir()
	return writeScript(t, dir, "hanging-chrome", fmt.Sprintf("while [ -d %q ]; do sleep 0.05; done\n", dir))
}

func writeScript(t testing.TB, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("failed to write fake browser launcher: %v", err)
	}
	return path
}

// ExecPath is the launcher to pass to chromedp.ExecPath.
func (s *Server) ExecPath() string {
	return s.execPath
}

// SetEvaluate replaces how Runtime.evaluate is answered. By default every
// expression evaluates to the number 1.
func (s *Server) SetEvaluate(fn EvaluateFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluate = fn
}

// Connections is the number of browser connections accepted so far. Each
// launch of the fake browser opens exactly one.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Targets is the number of page targets handed out so far.
func (s *Server) Targets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targets
}

// Calls is the number of times method was received, on any session.
func (s *Server) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Server) close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
	s.srv.Close()
	// Release any launcher still waiting.
	os.WriteFile(s.stopFile, nil, 0o644)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.connections++
	s.mu.Unlock()

	discovered := false
	for {
		data, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		if err := s.handle(conn, req, &discovered); err != nil {
			return
		}
	}
}

// handle answers one command. Only the read loop of the connection writes to
// it, so writes need no locking.
func (s *Server) handle(conn net.Conn, req request, discovered *bool) error {
	s.mu.Lock()
	s.calls[req.Method]++
	s.mu.Unlock()

	switch req.Method {
	case "Target.setDiscoverTargets":
		if err := reply(conn, req, object{}); err != nil {
			return err
		}
		// chromedp waits for the browser's initial tab on the root session.
		if req.SessionID == "" && !*discovered {
			*discovered = true
			s.mu.Lock()
			s.targets++
			s.mu.Unlock()
			return send(conn, event{Method: "Target.targetCreated", Params: object{
				"targetInfo": object{
					"targetId":         firstTarget,
					"type":             "page",
					"title":            "",
					"url":              "about:blank",
					"attached":         false,
					"canAccessOpener":  false,
					"browserContextId": "context-1",
				},
			}})
		}
		return nil

	case "Target.createTarget":
		s.mu.Lock()
		s.targets++
		id := fmt.Sprintf("page-%d", s.targets)
		s.mu.Unlock()
		return reply(conn, req, object{"targetId": id})

	case "Target.attachToTarget":
		var p struct {
			TargetID string `json:"targetId"`
		}
		json.Unmarshal(req.Params, &p)
		return reply(conn, req, object{"sessionId": "session-" + p.TargetID})

	case "Runtime.evaluate":
		var p struct {
			Expression string `json:"expression"`
		}
		json.Unmarshal(req.Params, &p)
		// chromedp evaluates "self" to tell pages from workers.
		if p.Expression == "self" {
			return reply(conn, req, object{"result": object{"type": "object", "className": "Window", "description": "Window"}})
		}
		return reply(conn, req, object{"result": s.remoteObject(p.Expression)})

	case "Browser.close":
		if err := reply(conn, req, object{}); err != nil {
			return err
		}
		// Lets the launcher exit, as Chrome does after Browser.close.
		return os.WriteFile(s.stopFile, nil, 0o644)

	default:
		return reply(conn, req, object{})
	}
}

func (s *Server) remoteObject(expression string) object {
	s.mu.Lock()
	evaluate := s.evaluate
	s.mu.Unlock()

	var v any = 1
	if evaluate != nil {
		v = evaluate(expression)
	}

	switch v.(type) {
	case nil:
		return object{"type": "undefined"}
	case bool:
		return object{"type": "boolean", "value": v}
	case string:
		return object{"type": "string", "value": v}
	case int, int32, int64, float32, float64:
		return object{"type": "number", "value": v, "description": fmt.Sprint(v)}
	default:
		return object{"type": "object", "value": v}
	}
}

func reply(conn net.Conn, req request, result any) error {
	return send(conn, response{ID: req.ID, SessionID: req.SessionID, Result: result})
}

func send(conn net.Conn, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return wsutil.WriteServerMessage(conn, ws.OpText, data)
}
