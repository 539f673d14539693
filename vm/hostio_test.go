package vm

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestFileRoundTrip(t *testing.T) {
	h := newHostIO(false)
	path := filepath.Join(t.TempDir(), "f.txt")
	if err := h.writeFile(path, "one\n"); err != nil {
		t.Fatal(err)
	}
	if err := h.appendFile(path, "two\n"); err != nil {
		t.Fatal(err)
	}
	content, err := h.readFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if content != "one\ntwo\n" {
		t.Errorf("content = %q", content)
	}
	if err := h.deleteFile(path); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file survived delete")
	}
}

func TestDeleteMissingFileIsFine(t *testing.T) {
	h := newHostIO(false)
	if err := h.deleteFile(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Errorf("deleting a missing file errored: %v", err)
	}
}

func TestAppendCreatesFile(t *testing.T) {
	h := newHostIO(false)
	path := filepath.Join(t.TempDir(), "new.log")
	if err := h.appendFile(path, "first"); err != nil {
		t.Fatal(err)
	}
	content, err := h.readFile(path)
	if err != nil || content != "first" {
		t.Errorf("content = %q, %v", content, err)
	}
}

func TestNetworkGate(t *testing.T) {
	h := newHostIO(false)
	if _, err := h.httpGet("http://localhost/"); err == nil {
		t.Error("GET allowed with the gate closed")
	}
	if _, err := h.httpPost("http://localhost/", "x"); err == nil {
		t.Error("POST allowed with the gate closed")
	}
	if _, err := h.connect("localhost", 80); err == nil {
		t.Error("connect allowed with the gate closed")
	}
}

func TestHTTPGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != userAgent {
			t.Errorf("User-Agent = %q", ua)
		}
		io.WriteString(w, "pong")
	}))
	defer srv.Close()

	h := newHostIO(true)
	body, err := h.httpGet(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if body != "pong" {
		t.Errorf("body = %q", body)
	}
}

func TestHTTPPostEncodesContainersAsJSON(t *testing.T) {
	var gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	h := newHostIO(true)
	payload := NewMap()
	payload.Items["n"] = int64(7)
	if _, err := h.httpPost(srv.URL, payload); err != nil {
		t.Fatal(err)
	}
	if gotType != "application/json" {
		t.Errorf("Content-Type = %q", gotType)
	}
	if gotBody != `{"n":7}` {
		t.Errorf("body = %q", gotBody)
	}

	if _, err := h.httpPost(srv.URL, int64(3)); err != nil {
		t.Fatal(err)
	}
	if gotType != "text/plain" || gotBody != "3" {
		t.Errorf("scalar payload sent as %q %q", gotType, gotBody)
	}
}

func TestSocketSendRecv(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hello")
	}))
	defer srv.Close()
	hostPort := strings.TrimPrefix(srv.URL, "http://")
	host, portStr, _ := strings.Cut(hostPort, ":")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	h := newHostIO(true)
	sock, err := h.connect(host, port)
	if err != nil {
		t.Fatal(err)
	}
	defer sock.Close()
	if !sock.send("GET / HTTP/1.0\r\n\r\n") {
		t.Fatal("send failed")
	}
	resp := sock.recv()
	if !strings.HasPrefix(resp, "HTTP/1.0 200") {
		t.Errorf("recv = %q", resp)
	}
}

func TestClosedSocketHelpers(t *testing.T) {
	s := &Socket{Addr: "nowhere:1"}
	if s.send("x") {
		t.Error("send on a nil connection reported success")
	}
	if s.recv() != "" {
		t.Error("recv on a nil connection returned data")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close = %v", err)
	}
}

func TestToJSONValue(t *testing.T) {
	m := NewMap()
	m.Items[int64(1)] = NewList("a", nil)
	got := toJSONValue(m)
	mm, ok := got.(map[string]any)
	if !ok {
		t.Fatalf("got %T", got)
	}
	lst, ok := mm["1"].([]any)
	if !ok || len(lst) != 2 || lst[0] != "a" || lst[1] != nil {
		t.Errorf("lowered = %#v", got)
	}
}
