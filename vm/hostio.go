package vm

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"
)

const (
	httpTimeout = 15 * time.Second
	sockTimeout = 500 * time.Millisecond
	recvLimit   = 4096
	userAgent   = "nlbc-vm/1.0"
)

// hostIO carries every effectful operation the interpreter performs so
// the network gate and the HTTP client sit in one place.
type hostIO struct {
	allowNet bool
	client   *http.Client
}

func newHostIO(allowNet bool) *hostIO {
	return &hostIO{
		allowNet: allowNet,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

func (h *hostIO) netGate() error {
	if !h.allowNet {
		return Errorf("network fetch not allowed, enable allow-network to permit it")
	}
	return nil
}

// ------------------------------------------------------------------------
// Files
// ------------------------------------------------------------------------

func (h *hostIO) writeFile(name, content string) error {
	if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
		return Errorf("write %s: %v", name, err)
	}
	return nil
}

func (h *hostIO) readFile(name string) (string, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return "", Errorf("read %s: %v", name, err)
	}
	return string(data), nil
}

func (h *hostIO) appendFile(name, content string) error {
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Errorf("append %s: %v", name, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return Errorf("append %s: %v", name, err)
	}
	return nil
}

// deleteFile removes a file. A missing file is not an error.
func (h *hostIO) deleteFile(name string) error {
	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return Errorf("delete %s: %v", name, err)
	}
	return nil
}

// ------------------------------------------------------------------------
// HTTP
// ------------------------------------------------------------------------

func (h *hostIO) httpGet(url string) (string, error) {
	if err := h.netGate(); err != nil {
		return "", err
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return "", Errorf("GET %s: %v", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	return h.do(req)
}

// httpPost sends a map or list payload as JSON and anything else as
// plain text.
func (h *hostIO) httpPost(url string, payload Value) (string, error) {
	if err := h.netGate(); err != nil {
		return "", err
	}
	var body []byte
	contentType := "text/plain"
	switch payload.(type) {
	case *Map, *List:
		encoded, err := json.Marshal(toJSONValue(payload))
		if err != nil {
			return "", Errorf("POST %s: encode payload: %v", url, err)
		}
		body = encoded
		contentType = "application/json"
	default:
		body = []byte(Format(payload))
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", Errorf("POST %s: %v", url, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)
	return h.do(req)
}

func (h *hostIO) do(req *http.Request) (string, error) {
	resp, err := h.client.Do(req)
	if err != nil {
		return "", Errorf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Errorf("%s %s: read body: %v", req.Method, req.URL, err)
	}
	return string(data), nil
}

// toJSONValue lowers runtime values to what encoding/json understands.
// Map keys become their formatted text.
func toJSONValue(v Value) any {
	switch x := v.(type) {
	case *List:
		out := make([]any, len(x.Items))
		for i, it := range x.Items {
			out[i] = toJSONValue(it)
		}
		return out
	case *Map:
		out := make(map[string]any, len(x.Items))
		for _, k := range x.SortedKeys() {
			out[Format(k)] = toJSONValue(x.Items[k])
		}
		return out
	case *Set:
		out := make([]any, 0, len(x.Items))
		for _, m := range x.SortedMembers() {
			out = append(out, toJSONValue(m))
		}
		return out
	case *Object:
		out := make(map[string]any, len(x.Fields)+1)
		for k, f := range x.Fields {
			out[k] = toJSONValue(f)
		}
		return out
	}
	return v
}

// ------------------------------------------------------------------------
// Sockets
// ------------------------------------------------------------------------

// Socket is a connected TCP stream produced by awaiting ASYNC_CONNECT.
type Socket struct {
	Addr string
	conn net.Conn
}

func (h *hostIO) connect(host string, port int) (*Socket, error) {
	if err := h.netGate(); err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, sockTimeout)
	if err != nil {
		return nil, Errorf("connect %s: %v", addr, err)
	}
	return &Socket{Addr: addr, conn: conn}, nil
}

// send writes the payload. The future built on it resolves to false on
// any failure rather than erroring.
func (s *Socket) send(data string) bool {
	if s.conn == nil {
		return false
	}
	s.conn.SetWriteDeadline(time.Now().Add(sockTimeout))
	_, err := s.conn.Write([]byte(data))
	return err == nil
}

// recv reads one chunk, returning the empty string on timeout or error.
func (s *Socket) recv() string {
	if s.conn == nil {
		return ""
	}
	s.conn.SetReadDeadline(time.Now().Add(sockTimeout))
	buf := make([]byte, recvLimit)
	n, err := s.conn.Read(buf)
	if err != nil && n == 0 {
		return ""
	}
	return string(buf[:n])
}

// Close releases the connection.
func (s *Socket) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
