package tts

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	body, err := EncodeRequest("qwen3-tts-flash", "你好 <world> & more", "Cherry", "Chinese")
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	var decoded struct {
		Model string `json:"model"`
		Input struct {
			Text string `json:"text"`
		} `json:"input"`
		Parameters struct {
			Voice        string `json:"voice"`
			LanguageType string `json:"language_type"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Expected valid JSON, got %v", err)
	}
	if decoded.Model != "qwen3-tts-flash" || decoded.Parameters.Voice != "Cherry" || decoded.Parameters.LanguageType != "Chinese" {
		t.Errorf("Unexpected request fields: %+v", decoded)
	}
	if decoded.Input.Text != "你好 <world> & more" {
		t.Errorf("Expected text preserved, got %q", decoded.Input.Text)
	}
	if bytes.Contains(body, []byte(`\u003c`)) {
		t.Error("Expected HTML characters not to be escaped")
	}
	if bytes.HasSuffix(body, []byte("\n")) {
		t.Error("Expected no trailing newline")
	}
}

func TestEncodeRequest_EmptyText(t *testing.T) {
	if _, err := EncodeRequest("m", "   ", "v", ""); err == nil {
		t.Error("Expected error for blank text")
	}
}

func TestWriteRequest_ContentLengthIsByteLength(t *testing.T) {
	body, _ := EncodeRequest("qwen3-tts-flash", "今天天气怎么样", "Cherry", "Chinese")

	var buf bytes.Buffer
	target := Target{Host: "dashscope.aliyuncs.com", Path: "/api/v1/services/aigc/multimodal-generation/generation", APIKey: "sk-test"}
	if err := WriteRequest(&buf, target, body); err != nil {
		t.Fatalf("WriteRequest failed: %v", err)
	}

	req, err := http.ReadRequest(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("Expected a parseable HTTP request, got %v", err)
	}
	if req.Method != http.MethodPost || req.URL.Path != target.Path {
		t.Errorf("Expected POST %s, got %s %s", target.Path, req.Method, req.URL.Path)
	}
	if req.Host != target.Host {
		t.Errorf("Expected host %s, got %s", target.Host, req.Host)
	}
	if req.ContentLength != int64(len(body)) {
		t.Errorf("Expected Content-Length %d, got %d", len(body), req.ContentLength)
	}
	if len([]rune(string(body))) == len(body) {
		t.Fatal("Expected multi-byte body for this test")
	}

	headers := map[string]string{
		"Authorization":   "Bearer sk-test",
		"Content-Type":    "application/json",
		"X-Dashscope-Sse": "enable",
	}
	for key, want := range headers {
		if got := req.Header.Get(key); got != want {
			t.Errorf("Expected %s %q, got %q", key, want, got)
		}
	}
	if !req.Close {
		t.Error("Expected Connection: close")
	}

	got, _ := io.ReadAll(req.Body)
	if !bytes.Equal(got, body) {
		t.Errorf("Expected body %s, got %s", body, got)
	}
}

func TestReadResponseHeader(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		code     int
		expected error
	}{
		{"chunked ok", "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nTransfer-Encoding: chunked\r\n\r\n", 200, nil},
		{"case insensitive", "HTTP/1.1 200 OK\r\ntransfer-encoding: Chunked\r\n\r\n", 200, nil},
		{"gzip then chunked", "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, chunked\r\n\r\n", 200, ErrNotChunked},
		{"split coding headers", "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip\r\nTransfer-Encoding: chunked\r\n\r\n", 200, ErrNotChunked},
		{"chunked twice", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked, chunked\r\n\r\n", 200, ErrNotChunked},
		{"content length", "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\n", 200, ErrNotChunked},
		{"chunked not last", "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked, gzip\r\n\r\n", 200, ErrNotChunked},
		{"eof in header", "HTTP/1.1 200 OK\r\nTransfer-Enc", 0, ErrConnectionClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ReadResponseHeader(bufio.NewReader(strings.NewReader(tt.raw)), 4096)
			if tt.expected == nil && err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if tt.expected != nil && !errors.Is(err, tt.expected) {
				t.Fatalf("Expected %v, got %v", tt.expected, err)
			}
			if tt.code != 0 && h.StatusCode != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, h.StatusCode)
			}
		})
	}
}

func TestReadResponseHeader_StatusError(t *testing.T) {
	raw := "HTTP/1.1 401 Unauthorized\r\nTransfer-Encoding: chunked\r\n\r\n1f\r\n"
	_, err := ReadResponseHeader(bufio.NewReader(strings.NewReader(raw)), 0)

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected *StatusError, got %v", err)
	}
	if statusErr.Code != 401 || statusErr.Status != "401 Unauthorized" {
		t.Errorf("Expected 401 Unauthorized, got %d %q", statusErr.Code, statusErr.Status)
	}
}

func TestReadResponseHeader_LeavesBodyUnread(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" + encodeChunked("abc")
	br := bufio.NewReader(strings.NewReader(raw))
	if _, err := ReadResponseHeader(br, 0); err != nil {
		t.Fatalf("ReadResponseHeader failed: %v", err)
	}

	got, _, err := readAllFrames(br, 0)
	if err != nil || string(got) != "abc" {
		t.Errorf("Expected body 'abc' after header, got %q (%v)", got, err)
	}
}

func TestReadResponseHeader_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not http", "SSH-2.0-OpenSSH\r\n\r\n"},
		{"bad code", "HTTP/1.1 2x0 OK\r\n\r\n"},
		{"bad header line", "HTTP/1.1 200 OK\r\nno colon here\r\n\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadResponseHeader(bufio.NewReader(strings.NewReader(tt.raw)), 0); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestReadResponseHeader_TooLarge(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nX-Padding: " + strings.Repeat("a", 200) + "\r\n\r\n"
	_, err := ReadResponseHeader(bufio.NewReader(strings.NewReader(raw)), 64)
	if !errors.Is(err, ErrHeaderTooLarge) {
		t.Errorf("Expected ErrHeaderTooLarge, got %v", err)
	}
}
