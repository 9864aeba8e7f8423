package tts

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// synthesisRequest is the JSON body accepted by the DashScope
// multimodal-generation endpoint for speech synthesis.
type synthesisRequest struct {
	Model string `json:"model"`
	Input struct {
		Text string `json:"text"`
	} `json:"input"`
	Parameters struct {
		Voice        string `json:"voice"`
		LanguageType string `json:"language_type,omitempty"`
	} `json:"parameters"`
}

// EncodeRequest serializes a synthesis request. HTML characters are not
// escaped so the text reaches the service verbatim.
func EncodeRequest(model, text, voice, language string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("tts: empty text")
	}

	var req synthesisRequest
	req.Model = model
	req.Input.Text = text
	req.Parameters.Voice = voice
	req.Parameters.LanguageType = language

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&req); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Target identifies the synthesis endpoint on an open connection
type Target struct {
	Host   string
	Path   string
	APIKey string
}

// WriteRequest writes a complete HTTP/1.1 POST for body to w.
// Content-Length is the encoded byte length of body.
func WriteRequest(w io.Writer, target Target, body []byte) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "POST %s HTTP/1.1\r\n", target.Path)
	fmt.Fprintf(bw, "Host: %s\r\n", target.Host)
	if target.APIKey != "" {
		fmt.Fprintf(bw, "Authorization: Bearer %s\r\n", target.APIKey)
	}
	bw.WriteString("Content-Type: application/json\r\n")
	bw.WriteString("Accept: text/event-stream\r\n")
	bw.WriteString("X-DashScope-SSE: enable\r\n")
	bw.WriteString("Connection: close\r\n")
	fmt.Fprintf(bw, "Content-Length: %d\r\n", len(body))
	bw.WriteString("\r\n")
	bw.Write(body)

	if err := bw.Flush(); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

// ResponseHeader is the parsed status line and header block of a response
type ResponseHeader struct {
	Proto      string
	StatusCode int
	Status     string
	Header     http.Header
}

// Chunked reports whether the body uses plain chunked framing: across all
// Transfer-Encoding headers there must be exactly one coding, "chunked".
// Anything layered on top (gzip, deflate) cannot be decoded here.
func (h *ResponseHeader) Chunked() bool {
	var codings []string
	for _, value := range h.Header.Values("Transfer-Encoding") {
		for _, coding := range strings.Split(value, ",") {
			if coding = strings.TrimSpace(coding); coding != "" {
				codings = append(codings, coding)
			}
		}
	}
	return len(codings) == 1 && strings.EqualFold(codings[0], "chunked")
}

// ReadResponseHeader reads up to and including the blank line that ends the
// header block. It fails with *StatusError for non-2xx responses and with
// ErrNotChunked when the body is not chunked; in both cases the body is left
// unread.
func ReadResponseHeader(r *bufio.Reader, maxBytes int) (*ResponseHeader, error) {
	var total int
	readLine := func() (string, error) {
		line, err := r.ReadString('\n')
		total += len(line)
		if maxBytes > 0 && total > maxBytes {
			return "", ErrHeaderTooLarge
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("read response header: %w", ErrConnectionClosed)
			}
			return "", fmt.Errorf("read response header: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	statusLine, err := readLine()
	if err != nil {
		return nil, err
	}
	h, err := parseStatusLine(statusLine)
	if err != nil {
		return nil, err
	}

	for {
		line, err := readLine()
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		h.Header.Add(textproto.TrimString(key), textproto.TrimString(value))
	}

	if h.StatusCode < 200 || h.StatusCode > 299 {
		return h, &StatusError{Code: h.StatusCode, Status: h.Status}
	}
	if !h.Chunked() {
		return h, ErrNotChunked
	}
	return h, nil
}

func parseStatusLine(line string) (*ResponseHeader, error) {
	proto, status, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return nil, fmt.Errorf("malformed status line %q", line)
	}
	status = strings.TrimLeft(status, " ")
	codeText, _, _ := strings.Cut(status, " ")
	code, err := strconv.Atoi(codeText)
	if err != nil || len(codeText) != 3 {
		return nil, fmt.Errorf("malformed status code in %q", line)
	}
	return &ResponseHeader{
		Proto:      proto,
		StatusCode: code,
		Status:     status,
		Header:     make(http.Header),
	}, nil
}
