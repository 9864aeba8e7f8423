package tts

import (
	"fmt"
	"strings"
)

// encodeChunked frames parts as an HTTP/1.1 chunked body
func encodeChunked(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		fmt.Fprintf(&b, "%x\r\n%s\r\n", len(p), p)
	}
	b.WriteString("0\r\n\r\n")
	return b.String()
}

func sseData(payload string) string {
	return "data: " + payload + "\n\n"
}

func audioEvent(b64 string) string {
	return sseData(fmt.Sprintf(`{"output":{"audio":{"data":%q},"finish_reason":null}}`, b64))
}
