package sip

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"firestige.xyz/otus-dissect/pkg/plugin"
)

var headerEnd = []byte("\r\n\r\n")

// maxHeader bounds the header block searched for its terminator.
const maxHeader = 64 << 10

// cutMessage cuts one SIP message from buf: the header block up to CRLFCRLF
// followed by Content-Length bytes of body. A missing Content-Length means
// an empty body.
func cutMessage(buf []byte) (header, body []byte, n int, err error) {
	end := bytes.Index(buf, headerEnd)
	if end < 0 {
		if len(buf) > maxHeader {
			return nil, nil, 0, fmt.Errorf("sip: no header terminator in %d bytes", len(buf))
		}
		return nil, nil, 0, nil
	}
	header = buf[:end]
	cl, err := contentLength(header)
	if err != nil {
		return nil, nil, 0, err
	}
	total := end + len(headerEnd) + cl
	if len(buf) < total {
		return nil, nil, 0, nil
	}
	return header, buf[end+len(headerEnd) : total], total, nil
}

func contentLength(header []byte) (int, error) {
	for _, line := range bytes.Split(header, []byte("\r\n"))[1:] {
		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		switch strings.ToLower(string(bytes.TrimSpace(name))) {
		case "content-length", "l":
			n, err := strconv.Atoi(string(bytes.TrimSpace(value)))
			if err != nil || n < 0 {
				return 0, fmt.Errorf("sip: bad Content-Length %q", value)
			}
			return n, nil
		}
	}
	return 0, nil
}

// frameFunc renders each message as its start line, one child per header
// line and a body child carrying the body bytes.
func frameFunc(_ plugin.Direction, buf []byte) (plugin.Frame, int, error) {
	header, body, n, err := cutMessage(buf)
	if err != nil || n == 0 {
		return nil, 0, err
	}
	lines := strings.Split(string(header), "\r\n")
	f := &plugin.BasicFrame{Name: lines[0], Bytes: buf[:n]}
	for _, l := range lines[1:] {
		f.Kids = append(f.Kids, &plugin.BasicFrame{Name: l})
	}
	if len(body) > 0 {
		f.Kids = append(f.Kids, &plugin.BasicFrame{Name: fmt.Sprintf("body (%d bytes)", len(body)), Bytes: body})
	}
	return f, n, nil
}
