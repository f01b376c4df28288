package responses

import (
	"bytes"

	"github.com/tidwall/gjson"
)

const (
	ssePrefix     = "data: "
	sseTerminator = "[DONE]"
)

var (
	blockSeparator = []byte("\n\n")
	crlf           = []byte("\r\n")
	lf             = []byte("\n")
)

// FrameParser splits an upstream SSE byte stream into decoded data payloads.
// Blocks may be separated by LF or CRLF blank lines. Every `data:` line is
// its own payload. Bytes after the last separator are kept until the next
// Feed.
type FrameParser struct {
	buf []byte
}

// Feed appends chunk and returns the JSON payloads of every block completed
// by it, in arrival order. Terminator and malformed payloads are dropped.
func (p *FrameParser) Feed(chunk []byte) []gjson.Result {
	p.buf = append(p.buf, chunk...)
	// A CR held back from the previous chunk pairs with a leading LF here.
	if bytes.IndexByte(p.buf, '\r') >= 0 {
		p.buf = bytes.ReplaceAll(p.buf, crlf, lf)
	}

	var out []gjson.Result
	for {
		pos := bytes.Index(p.buf, blockSeparator)
		if pos < 0 {
			break
		}
		block := bytes.ToValidUTF8(p.buf[:pos], []byte("�"))
		p.buf = p.buf[pos+len(blockSeparator):]
		out = appendPayloads(out, block)
	}
	return out
}

// Pending reports how many unterminated bytes are buffered.
func (p *FrameParser) Pending() int {
	return len(p.buf)
}

func appendPayloads(out []gjson.Result, block []byte) []gjson.Result {
	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if !bytes.HasPrefix(line, []byte(ssePrefix)) {
			continue
		}
		data := line[len(ssePrefix):]
		if string(data) == sseTerminator {
			continue
		}
		if !gjson.ValidBytes(data) {
			continue
		}
		out = append(out, gjson.ParseBytes(data))
	}
	return out
}
