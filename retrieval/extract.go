package retrieval

import (
	"bytes"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// ErrPDFToolNotFound is returned when the pdftotext binary is not on PATH.
var ErrPDFToolNotFound = errors.New("pdftotext not found in PATH (install poppler-utils)")

// Extractor turns a stored document into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// CommandRunner runs an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDFText extracts text with pdftotext, falling back to reading literal
// text strings out of the PDF content streams when the tool is missing or
// fails.
type PDFText struct {
	bin    string
	runner CommandRunner
	// lookPath is swapped in tests.
	lookPath func(string) (string, error)
}

// NewPDFText returns an extractor using the pdftotext binary at bin.
func NewPDFText(bin string) *PDFText {
	return NewPDFTextWithRunner(bin, execRunner{})
}

// NewPDFTextWithRunner returns an extractor that runs commands through runner.
func NewPDFTextWithRunner(bin string, runner CommandRunner) *PDFText {
	if bin == "" {
		bin = "pdftotext"
	}
	return &PDFText{bin: bin, runner: runner, lookPath: exec.LookPath}
}

// Available reports whether the pdftotext binary can be found.
func (p *PDFText) Available() error {
	if _, err := p.lookPath(p.bin); err != nil {
		return ErrPDFToolNotFound
	}
	return nil
}

// Extract returns the document text. An error is returned only when no
// method yields any text.
func (p *PDFText) Extract(ctx context.Context, path string) (string, error) {
	var toolErr error
	if toolErr = p.Available(); toolErr == nil {
		out, err := p.runner.Run(ctx, p.bin, "-layout", "-enc", "UTF-8", path, "-")
		if err == nil {
			if text := strings.TrimSpace(string(out)); text != "" {
				return text, nil
			}
		}
		toolErr = err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	text := strings.TrimSpace(literalText(data))
	if text == "" {
		if toolErr != nil {
			return "", fmt.Errorf("no text extracted: %w", toolErr)
		}
		return "", errors.New("no text extracted")
	}
	return text, nil
}

// literalText pulls the string operands of text objects (BT ... ET) out of
// every content stream, inflating FlateDecode streams. It understands just
// enough PDF for simple text documents.
func literalText(data []byte) string {
	var b strings.Builder
	for _, content := range contentStreams(data) {
		for _, obj := range textObjects(content) {
			for _, s := range stringLiterals(obj) {
				b.WriteString(s)
			}
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func contentStreams(data []byte) [][]byte {
	var out [][]byte
	rest := data
	for {
		i := bytes.Index(rest, []byte("stream"))
		if i < 0 {
			return out
		}
		dict := rest[:i]
		if d := bytes.LastIndex(dict, []byte("<<")); d >= 0 {
			dict = dict[d:]
		}
		body := rest[i+len("stream"):]
		body = bytes.TrimLeft(body, "\r\n")
		end := bytes.Index(body, []byte("endstream"))
		if end < 0 {
			return out
		}
		raw := body[:end]
		if bytes.Contains(dict, []byte("/FlateDecode")) {
			if r, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
				if inflated, err := io.ReadAll(r); err == nil || len(inflated) > 0 {
					raw = inflated
				}
				r.Close()
			}
		}
		out = append(out, raw)
		rest = body[end+len("endstream"):]
	}
}

func textObjects(content []byte) [][]byte {
	var out [][]byte
	rest := content
	for {
		i := indexOperator(rest, "BT")
		if i < 0 {
			return out
		}
		rest = rest[i+2:]
		j := indexOperator(rest, "ET")
		if j < 0 {
			return append(out, rest)
		}
		out = append(out, rest[:j])
		rest = rest[j+2:]
	}
}

// indexOperator finds op as a standalone token.
func indexOperator(b []byte, op string) int {
	off := 0
	for {
		i := bytes.Index(b[off:], []byte(op))
		if i < 0 {
			return -1
		}
		i += off
		before := i == 0 || isDelim(b[i-1])
		after := i+len(op) >= len(b) || isDelim(b[i+len(op)])
		if before && after {
			return i
		}
		off = i + len(op)
	}
}

func isDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '(', ')', '[', ']', '<', '>', '/':
		return true
	}
	return false
}

// stringLiterals decodes the (...) strings in a text object. Line and
// position operators become whitespace.
func stringLiterals(obj []byte) []string {
	var out []string
	for i := 0; i < len(obj); i++ {
		switch obj[i] {
		case '(':
			s, n := readLiteral(obj[i:])
			out = append(out, s)
			i += n - 1
		case '\'', '"':
			out = append(out, "\n")
		case 'T':
			if i+1 < len(obj) && (obj[i+1] == '*' || obj[i+1] == 'd' || obj[i+1] == 'D') {
				out = append(out, " ")
			}
		}
	}
	return out
}

// readLiteral decodes one literal string starting at b[0] == '(' and
// returns it with the number of bytes consumed.
func readLiteral(b []byte) (string, int) {
	var sb strings.Builder
	depth := 0
	for i := 0; i < len(b); i++ {
		c := b[i]
		switch {
		case c == '\\' && i+1 < len(b):
			i++
			switch e := b[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b', 'f':
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v, n := 0, 0
					for n < 3 && i < len(b) && b[i] >= '0' && b[i] <= '7' {
						v = v*8 + int(b[i]-'0')
						i++
						n++
					}
					i--
					sb.WriteByte(byte(v))
				} else {
					sb.WriteByte(e)
				}
			}
		case c == '(':
			if depth > 0 {
				sb.WriteByte(c)
			}
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), len(b)
}
