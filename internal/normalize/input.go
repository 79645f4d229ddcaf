package normalize

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type inputReader struct {
	io.Reader
	closers []func() error
}

func (r *inputReader) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openInput opens path, transparently decompressing .gz and .zst files and
// decoding UTF-16 or BOM-prefixed UTF-8 into plain UTF-8.
func openInput(path string) (*inputReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	in := &inputReader{Reader: f, closers: []func() error{f.Close}}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		gz, err := gzip.NewReader(f)
		if err != nil {
			_ = in.Close()
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		in.Reader = gz
		in.closers = append(in.closers, gz.Close)
	case strings.HasSuffix(lower, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = in.Close()
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		in.Reader = zr
		in.closers = append(in.closers, func() error { zr.Close(); return nil })
	}

	in.Reader = transform.NewReader(in.Reader, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	return in, nil
}

// sniffDelimiter picks the most frequent of comma, semicolon and tab in the
// header line. Comma wins ties.
func sniffDelimiter(br *bufio.Reader) rune {
	peek, _ := br.Peek(64 * 1024)
	if idx := bytes.IndexByte(peek, '\n'); idx >= 0 {
		peek = peek[:idx]
	}
	best, bestCount := ',', bytes.Count(peek, []byte{','})
	for _, cand := range []rune{';', '\t'} {
		if n := bytes.Count(peek, []byte(string(cand))); n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}
