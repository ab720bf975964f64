package ingestor

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
	"github.com/h2non/filetype/types"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/jenian/iswith/internal/model"
)

// sniffLen is the number of leading bytes filetype needs
const sniffLen = 262

func sniff(head []byte) types.Type {
	kind, err := filetype.Match(head)
	if err != nil {
		return types.Unknown
	}
	return kind
}

// Decode turns a downloaded log blob into text. Zip archives (run logs) are
// flattened in entry name order, gzip streams are inflated, anything else is
// taken as plain text since the encoding is not reliably signaled.
func Decode(data []byte, maxBytes int64) (text string, truncated bool, err error) {
	var raw []byte
	switch sniff(data) {
	case matchers.TypeGz:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return "", false, fmt.Errorf("%w: gzip: %w", model.ErrParse, err)
		}
		defer zr.Close()
		raw, truncated, err = readLimited(zr, maxBytes)
		if err != nil {
			return "", false, fmt.Errorf("%w: gzip: %w", model.ErrParse, err)
		}
	case matchers.TypeZip:
		raw, truncated, err = flattenZip(data, maxBytes)
		if err != nil {
			return "", false, err
		}
	default:
		raw, truncated = keepWholeLines(data, maxBytes)
	}

	text, err = toText(raw)
	return text, truncated, err
}

func flattenZip(data []byte, maxBytes int64) ([]byte, bool, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, false, fmt.Errorf("%w: zip: %w", model.ErrParse, err)
	}
	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var out bytes.Buffer
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, false, fmt.Errorf("%w: zip entry %s: %w", model.ErrParse, f.Name, err)
		}
		_, err = out.ReadFrom(rc)
		rc.Close()
		if err != nil {
			return nil, false, fmt.Errorf("%w: zip entry %s: %w", model.ErrParse, f.Name, err)
		}
		if out.Len() > 0 && out.Bytes()[out.Len()-1] != '\n' {
			out.WriteByte('\n')
		}
		if maxBytes > 0 && int64(out.Len()) > maxBytes {
			raw, _ := keepWholeLines(out.Bytes(), maxBytes)
			return raw, true, nil
		}
	}
	return out.Bytes(), false, nil
}

// readLimited reads at most maxBytes from r
func readLimited(r io.Reader, maxBytes int64) ([]byte, bool, error) {
	if maxBytes <= 0 {
		b, err := io.ReadAll(r)
		return b, false, err
	}
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(b)) <= maxBytes {
		return b, false, nil
	}
	b, _ = keepWholeLines(b, maxBytes)
	return b, true, nil
}

// keepWholeLines cuts content to maxBytes at the last line boundary
func keepWholeLines(content []byte, maxBytes int64) ([]byte, bool) {
	if maxBytes <= 0 || int64(len(content)) <= maxBytes {
		return content, false
	}
	head := content[:maxBytes]
	if i := bytes.LastIndexByte(head, '\n'); i >= 0 {
		head = head[:i+1]
	}
	return head, true
}

// toText rejects binary content and repairs invalid UTF-8 sequences
func toText(b []byte) (string, error) {
	if bytes.IndexByte(b, 0) >= 0 {
		return "", fmt.Errorf("%w: content is not text", model.ErrParse)
	}
	if !utf8.Valid(b) {
		b = bytes.ToValidUTF8(b, []byte("\uFFFD"))
	}
	return string(b), nil
}

// decodeStream wraps a log body so it yields text bytes: gzip is inflated on
// the fly. isZip reports archives, which cannot be streamed.
func decodeStream(body io.Reader) (r io.Reader, isZip bool, err error) {
	br := bufio.NewReaderSize(body, DefaultChunkSize)
	head, _ := br.Peek(sniffLen)
	switch sniff(head) {
	case matchers.TypeGz:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, false, fmt.Errorf("%w: gzip: %w", model.ErrParse, err)
		}
		return zr, false, nil
	case matchers.TypeZip:
		return br, true, nil
	}
	return br, false, nil
}
