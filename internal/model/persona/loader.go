package persona

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"

	"github.com/m-mizutani/goerr/v2"

	"github.com/zhouzirui/persona-lens/backend/internal/apperr"
)

// Loader produces the raw corpus. The offline pipeline that builds the corpus
// is not part of the service; only its output format is.
type Loader interface {
	Load(ctx context.Context) ([]Record, error)
}

// FileLoader reads a corpus file holding either a JSON array of records or
// one JSON record per line.
type FileLoader struct {
	Path string
}

// Load implements Loader.
func (l FileLoader) Load(ctx context.Context) ([]Record, error) {
	data, err := os.ReadFile(l.Path)
	if err != nil {
		return nil, apperr.Corpus(err, "failed to read corpus file", goerr.V("path", l.Path))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records, err := Decode(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode corpus file", goerr.V("path", l.Path))
	}
	return records, nil
}

// Decode parses a JSON array or JSON Lines corpus.
func Decode(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, goerr.Wrap(apperr.ErrEmptyCorpus, "corpus file is empty")
	}

	if trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, apperr.Corpus(err, "malformed corpus json")
		}
		return records, nil
	}

	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, apperr.Corpus(err, "malformed corpus record", goerr.V("line", line))
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.Corpus(err, "failed to scan corpus")
	}
	return records, nil
}
