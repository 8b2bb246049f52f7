package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/telemetry"
)

// maxLine bounds one JSON line; a capture of a fully bonded modem is a
// few kilobytes.
const maxLine = 4 << 20

type JSONLWriter struct {
	path   string
	logger logger.Logger
}

func NewJSONLWriter(dir, address string, log logger.Logger) *JSONLWriter {
	return &JSONLWriter{
		path:   FileName(dir, address, JSONLExt),
		logger: log,
	}
}

func (w *JSONLWriter) Path() string {
	return w.path
}

func (w *JSONLWriter) Append(rec *telemetry.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.New().Wrap(errors.ErrWriteHistory, err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(w.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, filePerm)
	if err != nil {
		return errors.New().Wrap(errors.ErrWriteHistory, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return errors.New().Wrap(errors.ErrWriteHistory, err)
	}

	w.logger.Debug().
		Str("path", w.path).
		Int("bytes", len(line)).
		Msg("Appended capture to JSON history")

	return nil
}

// LoadJSONL reads a JSON lines history. Blank lines are skipped.
func LoadJSONL(path string) ([]telemetry.Record, []Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.New().Wrap(errors.ErrReadHistory, err)
	}
	defer f.Close()

	return readJSONL(path, f)
}

func readJSONL(path string, r io.Reader) ([]telemetry.Record, []Warning, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	var items []located
	for line := 1; scanner.Scan(); line++ {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec telemetry.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, nil, errors.New().WithData(errors.ErrReadHistory, struct {
				Path  string
				Line  int
				Error string
			}{
				Path:  path,
				Line:  line,
				Error: err.Error(),
			})
		}
		if rec.Downstream == nil {
			rec.Downstream = []telemetry.DownstreamChannel{}
		}
		if rec.Upstream == nil {
			rec.Upstream = []telemetry.UpstreamChannel{}
		}

		items = append(items, located{line: line, rec: rec})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, errors.New().Wrap(errors.ErrReadHistory, err)
	}

	records, warnings := order(items)

	return records, warnings, nil
}
