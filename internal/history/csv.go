package history

import (
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/logger"
	"codeberg.org/mutker/modemstat/internal/telemetry"
)

const timeLayout = time.RFC3339Nano

// Header is the fixed CSV layout. Changing it makes existing files
// unreadable, so new columns go at the end together with a loader that
// accepts both forms.
var Header = []string{
	"timestamp",
	"vendor",
	"model",
	"uptime_seconds",
	"direction",
	"channel_id",
	"frequency_hz",
	"modulation",
	"power_dbmv",
	"snr_db",
	"correctable_errors",
	"uncorrectable_errors",
	"lock_status",
	"channel_type",
}

const (
	colTimestamp = iota
	colVendor
	colModel
	colUptime
	colDirection
	colChannelID
	colFrequency
	colModulation
	colPower
	colSNR
	colCorrectable
	colUncorrectable
	colLockStatus
	colChannelType
)

type CSVWriter struct {
	path   string
	logger logger.Logger
}

func NewCSVWriter(dir, address string, log logger.Logger) *CSVWriter {
	return &CSVWriter{
		path:   FileName(dir, address, CSVExt),
		logger: log,
	}
}

func (w *CSVWriter) Path() string {
	return w.path
}

// Append writes the rows of one capture. A new file starts with Header;
// an existing file must already carry it.
func (w *CSVWriter) Append(rec *telemetry.Record) error {
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_APPEND|os.O_CREATE, filePerm)
	if err != nil {
		return errors.New().Wrap(errors.ErrWriteHistory, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.New().Wrap(errors.ErrWriteHistory, err)
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)

	if info.Size() == 0 {
		if err := cw.Write(Header); err != nil {
			return errors.New().Wrap(errors.ErrWriteHistory, err)
		}
	} else {
		got, err := csv.NewReader(io.NewSectionReader(f, 0, info.Size())).Read()
		if err != nil || !slices.Equal(got, Header) {
			return errors.New().WithData(errors.ErrWriteHistory, struct {
				Path   string
				Reason string
			}{
				Path:   w.path,
				Reason: "existing file has a different header",
			})
		}
	}

	rows := csvRows(rec)
	if err := cw.WriteAll(rows); err != nil {
		return errors.New().Wrap(errors.ErrWriteHistory, err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		return errors.New().Wrap(errors.ErrWriteHistory, err)
	}

	w.logger.Debug().
		Str("path", w.path).
		Int("rows", len(rows)).
		Msg("Appended capture to CSV history")

	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func csvRows(rec *telemetry.Record) [][]string {
	base := func() []string {
		row := make([]string, len(Header))
		row[colTimestamp] = rec.Timestamp.Format(timeLayout)
		row[colVendor] = rec.Vendor
		row[colModel] = rec.Model
		row[colUptime] = formatFloat(rec.Uptime.Std().Seconds())
		return row
	}

	rows := make([][]string, 0, len(rec.Downstream)+len(rec.Upstream))
	for _, ch := range rec.Downstream {
		row := base()
		row[colDirection] = string(telemetry.Downstream)
		row[colChannelID] = strconv.Itoa(ch.ChannelID)
		row[colFrequency] = strconv.FormatInt(ch.FrequencyHz, 10)
		row[colModulation] = ch.Modulation
		row[colPower] = formatFloat(ch.PowerDBmV)
		row[colSNR] = formatFloat(ch.SNRDB)
		row[colCorrectable] = strconv.FormatInt(ch.CorrectableErrors, 10)
		row[colUncorrectable] = strconv.FormatInt(ch.UncorrectableErrors, 10)
		row[colLockStatus] = string(ch.LockStatus)
		rows = append(rows, row)
	}
	for _, ch := range rec.Upstream {
		row := base()
		row[colDirection] = string(telemetry.Upstream)
		row[colChannelID] = strconv.Itoa(ch.ChannelID)
		row[colFrequency] = strconv.FormatInt(ch.FrequencyHz, 10)
		row[colModulation] = ch.Modulation
		row[colPower] = formatFloat(ch.PowerDBmV)
		row[colLockStatus] = string(ch.LockStatus)
		row[colChannelType] = ch.ChannelType
		rows = append(rows, row)
	}

	// Keep the capture instant even when the modem reported no channels.
	if len(rows) == 0 {
		rows = append(rows, base())
	}

	return rows
}

// LoadCSV reads a CSV history. Consecutive rows sharing timestamp, vendor,
// model and uptime form one capture.
func LoadCSV(path string) ([]telemetry.Record, []Warning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.New().Wrap(errors.ErrReadHistory, err)
	}
	defer f.Close()

	return readCSV(path, f)
}

func readCSV(path string, r io.Reader) ([]telemetry.Record, []Warning, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil || !slices.Equal(header, Header) {
		return nil, nil, errors.New().WithData(errors.ErrReadHistory, struct {
			Path   string
			Reason string
		}{
			Path:   path,
			Reason: "unexpected CSV header",
		})
	}

	// Consecutive rows sharing timestamp, vendor, model and uptime form one
	// capture. A channel repeating within that run, or a channel-less
	// capture row, starts the next capture even when the key is equal.
	var (
		items  []located
		key    []string
		seen   map[string]bool
		closed bool
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, errors.New().Wrap(errors.ErrReadHistory, err)
		}
		line, _ := cr.FieldPos(0)

		p := rowParser{path: path, line: line, row: row}
		rowKey := row[colTimestamp : colUptime+1]
		channel := row[colDirection] + "/" + row[colChannelID]
		if key == nil || !slices.Equal(key, rowKey) || closed || seen[channel] || row[colDirection] == "" {
			rec, err := p.record()
			if err != nil {
				return nil, nil, err
			}
			items = append(items, located{line: line, rec: rec})
			key = slices.Clone(rowKey)
			seen = make(map[string]bool)
			closed = false
		}
		if row[colDirection] == "" {
			closed = true
		}
		seen[channel] = true

		if err := p.channel(&items[len(items)-1].rec); err != nil {
			return nil, nil, err
		}
	}

	records, warnings := order(items)

	return records, warnings, nil
}

type rowParser struct {
	path string
	line int
	row  []string
}

func (p *rowParser) fail(col int, reason string) error {
	return errors.New().WithData(errors.ErrReadHistory, struct {
		Path   string
		Line   int
		Column string
		Value  string
		Reason string
	}{
		Path:   p.path,
		Line:   p.line,
		Column: Header[col],
		Value:  p.row[col],
		Reason: reason,
	})
}

func (p *rowParser) integer(col int) (int64, error) {
	v, err := strconv.ParseInt(p.row[col], 10, 64)
	if err != nil {
		return 0, p.fail(col, "not an integer")
	}

	return v, nil
}

func (p *rowParser) number(col int) (float64, error) {
	v, err := strconv.ParseFloat(p.row[col], 64)
	if err != nil {
		return 0, p.fail(col, "not a number")
	}

	return v, nil
}

func (p *rowParser) lock() (telemetry.LockStatus, error) {
	status, ok := telemetry.ParseLockStatus(p.row[colLockStatus])
	if !ok {
		return "", p.fail(colLockStatus, "unknown lock status")
	}

	return status, nil
}

func (p *rowParser) record() (telemetry.Record, error) {
	ts, err := time.Parse(timeLayout, p.row[colTimestamp])
	if err != nil {
		return telemetry.Record{}, p.fail(colTimestamp, "not an RFC 3339 timestamp")
	}
	uptime, err := p.number(colUptime)
	if err != nil {
		return telemetry.Record{}, err
	}

	return telemetry.Record{
		Timestamp:  ts,
		Vendor:     p.row[colVendor],
		Model:      p.row[colModel],
		Uptime:     telemetry.Duration(time.Duration(uptime * float64(time.Second))),
		Downstream: []telemetry.DownstreamChannel{},
		Upstream:   []telemetry.UpstreamChannel{},
	}, nil
}

func (p *rowParser) channel(rec *telemetry.Record) error {
	switch telemetry.Direction(p.row[colDirection]) {
	case "":
		return nil
	case telemetry.Downstream:
		ch, err := p.downstream()
		if err != nil {
			return err
		}
		rec.Downstream = append(rec.Downstream, ch)
	case telemetry.Upstream:
		ch, err := p.upstream()
		if err != nil {
			return err
		}
		rec.Upstream = append(rec.Upstream, ch)
	default:
		return p.fail(colDirection, "unknown direction")
	}

	return nil
}

func (p *rowParser) downstream() (telemetry.DownstreamChannel, error) {
	var (
		ch  telemetry.DownstreamChannel
		err error
		id  int64
	)

	if id, err = p.integer(colChannelID); err != nil {
		return ch, err
	}
	ch.ChannelID = int(id)
	if ch.FrequencyHz, err = p.integer(colFrequency); err != nil {
		return ch, err
	}
	ch.Modulation = p.row[colModulation]
	if ch.PowerDBmV, err = p.number(colPower); err != nil {
		return ch, err
	}
	if ch.SNRDB, err = p.number(colSNR); err != nil {
		return ch, err
	}
	if ch.CorrectableErrors, err = p.integer(colCorrectable); err != nil {
		return ch, err
	}
	if ch.UncorrectableErrors, err = p.integer(colUncorrectable); err != nil {
		return ch, err
	}
	if ch.LockStatus, err = p.lock(); err != nil {
		return ch, err
	}

	return ch, nil
}

func (p *rowParser) upstream() (telemetry.UpstreamChannel, error) {
	var (
		ch  telemetry.UpstreamChannel
		err error
		id  int64
	)

	if id, err = p.integer(colChannelID); err != nil {
		return ch, err
	}
	ch.ChannelID = int(id)
	if ch.FrequencyHz, err = p.integer(colFrequency); err != nil {
		return ch, err
	}
	ch.Modulation = p.row[colModulation]
	if ch.PowerDBmV, err = p.number(colPower); err != nil {
		return ch, err
	}
	if ch.LockStatus, err = p.lock(); err != nil {
		return ch, err
	}
	ch.ChannelType = p.row[colChannelType]

	return ch, nil
}
