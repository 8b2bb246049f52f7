// Package arris reads ARRIS SURFboard modems, which only offer HTML status
// pages.
package arris

import (
	"context"
	"encoding/base64"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/modemstat/internal/driver"
	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/telemetry"
	"codeberg.org/mutker/modemstat/internal/transport"
	"github.com/Jeffail/gabs/v2"
)

const (
	vendor     = "arris"
	infoPath   = "/cmswinfo.html"
	statusPath = "/cmconnectionstatus.html"
	modelSpan  = "thisModelNumberIs"

	docInfo   = "info"
	docStatus = "status"

	downstreamTable = "Downstream Bonded Channels"
	upstreamTable   = "Upstream Bonded Channels"
)

// "9 days 04h:12m:55s.00"
var uptimeRe = regexp.MustCompile(`^(?:(\d+)\s*days?\s*)?(\d+)h:(\d+)m:(\d+)s(?:\.\d+)?$`)

type Driver struct{}

func New() *Driver {
	return &Driver{}
}

func (*Driver) Vendor() string { return vendor }

func (*Driver) Models() []string {
	return []string{"SB8200", "SB6183"}
}

func (*Driver) Scheme() string    { return "http" }
func (*Driver) ProbePath() string { return infoPath }

func (*Driver) Identify(body []byte) (string, error) {
	doc, err := driver.DecodeHTML(body)
	if err != nil {
		return "", err
	}

	return modelName(doc)
}

func (*Driver) Endpoints() []driver.Endpoint {
	return []driver.Endpoint{
		{Name: docInfo, Path: infoPath, Format: driver.FormatHTML},
		{Name: docStatus, Path: statusPath, Format: driver.FormatHTML},
	}
}

// Login exchanges basic credentials for a session token. The token is
// then sent as a bare ct_<token> query on every request.
func (*Driver) Login(ctx context.Context, c *transport.Client, creds driver.Credentials) error {
	c.SetSessionToken("")

	enc := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
	resp, err := c.Do(ctx, transport.Request{
		Method:      http.MethodGet,
		Path:        statusPath,
		RawQuery:    "login_" + enc,
		Header:      http.Header{"Authorization": {"Basic " + enc}},
		NoAuthRetry: true,
	})
	if err != nil {
		return err
	}

	token := strings.TrimSpace(string(resp.Body))
	if token == "" || strings.ContainsAny(token, "<> ") {
		return errors.New().WithMessage(errors.ErrFetch, "arris login returned no session token")
	}

	c.SetSessionToken("ct_" + token)

	return nil
}

func modelName(doc *gabs.Container) (string, error) {
	model, _ := driver.Child(driver.Child(doc, "spans"), modelSpan).Data().(string)
	model = strings.TrimSpace(model)
	if model == "" {
		return "", &driver.MalformedPayloadError{Section: docInfo, Index: -1, Field: modelSpan, Reason: "missing"}
	}

	return model, nil
}

// rowValue finds a two-column "label | value" row in any table.
func rowValue(doc *gabs.Container, label string) (string, bool) {
	tables := driver.Child(doc, "tables")
	if tables == nil {
		return "", false
	}

	for _, table := range tables.Children() {
		for _, row := range driver.Child(table, "rows").Children() {
			cells := row.Children()
			if len(cells) < 2 {
				continue
			}
			name, _ := cells[0].Data().(string)
			if strings.EqualFold(name, label) {
				value, _ := cells[1].Data().(string)
				return value, true
			}
		}
	}

	return "", false
}

func parseUptime(doc *gabs.Container) (time.Duration, error) {
	raw, ok := rowValue(doc, "Up Time")
	if !ok {
		return 0, &driver.MalformedPayloadError{Section: docInfo, Index: -1, Field: "Up Time", Reason: "missing"}
	}

	m := uptimeRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0, &driver.MalformedPayloadError{
			Section: docInfo,
			Index:   -1,
			Field:   "Up Time",
			Value:   raw,
			Reason:  "unrecognised uptime",
		}
	}

	var parts [4]int64
	for i, s := range m[1:] {
		if s != "" {
			parts[i], _ = strconv.ParseInt(s, 10, 64)
		}
	}

	return time.Duration(parts[0])*24*time.Hour +
		time.Duration(parts[1])*time.Hour +
		time.Duration(parts[2])*time.Minute +
		time.Duration(parts[3])*time.Second, nil
}

func (*Driver) Parse(p *driver.Payload) (*telemetry.Partial, error) {
	info := p.Document(docInfo)

	model, err := modelName(info)
	if err != nil {
		return nil, err
	}
	uptime, err := parseUptime(info)
	if err != nil {
		return nil, err
	}

	partial := &telemetry.Partial{
		Vendor: vendor,
		Model:  model,
		Uptime: uptime,
	}

	status := p.Document(docStatus)
	if partial.Downstream, err = parseDownstream(driver.FindTable(status, downstreamTable)); err != nil {
		return nil, err
	}
	if partial.Upstream, err = parseUpstream(driver.FindTable(status, upstreamTable)); err != nil {
		return nil, err
	}

	return partial, nil
}

func parseLock(e driver.Entry) (telemetry.LockStatus, error) {
	raw, err := e.String("Lock Status")
	if err != nil {
		return "", err
	}

	status, ok := telemetry.ParseLockStatus(raw)
	if !ok {
		return "", &driver.MalformedPayloadError{
			Section: e.Section,
			Index:   e.Index,
			Field:   "Lock Status",
			Value:   raw,
			Reason:  "unknown lock status",
		}
	}

	return status, nil
}

// placeholder reports the all-zero rows some firmware prints for unused
// receivers.
func placeholder(e driver.Entry, lock telemetry.LockStatus) bool {
	if lock != telemetry.LockUnlocked {
		return false
	}
	id, err := e.Int("Channel ID")

	return err == nil && id == 0
}

func parseDownstream(table *gabs.Container) ([]telemetry.DownstreamChannel, error) {
	entries, err := driver.TableEntries("downstream", table)
	if err != nil {
		return nil, err
	}

	channels := make([]telemetry.DownstreamChannel, 0, len(entries))
	for _, e := range entries {
		var ch telemetry.DownstreamChannel

		if ch.LockStatus, err = parseLock(e); err != nil {
			return nil, err
		}
		if placeholder(e, ch.LockStatus) {
			continue
		}

		id, err := e.Int("Channel ID")
		if err != nil {
			return nil, err
		}
		ch.ChannelID = int(id)

		if ch.Modulation, err = e.String("Modulation"); err != nil {
			return nil, err
		}
		// The SB8200 lists its OFDM PLC as "Other".
		if strings.EqualFold(ch.Modulation, "Other") {
			ch.Modulation = "OFDM"
		}
		if ch.FrequencyHz, err = e.Frequency("Frequency"); err != nil {
			return nil, err
		}
		if ch.PowerDBmV, err = e.Float("Power"); err != nil {
			return nil, err
		}
		if ch.SNRDB, err = e.Float("SNR/MER"); err != nil {
			return nil, err
		}
		if ch.CorrectableErrors, err = e.Int("Corrected"); err != nil {
			return nil, err
		}
		if ch.UncorrectableErrors, err = e.Int("Uncorrectables"); err != nil {
			return nil, err
		}

		channels = append(channels, ch)
	}

	return channels, nil
}

func parseUpstream(table *gabs.Container) ([]telemetry.UpstreamChannel, error) {
	entries, err := driver.TableEntries("upstream", table)
	if err != nil {
		return nil, err
	}

	channels := make([]telemetry.UpstreamChannel, 0, len(entries))
	for _, e := range entries {
		var ch telemetry.UpstreamChannel

		if ch.LockStatus, err = parseLock(e); err != nil {
			return nil, err
		}
		if placeholder(e, ch.LockStatus) {
			continue
		}

		id, err := e.Int("Channel ID")
		if err != nil {
			return nil, err
		}
		ch.ChannelID = int(id)

		kind, err := e.String("US Channel Type")
		if err != nil {
			return nil, err
		}
		ch.ChannelType = strings.TrimSpace(strings.TrimSuffix(kind, "Upstream"))

		if ch.FrequencyHz, err = e.Frequency("Frequency"); err != nil {
			return nil, err
		}
		if ch.PowerDBmV, err = e.Float("Power"); err != nil {
			return nil, err
		}

		channels = append(channels, ch)
	}

	return channels, nil
}
