// Package hitron reads the Hitron CODA-45 family, whose web interface
// serves JSON documents under /data.
package hitron

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/modemstat/internal/driver"
	"codeberg.org/mutker/modemstat/internal/telemetry"
	"codeberg.org/mutker/modemstat/internal/transport"
	"github.com/Jeffail/gabs/v2"
)

const (
	vendor    = "hitron"
	probePath = "/data/system_model.asp"
	loginPath = "/goform/login"

	docModel      = "model"
	docSystem     = "system"
	docDownstream = "downstream"
	docUpstream   = "upstream"
	docOFDM       = "downstream_ofdm"
	docOFDMA      = "upstream_ofdm"

	// The OFDM tables carry no DOCSIS channel ID, only a receiver or
	// transmitter index. DOCSIS IDs are 8-bit, so an offset keeps the
	// derived IDs unique and stable.
	ofdmChannelOffset = 1000
)

// Upstream OFDMA state values meaning the channel is in use.
var activeStates = map[string]bool{
	"1": true, "true": true, "yes": true, "on": true,
	"enable": true, "enabled": true, "operate": true,
}

// Downstream modulation is reported as an index into this table.
var modulations = []string{"16QAM", "64QAM", "256QAM", "1024QAM", "32QAM", "128QAM", "QPSK"}

// "03 days 10h:32m:33s"
var uptimeRe = regexp.MustCompile(`^(?:(\d+)\s*days?\s*)?(\d+)h:(\d+)m:(\d+)s$`)

type Driver struct{}

func New() *Driver {
	return &Driver{}
}

func (*Driver) Vendor() string { return vendor }

func (*Driver) Models() []string {
	return []string{"CODA-4582", "CODA-4589", "CODA-4582U"}
}

func (*Driver) Scheme() string    { return "http" }
func (*Driver) ProbePath() string { return probePath }

func (*Driver) Identify(body []byte) (string, error) {
	doc, err := gabs.ParseJSON(body)
	if err != nil {
		return "", err
	}

	e, err := driver.Single(docModel, doc)
	if err != nil {
		return "", err
	}

	return e.String("modelName")
}

func (*Driver) Endpoints() []driver.Endpoint {
	return []driver.Endpoint{
		{Name: docModel, Path: probePath, Format: driver.FormatJSON},
		{Name: docSystem, Path: "/data/getSysInfo.asp", Format: driver.FormatJSON},
		{Name: docDownstream, Path: "/data/dsinfo.asp", Format: driver.FormatJSON},
		{Name: docUpstream, Path: "/data/usinfo.asp", Format: driver.FormatJSON},
		{Name: docOFDM, Path: "/data/dsofdminfo.asp", Format: driver.FormatJSON, Optional: true},
		{Name: docOFDMA, Path: "/data/usofdminfo.asp", Format: driver.FormatJSON, Optional: true},
	}
}

// Login posts the web form credentials; the session lives in a cookie.
func (*Driver) Login(ctx context.Context, c *transport.Client, creds driver.Credentials) error {
	_, err := c.Do(ctx, transport.Request{
		Method: http.MethodPost,
		Path:   loginPath,
		Form: url.Values{
			"usr": {creds.Username},
			"pwd": {creds.Password},
		},
		NoAuthRetry: true,
	})

	return err
}

func (*Driver) Parse(p *driver.Payload) (*telemetry.Partial, error) {
	model, err := driver.Single(docModel, p.Document(docModel))
	if err != nil {
		return nil, err
	}
	modelName, err := model.String("modelName")
	if err != nil {
		return nil, err
	}

	system, err := driver.Single(docSystem, p.Document(docSystem))
	if err != nil {
		return nil, err
	}
	uptime, err := parseUptime(system, "systemUptime")
	if err != nil {
		return nil, err
	}

	partial := &telemetry.Partial{
		Vendor: vendor,
		Model:  modelName,
		Uptime: uptime,
	}

	if partial.Downstream, err = parseDownstream(p.Document(docDownstream)); err != nil {
		return nil, err
	}
	if partial.Upstream, err = parseUpstream(p.Document(docUpstream)); err != nil {
		return nil, err
	}

	ofdm, err := parseOFDM(p.Document(docOFDM))
	if err != nil {
		return nil, err
	}
	partial.Downstream = append(partial.Downstream, ofdm...)

	ofdma, err := parseOFDMA(p.Document(docOFDMA))
	if err != nil {
		return nil, err
	}
	partial.Upstream = append(partial.Upstream, ofdma...)

	return partial, nil
}

func parseUptime(e driver.Entry, field string) (time.Duration, error) {
	raw, err := e.String(field)
	if err != nil {
		return 0, err
	}

	m := uptimeRe.FindStringSubmatch(raw)
	if m == nil {
		return 0, &driver.MalformedPayloadError{
			Section: e.Section,
			Index:   e.Index,
			Field:   field,
			Value:   raw,
			Reason:  "unrecognised uptime",
		}
	}

	var parts [4]int64
	for i, s := range m[1:] {
		if s == "" {
			continue
		}
		parts[i], _ = strconv.ParseInt(s, 10, 64)
	}

	return time.Duration(parts[0])*24*time.Hour +
		time.Duration(parts[1])*time.Hour +
		time.Duration(parts[2])*time.Minute +
		time.Duration(parts[3])*time.Second, nil
}

func parseDownstream(doc *gabs.Container) ([]telemetry.DownstreamChannel, error) {
	entries, err := driver.Entries(docDownstream, doc)
	if err != nil {
		return nil, err
	}

	channels := make([]telemetry.DownstreamChannel, 0, len(entries))
	for _, e := range entries {
		var ch telemetry.DownstreamChannel

		id, err := e.Int("channelId")
		if err != nil {
			return nil, err
		}
		ch.ChannelID = int(id)

		if ch.FrequencyHz, err = e.Frequency("frequency"); err != nil {
			return nil, err
		}

		code, err := e.Int("modulation")
		if err != nil {
			return nil, err
		}
		if code < 0 || int(code) >= len(modulations) {
			return nil, &driver.MalformedPayloadError{
				Section: e.Section,
				Index:   e.Index,
				Field:   "modulation",
				Value:   strconv.FormatInt(code, 10),
				Reason:  "unknown modulation code",
			}
		}
		ch.Modulation = modulations[code]

		if ch.PowerDBmV, err = e.Float("signalStrength"); err != nil {
			return nil, err
		}
		if ch.SNRDB, err = e.Float("snr"); err != nil {
			return nil, err
		}
		if ch.CorrectableErrors, err = e.Int("correcteds"); err != nil {
			return nil, err
		}
		if ch.UncorrectableErrors, err = e.Int("uncorrect"); err != nil {
			return nil, err
		}

		channels = append(channels, ch)
	}

	return channels, nil
}

func parseUpstream(doc *gabs.Container) ([]telemetry.UpstreamChannel, error) {
	entries, err := driver.Entries(docUpstream, doc)
	if err != nil {
		return nil, err
	}

	channels := make([]telemetry.UpstreamChannel, 0, len(entries))
	for _, e := range entries {
		var ch telemetry.UpstreamChannel

		id, err := e.Int("channelId")
		if err != nil {
			return nil, err
		}
		ch.ChannelID = int(id)

		if ch.FrequencyHz, err = e.Frequency("frequency"); err != nil {
			return nil, err
		}
		if ch.Modulation, err = e.String("modtype"); err != nil {
			return nil, err
		}
		if ch.PowerDBmV, err = e.Float("signalStrength"); err != nil {
			return nil, err
		}
		ch.ChannelType = e.OptionalString("scdmaMode")

		channels = append(channels, ch)
	}

	return channels, nil
}

// parseOFDM reads the DOCSIS 3.1 downstream receivers. Only receivers with
// PLC lock carry readings; the others report "NA" and are skipped.
func parseOFDM(doc *gabs.Container) ([]telemetry.DownstreamChannel, error) {
	entries, err := driver.Entries(docOFDM, doc)
	if err != nil {
		return nil, err
	}

	channels := make([]telemetry.DownstreamChannel, 0, len(entries))
	for _, e := range entries {
		locked, err := e.Bool("plclock")
		if err != nil {
			return nil, err
		}
		if !locked {
			continue
		}

		receiver, err := e.Int("receive")
		if err != nil {
			return nil, err
		}

		ch := telemetry.DownstreamChannel{
			ChannelID:  ofdmChannelOffset + int(receiver),
			Modulation: "OFDM",
			LockStatus: telemetry.LockLocked,
		}
		if ch.FrequencyHz, err = e.Frequency("Subcarr0freqFreq"); err != nil {
			return nil, err
		}
		if ch.PowerDBmV, err = e.Float("plcpower"); err != nil {
			return nil, err
		}
		if ch.SNRDB, err = e.Float("SNR"); err != nil {
			return nil, err
		}
		if ch.CorrectableErrors, err = e.Int("correcteds"); err != nil {
			return nil, err
		}
		if ch.UncorrectableErrors, err = e.Int("uncorrect"); err != nil {
			return nil, err
		}

		channels = append(channels, ch)
	}

	return channels, nil
}

// parseOFDMA reads the active DOCSIS 3.1 upstream channels. Power is the
// reported transmit power.
func parseOFDMA(doc *gabs.Container) ([]telemetry.UpstreamChannel, error) {
	entries, err := driver.Entries(docOFDMA, doc)
	if err != nil {
		return nil, err
	}

	channels := make([]telemetry.UpstreamChannel, 0, len(entries))
	for _, e := range entries {
		if !activeStates[strings.ToLower(strings.TrimSpace(e.OptionalString("state")))] {
			continue
		}

		index, err := e.Int("uschindex")
		if err != nil {
			return nil, err
		}

		ch := telemetry.UpstreamChannel{
			ChannelID:   ofdmChannelOffset + int(index),
			Modulation:  "OFDMA",
			ChannelType: "OFDMA",
			LockStatus:  telemetry.LockLocked,
		}
		if ch.FrequencyHz, err = e.Frequency("frequency"); err != nil {
			return nil, err
		}
		if ch.PowerDBmV, err = e.Float("repPower"); err != nil {
			return nil, err
		}

		channels = append(channels, ch)
	}

	return channels, nil
}
