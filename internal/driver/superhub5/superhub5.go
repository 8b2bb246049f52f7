// Package superhub5 reads the Virgin Media Hub 5 (Sagemcom F3896LG), which
// exposes a JSON REST API over HTTPS with a self-signed certificate.
package superhub5

import (
	"strings"
	"time"

	"codeberg.org/mutker/modemstat/internal/driver"
	"codeberg.org/mutker/modemstat/internal/telemetry"
	"github.com/Jeffail/gabs/v2"
)

const (
	vendor    = "superhub5"
	probePath = "/rest/v1/system/info"

	docSystem     = "system"
	docDownstream = "downstream"
	docUpstream   = "upstream"
)

type Driver struct{}

func New() *Driver {
	return &Driver{}
}

func (*Driver) Vendor() string { return vendor }

func (*Driver) Models() []string {
	return []string{"F3896LG", "F3896LG-VMB"}
}

func (*Driver) Scheme() string      { return "https" }
func (*Driver) ProbePath() string   { return probePath }
func (*Driver) SelfSignedTLS() bool { return true }

func (*Driver) Identify(body []byte) (string, error) {
	doc, err := gabs.ParseJSON(body)
	if err != nil {
		return "", err
	}

	info, err := driver.Single(docSystem, driver.Child(doc, "info"))
	if err != nil {
		return "", err
	}

	return info.String("modelName")
}

func (*Driver) Endpoints() []driver.Endpoint {
	return []driver.Endpoint{
		{Name: docSystem, Path: probePath, Format: driver.FormatJSON},
		{Name: docDownstream, Path: "/rest/v1/cablemodem/downstream", Format: driver.FormatJSON},
		{Name: docUpstream, Path: "/rest/v1/cablemodem/upstream", Format: driver.FormatJSON},
	}
}

func (*Driver) Parse(p *driver.Payload) (*telemetry.Partial, error) {
	info, err := driver.Single(docSystem, driver.Child(p.Document(docSystem), "info"))
	if err != nil {
		return nil, err
	}

	model, err := info.String("modelName")
	if err != nil {
		return nil, err
	}
	seconds, err := info.Int("uptime")
	if err != nil {
		return nil, err
	}

	partial := &telemetry.Partial{
		Vendor: vendor,
		Model:  model,
		Uptime: time.Duration(seconds) * time.Second,
	}

	if partial.Downstream, err = parseDownstream(channelList(p, docDownstream)); err != nil {
		return nil, err
	}
	if partial.Upstream, err = parseUpstream(channelList(p, docUpstream)); err != nil {
		return nil, err
	}

	return partial, nil
}

// channelList digs {"downstream": {"channels": [...]}} out of its document.
func channelList(p *driver.Payload, name string) *gabs.Container {
	return driver.Child(driver.Child(p.Document(name), name), "channels")
}

func lockStatus(e driver.Entry) (telemetry.LockStatus, error) {
	if !e.Has("lockStatus") {
		return "", nil
	}

	locked, err := e.Bool("lockStatus")
	if err != nil {
		return "", err
	}

	return telemetry.LockStatusFromBool(locked), nil
}

func unknownType(e driver.Entry, value string) error {
	return &driver.MalformedPayloadError{
		Section: e.Section,
		Index:   e.Index,
		Field:   "channelType",
		Value:   value,
		Reason:  "unknown channel type",
	}
}

func parseDownstream(list *gabs.Container) ([]telemetry.DownstreamChannel, error) {
	entries, err := driver.Entries(docDownstream, list)
	if err != nil {
		return nil, err
	}

	channels := make([]telemetry.DownstreamChannel, 0, len(entries))
	for _, e := range entries {
		var ch telemetry.DownstreamChannel

		kind, err := e.String("channelType")
		if err != nil {
			return nil, err
		}

		id, err := e.Int("channelId")
		if err != nil {
			return nil, err
		}
		ch.ChannelID = int(id)

		if ch.FrequencyHz, err = e.Frequency("frequency"); err != nil {
			return nil, err
		}
		if ch.PowerDBmV, err = e.Float("power"); err != nil {
			return nil, err
		}

		switch strings.ToLower(kind) {
		case "sc_qam":
			if ch.Modulation, err = e.String("modulation"); err != nil {
				return nil, err
			}
			if ch.SNRDB, err = e.Float("snr"); err != nil {
				return nil, err
			}
		case "ofdm":
			// OFDM carriers report their quality as RxMER.
			ch.Modulation = e.OptionalString("modulation")
			if ch.Modulation == "" {
				ch.Modulation = "OFDM"
			}
			if ch.SNRDB, err = e.Float("rxMer"); err != nil {
				return nil, err
			}
		default:
			return nil, unknownType(e, kind)
		}

		if ch.CorrectableErrors, err = e.Int("correctedErrors"); err != nil {
			return nil, err
		}
		if ch.UncorrectableErrors, err = e.Int("uncorrectedErrors"); err != nil {
			return nil, err
		}
		if ch.LockStatus, err = lockStatus(e); err != nil {
			return nil, err
		}

		channels = append(channels, ch)
	}

	return channels, nil
}

func parseUpstream(list *gabs.Container) ([]telemetry.UpstreamChannel, error) {
	entries, err := driver.Entries(docUpstream, list)
	if err != nil {
		return nil, err
	}

	channels := make([]telemetry.UpstreamChannel, 0, len(entries))
	for _, e := range entries {
		var ch telemetry.UpstreamChannel

		kind, err := e.String("channelType")
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(kind) {
		case "atdma":
			ch.ChannelType = "ATDMA"
		case "ofdma":
			ch.ChannelType = "OFDMA"
		default:
			return nil, unknownType(e, kind)
		}

		id, err := e.Int("channelId")
		if err != nil {
			return nil, err
		}
		ch.ChannelID = int(id)

		if ch.FrequencyHz, err = e.Frequency("frequency"); err != nil {
			return nil, err
		}
		if ch.PowerDBmV, err = e.Float("power"); err != nil {
			return nil, err
		}
		ch.Modulation = e.OptionalString("modulation")
		if ch.Modulation == "" {
			ch.Modulation = ch.ChannelType
		}
		if ch.LockStatus, err = lockStatus(e); err != nil {
			return nil, err
		}

		channels = append(channels, ch)
	}

	return channels, nil
}
