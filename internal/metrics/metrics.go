// Package metrics exports a capture in the Prometheus text format, for
// node_exporter's textfile collector.
package metrics

import (
	"strconv"

	"codeberg.org/mutker/modemstat/internal/errors"
	"codeberg.org/mutker/modemstat/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modemstat"

var (
	downLabels = []string{"channel_id", "modulation"}
	upLabels   = []string{"channel_id", "channel_type"}
)

// Exporter is a prometheus.Collector over one record.
type Exporter struct {
	rec *telemetry.Record

	info          *prometheus.Desc
	uptime        *prometheus.Desc
	captured      *prometheus.Desc
	downFrequency *prometheus.Desc
	downPower     *prometheus.Desc
	downSNR       *prometheus.Desc
	downCorrected *prometheus.Desc
	downUncorr    *prometheus.Desc
	downLocked    *prometheus.Desc
	upFrequency   *prometheus.Desc
	upPower       *prometheus.Desc
	upLocked      *prometheus.Desc
}

func NewExporter(rec *telemetry.Record) *Exporter {
	desc := func(subsystem, name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
	}

	return &Exporter{
		rec:           rec,
		info:          desc("", "modem_info", "Modem identity, always 1", []string{"vendor", "model"}),
		uptime:        desc("", "uptime_seconds", "Time since the modem last rebooted", nil),
		captured:      desc("", "capture_timestamp_seconds", "Unix time of the capture", nil),
		downFrequency: desc("downstream", "frequency_hz", "Downstream frequency in Hz", downLabels),
		downPower:     desc("downstream", "power_dbmv", "Downstream power level in dBmV", downLabels),
		downSNR:       desc("downstream", "snr_db", "Downstream SNR or MER in dB", downLabels),
		downCorrected: desc("downstream", "correctable_errors_total", "Codewords corrected since reboot", downLabels),
		downUncorr:    desc("downstream", "uncorrectable_errors_total", "Codewords lost since reboot", downLabels),
		downLocked:    desc("downstream", "locked", "Downstream lock status (1=locked, 0=unlocked)", downLabels),
		upFrequency:   desc("upstream", "frequency_hz", "Upstream frequency in Hz", upLabels),
		upPower:       desc("upstream", "power_dbmv", "Upstream power level in dBmV", upLabels),
		upLocked:      desc("upstream", "locked", "Upstream lock status (1=locked, 0=unlocked)", upLabels),
	}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.info
	ch <- e.uptime
	ch <- e.captured
	ch <- e.downFrequency
	ch <- e.downPower
	ch <- e.downSNR
	ch <- e.downCorrected
	ch <- e.downUncorr
	ch <- e.downLocked
	ch <- e.upFrequency
	ch <- e.upPower
	ch <- e.upLocked
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	rec := e.rec

	ch <- prometheus.MustNewConstMetric(e.info, prometheus.GaugeValue, 1, rec.Vendor, rec.Model)
	ch <- prometheus.MustNewConstMetric(e.uptime, prometheus.GaugeValue, rec.Uptime.Std().Seconds())
	ch <- prometheus.MustNewConstMetric(e.captured, prometheus.GaugeValue,
		float64(rec.Timestamp.UnixNano())/1e9)

	for _, c := range rec.Downstream {
		labels := []string{strconv.Itoa(c.ChannelID), c.Modulation}

		ch <- prometheus.MustNewConstMetric(e.downFrequency, prometheus.GaugeValue, float64(c.FrequencyHz), labels...)
		ch <- prometheus.MustNewConstMetric(e.downPower, prometheus.GaugeValue, c.PowerDBmV, labels...)
		ch <- prometheus.MustNewConstMetric(e.downSNR, prometheus.GaugeValue, c.SNRDB, labels...)
		ch <- prometheus.MustNewConstMetric(e.downCorrected, prometheus.CounterValue, float64(c.CorrectableErrors), labels...)
		ch <- prometheus.MustNewConstMetric(e.downUncorr, prometheus.CounterValue, float64(c.UncorrectableErrors), labels...)
		if c.LockStatus != telemetry.LockUnknown {
			ch <- prometheus.MustNewConstMetric(e.downLocked, prometheus.GaugeValue, lockValue(c.LockStatus), labels...)
		}
	}

	for _, c := range rec.Upstream {
		labels := []string{strconv.Itoa(c.ChannelID), c.ChannelType}

		ch <- prometheus.MustNewConstMetric(e.upFrequency, prometheus.GaugeValue, float64(c.FrequencyHz), labels...)
		ch <- prometheus.MustNewConstMetric(e.upPower, prometheus.GaugeValue, c.PowerDBmV, labels...)
		if c.LockStatus != telemetry.LockUnknown && c.LockStatus != "" {
			ch <- prometheus.MustNewConstMetric(e.upLocked, prometheus.GaugeValue, lockValue(c.LockStatus), labels...)
		}
	}
}

func lockValue(s telemetry.LockStatus) float64 {
	if s == telemetry.LockLocked {
		return 1
	}

	return 0
}

// WriteTextfile writes rec to path. The file is replaced atomically so the
// collector never reads a partial export.
func WriteTextfile(path string, rec *telemetry.Record) error {
	registry := prometheus.NewRegistry()
	if err := registry.Register(NewExporter(rec)); err != nil {
		return errors.New().Wrap(errors.ErrWriteHistory, err)
	}

	if err := prometheus.WriteToTextfile(path, registry); err != nil {
		return errors.New().WithData(errors.ErrWriteHistory, struct {
			Path  string
			Error string
		}{
			Path:  path,
			Error: err.Error(),
		})
	}

	return nil
}
