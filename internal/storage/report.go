package storage

import (
	"context"
	"log/slog"

	"copytrade_go/internal/domain"
	"copytrade_go/internal/infra"
)

// Report is a flushed metrics snapshot with the alerts derived from it.
type Report struct {
	Seq     uint64         `json:"seq"`
	TsUnix  int64          `json:"ts"`
	Metrics infra.Metrics  `json:"metrics"`
	Alerts  []domain.Alert `json:"alerts"`
}

// ReportSink receives periodic metrics reports.
type ReportSink interface {
	SaveReport(ctx context.Context, r Report) error
}

// NewReport evaluates alerts for m.
func NewReport(seq uint64, tsUnix int64, m infra.Metrics) Report {
	return Report{Seq: seq, TsUnix: tsUnix, Metrics: m, Alerts: infra.DetectAlerts(m)}
}

// LastSeq returns the sequence of the most recent report held by sink, or 0
// when there is none. A restarted process continues numbering from it.
func LastSeq(ctx context.Context, sink ReportSink) uint64 {
	var (
		r   *Report
		err error
	)
	switch s := sink.(type) {
	case *SnapshotManager:
		r, err = s.LoadLatest()
	case *MetricsStore:
		r, err = s.LoadReport(ctx)
	}
	if err != nil {
		slog.Warn("Failed to load previous report", slog.Any("error", err))
		return 0
	}
	if r == nil {
		return 0
	}
	return r.Seq
}
