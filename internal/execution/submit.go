package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"copytrade_go/internal/infra"
	"copytrade_go/pkg/appendix"
)

// Venue labels where a submission originated. It only changes source_ref.
type Venue string

const (
	VenueManualTrading Venue = "manual_trading"
	VenueCopyEngine    Venue = "copy_engine"
)

// BuilderFeeMode decides what happens to an order with an invalid builder.
type BuilderFeeMode string

const (
	FeeModeFailClosed BuilderFeeMode = "fail_closed"
	FeeModeFailOpen   BuilderFeeMode = "fail_open"
)

// ErrorCodeInvalidBuilder is the result code of a fail-closed rejection.
const ErrorCodeInvalidBuilder = infra.ErrorCodeInvalidBuilder

// SubmitRequest is the order metadata to encode.
type SubmitRequest struct {
	Venue          Venue
	OrderFlags     int64
	Builder        string
	BuilderFeeRate int64
	FeeMode        BuilderFeeMode
}

// Audit describes the encoded appendix. On fail-closed it carries the raw
// inputs and no appendix.
type Audit struct {
	Digest         string `json:"digest"`
	Appendix       string `json:"appendix"`
	BuilderID      string `json:"builder_id"`
	BuilderFeeRate int64  `json:"builder_fee_rate"`
}

// SubmitResult is the outcome of SubmitOrder.
type SubmitResult struct {
	OK        bool   `json:"ok"`
	ErrorCode string `json:"errorCode,omitempty"`
	Source    string `json:"source_ref"`
	Audit     Audit  `json:"audit"`
}

// SubmitOrder encodes and round-trips the appendix.
//
// An invalid builder is resolved by the fee mode: fail_closed returns a
// not-ok result, fail_open re-encodes with builder "0" and fee rate 0.
// Any other encoding error is returned as-is and has no fallback.
func SubmitOrder(req SubmitRequest) (SubmitResult, error) {
	source := "submitOrder." + string(req.Venue)

	audit, err := encode(req.OrderFlags, req.Builder, req.BuilderFeeRate)
	if err == nil {
		return SubmitResult{OK: true, Source: source, Audit: audit}, nil
	}
	if !errors.Is(err, appendix.ErrInvalidBuilder) {
		return SubmitResult{}, err
	}

	if req.FeeMode == FeeModeFailOpen {
		audit, err := encode(req.OrderFlags, "0", 0)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{OK: true, Source: source + ".fail_open_fallback", Audit: audit}, nil
	}

	return SubmitResult{
		OK:        false,
		ErrorCode: ErrorCodeInvalidBuilder,
		Source:    source,
		Audit:     Audit{BuilderID: req.Builder, BuilderFeeRate: req.BuilderFeeRate},
	}, nil
}

func encode(flags int64, builder string, feeRate int64) (Audit, error) {
	packed, err := appendix.Pack(appendix.Fields{OrderFlags: flags, Builder: builder, BuilderFeeRate: feeRate})
	if err != nil {
		return Audit{}, err
	}
	fields, err := appendix.Unpack(packed)
	if err != nil {
		return Audit{}, err
	}
	return Audit{
		Digest:         digest(packed),
		Appendix:       packed,
		BuilderID:      fields.Builder,
		BuilderFeeRate: fields.BuilderFeeRate,
	}, nil
}

// digest is the first 16 hex chars of SHA-256 over the appendix.
func digest(packed string) string {
	sum := sha256.Sum256([]byte(packed))
	return hex.EncodeToString(sum[:])[:16]
}

// AuditSink persists submission results.
type AuditSink interface {
	RecordSubmission(ctx context.Context, res SubmitResult) error
}

// Submitter applies SubmitOrder with a fixed request and reports the result
// to an audit sink and the metrics recorder. Both are optional.
type Submitter struct {
	req      SubmitRequest
	sink     AuditSink
	recorder *infra.MetricsRecorder
}

// NewSubmitter creates a submitter for req.
func NewSubmitter(req SubmitRequest, sink AuditSink, recorder *infra.MetricsRecorder) *Submitter {
	return &Submitter{req: req, sink: sink, recorder: recorder}
}

// Submit encodes the configured metadata. A non-nil error is fatal.
func (s *Submitter) Submit(ctx context.Context) (SubmitResult, error) {
	res, err := SubmitOrder(s.req)
	if err != nil {
		slog.Error("Appendix encoding fault",
			slog.String("venue", string(s.req.Venue)),
			slog.Any("error", err))
		return SubmitResult{}, err
	}

	if !res.OK {
		slog.Warn("Submission rejected by builder policy",
			slog.String("code", res.ErrorCode),
			slog.String("source_ref", res.Source))
		if s.recorder != nil {
			s.recorder.RecordExecute(infra.ExecuteOutcome{OK: false, ErrorCode: res.ErrorCode, Source: res.Source})
		}
	}

	if s.sink != nil {
		if err := s.sink.RecordSubmission(ctx, res); err != nil {
			slog.Warn("Failed to record submission audit", slog.Any("error", err))
		}
	}
	return res, nil
}
