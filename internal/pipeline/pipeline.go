// =============================================================================
// Reinf Transmitter - Pipeline Module
// =============================================================================
//
// This module orchestrates one event document from rows to a classified
// transmission result.
//
// PIPELINE:
//   1. Build the event document (per-row or grouped)
//   2. Check the certificate validity window
//   3. Sign the document (enveloped XML-DSig)
//   4. Transmit the signed document and classify the response
//
// Steps 2-4 run only when a key store is supplied; step 4 only when
// transmission is requested.
//
// CONCURRENCY:
//   A Pipeline holds no per-document state. Run may be called from many
//   goroutines at once; every call builds with its own accumulator.
//
// =============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/events"
	"github.com/ginjaninja78/reinf-transmitter/internal/keystore"
	"github.com/ginjaninja78/reinf-transmitter/internal/metrics"
	"github.com/ginjaninja78/reinf-transmitter/internal/signer"
	"github.com/ginjaninja78/reinf-transmitter/internal/transmit"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
)

// ErrNoKeystore is returned when transmission is requested without a key
// store to sign and authenticate with.
var ErrNoKeystore = errors.New("transmission requires a key store")

// Sender posts a signed document. *transmit.Client implements it.
type Sender interface {
	Send(ctx context.Context, signed []byte) transmit.Result
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures a Pipeline.
type Options struct {
	// Kind selects the event builder.
	// Default: events.PerRow
	Kind events.Kind

	// Mapping resolves source columns to canonical fields. Optional.
	Mapping types.ColumnMapping

	// Header supplies the event header. An empty TpAmb is taken from
	// Environment.
	Header events.Header

	// Environment selects the endpoint and the tpAmb flag.
	// Default: transmit.Sandbox
	Environment transmit.Environment

	// Bundle signs the document and authenticates the transmission. Nil
	// leaves the document unsigned. The caller owns it and destroys it.
	Bundle *keystore.Bundle

	// Transmit sends the signed document.
	Transmit bool

	// Sender overrides the client built from Bundle and Environment.
	Sender Sender

	// TransmitOptions configure the client built from Bundle.
	TransmitOptions []transmit.Option

	// Retry applies to transport errors only.
	Retry RetryPolicy

	// Diagnostics receives diagnostics from every stage. Optional.
	Diagnostics diag.Sink

	// Now is the clock used for the certificate check.
	// Default: time.Now
	Now func() time.Time
}

// =============================================================================
// RESULT
// =============================================================================

// Result represents the outcome of processing one document.
type Result struct {
	// RunID identifies this run in diagnostics.
	RunID string

	// FilePath is the input file, empty for in-memory rows.
	FilePath string

	// Source is the name the rows came from.
	Source string

	// OutputFile is the written document, empty when nothing was written.
	OutputFile string

	// Document is the built event, nil if building failed.
	Document *events.Document

	// XML is the rendered document, signed when Signed is true.
	XML []byte

	// Signed reports whether XML carries a signature.
	Signed bool

	// Transmission is the last transmission result, nil when nothing was
	// sent.
	Transmission *transmit.Result

	// Attempts is the number of transmissions made.
	Attempts int

	// Success is true when every requested step completed and, if the
	// document was transmitted, it was accepted.
	Success bool

	// Error is the failure that stopped the pipeline. A rejected or failed
	// transmission is reported in Transmission, not here.
	Error error

	// Stats contains processing statistics.
	Stats ProcessingStats
}

// ProcessingStats contains statistics about the processing.
type ProcessingStats struct {
	RowsProcessed    int
	RowsSkipped      int
	PaymentNodes     int
	DistinctEntities int
	LeafNodes        int
	ProcessingTime   time.Duration
}

// =============================================================================
// PIPELINE
// =============================================================================

// Pipeline builds, signs and transmits event documents.
type Pipeline struct {
	opts   Options
	sink   diag.Sink
	sender Sender
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	if opts.Kind == "" {
		opts.Kind = events.PerRow
	}
	if opts.Environment == "" {
		opts.Environment = transmit.Sandbox
	}
	if opts.Header.TpAmb == "" {
		opts.Header.TpAmb = opts.Environment.TpAmb()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	sink := diag.OrDiscard(opts.Diagnostics)

	sender := opts.Sender
	if sender == nil && opts.Transmit && opts.Bundle != nil {
		clientOpts := append([]transmit.Option{transmit.WithDiagnostics(sink)}, opts.TransmitOptions...)
		sender = transmit.NewClient(opts.Bundle.TLSCertificate(), opts.Environment, clientOpts...)
	}

	return &Pipeline{opts: opts, sink: sink, sender: sender}
}

// Kind returns the event kind the pipeline builds.
func (p *Pipeline) Kind() events.Kind { return p.opts.Kind }

// Run executes the pipeline for rows read from source.
func (p *Pipeline) Run(ctx context.Context, source string, rows []types.Row) (result Result) {
	startTime := time.Now()
	result = Result{RunID: uuid.New().String(), Source: source}
	defer func() { result.Stats.ProcessingTime = time.Since(startTime) }()

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	if p.opts.Transmit && p.opts.Bundle == nil {
		result.Error = ErrNoKeystore
		return result
	}

	// =========================================================================
	// STEP 1: BUILD EVENT DOCUMENT
	// =========================================================================

	p.sink.Record(ctx, diag.LevelInfo, "building event", diag.Fields{
		"run_id": result.RunID,
		"source": source,
		"event":  p.opts.Kind.Code(),
		"rows":   len(rows),
	})

	doc, err := events.Build(ctx, p.opts.Kind, rows, events.Options{
		Mapping:     p.opts.Mapping,
		Header:      p.opts.Header,
		Diagnostics: p.sink,
	})
	if err != nil {
		metrics.BuildFailures.WithLabelValues(p.opts.Kind.Code()).Inc()
		result.Error = fmt.Errorf("failed to build event: %w", err)
		return result
	}

	result.Document = doc
	result.XML = doc.Bytes()
	result.Stats.RowsProcessed = doc.Summary.RowsRead
	result.Stats.RowsSkipped = doc.Summary.RowsSkipped
	result.Stats.PaymentNodes = doc.Summary.PaymentNodes
	result.Stats.DistinctEntities = doc.Summary.DistinctEntities
	result.Stats.LeafNodes = doc.Summary.LeafNodes

	metrics.DocumentsBuilt.WithLabelValues(p.opts.Kind.Code()).Inc()
	metrics.RowsProcessed.Add(float64(doc.Summary.RowsRead))
	metrics.RowsSkipped.Add(float64(doc.Summary.RowsSkipped))

	if doc.Summary.RowsSkipped > 0 {
		p.sink.Record(ctx, diag.LevelWarn, "rows skipped during aggregation", diag.Fields{
			"run_id":  result.RunID,
			"read":    doc.Summary.RowsRead,
			"skipped": doc.Summary.RowsSkipped,
		})
	}

	if p.opts.Bundle == nil {
		result.Success = true
		return result
	}

	p.submit(ctx, &result)
	return result
}

// Submit signs an already rendered document and transmits it when the
// pipeline is configured to.
func (p *Pipeline) Submit(ctx context.Context, source string, doc []byte) (result Result) {
	startTime := time.Now()
	result = Result{RunID: uuid.New().String(), Source: source, XML: doc}
	defer func() { result.Stats.ProcessingTime = time.Since(startTime) }()

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	if p.opts.Bundle == nil {
		result.Error = ErrNoKeystore
		return result
	}

	p.submit(ctx, &result)
	return result
}

// submit runs the signing and transmission steps on result.XML.
func (p *Pipeline) submit(ctx context.Context, result *Result) {
	// =========================================================================
	// STEP 2: CHECK CERTIFICATE
	// =========================================================================

	if err := p.opts.Bundle.CheckValidity(p.opts.Now()); err != nil {
		metrics.DocumentsSigned.WithLabelValues("failure").Inc()
		result.Error = fmt.Errorf("failed to sign event: %w", err)
		return
	}

	// =========================================================================
	// STEP 3: SIGN
	// =========================================================================

	signed, err := signer.SignWith(result.XML, p.opts.Bundle)
	if err != nil {
		metrics.DocumentsSigned.WithLabelValues("failure").Inc()
		result.Error = fmt.Errorf("failed to sign event: %w", err)
		return
	}

	metrics.DocumentsSigned.WithLabelValues("success").Inc()
	result.XML = signed
	result.Signed = true

	p.sink.Record(ctx, diag.LevelDebug, "event signed", diag.Fields{
		"run_id": result.RunID,
		"source": result.Source,
		"bytes":  len(signed),
	})

	if !p.opts.Transmit {
		result.Success = true
		return
	}

	// =========================================================================
	// STEP 4: TRANSMIT
	// =========================================================================

	transmission, attempts := p.send(ctx, signed)
	result.Transmission = &transmission
	result.Attempts = attempts
	result.Success = transmission.Outcome == transmit.Accepted
}
