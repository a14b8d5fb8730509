package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ginjaninja78/reinf-transmitter/internal/diag"
	"github.com/ginjaninja78/reinf-transmitter/internal/events"
	"github.com/ginjaninja78/reinf-transmitter/internal/ingest"
	"github.com/ginjaninja78/reinf-transmitter/internal/keystore"
	"github.com/ginjaninja78/reinf-transmitter/internal/logging"
	"github.com/ginjaninja78/reinf-transmitter/internal/normalize"
	"github.com/ginjaninja78/reinf-transmitter/internal/pipeline"
	"github.com/ginjaninja78/reinf-transmitter/internal/signer"
	"github.com/ginjaninja78/reinf-transmitter/internal/transmit"
	"github.com/ginjaninja78/reinf-transmitter/internal/types"
	"github.com/ginjaninja78/reinf-transmitter/internal/xmlwriter"
)

// =============================================================================
// UPLOADS
// =============================================================================

// readUpload reads the multipart "file" field and checks its size and
// extension.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (*ingest.Table, error) {
	maxSize := s.cfg.Server.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+1<<20)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		return nil, badRequest("file too large or invalid form")
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, badRequest("A spreadsheet file is required.")
	}
	defer file.Close()

	switch {
	case header.Size == 0:
		return nil, badRequest("The uploaded file is empty.")
	case header.Size > maxSize:
		return nil, badRequest("The file is larger than the %d MB safety limit.", maxSize>>20)
	case !ingest.Supported(header.Filename):
		return nil, badRequest("Unsupported file extension. Please upload .xls, .xlsx or .csv files.")
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, badRequest("failed to read file")
	}

	table, err := ingest.Read(bytes.NewReader(data), header.Filename, s.cfg.CSV)
	if err != nil {
		return nil, badRequest("%v", err)
	}
	if len(table.Rows) == 0 {
		return nil, badRequest("Spreadsheet is empty")
	}
	return table, nil
}

func respondRequestError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeError(w, reqErr.status, reqErr.message)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// =============================================================================
// EXTRACT COLUMNS
// =============================================================================

type columnsResponse struct {
	Columns          []string          `json:"columns"`
	SanitizedColumns map[string]string `json:"sanitizedColumns"`
	SheetName        string            `json:"sheetName"`
	RowCount         int               `json:"rowCount"`
}

// handleExtractColumns lists the columns of an uploaded spreadsheet with a
// suggested element name for each.
func (s *Server) handleExtractColumns(w http.ResponseWriter, r *http.Request) {
	table, err := s.readUpload(w, r)
	if err != nil {
		respondRequestError(w, err)
		return
	}

	summary := table.Summary()
	sanitized := make(map[string]string, len(summary.ColumnNames))
	for _, col := range summary.ColumnNames {
		sanitized[col] = xmlwriter.SanitizeTagName(col)
	}

	writeJSON(w, http.StatusOK, columnsResponse{
		Columns:          summary.ColumnNames,
		SanitizedColumns: sanitized,
		SheetName:        summary.SheetName,
		RowCount:         summary.RowCount,
	})
}

// =============================================================================
// CONVERT
// =============================================================================

type skippedRow struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type eventSummary struct {
	Type             string       `json:"type"`
	ID               string       `json:"id"`
	Period           string       `json:"period"`
	RowsRead         int          `json:"rowsRead"`
	RowsSkipped      int          `json:"rowsSkipped"`
	Skipped          []skippedRow `json:"skipped,omitempty"`
	PaymentNodes     int          `json:"paymentNodes,omitempty"`
	DistinctEntities int          `json:"distinctEntities,omitempty"`
	LeafNodes        int          `json:"leafNodes,omitempty"`
}

type conversionResponse struct {
	XML     string         `json:"xml"`
	Summary ingest.Summary `json:"summary"`
	Event   eventSummary   `json:"event"`
}

// handleConvert builds an unsigned event document from an uploaded
// spreadsheet.
//
// FORM FIELDS:
//   - file: the spreadsheet
//   - mapping: optional JSON object {"source column": "canonical field"}
//   - eventType: optional "evt4010" or "evt4080" (default from config)
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	table, err := s.readUpload(w, r)
	if err != nil {
		respondRequestError(w, err)
		return
	}

	var mapping types.ColumnMapping
	if raw := r.FormValue("mapping"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid column mapping format")
			return
		}
		for source, field := range mapping {
			if err := xmlwriter.ValidateTagName(field); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid mapping for column %q: %v", source, err))
				return
			}
		}
	}

	kind := s.cfg.Kind()
	if raw := r.FormValue("eventType"); raw != "" {
		kind, err = events.ParseKind(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid event type. Must be 'evt4010' or 'evt4080'")
			return
		}
	}

	env := s.cfg.Env()
	p := pipeline.New(pipeline.Options{
		Kind:        kind,
		Mapping:     mapping,
		Header:      s.cfg.EventHeader(env),
		Environment: env,
		Diagnostics: diag.NewSlogSink(logging.FromContext(r.Context())),
	})

	result := p.Run(r.Context(), table.Source, table.Rows)
	if result.Error != nil {
		writeJSON(w, buildStatus(result.Error), ErrorResponse{
			Error:   "We could not convert the spreadsheet. Please validate the file and try again.",
			Details: result.Error.Error(),
		})
		return
	}

	doc := result.Document
	event := eventSummary{
		Type:             doc.Kind.Code(),
		ID:               doc.ID,
		Period:           doc.Summary.Period,
		RowsRead:         doc.Summary.RowsRead,
		RowsSkipped:      doc.Summary.RowsSkipped,
		PaymentNodes:     doc.Summary.PaymentNodes,
		DistinctEntities: doc.Summary.DistinctEntities,
		LeafNodes:        doc.Summary.LeafNodes,
	}
	for _, sr := range doc.Summary.Skipped {
		event.Skipped = append(event.Skipped, skippedRow{Row: sr.Row, Reason: sr.Reason})
	}

	writeJSON(w, http.StatusOK, conversionResponse{
		XML:     string(result.XML),
		Summary: table.Summary(),
		Event:   event,
	})
}

// buildStatus maps input problems to 422 and everything else to 500.
func buildStatus(err error) int {
	var (
		dateErr  *normalize.DateFormatError
		estabErr *events.MissingEstablishmentError
	)
	switch {
	case errors.Is(err, events.ErrNoRows),
		errors.Is(err, events.ErrMissingPeriod),
		errors.As(err, &dateErr),
		errors.As(err, &estabErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// CERTIFICATES
// =============================================================================

type certificateRequest struct {
	PFXBase64 string `json:"pfxBase64"`
	Password  string `json:"password"`
}

type certificateResponse struct {
	Valid bool          `json:"valid"`
	Info  keystore.Info `json:"info"`
}

// handleValidateCertificate decodes a key store and checks the validity
// window of its certificate.
func (s *Server) handleValidateCertificate(w http.ResponseWriter, r *http.Request) {
	var req certificateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondRequestError(w, err)
		return
	}
	if req.PFXBase64 == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Certificado e senha são obrigatórios")
		return
	}

	bundle, err := openKeystore(req.PFXBase64, req.Password)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	defer bundle.Destroy()

	if err := bundle.CheckValidity(s.now()); err != nil {
		writeError(w, http.StatusBadRequest, keystoreMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, certificateResponse{Valid: true, Info: bundle.Info()})
}

func openKeystore(pfxBase64, password string) (*keystore.Bundle, error) {
	blob, err := keystore.DecodeBase64(pfxBase64)
	if err != nil {
		return nil, badRequest("%s", keystoreMessage(err))
	}
	bundle, err := keystore.Open(blob, password)
	if err != nil {
		return nil, badRequest("%s", keystoreMessage(err))
	}
	return bundle, nil
}

// keystoreMessage returns the user-facing message for a key-store error.
func keystoreMessage(err error) string {
	switch {
	case errors.Is(err, keystore.ErrWrongPassword):
		return "Senha do certificado incorreta"
	case errors.Is(err, keystore.ErrNoCertificate):
		return "Nenhum certificado encontrado no arquivo"
	case errors.Is(err, keystore.ErrNoPrivateKey):
		return "Nenhuma chave privada encontrada no arquivo"
	case errors.Is(err, keystore.ErrCertificateExpired):
		return "Certificado expirado"
	case errors.Is(err, keystore.ErrCertificateNotYetValid):
		return "Certificado ainda não é válido"
	case errors.Is(err, keystore.ErrInvalidKeystoreFormat):
		return "Formato de certificado inválido"
	default:
		return err.Error()
	}
}

// =============================================================================
// TRANSMIT
// =============================================================================

type transmitRequest struct {
	XML         string `json:"xml"`
	PFXBase64   string `json:"pfxBase64"`
	Password    string `json:"password"`
	Environment string `json:"environment"`
}

type transmitResponse struct {
	Success     bool   `json:"success"`
	Outcome     string `json:"outcome"`
	StatusCode  int    `json:"statusCode"`
	Protocol    string `json:"protocol,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
	ResponseXML string `json:"responseXml,omitempty"`
	Environment string `json:"environment"`
	Attempts    int    `json:"attempts"`
}

// handleTransmit signs an unsigned event document and sends it to the
// selected environment.
func (s *Server) handleTransmit(w http.ResponseWriter, r *http.Request) {
	var req transmitRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		respondRequestError(w, err)
		return
	}
	if strings.TrimSpace(req.XML) == "" || req.PFXBase64 == "" || req.Password == "" || req.Environment == "" {
		writeError(w, http.StatusBadRequest, "XML, certificado, senha e ambiente são obrigatórios")
		return
	}

	env, err := transmit.ParseEnvironment(req.Environment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Ambiente deve ser 'sandbox' ou 'production'")
		return
	}

	bundle, err := openKeystore(req.PFXBase64, req.Password)
	if err != nil {
		respondRequestError(w, err)
		return
	}
	defer bundle.Destroy()

	sink := diag.NewSlogSink(logging.FromContext(r.Context()))
	clientOpts := append([]transmit.Option{transmit.WithTimeout(s.cfg.Transmission.Timeout)}, s.transmitOptions...)

	p := pipeline.New(pipeline.Options{
		Environment:     env,
		Bundle:          bundle,
		Transmit:        true,
		TransmitOptions: clientOpts,
		Retry: pipeline.RetryPolicy{
			MaxAttempts:    s.cfg.Transmission.MaxAttempts,
			InitialBackoff: s.cfg.Transmission.InitialBackoff,
		},
		Diagnostics: sink,
		Now:         s.now,
	})

	result := p.Submit(r.Context(), "request", []byte(req.XML))
	if result.Error != nil {
		message := keystoreMessage(result.Error)
		if errors.Is(result.Error, signer.ErrMissingSignatureAnchor) {
			message = signer.ErrMissingSignatureAnchor.Error()
		}
		writeError(w, http.StatusBadRequest, "Erro ao assinar XML: "+message)
		return
	}

	t := result.Transmission
	resp := transmitResponse{
		Success:     t.Outcome == transmit.Accepted,
		Outcome:     t.Outcome.String(),
		StatusCode:  t.StatusCode,
		Protocol:    t.ProtocolNumber,
		Status:      t.StatusText,
		ResponseXML: string(t.Body),
		Environment: string(env),
		Attempts:    result.Attempts,
	}

	status := http.StatusOK
	switch {
	case t.Outcome == transmit.Rejected:
		resp.Error = t.ValidationMessage
	case t.Outcome == transmit.TransportError && t.StatusCode == 0:
		resp.Error = "Erro na conexão com a Receita Federal: " + t.Message
		status = http.StatusBadGateway
	case t.Outcome == transmit.TransportError:
		resp.Error = "Erro " + t.Message
	}

	writeJSON(w, status, resp)
}

// decodeJSON reads a bounded JSON body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 2*s.cfg.Server.MaxUploadBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid JSON body")
	}
	return nil
}
