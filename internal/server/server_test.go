package server

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/reinf-transmitter/internal/config"
	"github.com/ginjaninja78/reinf-transmitter/internal/testutil"
	"github.com/ginjaninja78/reinf-transmitter/internal/transmit"
)

const paymentsCSV = "Período;nrInscEstab;CNPJ_Benef;nmBenef;vlrBruto\n" +
	"2025-01;12.345.678/0001-99;11111111000111;ACME;\"1.000,50\"\n" +
	"2025-01;12.345.678/0001-99;22222222000122;BETA;50\n"

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	return New(config.Default(), opts...)
}

// upload builds a multipart request with a file and extra form fields.
func upload(t *testing.T, path, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func postJSON(t *testing.T, path string, v any) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	// Build once so the row counter has been exported.
	serve(s, upload(t, "/api/xls-to-xml", "payments.csv", []byte(paymentsCSV),
		map[string]string{"mapping": `{"Período":"perApur"}`}))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reinf_rows_processed_total")
}

// =============================================================================
// EXTRACT COLUMNS
// =============================================================================

func TestExtractColumns(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, upload(t, "/api/extract-columns", "payments.csv", []byte(paymentsCSV), nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp columnsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []string{"Período", "nrInscEstab", "CNPJ_Benef", "nmBenef", "vlrBruto"}, resp.Columns)
	assert.Equal(t, "Perodo", resp.SanitizedColumns["Período"])
	assert.Equal(t, "CNPJ_Benef", resp.SanitizedColumns["CNPJ_Benef"])
	assert.Equal(t, 2, resp.RowCount)
}

func TestUploadValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		filename string
		content  []byte
		want     string
	}{
		{name: "missing file", want: "A spreadsheet file is required."},
		{name: "empty file", filename: "a.csv", content: nil, want: "The uploaded file is empty."},
		{name: "extension", filename: "a.pdf", content: []byte("x"), want: "Unsupported file extension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, upload(t, "/api/extract-columns", tt.filename, tt.content, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tt.want)
		})
	}
}

func TestUploadTooLarge(t *testing.T) {
	cfg := config.Default()
	cfg.Server.MaxUploadBytes = 64
	s := New(cfg)

	rec := serve(s, upload(t, "/api/extract-columns", "big.csv", bytes.Repeat([]byte("a;b\n"), 64), nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CONVERT
// =============================================================================

func TestConvert(t *testing.T) {
	s := newTestServer(t)

	rec := serve(s, upload(t, "/api/xls-to-xml", "payments.csv", []byte(paymentsCSV), map[string]string{
		"mapping":   `{"Período":"perApur"}`,
		"eventType": "evt4010",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp conversionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Contains(t, resp.XML, `<evt4010 id="ID1234567800019920250100001">`)
	assert.Contains(t, resp.XML, "<vlrBruto>1000,50</vlrBruto>")
	assert.Contains(t, resp.XML, "<tpAmb>2</tpAmb>")
	assert.NotContains(t, resp.XML, "<Signature")

	assert.Equal(t, "payments.csv", resp.Summary.FileName)
	assert.Equal(t, 2, resp.Summary.RowCount)
	assert.Equal(t, "R-4010", resp.Event.Type)
	assert.Equal(t, "2025-01", resp.Event.Period)
	assert.Equal(t, 2, resp.Event.RowsRead)
	assert.Equal(t, 2, resp.Event.PaymentNodes)
}

func TestConvertRejectsBadInput(t *testing.T) {
	s := newTestServer(t)

	noPeriod := "nrInscEstab;CNPJ_Benef;vlrBruto\n12345678000199;11111111000111;10\n"

	tests := []struct {
		name    string
		content string
		fields  map[string]string
		status  int
		want    string
	}{
		{
			name:   "mapping json",
			fields: map[string]string{"mapping": "{"},
			status: http.StatusBadRequest,
			want:   "Invalid column mapping format",
		},
		{
			name:   "mapping target",
			fields: map[string]string{"mapping": `{"Período":"1st"}`},
			status: http.StatusBadRequest,
			want:   "Invalid mapping for column",
		},
		{
			name:   "event type",
			fields: map[string]string{"eventType": "evt9999"},
			status: http.StatusBadRequest,
			want:   "Invalid event type",
		},
		{
			name:    "no period",
			content: noPeriod,
			status:  http.StatusUnprocessableEntity,
			want:    "We could not convert the spreadsheet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := tt.content
			if content == "" {
				content = paymentsCSV
			}
			rec := serve(s, upload(t, "/api/xls-to-xml", "payments.csv", []byte(content), tt.fields))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Contains(t, decode(t, rec)["error"], tt.want)
		})
	}
}

// =============================================================================
// CERTIFICATES
// =============================================================================

func TestValidateCertificate(t *testing.T) {
	s := newTestServer(t)
	id := testutil.NewIdentity(t)

	rec := serve(s, postJSON(t, "/api/validate-certificate", certificateRequest{
		PFXBase64: base64.StdEncoding.EncodeToString(id.PFX),
		Password:  id.Password,
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.Equal(t, true, resp["valid"])
	info := resp["info"].(map[string]any)
	assert.Contains(t, info["subject"], "EMPRESA TESTE LTDA")
	assert.NotEmpty(t, info["validTo"])
}

func TestValidateCertificateFailures(t *testing.T) {
	id := testutil.NewIdentity(t)
	encoded := base64.StdEncoding.EncodeToString(id.PFX)
	expired := testutil.NewIdentityWithValidity(t, time.Now().Add(-48*time.Hour), time.Now().Add(-24*time.Hour))
	trustOnly := testutil.TrustStore(t, id.Certificate)

	tests := []struct {
		name string
		req  certificateRequest
		want string
	}{
		{name: "missing", req: certificateRequest{PFXBase64: encoded}, want: "Certificado e senha são obrigatórios"},
		{name: "garbage", req: certificateRequest{PFXBase64: "bm90IGEga2V5c3RvcmU=", Password: "x"}, want: "Formato de certificado inválido"},
		{name: "password", req: certificateRequest{PFXBase64: encoded, Password: "wrong"}, want: "Senha do certificado incorreta"},
		{
			name: "expired",
			req:  certificateRequest{PFXBase64: base64.StdEncoding.EncodeToString(expired.PFX), Password: expired.Password},
			want: "Certificado expirado",
		},
		{
			name: "no key",
			req:  certificateRequest{PFXBase64: base64.StdEncoding.EncodeToString(trustOnly), Password: testutil.Password},
			want: "Nenhuma chave privada encontrada no arquivo",
		},
	}

	s := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, postJSON(t, "/api/validate-certificate", tt.req))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.want, decode(t, rec)["error"])
		})
	}
}

func TestValidateCertificateNotYetValid(t *testing.T) {
	id := testutil.NewIdentity(t)
	s := newTestServer(t, WithClock(func() time.Time { return time.Now().Add(-72 * time.Hour) }))

	rec := serve(s, postJSON(t, "/api/validate-certificate", certificateRequest{
		PFXBase64: base64.StdEncoding.EncodeToString(id.PFX),
		Password:  id.Password,
	}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Certificado ainda não é válido", decode(t, rec)["error"])
}

// =============================================================================
// TRANSMIT
// =============================================================================

// convert returns the unsigned document for paymentsCSV.
func convert(t *testing.T, s *Server) string {
	t.Helper()
	rec := serve(s, upload(t, "/api/xls-to-xml", "payments.csv", []byte(paymentsCSV),
		map[string]string{"mapping": `{"Período":"perApur"}`}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp conversionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.XML
}

// receiver starts an mTLS endpoint that trusts id and answers with status and
// body.
func receiver(t *testing.T, id *testutil.Identity, status int, body string) (*httptest.Server, *x509.CertPool) {
	t.Helper()

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(data), "<Signature")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	srv.TLS = &tls.Config{ClientAuth: tls.RequireAndVerifyClientCert, ClientCAs: id.CertPool()}
	srv.StartTLS()
	t.Cleanup(srv.Close)

	roots := x509.NewCertPool()
	roots.AddCert(srv.Certificate())
	return srv, roots
}

func TestTransmit(t *testing.T) {
	id := testutil.NewIdentity(t)

	tests := []struct {
		name       string
		status     int
		body       string
		success    bool
		outcome    string
		protocol   string
		errMessage string
	}{
		{
			name:     "accepted",
			status:   http.StatusCreated,
			body:     "<retorno><numeroProtocolo>1.2.202501.0000001</numeroProtocolo><status>100</status></retorno>",
			success:  true,
			outcome:  "accepted",
			protocol: "1.2.202501.0000001",
		},
		{
			name:       "rejected",
			status:     http.StatusBadRequest,
			body:       "<retorno><erro><mensagem>CNPJ inválido</mensagem></erro></retorno>",
			outcome:    "rejected",
			errMessage: "CNPJ inválido",
		},
		{
			name:       "http error",
			status:     http.StatusInternalServerError,
			body:       "<fault/>",
			outcome:    "transport_error",
			errMessage: "Erro HTTP 500",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, roots := receiver(t, id, tt.status, tt.body)
			s := newTestServer(t, WithTransmitOptions(transmit.WithEndpoint(srv.URL), transmit.WithRootCAs(roots)))

			rec := serve(s, postJSON(t, "/api/transmit-xml", transmitRequest{
				XML:         convert(t, s),
				PFXBase64:   base64.StdEncoding.EncodeToString(id.PFX),
				Password:    id.Password,
				Environment: "sandbox",
			}))
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			var resp transmitResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.success, resp.Success)
			assert.Equal(t, tt.outcome, resp.Outcome)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.protocol, resp.Protocol)
			assert.Equal(t, tt.errMessage, resp.Error)
			assert.Equal(t, tt.body, resp.ResponseXML)
			assert.Equal(t, "sandbox", resp.Environment)
			assert.Equal(t, 1, resp.Attempts)
		})
	}
}

func TestTransmitConnectionFailure(t *testing.T) {
	id := testutil.NewIdentity(t)
	srv, roots := receiver(t, id, http.StatusOK, "")
	endpoint := srv.URL
	srv.Close()

	s := newTestServer(t, WithTransmitOptions(transmit.WithEndpoint(endpoint), transmit.WithRootCAs(roots)))
	rec := serve(s, postJSON(t, "/api/transmit-xml", transmitRequest{
		XML:         convert(t, s),
		PFXBase64:   base64.StdEncoding.EncodeToString(id.PFX),
		Password:    id.Password,
		Environment: "production",
	}))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decode(t, rec)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, "production", resp["environment"])
	assert.True(t, strings.HasPrefix(resp["error"].(string), "Erro na conexão com a Receita Federal: "))
}

func TestTransmitValidation(t *testing.T) {
	id := testutil.NewIdentity(t)
	encoded := base64.StdEncoding.EncodeToString(id.PFX)
	s := newTestServer(t)

	tests := []struct {
		name string
		req  transmitRequest
		want string
	}{
		{
			name: "missing fields",
			req:  transmitRequest{XML: "<Reinf/>", PFXBase64: encoded},
			want: "XML, certificado, senha e ambiente são obrigatórios",
		},
		{
			name: "environment",
			req:  transmitRequest{XML: "<Reinf/>", PFXBase64: encoded, Password: id.Password, Environment: "staging"},
			want: "Ambiente deve ser 'sandbox' ou 'production'",
		},
		{
			name: "no anchor",
			req:  transmitRequest{XML: "<Reinf><evt/></Reinf>", PFXBase64: encoded, Password: id.Password, Environment: "sandbox"},
			want: "Erro ao assinar XML: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(s, postJSON(t, "/api/transmit-xml", tt.req))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tt.want)
		})
	}
}
