package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swissborg/certificate-guardian/internal/certificate"
	"github.com/swissborg/certificate-guardian/internal/chain"
	"github.com/swissborg/certificate-guardian/internal/hashengine"
	"github.com/swissborg/certificate-guardian/internal/issuance"
	"github.com/swissborg/certificate-guardian/internal/registry"
	"github.com/swissborg/certificate-guardian/internal/store"
	"github.com/swissborg/certificate-guardian/internal/verification"
)

// switchableChain wraps a ledger client and can pretend the node is down.
type switchableChain struct {
	*chain.LedgerClient
	down bool
}

func (c *switchableChain) Register(ctx context.Context, fp certificate.Fingerprint) (common.Hash, error) {
	if c.down {
		return common.Hash{}, fmt.Errorf("%w: connection refused", chain.ErrNetworkUnavailable)
	}
	return c.LedgerClient.Register(ctx, fp)
}

func (c *switchableChain) Verify(ctx context.Context, fp certificate.Fingerprint) (bool, error) {
	if c.down {
		return false, fmt.Errorf("%w: connection refused", chain.ErrNetworkUnavailable)
	}
	return c.LedgerClient.Verify(ctx, fp)
}

type testEnv struct {
	e     *echo.Echo
	store *store.Badger
	chain *switchableChain
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	engine, err := hashengine.NewEngine(key)
	require.NoError(t, err)

	st, err := store.Open("", true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	owner := crypto.PubkeyToAddress(key.PublicKey)
	ch := &switchableChain{LedgerClient: chain.NewLedgerClient(registry.NewLedger(owner), owner)}

	issuer, err := issuance.NewService(engine, st, ch, issuance.Options{})
	require.NoError(t, err)
	t.Cleanup(issuer.Close)

	srv := NewServer(issuer, verification.NewOrchestrator(st, ch, engine), st)
	return &testEnv{e: srv.echo, store: st, chain: ch}
}

func (env *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload string
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		payload = string(b)
	}

	req := httptest.NewRequest(method, target, strings.NewReader(payload))
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func transcript(roll string) CertificateFields {
	return CertificateFields{
		InstitutionID: "uni-7",
		StudentName:   "Ravi Kumar",
		RollNumber:    roll,
		CourseName:    "MSc Physics",
		Grade:         "First Class",
		IssueDate:     "2023-07-15",
	}
}

func TestIssueAndVerify(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{transcript("P-1")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	issued := decode[IssueCertResponse](t, rec)
	assert.False(t, issued.Fingerprint.IsZero())
	assert.Len(t, issued.Salt, certificate.SaltLength)
	assert.Len(t, issued.Signature, crypto.SignatureLength)
	assert.NotNil(t, issued.TransactionID)
	assert.Empty(t, issued.BlockchainWarning)

	rec = env.do(t, http.MethodPost, "/cert/verify", VerifyCertRequest{Certificate: transcript("P-1")})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	verdict := decode[VerifyCertResponse](t, rec)
	assert.Equal(t, verification.VerifiedOnChain, verdict.Verdict)
	assert.True(t, verdict.Attested)
	require.NotNil(t, verdict.Record)
	assert.Equal(t, issued.Fingerprint, verdict.Record.Fingerprint)
	assert.Equal(t, "ravi kumar", verdict.Record.Fields.StudentName)
}

func TestIssueDuplicateRollNumber(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{transcript("P-2")})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{transcript("P-2")})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, ErrCertExists.Error(), decode[ErrorResp](t, rec).Error)
}

func TestIssueInvalidRequest(t *testing.T) {
	env := newTestEnv(t)

	missing := transcript("P-3")
	missing.Grade = ""
	rec := env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{missing})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	badDate := transcript("P-3")
	badDate.IssueDate = "sometime in July"
	rec = env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{badDate})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/cert/issue", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	raw := httptest.NewRecorder()
	env.e.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestIssueWhileChainIsDown(t *testing.T) {
	env := newTestEnv(t)
	env.chain.down = true

	rec := env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{transcript("P-4")})
	require.Equal(t, http.StatusCreated, rec.Code)

	issued := decode[IssueCertResponse](t, rec)
	assert.Nil(t, issued.TransactionID)
	assert.Contains(t, issued.BlockchainWarning, "not registered on chain")

	// verification cannot conclude while the node is down
	rec = env.do(t, http.MethodPost, "/cert/verify", VerifyCertRequest{Certificate: transcript("P-4")})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	verdict := decode[VerifyCertResponse](t, rec)
	assert.Equal(t, verification.ChainUnreachable, verdict.Verdict)
	assert.NotEmpty(t, verdict.ChainError)

	rec = env.do(t, http.MethodPost, "/cert/"+issued.Fingerprint.Hex()+"/register", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.chain.down = false

	rec = env.do(t, http.MethodPost, "/cert/verify", VerifyCertRequest{Certificate: transcript("P-4")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, verification.RecordFoundNotOnChain, decode[VerifyCertResponse](t, rec).Verdict)

	rec = env.do(t, http.MethodPost, "/cert/"+issued.Fingerprint.Hex()+"/register", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	registered := decode[RegisterCertResponse](t, rec)
	assert.NotNil(t, registered.TransactionID)
	assert.False(t, registered.AlreadyRegistered)

	rec = env.do(t, http.MethodPost, "/cert/verify", VerifyCertRequest{Certificate: transcript("P-4")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, verification.VerifiedOnChain, decode[VerifyCertResponse](t, rec).Verdict)
}

func TestRegisterAlreadyOnChain(t *testing.T) {
	env := newTestEnv(t)
	env.chain.down = true

	rec := env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{transcript("P-9")})
	require.Equal(t, http.StatusCreated, rec.Code)
	issued := decode[IssueCertResponse](t, rec)
	assert.False(t, issued.AlreadyRegistered)

	// the fingerprint reaches the registry some other way
	env.chain.down = false
	_, err := env.chain.LedgerClient.Register(context.Background(), issued.Fingerprint)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodPost, "/cert/"+issued.Fingerprint.Hex()+"/register", nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decode[RegisterCertResponse](t, rec)
		assert.True(t, got.AlreadyRegistered)
		assert.Nil(t, got.TransactionID)
		assert.Empty(t, got.BlockchainWarning)
	}

	pending, err := env.store.Unanchored(0)
	require.NoError(t, err)
	assert.Empty(t, pending)

	rec = env.do(t, http.MethodPost, "/cert/verify", VerifyCertRequest{Certificate: transcript("P-9")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, verification.VerifiedOnChain, decode[VerifyCertResponse](t, rec).Verdict)
}

func TestVerifyVerdicts(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{transcript("P-5")})
	require.Equal(t, http.StatusCreated, rec.Code)

	tampered := transcript("P-5")
	tampered.Grade = "Distinction"
	rec = env.do(t, http.MethodPost, "/cert/verify", VerifyCertRequest{Certificate: tampered})
	require.Equal(t, http.StatusOK, rec.Code)
	verdict := decode[VerifyCertResponse](t, rec)
	assert.Equal(t, verification.HashMismatch, verdict.Verdict)
	assert.Nil(t, verdict.Record)

	rec = env.do(t, http.MethodPost, "/cert/verify", VerifyCertRequest{Certificate: transcript("P-404")})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, verification.NotFound, decode[VerifyCertResponse](t, rec).Verdict)

	rec = env.do(t, http.MethodPost, "/cert/verify", VerifyCertRequest{
		Certificate:   transcript("P-5"),
		InstitutionID: "uni-7",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCert(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{transcript("P-6")})
	require.Equal(t, http.StatusCreated, rec.Code)
	issued := decode[IssueCertResponse](t, rec)

	rec = env.do(t, http.MethodGet, "/cert/"+issued.Fingerprint.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[RecordResponse](t, rec)
	assert.Equal(t, issued.ID, got.ID)
	assert.Equal(t, "p-6", got.Fields.RollNumber)
	assert.NotContains(t, rec.Body.String(), `"salt"`)

	rec = env.do(t, http.MethodGet, "/cert/"+certificate.Fingerprint{1}.Hex(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/cert/0xnothex", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListCerts(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		rec := env.do(t, http.MethodPost, "/cert/issue", IssueCertRequest{transcript(fmt.Sprintf("L-%d", i))})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/cert/list?institution_id=UNI-7&page=1&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode[ListCertResponse](t, rec)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "l-2", page.Records[0].Fields.RollNumber)

	rec = env.do(t, http.MethodGet, "/cert/list?institution_id=uni-7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[ListCertResponse](t, rec)
	assert.Equal(t, defaultPageLimit, page.Limit)
	assert.Len(t, page.Records, 3)

	for _, query := range []string{
		"institution_id=uni-7&limit=101",
		"institution_id=uni-7&page=0",
		"institution_id=uni-7&limit=abc",
		"page=1",
	} {
		rec = env.do(t, http.MethodGet, "/cert/list?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestRegisterUnknownCert(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/cert/"+certificate.Fingerprint{7}.Hex()+"/register", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
