package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/certificate-guardian/internal/certificate"
	"github.com/swissborg/certificate-guardian/internal/chain"
	"github.com/swissborg/certificate-guardian/internal/issuance"
	"github.com/swissborg/certificate-guardian/internal/store"
	"github.com/swissborg/certificate-guardian/internal/verification"
)

type Issuer interface {
	Issue(ctx context.Context, fields certificate.Fields) (*issuance.Result, error)
	Register(ctx context.Context, fp certificate.Fingerprint) (*issuance.Result, error)
}

type Verifier interface {
	Verify(ctx context.Context, candidate certificate.Fields, key certificate.LookupKey) (*verification.Result, error)
}

type Records interface {
	Get(fp certificate.Fingerprint) (*store.Record, error)
	ListByInstitution(institutionID string, page, limit int) (*store.Page, error)
}

type Handlers struct {
	issuer   Issuer
	verifier Verifier
	records  Records
}

func NewHandlers(issuer Issuer, verifier Verifier, records Records) *Handlers {
	return &Handlers{
		issuer:   issuer,
		verifier: verifier,
		records:  records,
	}
}

func (h *Handlers) IssueCert(c echo.Context) error {
	var req IssueCertRequest

	if err := c.Bind(&req); err != nil {
		log.WithError(err).Error("bind issue cert request")
		return c.JSON(http.StatusBadRequest, ErrorResp{
			Error: fmt.Sprintf("%v: %v", err, ErrParsReq),
		})
	}

	log.
		WithField("institution", req.InstitutionID).
		WithField("roll", req.RollNumber).
		Info("issue request")

	if err := c.Validate(req); err != nil {
		log.WithError(err).Error("validate issue cert request")
		return c.JSON(http.StatusBadRequest, ErrorResp{
			Error: err.Error(),
		})
	}

	res, err := h.issuer.Issue(c.Request().Context(), req.toFields())
	switch {
	case errors.Is(err, certificate.ErrInvalidFields):
		return c.JSON(http.StatusBadRequest, ErrorResp{Error: err.Error()})
	case errors.Is(err, store.ErrDuplicate):
		return c.JSON(http.StatusConflict, ErrorResp{Error: ErrCertExists.Error()})
	case err != nil:
		log.WithError(err).Error(ErrCertIssuing)
		return c.JSON(http.StatusInternalServerError, ErrorResp{
			Error: fmt.Sprintf("%v: %v", err, ErrCertIssuing),
		})
	}

	rec := res.Record
	return c.JSON(http.StatusCreated, IssueCertResponse{
		ID:                rec.ID,
		Fingerprint:       rec.Fingerprint,
		Salt:              rec.Salt,
		Signature:         rec.Signature,
		Signer:            rec.Signer,
		TransactionID:     rec.TransactionID,
		AlreadyRegistered: res.AlreadyRegistered,
		BlockchainWarning: blockchainWarning(res.ChainErr),
	})
}

func (h *Handlers) VerifyCert(c echo.Context) error {
	var req VerifyCertRequest

	if err := c.Bind(&req); err != nil {
		log.WithError(err).Error("bind verify cert request")
		return c.JSON(http.StatusBadRequest, ErrorResp{
			Error: fmt.Sprintf("%v: %v", err, ErrParsReq),
		})
	}

	if err := c.Validate(req); err != nil {
		log.WithError(err).Error("validate verify cert request")
		return c.JSON(http.StatusBadRequest, ErrorResp{
			Error: err.Error(),
		})
	}

	key := certificate.LookupKey{InstitutionID: req.InstitutionID, RollNumber: req.RollNumber}
	res, err := h.verifier.Verify(c.Request().Context(), req.Certificate.toFields(), key)
	switch {
	case errors.Is(err, certificate.ErrInvalidFields):
		return c.JSON(http.StatusBadRequest, ErrorResp{Error: err.Error()})
	case err != nil:
		log.WithError(err).Error(ErrCertVerifying)
		return c.JSON(http.StatusInternalServerError, ErrorResp{
			Error: fmt.Sprintf("%v: %v", err, ErrCertVerifying),
		})
	}

	resp := VerifyCertResponse{
		Verdict:  res.Verdict,
		Attested: res.Attested,
		Record:   toRecordResponse(res.Record),
	}

	if !res.Verdict.Terminal() {
		resp.ChainError = res.ChainError.Error()
		return c.JSON(http.StatusServiceUnavailable, resp)
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *Handlers) ListCerts(c echo.Context) error {
	req := ListCertRequest{Page: 1, Limit: defaultPageLimit}

	if err := c.Bind(&req); err != nil {
		log.WithError(err).Error("bind list certs request")
		return c.JSON(http.StatusBadRequest, ErrorResp{
			Error: fmt.Sprintf("%v: %v", err, ErrParsReq),
		})
	}

	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResp{
			Error: err.Error(),
		})
	}

	page, err := h.records.ListByInstitution(req.InstitutionID, req.Page, req.Limit)
	switch {
	case errors.Is(err, store.ErrInvalidPaging), errors.Is(err, certificate.ErrInvalidFields):
		return c.JSON(http.StatusBadRequest, ErrorResp{Error: err.Error()})
	case err != nil:
		log.WithError(err).Error(ErrListCerts)
		return c.JSON(http.StatusInternalServerError, ErrorResp{
			Error: fmt.Sprintf("%v: %v", err, ErrListCerts),
		})
	}

	resp := ListCertResponse{
		Records:    make([]RecordResponse, 0, len(page.Records)),
		Total:      page.Total,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalPages: page.TotalPages(),
	}
	for i := range page.Records {
		resp.Records = append(resp.Records, *toRecordResponse(&page.Records[i]))
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *Handlers) GetCert(c echo.Context) error {
	fp, err := h.bindFingerprint(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResp{Error: err.Error()})
	}

	rec, err := h.records.Get(fp)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResp{Error: ErrCertNotFound.Error()})
	case err != nil:
		log.WithError(err).Error(ErrReadCert)
		return c.JSON(http.StatusInternalServerError, ErrorResp{
			Error: fmt.Sprintf("%v: %v", ErrReadCert, err),
		})
	}

	return c.JSON(http.StatusOK, toRecordResponse(rec))
}

// RegisterCert retries the on-chain registration of an issued certificate.
func (h *Handlers) RegisterCert(c echo.Context) error {
	fp, err := h.bindFingerprint(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResp{Error: err.Error()})
	}

	log.WithField("fingerprint", fp.Short()).Info("register request")

	res, err := h.issuer.Register(c.Request().Context(), fp)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResp{Error: ErrCertNotFound.Error()})
	case err != nil:
		log.WithError(err).Error(ErrCertRegistering)
		return c.JSON(http.StatusInternalServerError, ErrorResp{
			Error: fmt.Sprintf("%v: %v", err, ErrCertRegistering),
		})
	}

	resp := RegisterCertResponse{
		Fingerprint:       res.Record.Fingerprint,
		TransactionID:     res.Record.TransactionID,
		AlreadyRegistered: res.AlreadyRegistered,
		BlockchainWarning: blockchainWarning(res.ChainErr),
	}

	switch {
	case res.ChainErr == nil:
		return c.JSON(http.StatusOK, resp)
	case chain.Retryable(res.ChainErr):
		return c.JSON(http.StatusServiceUnavailable, resp)
	default:
		return c.JSON(http.StatusBadGateway, resp)
	}
}

func (h *Handlers) bindFingerprint(c echo.Context) (certificate.Fingerprint, error) {
	var param FingerprintParam
	if err := c.Bind(&param); err != nil {
		return certificate.Fingerprint{}, fmt.Errorf("%v: %w", err, ErrParsReq)
	}

	fp, err := certificate.ParseFingerprint(param.Fingerprint)
	if err != nil {
		return certificate.Fingerprint{}, fmt.Errorf("%v: %w", err, ErrParsFingerprint)
	}
	return fp, nil
}
