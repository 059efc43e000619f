package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/swissborg/certificate-guardian/internal/certificate"
	"github.com/swissborg/certificate-guardian/internal/verification"
)

const defaultPageLimit = 10

type ErrorResp struct {
	Error string `json:"error"`
}

// CertificateFields is the wire form of a certificate. Text is accepted as
// extracted; normalization happens further down.
type CertificateFields struct {
	InstitutionID string `json:"institution_id" validate:"required,lte=128"`
	StudentName   string `json:"student_name" validate:"required,lte=256"`
	RollNumber    string `json:"roll_number" validate:"required,lte=64"`
	CourseName    string `json:"course_name" validate:"required,lte=256"`
	Grade         string `json:"grade" validate:"required,lte=32"`
	IssueDate     string `json:"issue_date" validate:"required,lte=64"`
}

type IssueCertRequest struct {
	CertificateFields
}

type IssueCertResponse struct {
	ID                uuid.UUID               `json:"id"`
	Fingerprint       certificate.Fingerprint `json:"fingerprint"`
	Salt              certificate.Salt        `json:"salt"`
	Signature         certificate.Signature   `json:"signature"`
	Signer            common.Address          `json:"signer"`
	TransactionID     *common.Hash            `json:"transaction_id,omitempty"`
	AlreadyRegistered bool                    `json:"already_registered,omitempty"`
	BlockchainWarning string                  `json:"blockchain_warning,omitempty"`
}

// VerifyCertRequest carries the candidate certificate and, optionally, the
// institution and roll number of the record to check it against.
type VerifyCertRequest struct {
	Certificate   CertificateFields `json:"certificate"`
	InstitutionID string            `json:"institution_id" validate:"required_with=RollNumber,lte=128"`
	RollNumber    string            `json:"roll_number" validate:"required_with=InstitutionID,lte=64"`
}

type VerifyCertResponse struct {
	Verdict    verification.Verdict `json:"verdict"`
	Attested   bool                 `json:"attested"`
	Record     *RecordResponse      `json:"record,omitempty"`
	ChainError string               `json:"chain_error,omitempty"`
}

type ListCertRequest struct {
	InstitutionID string `query:"institution_id" validate:"required"`
	Page          int    `query:"page" validate:"gte=1"`
	Limit         int    `query:"limit" validate:"gte=1,lte=100"`
}

type ListCertResponse struct {
	Records    []RecordResponse `json:"records"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	Limit      int              `json:"limit"`
	TotalPages int              `json:"total_pages"`
}

type FingerprintParam struct {
	Fingerprint string `param:"fingerprint" validate:"required"`
}

type RegisterCertResponse struct {
	Fingerprint       certificate.Fingerprint `json:"fingerprint"`
	TransactionID     *common.Hash            `json:"transaction_id,omitempty"`
	AlreadyRegistered bool                    `json:"already_registered,omitempty"`
	BlockchainWarning string                  `json:"blockchain_warning,omitempty"`
}

// RecordResponse is a stored record as shown to verifiers. The salt is
// not exposed.
type RecordResponse struct {
	ID            uuid.UUID               `json:"id"`
	Fields        CertificateFields       `json:"fields"`
	Fingerprint   certificate.Fingerprint `json:"fingerprint"`
	Signature     certificate.Signature   `json:"signature"`
	Signer        common.Address          `json:"signer"`
	TransactionID *common.Hash            `json:"transaction_id,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}
