package api

import (
	"fmt"

	"github.com/swissborg/certificate-guardian/internal/certificate"
	"github.com/swissborg/certificate-guardian/internal/store"
)

func (f CertificateFields) toFields() certificate.Fields {
	return certificate.Fields{
		InstitutionID: f.InstitutionID,
		StudentName:   f.StudentName,
		RollNumber:    f.RollNumber,
		CourseName:    f.CourseName,
		Grade:         f.Grade,
		IssueDate:     f.IssueDate,
	}
}

func fromFields(f certificate.Fields) CertificateFields {
	return CertificateFields{
		InstitutionID: f.InstitutionID,
		StudentName:   f.StudentName,
		RollNumber:    f.RollNumber,
		CourseName:    f.CourseName,
		Grade:         f.Grade,
		IssueDate:     f.IssueDate,
	}
}

func toRecordResponse(rec *store.Record) *RecordResponse {
	if rec == nil {
		return nil
	}
	return &RecordResponse{
		ID:            rec.ID,
		Fields:        fromFields(rec.Fields),
		Fingerprint:   rec.Fingerprint,
		Signature:     rec.Signature,
		Signer:        rec.Signer,
		TransactionID: rec.TransactionID,
		CreatedAt:     rec.CreatedAt,
	}
}

func blockchainWarning(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("certificate saved but not registered on chain: %v", err)
}
