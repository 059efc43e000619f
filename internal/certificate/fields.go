package certificate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidFields is returned when a field set is incomplete or malformed.
var ErrInvalidFields = errors.New("invalid certificate fields")

// Fields is the semantic content of an academic certificate.
type Fields struct {
	InstitutionID string `json:"institution_id" validate:"required"`
	StudentName   string `json:"student_name" validate:"required"`
	RollNumber    string `json:"roll_number" validate:"required"`
	CourseName    string `json:"course_name" validate:"required"`
	Grade         string `json:"grade" validate:"required"`
	IssueDate     string `json:"issue_date" validate:"required,datetime=2006-01-02"`
}

// LookupKey identifies a stored record independently of its fingerprint.
type LookupKey struct {
	InstitutionID string `json:"institution_id"`
	RollNumber    string `json:"roll_number"`
}

func (k LookupKey) IsZero() bool {
	return k.InstitutionID == "" && k.RollNumber == ""
}

// Normalize returns the key with the same text normalization applied to
// certificate fields, so lookups are insensitive to OCR whitespace and case.
func (k LookupKey) Normalize() (LookupKey, error) {
	n := LookupKey{
		InstitutionID: normalizeText(k.InstitutionID),
		RollNumber:    normalizeText(k.RollNumber),
	}
	if n.InstitutionID == "" || n.RollNumber == "" {
		return LookupKey{}, fmt.Errorf("%w: lookup key needs institution_id and roll_number", ErrInvalidFields)
	}
	return n, nil
}

// Key returns the lookup key for these fields.
func (f Fields) Key() LookupKey {
	return LookupKey{InstitutionID: f.InstitutionID, RollNumber: f.RollNumber}
}

var dateLayouts = []string{
	time.DateOnly,
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
}

var (
	fieldValidator = validator.New()
	folder         = cases.Fold()
)

// Normalize returns a copy of the fields with whitespace collapsed, case
// folded and the issue date rendered as YYYY-MM-DD. It fails if any
// attribute is missing after normalization.
func (f Fields) Normalize() (Fields, error) {
	n := Fields{
		InstitutionID: normalizeText(f.InstitutionID),
		StudentName:   normalizeText(f.StudentName),
		RollNumber:    normalizeText(f.RollNumber),
		CourseName:    normalizeText(f.CourseName),
		Grade:         normalizeText(f.Grade),
	}

	date, err := normalizeDate(f.IssueDate)
	if err != nil {
		return Fields{}, fmt.Errorf("%w: %v", ErrInvalidFields, err)
	}
	n.IssueDate = date

	if err := fieldValidator.Struct(n); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			missing := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				missing = append(missing, fe.Field())
			}
			return Fields{}, fmt.Errorf("%w: missing %s", ErrInvalidFields, strings.Join(missing, ", "))
		}
		return Fields{}, fmt.Errorf("%w: %v", ErrInvalidFields, err)
	}

	return n, nil
}

// NormalizeText applies the per-field text normalization used by Encode.
func NormalizeText(s string) string {
	return normalizeText(s)
}

func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	return folder.String(s)
}

func normalizeDate(s string) (string, error) {
	s = strings.Join(strings.Fields(norm.NFKC.String(s)), " ")
	if s == "" {
		return "", errors.New("missing IssueDate")
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(time.DateOnly), nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.DateOnly), nil
		}
	}

	return "", fmt.Errorf("unrecognised issue date %q", s)
}
