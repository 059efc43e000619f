package certificate

import (
	"encoding/binary"
)

// canonicalTag prefixes every encoding so a future layout change cannot
// collide with v1 fingerprints.
const canonicalTag = "academic-certificate/v1"

// Encode serializes the fields into the canonical byte form that is hashed.
//
// Fields are normalized first, then written in the fixed order institution,
// student, roll, course, grade, issue date. Each field is prefixed with its
// length as a 4-byte big-endian integer, so no separator can be forged from
// inside a field value.
func Encode(f Fields) ([]byte, error) {
	n, err := f.Normalize()
	if err != nil {
		return nil, err
	}
	return encodeNormalized(n), nil
}

func encodeNormalized(n Fields) []byte {
	parts := []string{
		canonicalTag,
		n.InstitutionID,
		n.StudentName,
		n.RollNumber,
		n.CourseName,
		n.Grade,
		n.IssueDate,
	}

	size := 0
	for _, p := range parts {
		size += 4 + len(p)
	}

	out := make([]byte, 0, size)
	for _, p := range parts {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}
