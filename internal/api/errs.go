package api

import "fmt"

var (
	ErrParsReq         = fmt.Errorf("parsing request failed")
	ErrParsFingerprint = fmt.Errorf("parsing fingerprint failed")
	ErrCertExists      = fmt.Errorf("certificate already issued for this roll number")
	ErrCertNotFound    = fmt.Errorf("certificate not found")
	ErrCertIssuing     = fmt.Errorf("issuing cert failed")
	ErrCertVerifying   = fmt.Errorf("verifying cert failed")
	ErrCertRegistering = fmt.Errorf("registering cert on chain failed")
	ErrReadCert        = fmt.Errorf("reading cert failed")
	ErrListCerts       = fmt.Errorf("listing certs failed")
)
