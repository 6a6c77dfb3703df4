package certificate

import "errors"

// ErrInvalidCertificate is returned when a certificate cannot be parsed or
// is malformed, grounded on the library's own ca.ErrInvalidCertificate.
var ErrInvalidCertificate = errors.New("certificate: invalid certificate")
