// Package certificate parses and inspects X.509 certificates: DER/PEM
// import, field accessors, digests, and issuer/subject chain comparisons.
// It follows the shared-ownership handle idiom of the library's own ca
// package, backed here by crypto/x509's garbage-collected parse tree
// instead of a native platform certificate store.
package certificate

import (
	"bytes"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"net"
	"net/url"
	"time"

	"github.com/svens/salcrypto/digest"
	"github.com/svens/salcrypto/errkind"
	"github.com/svens/salcrypto/view"
)

// oidIssuerAltName is the X.509 extension OID (2.5.29.18) carrying the
// issuer's own alternative-name list, when the CA embedded one.
var oidIssuerAltName = asn1.ObjectIdentifier{2, 5, 29, 18}

// minDecodeBuffer is the internal PEM decode buffer floor from spec §4.3.
const minDecodeBuffer = 8192

// AltNameKind identifies one entry of a subject/issuer alternative-name
// list.
type AltNameKind int

const (
	AltNameDNS AltNameKind = iota
	AltNameIP
	AltNameURI
	AltNameEmail
)

// AltName is one (kind, value) pair from a SAN extension.
type AltName struct {
	Kind  AltNameKind
	Value string
}

// RDN is one (OID, value) pair from an issuer or subject distinguished
// name, in ASN.1 RDN order.
type RDN struct {
	OID   string
	Value string
}

// Certificate is a shared-ownership handle over a parsed X.509 certificate.
// The zero value is the empty handle: every accessor on it fails with
// errkind.BadAddress, matching spec §4.3.
type Certificate struct {
	x *x509.Certificate
}

// IsEmpty reports whether the handle wraps no certificate.
func (c Certificate) IsEmpty() bool {
	return c.x == nil
}

// FromDER parses a DER-encoded X.509 certificate.
func FromDER(der view.Bytes) (Certificate, error) {
	if der.Empty() {
		return Certificate{}, errkind.New(errkind.InvalidArgument, "certificate: empty DER input")
	}
	x, err := x509.ParseCertificate(der.Data())
	if err != nil {
		return Certificate{}, errkind.Wrap(errkind.IllegalByteSequence, err, "certificate: malformed DER")
	}
	return Certificate{x: x}, nil
}

// FromPEM recognizes optional PEM armor (BEGIN/END lines, either or both
// may be missing; leading text before BEGIN is ignored), strips it,
// base64-decodes the body, and delegates to FromDER. Go's encoding/pem
// rejects a block whose END line is missing, so armor is located and
// stripped by hand rather than via pem.Decode, matching spec §4.3's more
// lenient contract.
func FromPEM(text view.Bytes) (Certificate, error) {
	body := stripArmor(text.Data())

	trimmed := compactBase64(body)
	if len(trimmed) == 0 {
		return Certificate{}, errkind.New(errkind.InvalidArgument, "certificate: empty PEM input")
	}
	if len(trimmed)%4 != 0 {
		return Certificate{}, errkind.New(errkind.MessageSize, "certificate: base64 length not a multiple of 4")
	}

	bufSize := base64.StdEncoding.DecodedLen(len(trimmed))
	if bufSize < minDecodeBuffer {
		bufSize = minDecodeBuffer
	}
	buf := make([]byte, bufSize)
	n, err := base64.StdEncoding.Decode(buf, trimmed)
	if err != nil {
		return Certificate{}, errkind.Wrap(errkind.IllegalByteSequence, err, "certificate: invalid base64")
	}
	return FromDER(view.Of(buf[:n]))
}

var (
	beginMarker = []byte("-----BEGIN")
	endMarker   = []byte("-----END")
)

// stripArmor drops any text before a BEGIN line and the BEGIN/END lines
// themselves. Either marker, or both, may be absent.
func stripArmor(p []byte) []byte {
	if i := bytes.Index(p, beginMarker); i >= 0 {
		if nl := bytes.IndexByte(p[i:], '\n'); nl >= 0 {
			p = p[i+nl+1:]
		} else {
			p = p[i+len(beginMarker):]
		}
	}
	if i := bytes.Index(p, endMarker); i >= 0 {
		p = p[:i]
	}
	return p
}

// compactBase64 trims whitespace and strips embedded newlines so
// line-wrapped PEM bodies decode as one contiguous base64 string.
func compactBase64(p []byte) []byte {
	p = bytes.TrimSpace(p)
	out := make([]byte, 0, len(p))
	for _, b := range p {
		switch b {
		case '\n', '\r', ' ', '\t':
			continue
		default:
			out = append(out, b)
		}
	}
	return out
}

// ToDER returns a copy of the certificate's DER encoding.
func (c Certificate) ToDER() ([]byte, error) {
	if c.IsEmpty() {
		return nil, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	out := make([]byte, len(c.x.Raw))
	copy(out, c.x.Raw)
	return out, nil
}

// Version returns 1..3, or 0 for an empty handle.
func (c Certificate) Version() (int, error) {
	if c.IsEmpty() {
		return 0, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	return c.x.Version, nil
}

// NotBefore returns the certificate's validity start time.
func (c Certificate) NotBefore() (time.Time, error) {
	if c.IsEmpty() {
		return time.Time{}, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	return c.x.NotBefore, nil
}

// NotAfter returns the certificate's validity end time.
func (c Certificate) NotAfter() (time.Time, error) {
	if c.IsEmpty() {
		return time.Time{}, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	return c.x.NotAfter, nil
}

// NotExpired reports whether notBefore <= t and t+margin <= notAfter.
func (c Certificate) NotExpired(t time.Time, margin time.Duration) (bool, error) {
	nb, err := c.NotBefore()
	if err != nil {
		return false, err
	}
	na, err := c.NotAfter()
	if err != nil {
		return false, err
	}
	return !t.Before(nb) && !t.Add(margin).After(na), nil
}

// SerialNumber returns the certificate's serial number as big-endian bytes
// with leading zero bytes trimmed.
func (c Certificate) SerialNumber() ([]byte, error) {
	if c.IsEmpty() {
		return nil, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	if c.x.SerialNumber == nil {
		return []byte{}, nil
	}
	b := c.x.SerialNumber.Bytes()
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:], nil
}

// AuthorityKeyIdentifier returns the raw AKI extension bytes, or an empty
// slice with no error when the extension is absent.
func (c Certificate) AuthorityKeyIdentifier() ([]byte, error) {
	if c.IsEmpty() {
		return nil, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	return c.x.AuthorityKeyId, nil
}

// SubjectKeyIdentifier returns the raw SKI extension bytes, or an empty
// slice with no error when the extension is absent.
func (c Certificate) SubjectKeyIdentifier() ([]byte, error) {
	if c.IsEmpty() {
		return nil, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	return c.x.SubjectKeyId, nil
}

// Issuer returns the issuer distinguished name as an ordered (OID, value)
// list, preserving ASN.1 RDN order.
func (c Certificate) Issuer() ([]RDN, error) {
	if c.IsEmpty() {
		return nil, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	return rdnSequence(c.x.Issuer.Names), nil
}

// Subject returns the subject distinguished name as an ordered (OID,
// value) list, preserving ASN.1 RDN order.
func (c Certificate) Subject() ([]RDN, error) {
	if c.IsEmpty() {
		return nil, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	return rdnSequence(c.x.Subject.Names), nil
}

// IssuerByOID returns only the issuer RDN entries whose OID equals oid
// (dotted-decimal form, e.g. "2.5.4.3" for CN).
func (c Certificate) IssuerByOID(oid string) ([]RDN, error) {
	all, err := c.Issuer()
	if err != nil {
		return nil, err
	}
	return filterRDN(all, oid), nil
}

// SubjectByOID returns only the subject RDN entries whose OID equals oid
// (dotted-decimal form, e.g. "2.5.4.3" for CN).
func (c Certificate) SubjectByOID(oid string) ([]RDN, error) {
	all, err := c.Subject()
	if err != nil {
		return nil, err
	}
	return filterRDN(all, oid), nil
}

func filterRDN(in []RDN, oid string) []RDN {
	out := make([]RDN, 0, len(in))
	for _, r := range in {
		if r.OID == oid {
			out = append(out, r)
		}
	}
	return out
}

func rdnSequence(names []pkix.AttributeTypeAndValue) []RDN {
	out := make([]RDN, 0, len(names))
	for _, n := range names {
		if s, ok := n.Value.(string); ok {
			out = append(out, RDN{OID: n.Type.String(), Value: s})
		}
	}
	return out
}

// SubjectAltNames returns the subject's SAN entries. IPv6 addresses are
// canonicalized to RFC 5952 textual form; IPv4 uses dotted-quad; URIs are
// returned exactly as encoded; email/DNS are returned unchanged.
func (c Certificate) SubjectAltNames() ([]AltName, error) {
	if c.IsEmpty() {
		return nil, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	return altNames(c.x.DNSNames, c.x.IPAddresses, c.x.URIs, c.x.EmailAddresses), nil
}

// IssuerAltNames returns the issuer's SAN entries, when the issuing CA
// embedded extension OID 2.5.29.18 in this certificate. Go's x509 package
// only surfaces the subject's own SAN (DNSNames/IPAddresses/URIs/
// EmailAddresses); the issuer alt name extension is parsed here straight
// out of the raw extension list.
func (c Certificate) IssuerAltNames() ([]AltName, error) {
	if c.IsEmpty() {
		return nil, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	for _, ext := range c.x.Extensions {
		if ext.Id.Equal(oidIssuerAltName) {
			names, err := parseGeneralNames(ext.Value)
			if err != nil {
				return nil, errkind.Wrap(errkind.IllegalByteSequence, err, "certificate: malformed issuer alt name extension")
			}
			return names, nil
		}
	}
	return []AltName{}, nil
}

// parseGeneralNames decodes the GeneralNames SEQUENCE carried by a SAN or
// issuer-alt-name extension's value, picking out the four kinds this
// package represents.
func parseGeneralNames(der []byte) ([]AltName, error) {
	var seq asn1.RawValue
	if _, err := asn1.Unmarshal(der, &seq); err != nil {
		return nil, err
	}
	if !seq.IsCompound || seq.Tag != asn1.TagSequence || seq.Class != asn1.ClassUniversal {
		return nil, errkind.New(errkind.IllegalByteSequence, "certificate: alt-name extension is not a SEQUENCE")
	}

	out := make([]AltName, 0)
	rest := seq.Bytes
	for len(rest) > 0 {
		var v asn1.RawValue
		var err error
		rest, err = asn1.Unmarshal(rest, &v)
		if err != nil {
			return nil, err
		}
		switch v.Tag {
		case 1: // rfc822Name
			out = append(out, AltName{Kind: AltNameEmail, Value: string(v.Bytes)})
		case 2: // dNSName
			out = append(out, AltName{Kind: AltNameDNS, Value: string(v.Bytes)})
		case 6: // uniformResourceIdentifier
			if u, uerr := url.Parse(string(v.Bytes)); uerr == nil {
				out = append(out, AltName{Kind: AltNameURI, Value: u.String()})
			}
		case 7: // iPAddress
			out = append(out, AltName{Kind: AltNameIP, Value: net.IP(v.Bytes).String()})
		}
	}
	return out, nil
}

func altNames(dns []string, ips []net.IP, uris []*url.URL, emails []string) []AltName {
	out := make([]AltName, 0, len(dns)+len(ips)+len(uris)+len(emails))
	for _, d := range dns {
		out = append(out, AltName{Kind: AltNameDNS, Value: d})
	}
	for _, ip := range ips {
		out = append(out, AltName{Kind: AltNameIP, Value: ip.String()})
	}
	for _, u := range uris {
		out = append(out, AltName{Kind: AltNameURI, Value: u.String()})
	}
	for _, e := range emails {
		out = append(out, AltName{Kind: AltNameEmail, Value: e})
	}
	return out
}

// IssuedBy reports whether c's issuer-name sequence equals issuer's
// subject-name sequence, compared byte for byte as encoded DER.
func (c Certificate) IssuedBy(issuer Certificate) (bool, error) {
	if c.IsEmpty() || issuer.IsEmpty() {
		return false, errkind.New(errkind.BadAddress, "certificate: empty handle")
	}
	return bytes.Equal(c.x.RawIssuer, issuer.x.RawSubject), nil
}

// IsSelfSigned is IssuedBy(c, c).
func (c Certificate) IsSelfSigned() (bool, error) {
	return c.IssuedBy(c)
}

// Equal reports DER-encoding equality, a stronger check than IssuedBy.
func (c Certificate) Equal(other Certificate) bool {
	if c.IsEmpty() || other.IsEmpty() {
		return c.IsEmpty() == other.IsEmpty()
	}
	return bytes.Equal(c.x.Raw, other.x.Raw)
}

// Digest computes alg.one_shot(c.ToDER()) per spec §4.3.
func (c Certificate) Digest(alg digest.Algorithm, out view.MutableBytes) (produced int, err error) {
	der, err := c.ToDER()
	if err != nil {
		return 0, err
	}
	return digest.OneShot(alg, view.Of(der), out)
}

// X509 exposes the underlying parsed certificate for interop with
// crypto/tls and crypto/x509.CertPool. Returns nil for an empty handle.
func (c Certificate) X509() *x509.Certificate {
	return c.x
}

// FromX509 wraps an already-parsed certificate, as returned by
// tls.ConnectionState.PeerCertificates.
func FromX509(x *x509.Certificate) Certificate {
	return Certificate{x: x}
}
