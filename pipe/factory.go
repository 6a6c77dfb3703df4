package pipe

import (
	"crypto/tls"
	"crypto/x509"

	"github.com/sirupsen/logrus"

	"github.com/svens/salcrypto/auth"
	"github.com/svens/salcrypto/certificate"
	"github.com/svens/salcrypto/cipher"
	"github.com/svens/salcrypto/curves"
	"github.com/svens/salcrypto/errkind"
	"github.com/svens/salcrypto/internal/logging"
	"github.com/svens/salcrypto/tlsversion"
)

// PeerVerifier is called after the handshake exchanges certificates, once
// per pipe, so the caller can apply its own trust policy beyond (or
// instead of) the standard x509 chain verification. Returning a non-nil
// error fails the handshake with permission-denied.
type PeerVerifier func(peer certificate.Certificate, chain []certificate.Certificate) error

// Factory holds the credentials and policy a set of pipes share: role,
// transport kind, mutual-authentication requirement, the local identity
// (certificate chain + private key), the trusted root pool, and the
// optional peer-name/peer-verification hooks. Per spec §4.4, credential
// acquisition happens eagerly in NewFactory so individual pipes never
// touch slow resources (files, key stores) on their hot path.
type Factory struct {
	role      Role
	transport Transport

	tlsConfig *tls.Config

	requireMutualAuth bool
	peerName          string
	peerVerifier      PeerVerifier

	log logging.Logger
}

// FactoryOptions configures NewFactory. The zero value is a client factory
// with no local identity and the system root pool.
type FactoryOptions struct {
	Role              Role
	Transport         Transport
	Certificates      []tls.Certificate
	RootCAs           *x509.CertPool
	ClientCAs         *x509.CertPool
	RequireMutualAuth bool
	// ClientAuth, when set, selects the exact server-side client
	// authentication policy (one of the auth.ClientAuth values) and
	// takes precedence over the coarser RequireMutualAuth toggle.
	ClientAuth       *auth.ClientAuth
	PeerName         string
	PeerVerifier     PeerVerifier
	MinVersion       tlsversion.Version
	MaxVersion       tlsversion.Version
	CipherSuites     []cipher.Cipher
	CurvePreferences []curves.Curves
	Logger           *logrus.Logger
}

// NewFactory validates options and assembles the tls.Config once, up
// front, so every later NewPipe call is a cheap struct allocation with no
// parsing, file access, or key-store lookups left to do.
func NewFactory(opt FactoryOptions) (*Factory, error) {
	if opt.RequireMutualAuth && opt.Role == RoleServer && len(opt.Certificates) == 0 {
		return nil, errkind.New(errkind.InvalidArgument, "pipe: server factory requires a local certificate")
	}
	if opt.Role == RoleServer && len(opt.Certificates) == 0 {
		return nil, errkind.New(errkind.InvalidArgument, "pipe: server factory requires a local certificate")
	}

	cfg := &tls.Config{
		Certificates: opt.Certificates,
		RootCAs:      opt.RootCAs,
		ServerName:   opt.PeerName,
	}

	if opt.MinVersion != tlsversion.VersionUnknown {
		cfg.MinVersion = uint16(opt.MinVersion)
	} else {
		cfg.MinVersion = tls.VersionTLS12
	}
	if opt.MaxVersion != tlsversion.VersionUnknown {
		cfg.MaxVersion = uint16(opt.MaxVersion)
	}
	if len(opt.CipherSuites) > 0 {
		suites := make([]uint16, len(opt.CipherSuites))
		for i, c := range opt.CipherSuites {
			suites[i] = uint16(c)
		}
		cfg.CipherSuites = suites
	}
	if len(opt.CurvePreferences) > 0 {
		ids := make([]tls.CurveID, len(opt.CurvePreferences))
		for i, c := range opt.CurvePreferences {
			ids[i] = tls.CurveID(c)
		}
		cfg.CurvePreferences = ids
	}

	if opt.Role == RoleServer {
		switch {
		case opt.ClientAuth != nil:
			cfg.ClientAuth = tls.ClientAuthType(*opt.ClientAuth)
		case opt.RequireMutualAuth:
			cfg.ClientAuth = tls.ClientAuthType(auth.RequireAndVerifyClientCert)
		default:
			cfg.ClientAuth = tls.ClientAuthType(auth.NoClientCert)
		}
		cfg.ClientCAs = opt.ClientCAs
	}

	f := &Factory{
		role:              opt.Role,
		transport:         opt.Transport,
		tlsConfig:         cfg,
		requireMutualAuth: opt.RequireMutualAuth,
		peerName:          opt.PeerName,
		peerVerifier:      opt.PeerVerifier,
		log:               logging.New(opt.Logger),
	}

	// Skip crypto/tls's own chain verification whenever a custom
	// verifier is installed; VerifyPeerCertificate below becomes the
	// single source of truth and runs for both client and server roles.
	if opt.PeerVerifier != nil {
		cfg.InsecureSkipVerify = true
	}
	cfg.VerifyPeerCertificate = f.verifyPeerCertificate

	if opt.Role == RoleServer {
		f.log.FactoryBuilt("server")
	} else {
		f.log.FactoryBuilt("client")
	}

	return f, nil
}

// verifyPeerCertificate runs only the factory's own checks. When a
// PeerVerifier is installed (so crypto/tls's chain check is skipped), it
// first verifies the peer chain against RootCAs (ClientCAs on a server)
// if that pool is set, and then defers to the PeerVerifier, matching spec
// §4.4's "manual peer certificate check callback" requirement. Without a
// PeerVerifier it accepts every chain, leaving verification to crypto/tls.
func (f *Factory) verifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	parsed := make([]certificate.Certificate, 0, len(rawCerts))
	x509Certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		x, err := x509.ParseCertificate(raw)
		if err != nil {
			return errkind.Wrap(errkind.IllegalByteSequence, err, "pipe: malformed peer certificate")
		}
		x509Certs = append(x509Certs, x)
		parsed = append(parsed, certificate.FromX509(x))
	}
	if len(parsed) == 0 {
		return nil
	}

	if f.tlsConfig.InsecureSkipVerify && f.peerVerifier != nil {
		opts := x509.VerifyOptions{
			Roots:         f.tlsConfig.RootCAs,
			Intermediates: x509.NewCertPool(),
			DNSName:       f.peerName,
		}
		if f.role == RoleServer {
			opts.Roots = f.tlsConfig.ClientCAs
			opts.DNSName = ""
			opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
		}
		for _, x := range x509Certs[1:] {
			opts.Intermediates.AddCert(x)
		}
		if opts.Roots != nil {
			if _, err := x509Certs[0].Verify(opts); err != nil {
				return errkind.Wrap(errkind.PermissionDenied, err, "pipe: peer chain verification failed")
			}
		}
	}

	if f.peerVerifier != nil {
		if err := f.peerVerifier(parsed[0], parsed); err != nil {
			return errkind.Wrap(errkind.PermissionDenied, err, "pipe: peer rejected by verifier")
		}
	}
	return nil
}

// NewPipe allocates a pipe ready to begin negotiating. No I/O happens
// here; the handshake itself is driven entirely through Handshake calls.
func (f *Factory) NewPipe() *Pipe {
	cfg := f.tlsConfig.Clone()
	eng := newEngine()

	var conn *tls.Conn
	if f.role == RoleClient {
		conn = tls.Client(eng, cfg)
	} else {
		conn = tls.Server(eng, cfg)
	}

	return &Pipe{
		factory:   f,
		role:      f.role,
		transport: f.transport,
		state:     StateInit,
		conn:      conn,
		eng:       eng,
		log:       f.log,
	}
}
