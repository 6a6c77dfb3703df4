package pipe

import (
	"crypto/tls"
	"crypto/x509"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/svens/salcrypto/auth"
	"github.com/svens/salcrypto/cipher"
	"github.com/svens/salcrypto/curves"
	"github.com/svens/salcrypto/errkind"
	"github.com/svens/salcrypto/tlsversion"
)

// FactoryConfig is the declarative, serializable form of FactoryOptions,
// following the library's own pattern of a mapstructure/validator-backed
// config struct that a viper.Viper can populate from file, env, or flags
// before being turned into the runtime object it configures.
type FactoryConfig struct {
	Role              string   `mapstructure:"role"               validate:"required,oneof=client server"`
	Transport         string   `mapstructure:"transport"          validate:"omitempty,oneof=stream datagram"`
	CertificateFile   string   `mapstructure:"certificate_file"   validate:"omitempty,file"`
	PrivateKeyFile    string   `mapstructure:"private_key_file"   validate:"omitempty,file"`
	RootCAFiles       []string `mapstructure:"root_ca_files"      validate:"omitempty,dive,file"`
	ClientCAFiles     []string `mapstructure:"client_ca_files"    validate:"omitempty,dive,file"`
	RequireMutualAuth bool     `mapstructure:"require_mutual_auth"`
	// ClientAuth selects the exact server-side client authentication
	// policy ("none", "request", "require", "verify", "strict"; see
	// auth.Parse) and, when set, overrides RequireMutualAuth.
	ClientAuth       string   `mapstructure:"client_auth"        validate:"omitempty,oneof=none request require verify strict"`
	PeerName         string   `mapstructure:"peer_name"          validate:"omitempty,hostname|ip"`
	MinVersion       string   `mapstructure:"min_version"        validate:"omitempty"`
	MaxVersion       string   `mapstructure:"max_version"        validate:"omitempty"`
	CipherSuites     []string `mapstructure:"cipher_suites"      validate:"omitempty,dive"`
	CurvePreferences []string `mapstructure:"curve_preferences"  validate:"omitempty,dive"`
}

var configValidator = validator.New()

// Validate applies struct-tag rules via go-playground/validator, the
// library's own validation dependency.
func (c *FactoryConfig) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return errkind.Wrap(errkind.InvalidArgument, err, "pipe: invalid factory configuration")
	}
	return nil
}

// LoadFactoryConfig reads and unmarshals a FactoryConfig from path using
// viper, the library's own configuration-loading dependency; the file
// format is inferred from its extension (yaml, json, toml, ...).
func LoadFactoryConfig(path string) (*FactoryConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err, "pipe: reading factory configuration")
	}

	var cfg FactoryConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, err, "pipe: decoding factory configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewFactory turns the declarative config into a runtime Factory,
// acquiring the certificate/key/root-pool credentials it names.
func (c *FactoryConfig) NewFactory() (*Factory, error) {
	opt := FactoryOptions{
		RequireMutualAuth: c.RequireMutualAuth,
		PeerName:          c.PeerName,
	}

	if c.ClientAuth != "" {
		ca := auth.Parse(c.ClientAuth)
		opt.ClientAuth = &ca
	}

	switch c.Role {
	case "server":
		opt.Role = RoleServer
	default:
		opt.Role = RoleClient
	}
	if c.Transport == "datagram" {
		opt.Transport = TransportDatagram
	}

	if c.CertificateFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertificateFile, c.PrivateKeyFile)
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidArgument, err, "pipe: loading certificate/key pair")
		}
		opt.Certificates = []tls.Certificate{cert}
	}

	if len(c.RootCAFiles) > 0 {
		pool, err := loadCertPool(c.RootCAFiles)
		if err != nil {
			return nil, err
		}
		opt.RootCAs = pool
	}
	if len(c.ClientCAFiles) > 0 {
		pool, err := loadCertPool(c.ClientCAFiles)
		if err != nil {
			return nil, err
		}
		opt.ClientCAs = pool
	}

	if c.MinVersion != "" {
		opt.MinVersion = tlsversion.Parse(c.MinVersion)
	}
	if c.MaxVersion != "" {
		opt.MaxVersion = tlsversion.Parse(c.MaxVersion)
	}
	for _, s := range c.CipherSuites {
		if cs := cipher.Parse(s); cs != cipher.Unknown {
			opt.CipherSuites = append(opt.CipherSuites, cs)
		}
	}
	for _, s := range c.CurvePreferences {
		if cv := curves.Parse(s); cv != curves.Unknown {
			opt.CurvePreferences = append(opt.CurvePreferences, cv)
		}
	}

	return NewFactory(opt)
}

func loadCertPool(files []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	for _, f := range files {
		pem, err := os.ReadFile(f)
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidArgument, err, "pipe: reading CA file")
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errkind.New(errkind.IllegalByteSequence, "pipe: no certificates found in CA file "+f)
		}
	}
	return pool, nil
}
