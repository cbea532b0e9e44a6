// Package config loads the immutable service configuration. A Config is
// constructed once at process start (YAML file, then environment
// overrides) and passed into every component constructor; nothing reads
// configuration through globals at call sites.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	"gopkg.in/yaml.v3"
)

const (
	defaultTokenMaxAge    = 24 * time.Hour
	defaultSessionTTL     = time.Hour
	defaultReloadTimeout  = 2 * time.Second
	defaultVPNPort        = 1194
	defaultServerCertName = "easyvpn"
)

// Config holds every tunable the service needs. All fields are fixed
// after Load returns.
type Config struct {
	// Hostname is the public DNS name used in download URLs and in the
	// rendered client profile's remote directive.
	Hostname string `yaml:"hostname"`

	// UseHTTPS selects the scheme embedded in download URLs.
	UseHTTPS bool `yaml:"use_https"`

	// AdminUser and AdminPass gate the privileged endpoints. AdminPass
	// may be a bcrypt hash (recognised by its $2 prefix) or a plain
	// value compared in constant time.
	AdminUser string `yaml:"admin_user"`
	AdminPass string `yaml:"admin_pass"`

	// OpenVPNDir is the daemon's working directory. The easy-rsa tree
	// and the management socket live under it.
	OpenVPNDir string `yaml:"openvpn_dir"`

	// SecretDir holds service-owned output; packaged archives are
	// written to SecretDir/ovpns.
	SecretDir string `yaml:"secret_dir"`

	// TLSCert and TLSKey enable HTTPS serving when both files exist.
	TLSCert string `yaml:"tls_cert"`
	TLSKey  string `yaml:"tls_key"`

	// AuditDBPath locates the bbolt audit event store. Empty disables
	// persistent audit storage (events still go to the logger).
	AuditDBPath string `yaml:"audit_db"`

	// ServerCertName is the CA-side name of the VPN server's own
	// certificate, excluded from client listings.
	ServerCertName string `yaml:"server_cert_name"`

	TokenMaxAge   time.Duration `yaml:"token_max_age"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	ReloadTimeout time.Duration `yaml:"reload_timeout"`
	VPNPort       int           `yaml:"vpn_port"`

	secret *memguard.Enclave
}

// Secret returns the process-wide signing secret, sealed in a memguard
// enclave. Both the capability token codec and the admin session
// verifier derive their MACs from it.
func (c *Config) Secret() *memguard.Enclave {
	return c.secret
}

// EasyRSADir is the easy-rsa working directory.
func (c *Config) EasyRSADir() string {
	return filepath.Join(c.OpenVPNDir, "easy-rsa")
}

// ManagementSocket is the daemon's control socket path.
func (c *Config) ManagementSocket() string {
	return filepath.Join(c.OpenVPNDir, "management.sock")
}

// ArchiveDir is where packaged client archives are written.
func (c *Config) ArchiveDir() string {
	return filepath.Join(c.SecretDir, "ovpns")
}

// ExternalURL builds the caller-facing download URL for a bearer token.
func (c *Config) ExternalURL(bearer string) string {
	scheme := "http"
	if c.UseHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/download?t=%s", scheme, c.Hostname, bearer)
}

// Load reads the YAML file at path (optional; empty path skips it),
// applies environment overrides, seals the signing secret and validates
// the result.
func Load(path string) (*Config, error) {
	cfg := &Config{
		TokenMaxAge:    defaultTokenMaxAge,
		SessionTTL:     defaultSessionTTL,
		ReloadTimeout:  defaultReloadTimeout,
		VPNPort:        defaultVPNPort,
		ServerCertName: defaultServerCertName,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(cfg)

	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		return nil, fmt.Errorf("SECRET_KEY must be set")
	}
	// NewEnclave wipes the source buffer; the env copy is all that
	// remains outside the enclave.
	cfg.secret = memguard.NewEnclave([]byte(secret))
	os.Unsetenv("SECRET_KEY")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("ADMIN_USER"); v != "" {
		cfg.AdminUser = v
	}
	if v := os.Getenv("ADMIN_PASS"); v != "" {
		cfg.AdminPass = v
	}
	if v := os.Getenv("OPENVPN_DIR"); v != "" {
		cfg.OpenVPNDir = v
	}
	if v := os.Getenv("SECRET_DIR"); v != "" {
		cfg.SecretDir = v
	}
	if v := os.Getenv("USE_HTTPS"); v != "" {
		cfg.UseHTTPS = v == "true"
	}
	if v := os.Getenv("TOKEN_MAX_AGE"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.TokenMaxAge = time.Duration(secs) * time.Second
		}
	}
}

func (c *Config) validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("hostname must be set")
	}
	if c.AdminUser == "" || c.AdminPass == "" {
		return fmt.Errorf("admin credentials must be set")
	}
	if c.OpenVPNDir == "" {
		return fmt.Errorf("openvpn_dir must be set")
	}
	if c.SecretDir == "" {
		return fmt.Errorf("secret_dir must be set")
	}
	return nil
}
