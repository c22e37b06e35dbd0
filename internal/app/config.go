package app

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultAddress         = "127.0.0.1:8443"
	defaultLogLevel        = "NOTICE"
	defaultDatabaseDriver  = "sqlite"
	defaultRelayFile       = "relay.db"
	defaultDatabaseFile    = "sessions.db"
	minPepperSize          = 16
	minKDFSaltSize         = 16
	minAssertionKeySize    = 16
	defaultShutdownTimeout = 10 * time.Second
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Server is the listener configuration.
type Server struct {
	// Address is the host:port the HTTP API and gateway bind to.
	Address string

	// DataDir is the absolute path to the server's state files.
	DataDir string

	// PublicURL is the scheme://host clients use, checked against DPoP htu.
	PublicURL string

	// TrustForwardedProto honours X-Forwarded-Proto from a fronting proxy
	// when PublicURL is not set.
	TrustForwardedProto bool

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

func (sCfg *Server) validate() error {
	if sCfg.Address == "" {
		sCfg.Address = defaultAddress
	}
	if _, _, err := net.SplitHostPort(sCfg.Address); err != nil {
		return fmt.Errorf("config: Server: Address '%v' is invalid: %v", sCfg.Address, err)
	}
	if !filepath.IsAbs(sCfg.DataDir) {
		return fmt.Errorf("config: Server: DataDir '%v' is not an absolute path", sCfg.DataDir)
	}
	if sCfg.ShutdownTimeout <= 0 {
		sCfg.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Session holds the SHIV secrets and lifetimes.
type Session struct {
	// Pepper is the hex encoded server-only key the storage id is derived
	// with. It never leaves the server.
	Pepper string

	// KDFSalt is the hex encoded HKDF salt shared with clients.
	KDFSalt string

	// AssertionKey is the hex encoded key second-factor assertions are
	// signed with.
	AssertionKey string

	// Lifetime is the session token lifetime.
	Lifetime time.Duration

	// IntegrityWindow is the width of an integrity time window.
	IntegrityWindow time.Duration

	// MaxPrivilegedLifetime caps privileged token lifetimes.
	MaxPrivilegedLifetime time.Duration

	// CacheTTL is how long secrets stay in the fast tier.
	CacheTTL time.Duration

	pepper       []byte
	kdfSalt      []byte
	assertionKey []byte
}

func decodeSecret(field, s string, minSize int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("config: Session: %v is not valid hex: %v", field, err)
	}
	if len(b) < minSize {
		return nil, fmt.Errorf("config: Session: %v must be at least %d bytes", field, minSize)
	}
	return b, nil
}

func (sCfg *Session) validate() error {
	var err error
	if sCfg.pepper, err = decodeSecret("Pepper", sCfg.Pepper, minPepperSize); err != nil {
		return err
	}
	if sCfg.kdfSalt, err = decodeSecret("KDFSalt", sCfg.KDFSalt, minKDFSaltSize); err != nil {
		return err
	}
	if sCfg.assertionKey, err = decodeSecret("AssertionKey", sCfg.AssertionKey, minAssertionKeySize); err != nil {
		return err
	}
	if sCfg.Lifetime < 0 || sCfg.IntegrityWindow < 0 || sCfg.MaxPrivilegedLifetime < 0 || sCfg.CacheTTL < 0 {
		return errors.New("config: Session: durations must not be negative")
	}
	return nil
}

// PepperBytes returns the decoded pepper.
func (sCfg *Session) PepperBytes() []byte { return sCfg.pepper }

// KDFSaltBytes returns the decoded KDF salt.
func (sCfg *Session) KDFSaltBytes() []byte { return sCfg.kdfSalt }

// AssertionKeyBytes returns the decoded assertion key.
func (sCfg *Session) AssertionKeyBytes() []byte { return sCfg.assertionKey }

// Redis is the fast tier configuration. An empty Address runs without a
// cache.
type Redis struct {
	Address  string
	Password string
	DB       int
}

func (rCfg *Redis) validate() error {
	if rCfg.Address == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(rCfg.Address); err != nil {
		return fmt.Errorf("config: Redis: Address '%v' is invalid: %v", rCfg.Address, err)
	}
	if rCfg.DB < 0 {
		return fmt.Errorf("config: Redis: DB %d is invalid", rCfg.DB)
	}
	return nil
}

// Database is the durable tier configuration.
type Database struct {
	// Driver is "sqlite" or "postgres".
	Driver string

	// DSN is the driver specific data source name. For sqlite it defaults to
	// a file under the data directory.
	DSN string
}

func (dCfg *Database) validate(dataDir string) error {
	switch dCfg.Driver {
	case "":
		dCfg.Driver = defaultDatabaseDriver
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: Database: Driver '%v' is invalid", dCfg.Driver)
	}
	if dCfg.DSN == "" {
		if dCfg.Driver == "postgres" {
			return errors.New("config: Database: postgres requires a DSN")
		}
		dCfg.DSN = filepath.Join(dataDir, defaultDatabaseFile)
	}
	return nil
}

// Relay is the offline queue configuration.
type Relay struct {
	// File is the bbolt database path, relative to the data directory unless
	// absolute.
	File string
}

func (rCfg *Relay) validate(dataDir string) error {
	if rCfg.File == "" {
		rCfg.File = defaultRelayFile
	}
	if !filepath.IsAbs(rCfg.File) {
		rCfg.File = filepath.Join(dataDir, rCfg.File)
	}
	return nil
}

// Gateway tunes the websocket transport.
type Gateway struct {
	VerifyTimeout time.Duration
	PingInterval  time.Duration
	ReadLimit     int64
	SendQueue     int
}

func (gCfg *Gateway) validate() error {
	if gCfg.VerifyTimeout < 0 || gCfg.PingInterval < 0 || gCfg.ReadLimit < 0 || gCfg.SendQueue < 0 {
		return errors.New("config: Gateway: values must not be negative")
	}
	return nil
}

// Config is the top level vaultd configuration.
type Config struct {
	Server   *Server
	Logging  *Logging
	Session  *Session
	Redis    *Redis
	Database *Database
	Relay    *Relay
	Gateway  *Gateway
}

// FixupAndValidate applies defaults to config entries and validates the
// supplied configuration. Most people should call one of the Load variants
// instead.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Server == nil {
		return errors.New("config: No Server block was present")
	}
	if cfg.Session == nil {
		return errors.New("config: No Session block was present")
	}
	if cfg.Logging == nil {
		l := defaultLogging
		cfg.Logging = &l
	}
	if cfg.Redis == nil {
		cfg.Redis = &Redis{}
	}
	if cfg.Database == nil {
		cfg.Database = &Database{}
	}
	if cfg.Relay == nil {
		cfg.Relay = &Relay{}
	}
	if cfg.Gateway == nil {
		cfg.Gateway = &Gateway{}
	}

	if err := cfg.Server.validate(); err != nil {
		return err
	}
	if err := cfg.Logging.validate(); err != nil {
		return err
	}
	if err := cfg.Session.validate(); err != nil {
		return err
	}
	if err := cfg.Redis.validate(); err != nil {
		return err
	}
	if err := cfg.Database.validate(cfg.Server.DataDir); err != nil {
		return err
	}
	if err := cfg.Relay.validate(cfg.Server.DataDir); err != nil {
		return err
	}
	return cfg.Gateway.validate()
}

// Load parses and validates the provided buffer b as a config file body and
// returns the Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file and returns the
// Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
