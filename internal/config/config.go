package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

const maxConfigFileSize = 1 << 20

type Config struct {
	Mode      Mode
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	BlobDriver        string // fs|sftp|mem
	BlobBasePath      string // for fs
	BlobPublicBaseURL string // prefix for relocated asset URLs

	SFTP SFTP

	HMACSecret    string
	AdminUser     string
	AdminPassHash string // bcrypt
	AllowDevUsers bool   // username==password logins, offline only

	CORSOrigins []string

	LogLevel  string
	LogFormat string // json|console

	Import Import
}

type SFTP struct {
	Host                  string
	Port                  int
	User                  string
	Pass                  string
	RemoteDir             string
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
}

type Import struct {
	MaxUploadBytes int64
	MaxAssets      int
	AssetWorkers   int
	Timeout        time.Duration
}

// envKeys maps environment variables onto koanf paths. Unlisted variables are ignored.
var envKeys = map[string]string{
	"MODE":                          "mode",
	"HTTP_ADDR":                     "http_addr",
	"PUBLIC_URL":                    "public_url",
	"DB_DRIVER":                     "db.driver",
	"DB_DSN":                        "db.dsn",
	"BLOB_DRIVER":                   "blob.driver",
	"BLOB_BASE_PATH":                "blob.base_path",
	"BLOB_PUBLIC_BASE_URL":          "blob.public_base_url",
	"SFTP_HOST":                     "sftp.host",
	"SFTP_PORT":                     "sftp.port",
	"SFTP_USER":                     "sftp.user",
	"SFTP_PASS":                     "sftp.pass",
	"SFTP_REMOTE_DIR":               "sftp.remote_dir",
	"SFTP_KNOWN_HOSTS":              "sftp.known_hosts",
	"SFTP_INSECURE_IGNORE_HOST_KEY": "sftp.insecure_ignore_host_key",
	"AUTH_HMAC_SECRET":              "auth.hmac_secret",
	"ADMIN_USER":                    "auth.admin_user",
	"ADMIN_PASS_HASH":               "auth.admin_pass_hash",
	"ALLOW_DEV_USERS":               "auth.allow_dev_users",
	"CORS_ORIGINS":                  "cors.origins",
	"LOG_LEVEL":                     "log.level",
	"LOG_FORMAT":                    "log.format",
	"IMPORT_MAX_UPLOAD_BYTES":       "import.max_upload_bytes",
	"IMPORT_MAX_ASSETS":             "import.max_assets",
	"IMPORT_ASSET_WORKERS":          "import.asset_workers",
	"IMPORT_TIMEOUT":                "import.timeout",
}

// FromEnv loads configuration from the environment only.
func FromEnv() (Config, error) { return Load("") }

// Load reads an optional YAML file and then applies environment overrides.
// Precedence: environment, file, built-in defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		b, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(rawbytes.Provider(b), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envKeys[s]
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}

	mode := Mode(strOr(k, "mode", string(ModeOffline)))
	pub := strings.TrimSuffix(k.String("public_url"), "/")
	defCORS := "http://localhost:3000"
	if mode == ModeOnline {
		defCORS = pub
	}

	cfg := Config{
		Mode:      mode,
		HTTPAddr:  strOr(k, "http_addr", ":8080"),
		PublicURL: pub,

		DBDriver: strOr(k, "db.driver", "sqlite"),
		DBDSN:    k.String("db.dsn"),

		BlobDriver:        strOr(k, "blob.driver", "fs"),
		BlobBasePath:      strOr(k, "blob.base_path", "./data"),
		BlobPublicBaseURL: strOr(k, "blob.public_base_url", pub+"/assets"),

		SFTP: SFTP{
			Host:                  k.String("sftp.host"),
			Port:                  intOr(k, "sftp.port", 22),
			User:                  k.String("sftp.user"),
			Pass:                  k.String("sftp.pass"),
			RemoteDir:             strOr(k, "sftp.remote_dir", "/"),
			KnownHostsPath:        k.String("sftp.known_hosts"),
			InsecureIgnoreHostKey: k.Bool("sftp.insecure_ignore_host_key"),
		},

		HMACSecret:    strOr(k, "auth.hmac_secret", "supersecret-dev-key"),
		AdminUser:     strOr(k, "auth.admin_user", "admin"),
		AdminPassHash: k.String("auth.admin_pass_hash"),
		AllowDevUsers: boolOr(k, "auth.allow_dev_users", mode == ModeOffline),

		CORSOrigins: listOr(k, "cors.origins", defCORS),

		LogLevel:  strOr(k, "log.level", "info"),
		LogFormat: strOr(k, "log.format", "json"),

		Import: Import{
			MaxUploadBytes: int64(intOr(k, "import.max_upload_bytes", 200<<20)),
			MaxAssets:      intOr(k, "import.max_assets", 20),
			AssetWorkers:   intOr(k, "import.asset_workers", 4),
			Timeout:        durationOr(k, "import.timeout", 5*time.Minute),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Mode {
	case ModeOffline, ModeOnline:
	default:
		errs = append(errs, fmt.Errorf("mode: unsupported %q", c.Mode))
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("db.driver: unsupported %q", c.DBDriver))
	}
	switch c.BlobDriver {
	case "fs", "mem":
	case "sftp":
		if c.SFTP.Host == "" || c.SFTP.User == "" {
			errs = append(errs, errors.New("sftp: host and user are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob.driver: unsupported %q", c.BlobDriver))
	}
	if c.Import.MaxAssets <= 0 {
		errs = append(errs, errors.New("import.max_assets must be positive"))
	}
	if c.Import.AssetWorkers <= 0 {
		errs = append(errs, errors.New("import.asset_workers must be positive"))
	}
	if c.Import.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("import.max_upload_bytes must be positive"))
	}
	if c.Mode == ModeOnline && c.HMACSecret == "supersecret-dev-key" {
		errs = append(errs, errors.New("auth.hmac_secret must be set in online mode"))
	}
	return errors.Join(errs...)
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return os.ReadFile(path)
}

func strOr(k *koanf.Koanf, key, def string) string {
	if v := strings.TrimSpace(k.String(key)); v != "" {
		return v
	}
	return def
}

func intOr(k *koanf.Koanf, key string, def int) int {
	if !k.Exists(key) {
		return def
	}
	if v := k.Int(key); v != 0 {
		return v
	}
	return def
}

func boolOr(k *koanf.Koanf, key string, def bool) bool {
	if !k.Exists(key) {
		return def
	}
	switch strings.ToLower(k.String(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return def
	}
}

func durationOr(k *koanf.Koanf, key string, def time.Duration) time.Duration {
	if !k.Exists(key) {
		return def
	}
	if d := k.Duration(key); d > 0 {
		return d
	}
	return def
}

// listOr accepts either a YAML list or a comma separated string.
func listOr(k *koanf.Koanf, key, def string) []string {
	var parts []string
	switch v := k.Get(key).(type) {
	case []any:
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
	case string:
		parts = strings.Split(v, ",")
	default:
		parts = strings.Split(def, ",")
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
