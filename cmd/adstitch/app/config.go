package app

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/Dash-Industry-Forum/adstitch/internal"
	"github.com/Dash-Industry-Forum/adstitch/pkg/logging"
)

// Stitching modes.
const (
	ModeSSAI = "ssai"
	ModeSGAI = "sgai"
)

// Ad provider types.
const (
	ProviderAuto   = "auto"
	ProviderStatic = "static"
	ProviderVAST   = "vast"
)

// Session store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	Port      int    `json:"port"`
	// BaseURL is the public address of this service, used in rewritten URLs.
	BaseURL string `json:"baseurl"`
	// OriginURL is the default origin manifest when a request gives none.
	OriginURL string `json:"originurl"`
	// Mode selects server-side (ssai) or server-guided (sgai) insertion.
	Mode string `json:"mode"`

	AdProviderType    string  `json:"adprovider"`
	VASTEndpoint      string  `json:"vastendpoint"`
	AdSourceURL       string  `json:"adsource"`
	AdSegDurS         float64 `json:"adsegdurS"`
	SlateURL          string  `json:"slateurl"`
	SlateSegDurS      float64 `json:"slatesegdurS"`
	TargetBitrateKbps int     `json:"targetbitratekbps"`

	SessionStore string `json:"sessionstore"`
	RedisURL     string `json:"redisurl"`
	SessionTTLS  int    `json:"sessionttlS"`
	CacheTTLS    int    `json:"cachettlS"`

	OriginTimeoutS int `json:"origintimeoutS"`
	VASTTimeoutS   int `json:"vasttimeoutS"`
	MediaTimeoutS  int `json:"mediatimeoutS"`
	BeaconTimeoutS int `json:"beacontimeoutS"`
	TimeoutS       int `json:"timeoutS"`

	MaxRequests int `json:"maxrequests"`
	ReqLimitInt int `json:"reqlimitintS"`

	DevMode  bool   `json:"devmode"`
	Domains  string `json:"domains"`
	CertPath string `json:"certpath"`
	KeyPath  string `json:"keypath"`
}

var DefaultConfig = ServerConfig{
	LogFormat:         logging.LogPretty,
	LogLevel:          "info",
	Port:              8888,
	Mode:              ModeSSAI,
	AdProviderType:    ProviderAuto,
	AdSegDurS:         10,
	SlateSegDurS:      10,
	TargetBitrateKbps: 4000,
	SessionStore:      StoreMemory,
	SessionTTLS:       300,
	CacheTTLS:         300,
	OriginTimeoutS:    5,
	VASTTimeoutS:      2,
	MediaTimeoutS:     30,
	BeaconTimeoutS:    2,
	TimeoutS:          60,
	ReqLimitInt:       60,
}

// envVars maps the environment variables the service reads to config keys.
// Anything else in the environment is ignored.
var envVars = map[string]string{
	"PORT":                   "port",
	"BASE_URL":               "baseurl",
	"ORIGIN_URL":             "originurl",
	"STITCHING_MODE":         "mode",
	"AD_PROVIDER_TYPE":       "adprovider",
	"VAST_ENDPOINT":          "vastendpoint",
	"AD_SOURCE_URL":          "adsource",
	"AD_SEGMENT_DURATION":    "adsegdurS",
	"SLATE_URL":              "slateurl",
	"SLATE_SEGMENT_DURATION": "slatesegdurS",
	"SESSION_STORE":          "sessionstore",
	"REDIS_URL":              "redisurl",
	"SESSION_TTL_SECS":       "sessionttlS",
	"DEV_MODE":               "devmode",
	"LOG_LEVEL":              "loglevel",
	"LOG_FORMAT":             "logformat",
}

// LoadConfig loads defaults, config file, command line, and finally applies
// environment variables.
func LoadConfig(args []string) (*ServerConfig, error) {
	k := koanf.New(".")
	defaults := DefaultConfig
	k.Load(structs.Provider(defaults, "json"), nil)

	f := pflag.NewFlagSet("adstitch", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options]:\n", name)
		f.PrintDefaults()
	}
	cfgFile := f.String("cfg", "", "path to a JSON config file")
	printVersion := f.Bool("version", false, "print version and exit")
	f.Int("port", k.Int("port"), "HTTP port")
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.String("baseurl", k.String("baseurl"), "public base URL of this service")
	f.String("originurl", k.String("originurl"), "default origin manifest URL")
	f.String("mode", k.String("mode"), "stitching mode [ssai, sgai]")
	f.String("adprovider", k.String("adprovider"), "ad provider [auto, static, vast]")
	f.String("vastendpoint", k.String("vastendpoint"), "VAST ad server tag URL")
	f.String("adsource", k.String("adsource"), "static ad source base URL")
	f.Float64("adsegdur", k.Float64("adsegdurS"), "static ad segment duration (seconds)")
	f.String("slateurl", k.String("slateurl"), "slate source base URL")
	f.Float64("slatesegdur", k.Float64("slatesegdurS"), "slate segment duration (seconds)")
	f.String("sessionstore", k.String("sessionstore"), "session store [memory, redis]")
	f.String("redisurl", k.String("redisurl"), "redis URL for the redis session store")
	f.Int("sessionttl", k.Int("sessionttlS"), "session idle TTL (seconds)")
	f.Int("cachettl", k.Int("cachettlS"), "ad-break cache max TTL (seconds)")
	f.Int("timeout", k.Int("timeoutS"), "timeout for all requests (seconds)")
	f.Int("maxrequests", k.Int("maxrequests"), "max requests per IP and interval (0 = no limit)")
	f.Bool("devmode", k.Bool("devmode"), "development mode with localhost defaults")
	f.String("domains", k.String("domains"), "comma-separated domains for Let's Encrypt TLS")
	f.String("certpath", k.String("certpath"), "TLS certificate file path")
	f.String("keypath", k.String("keypath"), "TLS key file path")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if *printVersion {
		internal.PrintVersion()
		os.Exit(0)
	}

	if *cfgFile != "" {
		cf := file.Provider(*cfgFile)
		if err := k.Load(cf, json.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(posflag.ProviderWithValue(f, ".", k, flagToKey), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %v", err)
	}

	// Overload with environment variables (exact names, no prefix).
	k.Load(env.Provider("", ".", func(s string) string {
		return envVars[s]
	}), nil)

	var cfg ServerConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	if cfg.DevMode {
		applyDevDefaults(&cfg, k)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagToKey maps flag names whose config keys carry a unit suffix.
func flagToKey(key string, value string) (string, any) {
	switch key {
	case "adsegdur":
		key = "adsegdurS"
	case "slatesegdur":
		key = "slatesegdurS"
	case "sessionttl":
		key = "sessionttlS"
	case "cachettl":
		key = "cachettlS"
	case "timeout":
		key = "timeoutS"
	}
	return key, value
}

func applyDevDefaults(cfg *ServerConfig, k *koanf.Koanf) {
	if !k.Exists("port") || cfg.Port == DefaultConfig.Port {
		cfg.Port = 3000
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = fmt.Sprintf("http://localhost:%d", cfg.Port)
	}
	if cfg.OriginURL == "" {
		cfg.OriginURL = fmt.Sprintf("http://localhost:%d/demo/playlist.m3u8", cfg.Port)
	}
	if cfg.AdSourceURL == "" {
		cfg.AdSourceURL = fmt.Sprintf("http://localhost:%d/demo/ads", cfg.Port)
	}
}

func validateConfig(cfg *ServerConfig) error {
	if cfg.BaseURL == "" {
		return fmt.Errorf("baseurl must be set (or devmode enabled)")
	}
	if err := checkHTTPURL("baseurl", cfg.BaseURL); err != nil {
		return err
	}
	if cfg.OriginURL != "" {
		if err := checkHTTPURL("originurl", cfg.OriginURL); err != nil {
			return err
		}
	}
	switch cfg.Mode {
	case ModeSSAI, ModeSGAI:
	default:
		return fmt.Errorf("mode must be one of ssai, sgai: got %q", cfg.Mode)
	}
	switch cfg.AdProviderType {
	case ProviderAuto:
		if cfg.VASTEndpoint != "" {
			cfg.AdProviderType = ProviderVAST
		} else {
			cfg.AdProviderType = ProviderStatic
		}
	case ProviderStatic, ProviderVAST:
	default:
		return fmt.Errorf("adprovider must be one of auto, static, vast: got %q", cfg.AdProviderType)
	}
	if cfg.AdProviderType == ProviderVAST && cfg.VASTEndpoint == "" {
		return fmt.Errorf("adprovider vast requires vastendpoint")
	}
	if cfg.AdProviderType == ProviderStatic && cfg.AdSourceURL == "" {
		return fmt.Errorf("adprovider static requires adsource (or devmode enabled)")
	}
	switch cfg.SessionStore {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return fmt.Errorf("sessionstore redis requires redisurl")
		}
	default:
		return fmt.Errorf("sessionstore must be one of memory, redis: got %q", cfg.SessionStore)
	}
	if cfg.AdSegDurS <= 0 || cfg.SlateSegDurS <= 0 {
		return fmt.Errorf("ad and slate segment durations must be positive")
	}
	return nil
}

func checkHTTPURL(name, value string) error {
	u, err := url.Parse(value)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL", name)
	}
	return nil
}

// Overwrite loads cm on top of the current values. Used by tests.
func (cfg *ServerConfig) Overwrite(cm map[string]any) error {
	k := koanf.New(".")
	k.Load(structs.Provider(*cfg, "json"), nil)
	if err := k.Load(confmap.Provider(cm, "."), nil); err != nil {
		return err
	}
	return k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"})
}
