package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/structs"
	"github.com/spf13/pflag"

	"github.com/risevideo/risecast/pkg/logging"
)

// ServerConfig is the process bootstrap configuration: everything that
// isn't part of the channel configuration JSON, which has its own
// strict parser.
type ServerConfig struct {
	LogFormat string `json:"logformat"`
	LogLevel  string `json:"loglevel"`
	// Domains is a comma-separated list of domains for Let's Encrypt
	Domains string `json:"domains"`
	// CertPath is a path to a valid TLS certificate
	CertPath string `json:"-"`
	// KeyPath is a path to a valid private TLS key
	KeyPath string `json:"-"`
	// MaxRequests is the per-IP request limit per minute (0 disables)
	MaxRequests int `json:"maxrequests"`
	TimeoutS    int `json:"timeoutS"`

	// ConfigFile is the positional argument: the channel configuration.
	ConfigFile string `json:"-"`
}

var DefaultConfig = ServerConfig{
	LogFormat:   "text",
	LogLevel:    "INFO",
	MaxRequests: 0,
	TimeoutS:    0,
}

// LoadConfig loads defaults, command line, and finally environment
// variables (RISECAST_ prefix). Exactly one positional argument names
// the configuration JSON file.
func LoadConfig(args []string) (*ServerConfig, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(DefaultConfig, "json"), nil); err != nil {
		return nil, err
	}

	f := pflag.NewFlagSet("risecast", pflag.ContinueOnError)
	f.Usage = func() {
		parts := strings.Split(args[0], "/")
		name := parts[len(parts)-1]
		fmt.Fprintf(os.Stderr, "Run as %s [options] <config.json>:\n", name)
		f.PrintDefaults()
	}
	lf := strings.Join(logging.LogFormats, ", ")
	f.String("logformat", k.String("logformat"), fmt.Sprintf("log format [%s]", lf))
	ll := strings.Join(logging.LogLevels, ", ")
	f.String("loglevel", k.String("loglevel"), fmt.Sprintf("log level [%s]", ll))
	f.String("domains", k.String("domains"), "one or more DNS domains (comma-separated) for auto certificate from Let's Encrypt")
	f.String("certpath", k.String("certpath"), "path to TLS certificate file (for HTTPS)")
	f.String("keypath", k.String("keypath"), "path to TLS private key file (for HTTPS)")
	f.Int("maxrequests", k.Int("maxrequests"), "max requests per IP address per minute (0 disables)")
	f.Int("timeout", k.Int("timeoutS"), "timeout for all requests (seconds)")
	if err := f.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("command line parse: %w", err)
	}

	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("parsing cli: %w", err)
	}

	// Overload with environment variables.
	err := k.Load(env.Provider("RISECAST_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "RISECAST_")), "_", ".", -1)
	}), nil)
	if err != nil {
		return nil, err
	}

	cfg := &ServerConfig{
		LogFormat:   k.String("logformat"),
		LogLevel:    k.String("loglevel"),
		Domains:     k.String("domains"),
		CertPath:    k.String("certpath"),
		KeyPath:     k.String("keypath"),
		MaxRequests: k.Int("maxrequests"),
		TimeoutS:    k.Int("timeout"),
	}

	if f.NArg() != 1 {
		return nil, fmt.Errorf("expected exactly one positional argument: the configuration file")
	}
	cfg.ConfigFile = f.Arg(0)
	return cfg, nil
}
