// Command smartfile is a command line client for the SmartFile API.
//
// Credentials come from flags, the environment (SMARTFILE_URL,
// SMARTFILE_USER, SMARTFILE_PASSWORD) or a YAML config file, in that
// order of precedence.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v2"

	"github.com/smartfile/client-go/obs"
	"github.com/smartfile/client-go/smartfile"
	"github.com/smartfile/client-go/vfs"
)

// configFile is the on-disk YAML layout.
type configFile struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

var (
	flagURL         string
	flagUser        string
	flagPassword    string
	flagConfig      string
	flagLogLevel    string
	flagTimeout     time.Duration
	flagCacheLevel  int
	flagMetricsAddr string
)

func addGlobalFlags(flags *pflag.FlagSet) {
	flags.StringVar(&flagURL, "url", "", "API base URL (default https://app.smartfile.com)")
	flags.StringVarP(&flagUser, "user", "u", "", "API key or username")
	flags.StringVarP(&flagPassword, "password", "p", "", "API password")
	flags.StringVar(&flagConfig, "config", "", "path to a YAML config file")
	flags.StringVar(&flagLogLevel, "log-level", "warning", "log level (debug, info, warning, error)")
	flags.DurationVar(&flagTimeout, "timeout", 30*time.Second, "per-request timeout for metadata calls")
	flags.IntVar(&flagCacheLevel, "cache-level", 1, "stat cache level (0=off, 1=listing, 2=persistent)")
	flags.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9100)")
}

// resolveConfig merges flags, environment and the optional config file.
func resolveConfig() (configFile, error) {
	cfg := configFile{
		URL:      os.Getenv("SMARTFILE_URL"),
		User:     os.Getenv("SMARTFILE_USER"),
		Password: os.Getenv("SMARTFILE_PASSWORD"),
	}
	if flagConfig != "" {
		data, err := os.ReadFile(flagConfig)
		if err != nil {
			return cfg, errors.Wrap(err, "couldn't read config file")
		}
		var fromFile configFile
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return cfg, errors.Wrap(err, "couldn't parse config file")
		}
		if cfg.URL == "" {
			cfg.URL = fromFile.URL
		}
		if cfg.User == "" {
			cfg.User = fromFile.User
		}
		if cfg.Password == "" {
			cfg.Password = fromFile.Password
		}
	}
	// flags win over everything
	if flagURL != "" {
		cfg.URL = flagURL
	}
	if flagUser != "" {
		cfg.User = flagUser
	}
	if flagPassword != "" {
		cfg.Password = flagPassword
	}
	if cfg.URL == "" {
		cfg.URL = "https://app.smartfile.com"
	}
	if cfg.User == "" || cfg.Password == "" {
		return cfg, errors.New("credentials required: pass --user/--password, set SMARTFILE_USER/SMARTFILE_PASSWORD, or use --config")
	}
	return cfg, nil
}

func setupLogging() (obs.Logger, error) {
	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		return nil, errors.Wrapf(err, "bad log level %q", flagLogLevel)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	return obs.NewLogrusLogger(nil), nil
}

func setupMetrics(log obs.Logger) obs.Metrics {
	if flagMetricsAddr == "" {
		return obs.NopMetrics()
	}
	m := obs.NewPromMetrics("smartfile")
	prometheus.MustRegister(m.Collectors()...)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(flagMetricsAddr, mux); err != nil {
			log.Errorf("metrics listener failed: %v", err)
		}
	}()
	return m
}

// newClient assembles a client from the resolved configuration.
func newClient() (*smartfile.Client, obs.Logger, obs.Metrics, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := setupLogging()
	if err != nil {
		return nil, nil, nil, err
	}
	metrics := setupMetrics(log)
	client, err := smartfile.NewClient(smartfile.Options{
		BaseURL:  cfg.URL,
		User:     cfg.User,
		Password: cfg.Password,
		Timeout:  flagTimeout,
		Logger:   log,
		Metrics:  metrics,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return client, log, metrics, nil
}

// newVFS assembles the filesystem facade for commands which want
// cache-aware path semantics.
func newVFS() (*vfs.VFS, error) {
	client, log, metrics, err := newClient()
	if err != nil {
		return nil, err
	}
	if flagCacheLevel < int(vfs.CacheOff) || flagCacheLevel > int(vfs.CachePersistent) {
		return nil, errors.Errorf("bad cache level %d", flagCacheLevel)
	}
	return vfs.New(client, vfs.Options{
		CacheLevel: vfs.CacheLevel(flagCacheLevel),
		Logger:     log,
		Metrics:    metrics,
	}), nil
}

func main() {
	root := &cobra.Command{
		Use:           "smartfile",
		Short:         "Access SmartFile storage from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addGlobalFlags(root.PersistentFlags())
	addCommands(root)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "smartfile: %v\n", err)
		os.Exit(1)
	}
}
