// Package cli builds the docstorectl command tree: document reads and writes,
// live watches, health checks and the management server.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nimburion/docstore/pkg/config"
	"github.com/nimburion/docstore/pkg/health"
	"github.com/nimburion/docstore/pkg/observability/logger"
	"github.com/nimburion/docstore/pkg/observability/metrics"
	"github.com/nimburion/docstore/pkg/server"
	"github.com/nimburion/docstore/pkg/version"
)

const (
	policiesAnnotationPrefix = "policies."
	defaultPolicyContext     = "run"
	defaultEnvPrefix         = "DOCSTORE"
)

// CommandPolicy tells automation when a command may run.
type CommandPolicy string

const (
	PolicyAlways   CommandPolicy = "always"
	PolicyRun      CommandPolicy = "run"
	PolicyManual   CommandPolicy = "manual"
	PolicyOnDemand CommandPolicy = "on_demand"
)

// CommandOptions configures the root command.
type CommandOptions struct {
	Name        string
	Description string
	ConfigPath  string
	// Optional: called with the resolved path to the configuration file after flags are parsed.
	ConfigPathResolved func(string)
	EnvPrefix          string

	// Optional: runs after the built-in validation.
	ValidateConfig func(cfg *config.Config) error

	// Optional: replaces provider.Open, mainly for tests.
	OpenStore StoreOpener

	// Optional: additional custom commands
	CustomCommands []*cobra.Command
}

// NewCommand creates the docstorectl command tree.
func NewCommand(opts CommandOptions) *cobra.Command {
	if opts.Name == "" {
		opts.Name = "docstorectl"
	}
	if opts.EnvPrefix == "" {
		opts.EnvPrefix = defaultEnvPrefix
	}

	rootCmd := &cobra.Command{
		Use:           opts.Name,
		Short:         opts.Description,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	SetCommandPolicies(rootCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	var (
		cfgPath             string
		secretFilePath      string
		serviceNameOverride string
		output              string
	)
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgPath, "config-file", "c", opts.ConfigPath, "config file path")
	flags.StringVar(&secretFilePath, "secret-file", "", "path to secrets file (sets "+resolveEnvPrefix(opts.EnvPrefix)+"_SECRETS_FILE)")
	flags.StringVar(&serviceNameOverride, "service-name", "", "service name override")
	flags.StringVar(&output, "output", OutputYAML, "output format (yaml, json)")
	flags.String("store", "", "store type override (memory, mongodb, dynamodb)")
	flags.String("log-level", "", "log level override (debug, info, warn, error)")
	flags.String("bus", "", "change bus override (inmemory, redis, kafka, rabbitmq, sqs)")

	loadConfig := func(flags *pflag.FlagSet) (*config.Config, *config.Config, logger.Logger, error) {
		if opts.ConfigPathResolved != nil {
			opts.ConfigPathResolved(cfgPath)
		}
		return LoadConfigAndLogger(cfgPath, opts.EnvPrefix, secretFilePath, opts.ValidateConfig, flags, opts.Name, serviceNameOverride)
	}

	run := func(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
		cfg, _, log, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		if zl, ok := log.(*logger.ZapLogger); ok {
			defer func() { _ = zl.Sync() }()
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		rt, err := openRuntime(ctx, cfg, log, opts.OpenStore)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := rt.Close(ctx); closeErr != nil {
				log.Error("failed to close runtime", "error", closeErr)
			}
		}()
		return fn(ctx, rt)
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Current(opts.Name)
			if output == OutputJSON {
				return writeOutput(cmd.OutOrStdout(), output, info)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service:    %s\n", info.Service)
			fmt.Fprintf(out, "Version:    %s\n", info.Version)
			fmt.Fprintf(out, "Commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "Build Time: %s\n", info.BuildTime)
			fmt.Fprintf(out, "Go:         %s\n", info.GoVersion)
			return nil
		},
	})
	SetCommandPolicies(rootCmd.Commands()[len(rootCmd.Commands())-1], map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	rootCmd.AddCommand(
		newGetCommand(run, &output),
		newQueryCommand(run, &output),
		newCountCommand(run, &output),
		newPageCommand(run, &output),
		newPutCommand(run, &output),
		newDeleteCommand(run),
		newWatchCommand(run, &output),
		newReportCommand(run, &output),
	)

	healthcheckCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check connectivity to the store and the change bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				result := healthRegistry(rt).Check(ctx)
				if err := writeOutput(cmd.OutOrStdout(), output, result); err != nil {
					return err
				}
				if result.Status == health.StatusUnhealthy {
					return fmt.Errorf("health check failed: %s", result.Status)
				}
				return nil
			})
		},
	}
	SetCommandPolicies(healthcheckCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	rootCmd.AddCommand(healthcheckCmd)

	serveCmd := &cobra.Command{
		Use:   "serve-management",
		Short: "Serve health, metrics, version and live document views until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, func(ctx context.Context, rt *runtime) error {
				mgmt := server.NewManagementServer(
					rt.cfg.Management,
					rt.log,
					healthRegistry(rt),
					metrics.NewRegistry(),
					version.Current(rt.cfg.Service.Name),
				)
				closeViews, err := mountWatch(mgmt.Router(), rt)
				if err != nil {
					return err
				}
				defer closeViews()
				ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				return mgmt.Start(ctx)
			})
		},
	}
	SetCommandPolicies(serveCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyRun})
	rootCmd.AddCommand(serveCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
	}
	SetCommandPolicies(configCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, _, err := loadConfig(cmd.Flags()); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			return nil
		},
	})
	SetCommandPolicies(configCmd.Commands()[len(configCmd.Commands())-1], map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})

	var showSecrets bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, secrets, _, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if showSecrets {
				fmt.Fprint(cmd.OutOrStdout(), cfg.String())
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), cfg.Redacted(secrets))
			return nil
		},
	}
	showCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "show secret values")
	SetCommandPolicies(showCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
	configCmd.AddCommand(showCmd)
	rootCmd.AddCommand(configCmd)

	for _, customCmd := range opts.CustomCommands {
		ensureDefaultPolicy(customCmd)
		rootCmd.AddCommand(customCmd)
	}

	rootCmd.CompletionOptions.DisableDefaultCmd = false
	rootCmd.InitDefaultCompletionCmd()
	for _, subCmd := range rootCmd.Commands() {
		if subCmd != nil && subCmd.Name() == "completion" {
			SetCommandPolicies(subCmd, map[string]CommandPolicy{defaultPolicyContext: PolicyAlways})
			break
		}
	}

	return rootCmd
}

// healthRegistry registers the store, bus and breaker checks of rt.
func healthRegistry(rt *runtime) *health.Registry {
	registry := health.NewRegistry()
	registry.Register(health.NewStoreChecker(rt.system, rt.adapter))
	registry.Register(health.NewBusChecker(rt.bus))
	if cb := rt.breaker(); cb != nil {
		registry.Register(health.NewBreakerChecker(cb))
	}
	return registry
}

// SetCommandPolicies stores policies as a map[string]string on command annotations using the "policies." prefix.
func SetCommandPolicies(cmd *cobra.Command, policies map[string]CommandPolicy) {
	if cmd == nil {
		return
	}
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	for _, key := range policyAnnotationKeys(cmd.Annotations) {
		delete(cmd.Annotations, key)
	}
	for ctxName, policy := range policies {
		ctxName = strings.TrimSpace(ctxName)
		if ctxName == "" || strings.TrimSpace(string(policy)) == "" {
			continue
		}
		cmd.Annotations[policiesAnnotationPrefix+ctxName] = string(policy)
	}
}

// GetCommandPolicies returns the command policy map from annotations.
func GetCommandPolicies(cmd *cobra.Command) map[string]string {
	out := map[string]string{}
	if cmd == nil || cmd.Annotations == nil {
		return out
	}
	for key, value := range cmd.Annotations {
		if strings.HasPrefix(key, policiesAnnotationPrefix) {
			out[strings.TrimPrefix(key, policiesAnnotationPrefix)] = value
		}
	}
	return out
}

func ensureDefaultPolicy(cmd *cobra.Command) {
	if cmd == nil {
		return
	}
	if len(GetCommandPolicies(cmd)) == 0 {
		SetCommandPolicies(cmd, map[string]CommandPolicy{defaultPolicyContext: PolicyOnDemand})
	}
}

func policyAnnotationKeys(annotations map[string]string) []string {
	keys := make([]string, 0, len(annotations))
	for key := range annotations {
		if strings.HasPrefix(key, policiesAnnotationPrefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// LoadConfigAndLogger loads configuration (flags > ENV > secrets > file >
// defaults) and builds the logger it describes. The second Config holds only
// the secret settings, for Redacted.
func LoadConfigAndLogger(
	cfgPath,
	envPrefix,
	secretFilePath string,
	customValidator func(*config.Config) error,
	flags *pflag.FlagSet,
	defaultServiceName string,
	serviceNameOverride string,
) (*config.Config, *config.Config, logger.Logger, error) {
	envPrefix = resolveEnvPrefix(envPrefix)
	if err := applySecretFileFlag(envPrefix, secretFilePath); err != nil {
		return nil, nil, nil, err
	}
	cfg, secrets, err := config.NewViperLoader(cfgPath, envPrefix).
		WithServiceNameDefault(defaultServiceName).
		WithFlags(flags).
		LoadWithSecrets()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	applyResolvedServiceName(cfg, defaultServiceName, serviceNameOverride)

	if customValidator != nil {
		if err := customValidator(cfg); err != nil {
			return nil, nil, nil, fmt.Errorf("custom validation failed: %w", err)
		}
	}

	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.LogLevel(strings.ToLower(cfg.Log.Level)),
		Format: logger.LogFormat(strings.ToLower(cfg.Log.Format)),
		Output: os.Stderr,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create logger: %w", err)
	}

	logConfigIfDebug(log, cfg, secrets)
	return cfg, secrets, log, nil
}

func applySecretFileFlag(envPrefix, secretFilePath string) error {
	if secretFilePath == "" {
		return nil
	}
	info, err := os.Stat(secretFilePath)
	if err != nil {
		return fmt.Errorf("secret file %s is not accessible: %w", secretFilePath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("secret file %s must not be a directory", secretFilePath)
	}
	return os.Setenv(resolveEnvPrefix(envPrefix)+"_SECRETS_FILE", filepath.Clean(secretFilePath))
}

// Execute runs the command and exits with appropriate code.
func Execute(cmd *cobra.Command) {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func logConfigIfDebug(log logger.Logger, cfg, secrets *config.Config) {
	if log == nil || cfg == nil {
		return
	}
	if !strings.EqualFold(cfg.Log.Level, string(logger.DebugLevel)) {
		return
	}
	log.Debug("effective configuration", "config", cfg.Redacted(secrets))
}

func resolveEnvPrefix(prefix string) string {
	trimmed := strings.TrimSpace(prefix)
	if trimmed == "" {
		return defaultEnvPrefix
	}
	return strings.ToUpper(trimmed)
}

func applyResolvedServiceName(cfg *config.Config, defaultServiceName, serviceNameOverride string) {
	if cfg == nil {
		return
	}
	cfg.Service.Name = resolveServiceNameValue(cfg.Service.Name, defaultServiceName, serviceNameOverride)
}

func resolveServiceNameValue(currentConfigName, defaultServiceName, serviceNameOverride string) string {
	if override := strings.TrimSpace(serviceNameOverride); override != "" {
		return override
	}
	if configured := strings.TrimSpace(currentConfigName); configured != "" {
		return configured
	}
	if fallback := strings.TrimSpace(defaultServiceName); fallback != "" {
		return fallback
	}
	return "docstore"
}
