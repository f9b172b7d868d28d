package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/config"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [module locations...]",
		Short: "Run the framework until interrupted",
		Long: `Run starts a framework, installs and starts the given module archives and
keeps running until SIGINT or SIGTERM. The deploy directory, when set, is
watched for archives to install, update and uninstall.

Examples:
  modhost run --deploy-dir ./deploy
  modhost run --config modhost.yaml ./modules/greeter.zip`,
		RunE: runFramework,
	}

	cmd.Flags().String("deploy-dir", "", "Directory watched for module archives")
	cmd.Flags().String("config-dir", "", "Directory watched for component configuration files")
	cmd.Flags().String("refresh-schedule", "", "Cron spec for purging removal-pending revisions")
	cmd.Flags().Int("workers", 0, "Maximum lifecycle workers")

	return cmd
}

// loadConfig reads the configuration file and environment, then applies
// the flags that were set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	section, _ := cmd.Flags().GetString("config-section")
	cfg, err := config.Load(path, config.WithSection(section))
	if err != nil {
		return nil, err
	}
	overrides := map[string]*string{
		"deploy-dir":       &cfg.DeployDir,
		"config-dir":       &cfg.ConfigDir,
		"refresh-schedule": &cfg.RefreshSchedule,
		"log-level":        &cfg.LogLevel,
	}
	for name, dst := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	if f := cmd.Flags().Lookup("workers"); f != nil && f.Changed {
		cfg.Pool.MaxWorkers, _ = cmd.Flags().GetInt("workers")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func commandLogger(cmd *cobra.Command, cfg *config.Config) (modhost.Logger, func(), error) {
	format, _ := cmd.Flags().GetString("log-format")
	return newLogger(cmd.ErrOrStderr(), cfg.LogLevel, format)
}

func runFramework(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, flush, err := commandLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fw, err := modhost.New(cfg, logger)
	if err != nil {
		return err
	}
	if err := fw.Init(ctx); err != nil {
		return err
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop(context.WithoutCancel(ctx))
		return err
	}

	for _, location := range args {
		m, err := fw.Install(ctx, location, nil)
		if err != nil {
			logger.Error("Failed to install module", "location", location, "error", err)
			continue
		}
		if m.IsFragment() {
			continue
		}
		if err := fw.StartModule(ctx, m.ID(), modhost.UseActivationPolicy()); err != nil {
			logger.Error("Failed to start module", "module", m.ID(), "name", m.Name(), "error", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "modhost %s running with %d modules\n", fw.ID(), len(fw.Modules()))
	<-ctx.Done()
	logger.Info("Shutting down")
	return fw.Stop(context.WithoutCancel(ctx))
}
