package main

import (
	"context"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/error2913/QQ-add-group-verification/internal/config"
	"github.com/error2913/QQ-add-group-verification/internal/gatekeeper"
	"github.com/error2913/QQ-add-group-verification/internal/logging"
	"github.com/error2913/QQ-add-group-verification/internal/store"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configKey  = "config"
	dataDirKey = "data-dir"
)

// cli carries flag values resolved through viper, so GATEKEEPER_CONFIG and
// GATEKEEPER_DATA_DIR apply when the flags are absent.
type cli struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetEnvPrefix("GATEKEEPER")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "gatekeeper",
		Short:         "Challenge low-reputation members joining monitored QQ groups",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.ConfigureRuntime()
		},
		RunE: c.run,
	}

	flags := rootCmd.PersistentFlags()
	flags.String(configKey, "config.toml", "path to the TOML config file")
	flags.String(dataDirKey, "", "policy store directory (overrides data_dir)")
	_ = c.v.BindPFlag(configKey, flags.Lookup(configKey))
	_ = c.v.BindPFlag(dataDirKey, flags.Lookup(dataDirKey))

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Connect to the gateway and verify joining members",
			RunE:  c.run,
		},
		newWhitelistCmd(c),
		newConfigCmd(c),
		newVersionCmd(),
	)
	return rootCmd
}

func (c *cli) serviceConfig() (gatekeeper.ServiceConfig, error) {
	cfg, err := loadServiceConfig(c.v.GetString(configKey))
	if err != nil {
		return gatekeeper.ServiceConfig{}, err
	}
	if dir := strings.TrimSpace(c.v.GetString(dataDirKey)); dir != "" {
		cfg.Store.Dir = dir
	}
	return cfg, nil
}

func (c *cli) run(cmd *cobra.Command, _ []string) error {
	cfg, err := c.serviceConfig()
	if err != nil {
		return err
	}
	svc, err := gatekeeper.NewService(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runErr := svc.Run(ctx)
	if err := svc.Close(); err != nil {
		log.Error().Err(err).Msg("gatekeeper.main close")
	}
	return runErr
}

// openStore opens the policy store for the offline whitelist commands.
func (c *cli) openStore() (*store.Store, error) {
	cfg, err := c.serviceConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store)
}

func newWhitelistCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage monitored groups without connecting",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List monitored groups and their policies",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
					groups, err := st.ListMonitoredGroups(ctx)
					if err != nil {
						return err
					}
					if len(groups) == 0 {
						_, _ = fmt.Fprintln(cmd.OutOrStdout(), "The whitelist is empty.")
						return nil
					}
					for _, id := range groups {
						threshold, _ := st.Threshold(ctx, id)
						timeout, _ := st.TimeoutSeconds(ctx, id)
						_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d threshold=%d timeout=%ds\n", id, threshold, timeout)
					}
					return nil
				})
			},
		},
		newWhitelistMutationCmd(c, "add", "Add groups to the whitelist", (*store.Store).AddGroup, "Added group %d to the whitelist.", "Group %d is already whitelisted."),
		newWhitelistMutationCmd(c, "remove", "Remove groups from the whitelist", (*store.Store).RemoveGroup, "Removed group %d from the whitelist.", "Group %d is not whitelisted."),
	)
	return cmd
}

func newWhitelistMutationCmd(
	c *cli,
	use string,
	short string,
	apply func(*store.Store, context.Context, int64) (bool, error),
	done string,
	noop string,
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <group>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := strconv.ParseInt(arg, 10, 64)
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid group id %q", arg)
				}
				ids = append(ids, id)
			}
			return c.withStore(cmd.Context(), func(ctx context.Context, st *store.Store) error {
				for _, id := range ids {
					ok, err := apply(st, ctx, id)
					if err != nil {
						return err
					}
					msg := noop
					if ok {
						msg = done
					}
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), msg+"\n", id)
				}
				return nil
			})
		},
	}
}

func (c *cli) withStore(ctx context.Context, fn func(context.Context, *store.Store) error) error {
	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("gatekeeper.main store close")
		}
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, st)
}

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or check the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config to --config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.v.GetString(configKey)
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check --config for unknown keys and invalid values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := c.v.GetString(configKey)
			if _, err := config.Validate(path); err != nil {
				return err
			}
			if _, err := loadServiceConfig(path); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Validated config at %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), gatekeeper.Version)
			return err
		},
	}
}
