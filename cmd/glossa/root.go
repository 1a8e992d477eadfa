package main

import (
	"strings"

	"github.com/spf13/cobra"

	"glossa/internal/api"
	"glossa/internal/config"
)

// commandContext carries the lazily loaded configuration and flag values
// shared by all subcommands.
type commandContext struct {
	configFlag *string
	addrFlag   *string
	tokenFlag  *string

	cfg *config.Config
}

func newCommandContext(configFlag, addrFlag, tokenFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag, addrFlag: addrFlag, tokenFlag: tokenFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, _, _, err := config.Load(strings.TrimSpace(*c.configFlag))
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// client builds an API client from flags, falling back to the configured
// bind address and token.
func (c *commandContext) client() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	addr := strings.TrimSpace(*c.addrFlag)
	if addr == "" {
		addr = cfg.Paths.APIBind
	}
	token := strings.TrimSpace(*c.tokenFlag)
	if token == "" {
		token = cfg.Paths.APIToken
	}
	return api.NewClient(addr, token), nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var addrFlag string
	var tokenFlag string

	ctx := newCommandContext(&configFlag, &addrFlag, &tokenFlag)

	rootCmd := &cobra.Command{
		Use:           "glossa",
		Short:         "Glossa translation pipeline CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Daemon API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Daemon API bearer token")

	rootCmd.AddCommand(newSubmitCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newDeleteCommand(ctx))
	rootCmd.AddCommand(newQueueCommand(ctx))
	rootCmd.AddCommand(newDeadLetterCommand(ctx))
	rootCmd.AddCommand(newWebhooksCommand(ctx))
	rootCmd.AddCommand(newHealthCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
