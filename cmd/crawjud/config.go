package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/REM-Infotech/crawjud-ui/internal/config"
)

func configCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the client configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.MinIO.SecretKey != "" {
				shown.MinIO.SecretKey = "********"
			}
			data, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n%s", cfg.Dir, data)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set-api <url>",
		Short: "Point the client at another backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			cfg.APIURL = args[0]
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return err
			}
			fmt.Println("api_url:", cfg.APIURL)
			return nil
		},
	})
	return cmd
}
