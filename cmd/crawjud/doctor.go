package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/REM-Infotech/crawjud-ui/internal/auth"
)

var wellKnownEnvKeys = []struct {
	envVar  string
	enables string
}{
	{"CRAWJUD_API_URL", "backend URL"},
	{"CRAWJUD_HOME", "config directory"},
	{"CRAWJUD_PASSPHRASE", "passphrase store backend"},
	{"CRAWJUD_NTFY_TOPIC", "push notifications"},
	{"MINIO_ENDPOINT", "object storage uploads"},
	{"MINIO_BUCKET_NAME", "object storage uploads"},
}

func doctorCmd(opts *globalOptions) *cobra.Command {
	var ntfyTestFlag bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the backend, the secure store and the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.cfg

			fmt.Println("crawjud doctor")
			fmt.Println()

			// Backend
			fmt.Println("Backend:")
			ctx, cancel := withTimeout(cmd.Context(), 5*time.Second)
			health, err := a.client.Health(ctx)
			cancel()
			if err != nil {
				fmt.Printf("  %-12s not reachable at %s (%v)\n", "api", cfg.APIURL, err)
			} else {
				fmt.Printf("  %-12s %s at %s\n", "api", health.Status, cfg.APIURL)
				fmt.Printf("  %-12s %s\n", "database", health.Database)
				fmt.Printf("  %-12s %s\n", "timestamp", health.Timestamp)
			}
			fmt.Println()

			// Secure store
			fmt.Println("Secure store:")
			if a.safe.Available() {
				fmt.Printf("  %-12s available (%s)\n", cfg.Store.Backend, a.safe.Path())
			} else {
				fmt.Printf("  %-12s unavailable, cookies and caches are not persisted\n", cfg.Store.Backend)
			}
			if info, err := auth.CurrentSession(a.client); err == nil {
				fmt.Printf("  %-12s %s (valid: %v)\n", "session", info.Subject, info.IsValid())
			} else {
				fmt.Printf("  %-12s none\n", "session")
			}
			fmt.Println()

			// Environment
			fmt.Println("Environment:")
			for _, k := range wellKnownEnvKeys {
				if os.Getenv(k.envVar) != "" {
					fmt.Printf("  %-20s set (%s)\n", k.envVar, k.enables)
				} else {
					fmt.Printf("  %-20s not set\n", k.envVar)
				}
			}
			fmt.Println()

			// Config
			fmt.Println("Config:")
			fmt.Printf("  dir:              %s\n", cfg.Dir)
			fmt.Printf("  api_url:          %s\n", cfg.APIURL)
			fmt.Printf("  upload.transport: %s\n", cfg.Upload.Transport)
			fmt.Printf("  upload.chunk:     %d bytes\n", cfg.Upload.ChunkSize)
			fmt.Printf("  history:          %s\n", cfg.DBPath())
			if cfg.Upload.Transport == "minio" {
				fmt.Printf("  minio:            %s/%s\n", cfg.MinIO.Endpoint, cfg.MinIO.Bucket)
			}
			if cfg.Notify.NtfyTopic != "" {
				fmt.Printf("  ntfy:             %s (%s)\n", cfg.Notify.NtfyTopic, cfg.Notify.Events)
			}

			if ntfyTestFlag {
				fmt.Println()
				if a.push == nil {
					return fmt.Errorf("notify.ntfy_topic is not set")
				}
				if err := a.push.SendTest(cmd.Context()); err != nil {
					return fmt.Errorf("ntfy test: %w", err)
				}
				fmt.Println("ntfy test notification sent")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&ntfyTestFlag, "ntfy-test", false, "send a test push notification")
	return cmd
}
