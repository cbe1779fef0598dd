// File: cmd/releaser/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Cassini-chris/chroma/internal/config"
	"github.com/Cassini-chris/chroma/internal/release"
	"github.com/Cassini-chris/chroma/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "chroma-releaser",
	Short:   "Chroma JavaScript client release tool",
	Long: `Tag-driven npm release tool. A ref matching js_release_X.Y.Z runs the
"release" script; js_release_alpha_X.Y.Z runs "release_alpha"; any other
ref fails immediately with a logged reason before any publish step. The
package is published to the public npm registry under its original name
and to the GitHub registry under the organization scope, in parallel.`,
	Version: AppVersion,
}

// planConfigFromRelease maps the loaded release config section to a plan config
func planConfigFromRelease(cfg *config.Config) release.PlanConfig {
	return release.PlanConfig{
		PackageName:    cfg.Release.PackageName,
		Organization:   cfg.Release.Organization,
		NpmRegistry:    cfg.Release.NpmRegistry,
		GithubRegistry: cfg.Release.GithubRegistry,
		NpmTokenEnv:    cfg.Release.NpmTokenEnv,
		GithubTokenEnv: cfg.Release.GithubTokenEnv,
	}
}

// planCmd prints the publish plan for a ref without publishing
var planCmd = &cobra.Command{
	Use:   "plan <ref>",
	Short: "Print the publish plan for a git ref",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		plan, err := release.NewPlan(args[0], planConfigFromRelease(cfg))
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(plan, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// publishCmd parses the ref and publishes to every target of the plan.
// A ref matching neither release pattern fails here, before any registry
// interaction.
var publishCmd = &cobra.Command{
	Use:   "publish <ref>",
	Short: "Publish the package for a release tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(viper.GetString("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger := utils.ComponentLogger("releaser")

		plan, err := release.NewPlan(args[0], planConfigFromRelease(cfg))
		if err != nil {
			logger.WithField("ref", args[0]).WithError(err).
				Error("Ref does not trigger a release")
			return err
		}

		logger.WithField("version", plan.Release.Version).
			WithField("channel", string(plan.Release.Channel)).
			WithField("script", plan.Script).
			Info("Release tag accepted")

		publisher := release.NewPublisher(viper.GetString("package-dir"))
		if err := publisher.Publish(context.Background(), plan); err != nil {
			return err
		}

		logger.WithField("version", plan.Release.Version).Info("Release published")
		return nil
	},
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Chroma releaser %s\n", AppVersion)
	},
}

// init initializes the CLI commands
func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringP("package-dir", "d", "clients/js", "package directory to publish")

	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("package-dir", rootCmd.PersistentFlags().Lookup("package-dir"))

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(versionCmd)
}

// main is the entry point; any error exits with a non-zero status
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
