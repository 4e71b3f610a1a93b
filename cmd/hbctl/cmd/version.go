package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/superyu1337/handbrake-go/internal/version"
)

var versionJSON bool

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit and build date of hbctl, and the version of HandBrakeCLI when it can be found.",
	Run: func(cmd *cobra.Command, _ []string) {
		hbVersion := detectHandBrakeVersion(cmd.Context())

		if versionJSON {
			fmt.Println(version.JSON(hbVersion))
			return
		}

		fmt.Println(version.String())
		if hbVersion != "" {
			fmt.Println(hbVersion)
		}
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output version information as JSON")
	rootCmd.AddCommand(versionCmd)
}

// detectHandBrakeVersion returns the HandBrakeCLI version line, or "" when
// no usable executable is found.
func detectHandBrakeVersion(ctx context.Context) string {
	cfg, err := loadConfig()
	if err != nil {
		return ""
	}
	hb, err := newHandBrake(ctx, cfg.HandBrake, slog.Default())
	if err != nil {
		slog.Debug("HandBrakeCLI not available", slog.String("error", err.Error()))
		return ""
	}
	return hb.Version()
}
