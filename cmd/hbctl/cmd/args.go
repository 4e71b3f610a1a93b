package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/superyu1337/handbrake-go/pkg/handbrake"
)

var argsFlags jobFlags

var argsCmd = &cobra.Command{
	Use:   "args INPUT OUTPUT",
	Short: "Print the HandBrakeCLI command line for an encode",
	Long: `Print the HandBrakeCLI command line that "hbctl run" and "hbctl encode"
would execute for the same arguments. HandBrakeCLI does not need to be
installed. Use - for standard input or standard output.`,
	Args: cobra.ExactArgs(2),
	RunE: runArgs,
}

func init() {
	argsFlags.register(argsCmd.Flags())
	rootCmd.AddCommand(argsCmd)
}

func runArgs(cmd *cobra.Command, args []string) error {
	req, err := argsFlags.request(cmd.Flags(), args[0], args[1])
	if err != nil {
		return err
	}

	path := viper.GetString("handbrake.binary_path")
	if path == "" {
		path = handbrake.BinaryName
	}
	b := req.Configure(handbrake.NewJobBuilder(path, inputSource(req.Input), outputDestination(req.Output)))

	fmt.Fprintln(cmd.OutOrStdout(), shellQuote(append([]string{path}, b.BuildArgs()...)))
	return nil
}
