// Package cmd implements stowctl's command tree: a cobra-based wrapper
// around stowdb.DB for inspecting and driving a database from the shell.
//
// Grounded on ValentinKolb/dKV/cmd (RootCmd + viper-bound persistent flags,
// cobra.OnInitialize for environment-variable resolution).
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/awelon/stowdb"
)

// RootCmd is the base stowctl command.
var RootCmd = &cobra.Command{
	Use:   "stowctl",
	Short: "Operate a stowdb database",
	Long: `stowctl inspects and drives a stowdb database from the shell:
reading and writing roots, stowing and loading content-addressed blobs,
forcing garbage collection, and reporting table sizes.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().String("path", "", "path to the database directory")
	RootCmd.PersistentFlags().Int64("max-bytes", 0, "backend value-log file size in bytes (0 uses the backend default)")
	_ = viper.BindPFlags(RootCmd.PersistentFlags())

	RootCmd.AddCommand(getCmd)
	RootCmd.AddCommand(putCmd)
	RootCmd.AddCommand(stowCmd)
	RootCmd.AddCommand(loadCmd)
	RootCmd.AddCommand(gcCmd)
	RootCmd.AddCommand(statCmd)
}

func initConfig() {
	viper.SetEnvPrefix("stowctl")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Execute runs RootCmd. Called by main.main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB() (*stowdb.DB, error) {
	path := viper.GetString("path")
	if path == "" {
		return nil, fmt.Errorf("stowctl: --path is required")
	}
	return stowdb.Open(stowdb.Config{
		Path:     path,
		MaxBytes: viper.GetInt64("max-bytes"),
	})
}
