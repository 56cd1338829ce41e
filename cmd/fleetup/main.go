// Fleetup - network fleet collection, configuration and upgrade tool
//
// Every command loads the device inventory and its catalogs from one
// directory, runs one worker per device and prints a per-device summary:
//
//	fleetup -I <inventory> collect -i <info>...
//	fleetup -I <inventory> configure -i <info>...
//	fleetup -I <inventory> upgrade [--step <step>]... [--evict]
//
// Finished runs are written to the report directory and, when Redis is
// configured, saved for later `fleetup report <run-id>`.
package main

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/fleetup/fleetup/pkg/audit"
	"github.com/fleetup/fleetup/pkg/cli"
	"github.com/fleetup/fleetup/pkg/settings"
	"github.com/fleetup/fleetup/pkg/util"
	"github.com/fleetup/fleetup/pkg/version"
)

var (
	// Global option flags
	inventoryDir string
	settingsPath string
	parallel     int
	verbose      bool
	jsonOutput   bool
	logJSON      bool
	askPass      bool
	noColor      bool

	// Global state
	userSettings *settings.Settings
	auditLogger  *audit.FileLogger
)

func main() {
	err := rootCmd.Execute()
	if auditLogger != nil {
		auditLogger.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "fleetup",
	Short:             "Network fleet collection, configuration and upgrade tool",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Fleetup runs catalogued commands, configuration sets and firmware
upgrades across every device of an inventory, one worker per device.

The inventory directory holds device_list.csv, commands.yaml and, for
upgrades, os_images.json and upgrade_list.csv.

  fleetup -I <inventory> <collect|configure|upgrade> [flags]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			cli.SetColor(false)
		}
		if logJSON {
			util.SetJSONFormat()
		}
		// Quiet by default, verbose on -v
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}

		if isSettingsOrHelp(cmd) {
			return nil
		}

		var err error
		userSettings, err = loadSettings()
		if err != nil {
			return err
		}
		if inventoryDir == "" {
			inventoryDir = userSettings.GetInventoryDir()
		}
		if !cmd.Flags().Changed("parallel") {
			parallel = userSettings.Parallel
		}

		if userSettings.AuditLog != "" {
			auditLogger, err = audit.NewFileLogger(userSettings.AuditLog, audit.RotationConfig{
				MaxSize:    10 * 1024 * 1024, // 10MB
				MaxBackups: 10,
			})
			if err != nil {
				util.Warnf("Could not initialize audit logging: %v", err)
			} else {
				audit.SetDefaultLogger(auditLogger)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&inventoryDir, "inventory", "I", "", "Inventory directory (default from settings, else current directory)")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "Settings file (default ~/.fleetup/settings.yaml)")
	rootCmd.PersistentFlags().IntVar(&parallel, "parallel", 0, "Maximum concurrent devices (0 = one worker per device)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print device records as JSON")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")
	rootCmd.PersistentFlags().BoolVar(&askPass, "ask-pass", false, "Prompt for a shared login for devices without credentials")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	rootCmd.AddGroup(
		&cobra.Group{ID: "fleet", Title: "Fleet Operations:"},
		&cobra.Group{ID: "meta", Title: "Reports & Configuration:"},
	)

	for _, cmd := range []*cobra.Command{collectCmd, configureCmd, upgradeCmd} {
		cmd.GroupID = "fleet"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{reportCmd, auditCmd, settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion("fleetup")
	},
}

func printVersion(tool string) {
	if version.Version == "dev" {
		fmt.Printf("%s dev build (use 'make build' for version info)\n", tool)
	} else {
		fmt.Printf("%s %s\n", tool, version.Info())
	}
}

func loadSettings() (*settings.Settings, error) {
	path := settingsPath
	if path == "" {
		path = settings.DefaultSettingsPath()
	}
	s, err := settings.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return s, nil
}

func settingsFile() string {
	if settingsPath != "" {
		return settingsPath
	}
	return settings.DefaultSettingsPath()
}

// isSettingsOrHelp returns true for commands that need no settings or
// audit log.
func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "help", "version":
			return true
		}
	}
	return false
}

// currentUser names the operator in audit events.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
