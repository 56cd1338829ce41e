package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fleetup/fleetup/pkg/cli"
	"github.com/fleetup/fleetup/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.fleetup/settings.yaml.

Every setting can be overridden by an environment variable named
FLEETUP_<SETTING> with dots replaced by underscores, e.g.
FLEETUP_REDIS_ADDR overrides redis.addr.

Examples:
  fleetup settings show
  fleetup settings set inventory_dir /srv/fleet
  fleetup settings set image_server ftp://10.0.0.5/images/
  fleetup settings set redis.addr 127.0.0.1:6379
  fleetup settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}

		fmt.Printf("Settings file: %s\n\n", settingsFile())

		pairs := s.Show()
		if len(pairs) == 0 {
			fmt.Println("(no settings)")
			return nil
		}
		t := cli.NewTable("SETTING", "VALUE")
		for _, p := range pairs {
			t.Row(p[0], p[1])
		}
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a persistent setting value.

Available settings:
  ` + strings.Join(settings.Keys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := s.SaveTo(settingsFile()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Printf("%s set\n", args[0])
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <setting>",
	Short: "Get a setting value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings()
		if err != nil {
			return err
		}
		value, err := s.Get(args[0])
		if err != nil {
			return err
		}
		if value == "" {
			fmt.Println("(not set)")
		} else {
			fmt.Println(value)
		}
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.SaveTo(settingsFile()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Println("All settings cleared.")
		return nil
	},
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show settings file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(settingsFile())
	},
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
	settingsCmd.AddCommand(settingsPathCmd)
}
