package transport

import "regexp"

// Platform describes the CLI dialect of a vendor/OS family.
type Platform struct {
	Name              string
	EnableCommand     string
	ConfigCommand     string
	ExitConfigCommand string
	SaveCommand       string
	PagingCommands    []string
}

var platforms = map[string]Platform{
	"cisco_ios": {
		Name:              "cisco_ios",
		EnableCommand:     "enable",
		ConfigCommand:     "configure terminal",
		ExitConfigCommand: "end",
		SaveCommand:       "copy running-config startup-config",
		PagingCommands:    []string{"terminal length 0", "terminal width 511"},
	},
	"cisco_xe": {
		Name:              "cisco_xe",
		EnableCommand:     "enable",
		ConfigCommand:     "configure terminal",
		ExitConfigCommand: "end",
		SaveCommand:       "copy running-config startup-config",
		PagingCommands:    []string{"terminal length 0", "terminal width 511"},
	},
	"cisco_nxos": {
		Name:              "cisco_nxos",
		EnableCommand:     "enable",
		ConfigCommand:     "configure terminal",
		ExitConfigCommand: "end",
		SaveCommand:       "copy running-config startup-config",
		PagingCommands:    []string{"terminal length 0", "terminal width 511"},
	},
	"arista_eos": {
		Name:              "arista_eos",
		EnableCommand:     "enable",
		ConfigCommand:     "configure terminal",
		ExitConfigCommand: "end",
		SaveCommand:       "write memory",
		PagingCommands:    []string{"terminal length 0", "terminal width 32767"},
	},
}

// LookupPlatform returns the dialect for a vendor/OS tag.
func LookupPlatform(name string) (Platform, bool) {
	p, ok := platforms[name]
	return p, ok
}

var (
	// promptPattern matches a CLI prompt at the end of the read buffer,
	// including config-mode prompts such as "sw1(config-if)#".
	promptPattern = regexp.MustCompile(`[\w.\-@()/:]+[>#]\s*$`)

	savePattern     = regexp.MustCompile(`\[confirm\]|Destination filename|[\w.\-@()/:]+[>#]\s*$`)
	passwordPattern = regexp.MustCompile(`(?i)password:\s*$|[\w.\-@()/:]+[>#]\s*$`)
)
