package config

import (
	flag "github.com/spf13/pflag"
)

// ParseFlags defines and parses the daemon's flags (spec AMBIENT STACK
// "Configuration": `-f`, `-s`, `-p`, `-i`, `-v`, plus long forms), the way
// `calvinalkan-agent-task`'s internal/cli commands build a pflag.FlagSet
// per invocation. It returns the flag-derived overrides, which fields were
// explicitly set, and the config file path (`-c`/`--config`).
func ParseFlags(args []string) (overrides Config, flagsSet map[string]bool, configPath string, err error) {
	fs := flag.NewFlagSet("infod", flag.ContinueOnError)

	configFlag := fs.StringP("config", "c", "", "path to a JSONC config file")
	storeFlag := fs.StringP("store", "f", "", "path to the store file")
	tcpFlag := fs.String("tcp", "", "TCP address to listen on (host:port)")
	unixFlag := fs.StringP("unix", "i", "", "Unix domain socket path to listen on")
	maxSocketsFlag := fs.StringP("max-sockets", "p", "", "maximum simultaneous sockets (listeners plus connections)")
	syslogFlag := fs.BoolP("syslog", "s", false, "log in syslog-style line format")
	verboseFlag := fs.BoolP("verbose", "v", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return Config{}, nil, "", err
	}

	overrides = Config{
		StorePath: *storeFlag,
		TCPAddr:   *tcpFlag,
		UnixPath:  *unixFlag,
		Syslog:    *syslogFlag,
		Verbose:   *verboseFlag,
	}
	if *maxSocketsFlag != "" {
		overrides.MaxSockets = atoiOrZero(*maxSocketsFlag)
	}

	flagsSet = map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		flagsSet[f.Name] = true
	})

	return overrides, flagsSet, *configFlag, nil
}

func atoiOrZero(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
