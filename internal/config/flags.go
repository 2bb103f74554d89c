package config

import (
	"flag"
	"os"

	"github.com/accessmate/accessmate/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   data directory override
//	-r string   base URL of the cloud relay
//	-t string   relay access token
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory override")
	fs.StringVar(&cfg.RelayAddr, "r", cfg.RelayAddr, "base URL of the cloud relay")
	fs.StringVar(&cfg.RelayToken, "t", cfg.RelayToken, "relay access token")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
