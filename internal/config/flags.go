package config

import (
	"flag"
	"os"
	"time"

	"github.com/avolkov/mxauth/internal/flagx"
)

// parseFlags overlays selected Config fields from command-line flags.
//
// Supported flags:
//
//	-hs string   explicit homeserver URL (skips username discovery)
//	-l string    loopback listen address for the SSO callback
//	-s string    path to the account store database
//	-vb string   vault backend: keyring or file
//	-vf string   path to the encrypted vault file
//	-t int       HTTP timeout in seconds
//	-v           verbose logging
//
// Only the flags listed here are parsed; the rest of os.Args is filtered
// out first so other packages' flags don't interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-hs", "-l", "-s", "-vb", "-vf", "-t", "-v"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.HomeserverURL, "hs", cfg.HomeserverURL, "explicit homeserver URL")
	fs.StringVar(&cfg.CallbackListenAddr, "l", cfg.CallbackListenAddr, "sso callback listen address")
	fs.StringVar(&cfg.StorePath, "s", cfg.StorePath, "account store path")
	fs.StringVar(&cfg.VaultBackend, "vb", cfg.VaultBackend, "vault backend (keyring|file)")
	fs.StringVar(&cfg.VaultFilePath, "vf", cfg.VaultFilePath, "encrypted vault file path")
	timeout := fs.Int("t", int(cfg.HTTPTimeout.Seconds()), "http timeout (in seconds)")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "verbose logging")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.HTTPTimeout = time.Duration(*timeout) * time.Second
}
