// Command hostscout is the host telemetry agent.
//
// Usage:
//
//	hostscout [run] [flags]          collect metrics until interrupted
//	hostscout query [flags]          print stored samples
//	hostscout secret <op> [flags]    manage vault secrets
//	hostscout backup [flags]         archive the data directory
//	hostscout restore [flags]        restore an archive
//	hostscout version
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/HerbHall/hostscout/internal/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "hostscout: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		return runAgent(args)
	case "query":
		return runQuery(args)
	case "secret":
		return runSecret(args)
	case "backup":
		return runBackup(args)
	case "restore":
		return runRestore(args)
	case "version", "--version":
		fmt.Println(version.Info())
		return nil
	case "help":
		usage()
		return nil
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: hostscout <command> [flags]

commands:
  run       collect metrics until interrupted (default)
  query     print stored samples
  secret    manage vault secrets: set, get, has, rm, ls
  backup    archive the data directory
  restore   restore an archive into the data directory
  version   print version information

Run "hostscout <command> --help" for the command's flags.
`)
}
