package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/banshee-data/calib/internal/calib"
	"github.com/banshee-data/calib/internal/version"
)

const defaultDBPath = "calib.db"

func main() {
	log.SetFlags(log.LstdFlags)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "migrate":
		err = migrateCommand(args)
	case "print":
		err = printCommand(args)
	case "runsets":
		err = runSetsCommand(args)
	case "passes":
		err = passesCommand(args)
	case "profiles":
		printProfiles()
	case "version":
		fmt.Printf("calib %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: calib <command> [options]

Commands:
  run        calibrate one profile over a list of run-sets
  migrate    manage the parameter database schema (up, down, version, force)
  print      print stored constants of one data kind
  runsets    list or add the run-sets of a calibration
  passes     list the calibration passes of a calibration
  profiles   list the known calibration profiles
  version    print build information

Run 'calib <command> -h' for the options of a command.
`)
}

func printProfiles() {
	for _, p := range calib.Profiles() {
		fmt.Fprintf(stdout, "%-20s %-16s %s\n", p.Name, p.Kind, p.Title)
	}
}

// newFlagSet returns a flag set that reports errors instead of exiting.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	return fs
}
