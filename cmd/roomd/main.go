package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/roomsync/internal/daemon"
	"github.com/matheus3301/roomsync/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	listenFlag := flag.String("listen", "", "serve status on this TCP address instead of the profile socket")
	quietFlag := flag.Bool("quiet", false, "log to the profile log file only")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			Profile:    profileName,
			ListenAddr: *listenFlag,
			Console:    !*quietFlag,
		}),
	)

	app.Run()
}
