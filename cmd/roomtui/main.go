package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/roomsync/internal/config"
	"github.com/matheus3301/roomsync/internal/daemon"
	"github.com/matheus3301/roomsync/internal/lock"
	"github.com/matheus3301/roomsync/internal/profile"
	"github.com/matheus3301/roomsync/internal/room"
	"github.com/matheus3301/roomsync/internal/tui"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var (
		r      *room.Room
		cfg    *config.Profile
		logger *zap.Logger
	)
	app := fx.New(
		daemon.Module(daemon.Params{Profile: profileName}),
		fx.Populate(&r, &cfg, &logger),
		fx.NopLogger,
	)
	// The room runs in this process, so a roomd holding the profile lock
	// is refused here.
	if err := app.Err(); err != nil {
		fail(profileName, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err := app.Start(ctx)
	cancel()
	if err != nil {
		fail(profileName, err)
	}

	runErr := tui.NewApp(r, profileName, cfg.Server.UserID, logger).Run()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Stop(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}

func fail(profileName string, err error) {
	var held *lock.LockHeldError
	if errors.As(err, &held) {
		fmt.Fprintf(os.Stderr, "profile %q is in use by PID %d; stop that roomd or pick another profile\n", profileName, held.PID)
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
