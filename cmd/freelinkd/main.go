package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/lucasmrqs/freelink/internal/daemon"
	"github.com/lucasmrqs/freelink/internal/profile"
	"go.uber.org/fx"
)

func main() {
	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()

	profileFlag := flag.String("profile", "", "profile name (overrides FREELINK_PROFILE and config default)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName}),
	)

	app.Run()
}
