package main

import (
	"os"

	"github.com/pterm/pterm"

	"eyeconnect/native/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}

	root := newRootCmd(cfg)
	root.SilenceErrors = true
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}
