package main

import (
	"github.com/robotalks/ncp.go/pkg/cli/sh"
	env "github.com/robotalks/ncp.go/pkg/env/host"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
