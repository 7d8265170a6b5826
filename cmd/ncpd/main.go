package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	"github.com/robotalks/ncp.go/pkg/env/target"
	"github.com/robotalks/ncp.go/pkg/framework"
)

func init() {
	target.SetupFlags()
}

func main() {
	flag.Parse()

	conf, err := target.NewConfig()
	if err != nil {
		log.Fatalln(err)
	}
	env := conf.MustNewEnv()
	if err := framework.NewRunner().HandleSignals().Go(env).Wait(); err != nil {
		log.Fatalln(err)
	}
}
