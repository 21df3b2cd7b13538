package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	"github.com/robotalks/fwcore/pkg/env"
	"github.com/robotalks/fwcore/pkg/framework"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()

	e := env.NewConfig().MustNewEnv()
	runner := framework.NewRunner().HandleSignals()
	runner.Go(framework.NamedRun("device", framework.RunFunc(e.Run)))
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
