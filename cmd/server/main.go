package main

import (
	"github.com/civigraph/atlas/internal/server"
	"github.com/civigraph/atlas/internal/util"
	"github.com/civigraph/atlas/pkg/logger"
	"github.com/civigraph/atlas/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	debug := util.GetEnvBool("DEBUG", false)

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	server.Init()
}
