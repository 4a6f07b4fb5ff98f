package main

import (
	app "traffic-router/internal/app/server"
	"traffic-router/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	app.Run(cfg)
}
