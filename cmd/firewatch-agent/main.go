package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"firewatch/internal/capture"
	"firewatch/internal/logging"
	"firewatch/internal/transport"
)

const version = "0.3.0"

func main() {
	serverURL := flag.String("server", "ws://localhost:8082/ws", "websocket URL of the firewatchd transport")
	imagePath := flag.String("image", "", "serve captures from a static image file")
	command := flag.String("command", "", "capture command, e.g. \"libcamera-jpeg -o {out}\"")
	output := flag.String("output", "/tmp/firewatch-capture.jpg", "output path the capture command writes to")
	timeout := flag.Duration("timeout", 20*time.Second, "per-capture timeout")
	logLevel := flag.String("log-level", "info", "log level")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("firewatch-agent", version)
		return
	}

	logger := logging.NewLogger(*logLevel)

	var camera capture.Camera
	switch {
	case *imagePath != "":
		camera = &capture.FileCamera{Path: *imagePath}
		logger.Info("using file camera", "path", *imagePath)
	case *command != "":
		camera = &capture.CommandCamera{Command: *command, Output: *output}
		logger.Info("using command camera", "command", *command, "output", *output)
	default:
		logger.Warn("no camera configured, captures will report an error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := transport.NewAgentClient(*serverURL, nil, logger)
	coordinator := capture.NewCoordinator(camera, client, logger, *timeout)
	client.SetHandler(coordinator.Submit)

	logger.Info("firewatch-agent starting", "version", version, "server", *serverURL)
	client.Run(ctx)
	logger.Info("firewatch-agent stopped")
	os.Exit(0)
}
