package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"

	"jordanella.com/garden-go/internal/config"
	"jordanella.com/garden-go/internal/logging"
	"jordanella.com/garden-go/internal/viewer"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to garden.ini")
	headless := flag.Bool("headless", false, "Run without the viewer window")
	writeDefaults := flag.Bool("write-config", false, "Write the effective configuration to -config and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *writeDefaults {
		if err := config.SaveToINI(cfg, *configPath); err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Configuration written to %s\n", *configPath)
		return
	}

	closeLog, err := setupLogging(cfg)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer closeLog()

	logger := logging.NewLogger("Main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headless || !cfg.ViewerEnabled {
		g, err := build(cfg, os.Stdin, nil)
		if err != nil {
			logger.Error("Startup failed", err)
			os.Exit(1)
		}
		defer g.Close()

		printBanner(g)
		if err := g.loop.Run(ctx); err != nil {
			logger.Error("Frame loop failed", err)
		}
		return
	}

	a := app.NewWithID("com.jordanella.garden")
	win := viewer.New(a, cfg.ViewerTitle, cfg.ViewerMaxWidth)

	g, err := build(cfg, os.Stdin, win)
	if err != nil {
		logger.Error("Startup failed", err)
		os.Exit(1)
	}
	defer g.Close()
	win.SetPointerHandler(g.recorder)

	printBanner(g)

	ctx, cancel := context.WithCancel(ctx)
	win.OnClosed(cancel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := g.loop.Run(ctx); err != nil {
			logger.Error("Frame loop failed", err)
		}
		// The driver is gone once the window closed itself
		if !win.Closed() {
			fyne.Do(a.Quit)
		}
	}()

	win.ShowAndRun()
	cancel()
	<-done
}

func setupLogging(cfg *config.Config) (func(), error) {
	if cfg.LogFile == "" {
		logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogColor)
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	logging.Setup(io.MultiWriter(os.Stderr, f), cfg.LogLevel, false)
	return func() { f.Close() }, nil
}

func printBanner(g *garden) {
	fmt.Println()
	fmt.Println("==========================================")
	fmt.Println("     Garden - Ready for Commands")
	fmt.Println("==========================================")
	_ = g.dispatcher.Handle("help", nil)
	fmt.Println("==========================================")
	fmt.Println()
}
