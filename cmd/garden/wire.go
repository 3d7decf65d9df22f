package main

import (
	"fmt"
	"io"
	"time"

	"jordanella.com/garden-go/internal/adb"
	"jordanella.com/garden-go/internal/authoring"
	"jordanella.com/garden-go/internal/classifier"
	"jordanella.com/garden-go/internal/commands"
	"jordanella.com/garden-go/internal/config"
	"jordanella.com/garden-go/internal/cv"
	"jordanella.com/garden-go/internal/database"
	"jordanella.com/garden-go/internal/events"
	"jordanella.com/garden-go/internal/gesture"
	"jordanella.com/garden-go/internal/input"
	"jordanella.com/garden-go/internal/logging"
	"jordanella.com/garden-go/internal/monitor"
	"jordanella.com/garden-go/internal/overlay"
	"jordanella.com/garden-go/internal/policy"
	"jordanella.com/garden-go/internal/scheduler"
	"jordanella.com/garden-go/internal/watcher"
	"jordanella.com/garden-go/internal/window"
	"jordanella.com/garden-go/pkg/templates"
)

// garden holds every long-lived component of one run
type garden struct {
	log *logging.Logger

	bus        *events.DefaultEventBus
	db         *database.DB
	journal    *database.Journal
	adb        *adb.Controller
	shell      *adb.ShellSession
	health     *monitor.HealthChecker
	capture    io.Closer
	replayer   *gesture.Replayer
	recorder   *authoring.Recorder
	watcher    *watcher.Watcher
	dispatcher *commands.Dispatcher
	loop       *scheduler.Loop
}

func build(cfg *config.Config, stdin io.Reader, sink overlay.Sink) (_ *garden, err error) {
	g := &garden{
		log: logging.NewLogger("Main"),
		bus: events.NewEventBus(256),
	}
	defer func() {
		if err != nil {
			g.Close()
		}
	}()

	if cfg.DatabaseEnabled {
		if err := g.openJournal(cfg); err != nil {
			return nil, err
		}
	}

	win := window.NewContext(cfg.WindowTitle, cfg.Scale, cfg.Translator())
	capturer, err := g.capturer(cfg, win)
	if err != nil {
		return nil, err
	}
	injector, err := g.injector(cfg, win)
	if err != nil {
		return nil, err
	}

	var device monitor.Device
	if g.adb != nil {
		device = g.adb
	}
	g.health = monitor.NewHealthChecker(g.bus, device)
	g.health.Start()

	store := templates.NewStore(cfg.RoiDir)
	clf, err := classifier.New(store,
		classifier.WithThreshold(cfg.Threshold),
		classifier.WithGeometryCheck(cfg.GeometryCheck),
	)
	if err != nil {
		g.log.Warn("Starting with an incomplete template set")
	}
	g.log.InfoWithContext("Templates loaded", map[string]interface{}{
		"templates": clf.Count(),
		"states":    clf.StateCount(),
	})

	g.watcher, err = watcher.New(cfg.RoiDir, templates.MetadataFileName, clf.RequestReload)
	if err != nil {
		return nil, err
	}

	gestures := gesture.NewStore(cfg.GestureDir)
	g.replayer = gesture.NewReplayer(gestures, gesture.NewQueue(), injector)

	pol, err := policy.Select(cfg.Policy, cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}

	source := commands.NewSource(stdin, commands.DefaultBuffer)
	g.recorder = authoring.NewRecorder(store, source.Lines())

	g.loop = scheduler.New(scheduler.Config{
		Period:      cfg.Period,
		SettleDelay: cfg.SettleDelay,
		Automation:  cfg.Automation,
	}, scheduler.Deps{
		Capturer: capturer,
		Detector: clf,
		Replayer: g.replayer,
		Policy:   pol,
		Author:   g.recorder,
		Commands: source,
		Sink:     sink,
		Events:   g.bus,
	})

	deps := commands.Deps{
		Replays:    g.loop.Replays(),
		Author:     g.recorder,
		Gestures:   gestures,
		Cancel:     g.replayer.Cancel,
		Keys:       g.keys(),
		Reload:     clf.RequestReload,
		Status:     g.loop.Status,
		Automation: g.loop.Automation(),
		ImageDir:   cfg.ImageDir,
	}
	if g.journal != nil {
		deps.History = g.journal
	}
	g.dispatcher = commands.NewDispatcher(deps)
	g.loop.SetDispatcher(g.dispatcher)

	return g, nil
}

func (g *garden) openJournal(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	g.db = db
	if err := db.RunMigrations(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if cfg.DatabaseKeepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.DatabaseKeepDays)
		if n, err := db.PruneSessions(cutoff); err != nil {
			g.log.Error("Failed to prune journal", err)
		} else if n > 0 {
			g.log.InfoWithContext("Pruned old sessions", map[string]interface{}{"sessions": n})
		}
	}

	g.journal, err = db.StartSession(database.SessionInfo{
		WindowTitle:   cfg.WindowTitle,
		CaptureMethod: string(cfg.CaptureMethod),
		Policy:        cfg.Policy,
	})
	if err != nil {
		return err
	}
	g.journal.Attach(g.bus)
	return nil
}

// controller connects to the device on first use
func (g *garden) controller(cfg *config.Config) (*adb.Controller, error) {
	if g.adb != nil {
		return g.adb, nil
	}
	ctrl, err := adb.ConnectADB(cfg.ADBPath, cfg.ScrcpyDir, cfg.Serial)
	if err != nil {
		return nil, err
	}
	g.adb = ctrl
	return ctrl, nil
}

func (g *garden) capturer(cfg *config.Config, win *window.Context) (cv.Capturer, error) {
	switch cfg.CaptureMethod {
	case cv.CaptureMethodWindow:
		if err := win.Locate(); err != nil {
			return nil, fmt.Errorf("failed to find window %q: %w", cfg.WindowTitle, err)
		}
		wc, err := cv.NewWindowCapture(win.Handle)
		if err != nil {
			return nil, err
		}
		g.capture = wc
		return wc, nil
	default:
		ctrl, err := g.controller(cfg)
		if err != nil {
			return nil, err
		}
		return adb.NewScreenCapturer(ctrl), nil
	}
}

func (g *garden) injector(cfg *config.Config, win *window.Context) (input.Injector, error) {
	switch cfg.InputMethod {
	case config.InputNone:
		return input.Noop{}, nil
	case config.InputSendInput:
		if win.Handle == 0 {
			if err := win.Locate(); err != nil {
				return nil, fmt.Errorf("failed to find window %q: %w", cfg.WindowTitle, err)
			}
		}
		return input.NewSendInput(win)
	default:
		ctrl, err := g.controller(cfg)
		if err != nil {
			return nil, err
		}
		if w, h, err := ctrl.ScreenSize(); err == nil {
			g.log.InfoWithContext("Device screen", map[string]interface{}{"width": w, "height": h})
		}
		g.shell, err = ctrl.OpenShell()
		if err != nil {
			return nil, err
		}
		return input.NewADBInjector(g.shell, win), nil
	}
}

// keys is nil unless input goes through the adb shell
func (g *garden) keys() commands.Keys {
	if g.shell == nil {
		return nil
	}
	return g.shell
}

// Close releases everything build acquired, in reverse order
func (g *garden) Close() {
	if g.replayer != nil {
		g.replayer.Cancel()
	}
	if g.recorder != nil {
		g.recorder.Close()
	}
	if g.watcher != nil {
		if err := g.watcher.Close(); err != nil {
			g.log.Error("Failed to close watcher", err)
		}
	}
	if g.shell != nil {
		if err := g.shell.Close(); err != nil {
			g.log.Error("Failed to close adb shell", err)
		}
	}
	if g.health != nil {
		g.health.Stop()
	}
	if g.capture != nil {
		_ = g.capture.Close()
	}
	if g.adb != nil {
		_ = g.adb.Disconnect()
	}

	// Drain the bus before ending the session so the last events are journaled
	g.bus.Stop()
	if g.journal != nil {
		if err := g.journal.End(); err != nil {
			g.log.Error("Failed to close session", err)
		}
	}
	if g.db != nil {
		if err := g.db.Close(); err != nil {
			g.log.Error("Failed to close database", err)
		}
	}
	if d := g.bus.Dropped(); d > 0 {
		g.log.WarnWithContext("Events dropped", map[string]interface{}{"count": d})
	}
}
