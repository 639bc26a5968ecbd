package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"

	fyneapp "fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ayusman/janken/internal/app"
	"github.com/ayusman/janken/internal/capture"
	"github.com/ayusman/janken/internal/config"
	"github.com/ayusman/janken/internal/permission"
	"github.com/ayusman/janken/internal/present"
	"github.com/ayusman/janken/internal/server"
	"github.com/ayusman/janken/internal/store"
	"github.com/ayusman/janken/internal/tray"
	"github.com/ayusman/janken/internal/window"
)

var runOpts struct {
	ui      string
	addr    string
	history bool
	model   string
	camera  int
	preset  string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Classify hand gestures from the camera",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		applyRunFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runLive(cmd.Context())
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.ui, "ui", "", "user interface: window, tray or none")
	f.StringVar(&runOpts.addr, "addr", "", "HTTP listen address, empty string to disable")
	f.BoolVar(&runOpts.history, "history", false, "record every result in the history database")
	f.StringVar(&runOpts.model, "model", "", "ONNX gesture model (default built-in templates)")
	f.IntVar(&runOpts.camera, "camera", 0, "camera device index")
	f.StringVar(&runOpts.preset, "preset", "", "capture preset: low, medium or high")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags layers explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("ui") {
		cfg.UI = runOpts.ui
	}
	if f.Changed("addr") {
		cfg.Addr = runOpts.addr
	}
	if f.Changed("history") {
		cfg.History = runOpts.history
	}
	if f.Changed("model") {
		cfg.Model.Path = runOpts.model
	}
	if f.Changed("camera") {
		cfg.Camera.Device = runOpts.camera
	}
	if f.Changed("preset") {
		cfg.Camera.Preset = runOpts.preset
	}
}

func runLive(ctx context.Context) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var prompter permission.Prompter
	if term.IsTerminal(int(os.Stdin.Fd())) {
		prompter = &permission.TerminalPrompter{In: os.Stdin, Out: os.Stderr}
	}
	gate := &permission.Gate{
		Checker:   permission.NewDeviceChecker(cfg.Camera.Device),
		Decisions: permission.NewStoreDecisions(st.Settings()),
		Prompter:  prompter,
	}

	label := present.NewLabel(nil)
	hub := server.NewResultsHub()
	preview := capture.NewPreview()
	presenters := present.Multi{label, hub, &present.LogPresenter{}}

	appCfg := app.Config{
		Settings: cfg,
		Store:    st,
		Gate:     gate,
		Preview:  preview,
	}

	var srvOnce sync.Once
	serve := func(a *app.App) {
		srvOnce.Do(func() {
			if cfg.Addr == "" {
				return
			}
			var history *store.Store
			if cfg.History {
				history = st
			}
			srv := server.New(server.Config{
				StaticDir: findWebDir(),
				Store:     history,
				Label:     label,
				Hub:       hub,
				Preview:   preview,
				Stats:     a.Stats,
			})
			go func() {
				if err := srv.Run(ctx, cfg.Addr); err != nil {
					log.Printf("HTTP server failed: %v", err)
				}
			}()
		})
	}

	switch cfg.UI {
	case config.UIWindow:
		return runWindow(ctx, appCfg, presenters, serve)
	case config.UITray:
		return runTray(ctx, appCfg, presenters, serve)
	default:
		return runHeadless(ctx, appCfg, presenters, serve)
	}
}

// runHeadless starts capture immediately and runs until ctx is cancelled.
func runHeadless(ctx context.Context, appCfg app.Config, presenters present.Multi, serve func(*app.App)) error {
	loop := present.NewLoop(16)
	go loop.Run(ctx)

	appCfg.Presenter = presenters
	appCfg.UI = loop
	a := app.New(appCfg)
	defer a.Close()
	serve(a)

	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// runWindow shows the desktop window; capture starts from its button.
func runWindow(ctx context.Context, appCfg app.Config, presenters present.Multi, serve func(*app.App)) error {
	var a *app.App
	w := window.New(fyneapp.NewWithID("dev.janken"), appCfg.Preview, func() (bool, error) {
		return a.Toggle(ctx)
	})

	// The hub and log get their own loop so WebSocket writes stay off the
	// fyne thread.
	loop := present.NewLoop(16)
	go loop.Run(ctx)
	appCfg.Presenter = present.Multi{present.On(w.Context(), w), present.On(loop, presenters)}
	appCfg.UI = present.Inline
	a = app.New(appCfg)
	defer a.Close()
	serve(a)

	w.ShowAndRun(ctx)
	return nil
}

// runTray starts capture and shows the tray menu.
func runTray(ctx context.Context, appCfg app.Config, presenters present.Multi, serve func(*app.App)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := present.NewLoop(16)
	go loop.Run(ctx)

	t := tray.New()
	appCfg.Presenter = append(present.Multi{t}, presenters...)
	appCfg.UI = loop
	a := app.New(appCfg)
	defer a.Close()
	serve(a)

	t.OnToggle(func(running bool) error {
		if !running {
			a.Stop()
			return nil
		}
		if err := a.Start(ctx); err != nil && !errors.Is(err, app.ErrRunning) {
			log.Printf("Failed to start capture: %v", err)
			return err
		}
		return nil
	})
	t.OnOpen(func() {
		if cfg.Addr == "" {
			return
		}
		if err := openBrowser("http://" + cfg.Addr); err != nil {
			log.Printf("Failed to open browser: %v", err)
		}
	})
	t.OnQuit(cancel)

	if err := a.Start(ctx); err != nil {
		log.Printf("Failed to start capture: %v", err)
	} else {
		t.SetRunning(true)
	}

	go func() {
		<-ctx.Done()
		t.Quit()
	}()
	t.Run()
	return nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", url, err)
	}
	return cmd.Process.Release()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.janken/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	candidates := []string{"web", "../web", "../../web", filepath.Join(cfg.DataDir, "web")}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
