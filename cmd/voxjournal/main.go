// Command voxjournal runs one spoken journaling session against the local
// microphone and speaker, then prints and stores its summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MrWong99/voxjournal/internal/app"
	"github.com/MrWong99/voxjournal/internal/config"
	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/internal/turn"
	"github.com/MrWong99/voxjournal/pkg/audio/device"
	"github.com/MrWong99/voxjournal/pkg/provider/stt"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFiles := flag.String("env", ".env", "comma-separated dotenv files loaded before the config")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("voxjournal", version)
		return 0
	}

	if err := config.LoadEnv(strings.Split(*envFiles, ",")...); err != nil {
		fmt.Fprintf(os.Stderr, "voxjournal: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	watcher, err := config.NewWatcher(*configPath, func(_, newCfg *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if (d.TurnChanged || d.SessionChanged) && application != nil {
			application.ApplyConfig(newCfg)
			slog.Info("turn tuning reloaded, applies to the next session")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxjournal: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxjournal: %v\n", err)
		}
		return 1
	}
	cfg := watcher.Current()
	level.Set(slogLevel(cfg.Server.LogLevel))

	slog.Info("voxjournal starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"store", string(cfg.Store.Driver),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	capture := device.NewCapture(cfg.Audio.SampleRate, cfg.Audio.FrameMS)
	playback, err := device.NewPlayback(cfg.Audio.SampleRate, uint32(cfg.Audio.PlaybackBufferMS))
	if err != nil {
		slog.Error("failed to open playback device", "err", err)
		return 1
	}
	defer playback.Close()

	printStartupSummary(cfg)

	application, err = app.New(ctx, cfg, providers,
		app.WithAudio(capture, playback),
		app.WithMetrics(metrics),
		app.WithGatherer(promReg),
		app.WithEventHandler(printEvent),
		app.WithResultHandler(printResult),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	go watcher.Run(ctx)

	fmt.Println("Listening. Speak freely; press Ctrl+C to end the session.")

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, stt.ErrPermissionDenied) {
			fmt.Fprintln(os.Stderr, "voxjournal: microphone or speech recognition access was denied")
		}
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Console output ────────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voxjournal, startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("Fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)), "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("Store", string(cfg.Store.Driver), "")
	if cfg.Session.MaxDuration > 0 {
		fmt.Printf("║  Time limit      : %-19s ║\n", cfg.Session.MaxDuration)
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// printEvent renders the events a person in front of the terminal cares
// about. Level and clock ticks are too frequent to print.
func printEvent(ev turn.Event) {
	switch e := ev.(type) {
	case turn.TurnEvent:
		fmt.Printf("%s: %s\n", e.Turn.Speaker, e.Turn.Text)
	case turn.WarningEvent:
		fmt.Printf("(about %s left)\n", e.Remaining.Round(time.Minute))
	case turn.BargeInEvent:
		fmt.Println("(listening)")
	case turn.ErrorEvent:
		slog.Warn("session error", "err", e.Err)
	}
}

func printResult(r app.Result) {
	out := r.Outcome
	fmt.Println()
	fmt.Printf("Session %s ended after %s", out.SessionID, out.Duration().Round(time.Second))
	if out.EndedByLimit() {
		fmt.Print(" (time limit reached)")
	}
	fmt.Println(".")
	if r.Err != nil {
		fmt.Fprintf(os.Stderr, "voxjournal: %v\n", r.Err)
	}
	s := r.Summary
	if s == nil {
		fmt.Println("Nothing was recorded.")
		return
	}
	fmt.Printf("Tone: %s", s.Tone)
	if len(s.SupportingTones) > 0 {
		fmt.Printf(" (%s)", strings.Join(s.SupportingTones, ", "))
	}
	fmt.Println()
	for _, b := range s.Display() {
		fmt.Println("  •", b)
	}
	if s.GratitudeMentions > 0 {
		fmt.Printf("Gratitude mentions: %d\n", s.GratitudeMentions)
	}
	if s.Recommendation != "" {
		fmt.Println("Next:", s.Recommendation)
	}
}
