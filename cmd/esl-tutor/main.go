// Command esl-tutor is the NavTalk speech-to-speech English tutoring client.
// It holds one realtime conversation session at a time, driven by simple
// commands on stdin, and exposes Prometheus metrics and health probes when a
// telemetry listen address is configured.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/natefinch/lumberjack"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/navtalk/esl-tutor/internal/config"
	"github.com/navtalk/esl-tutor/internal/health"
	"github.com/navtalk/esl-tutor/internal/observe"
	"github.com/navtalk/esl-tutor/internal/session"
	"github.com/navtalk/esl-tutor/internal/transcript"
)

// version is stamped via -ldflags at release time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment and configuration ─────────────────────────────────────────
	// .env is loaded first so NAVTALK_* variables are visible to the config
	// loader; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "esl-tutor: load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "esl-tutor: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Log.Level))
	logger := newLogger(cfg.Log, level)
	slog.SetDefault(logger)

	slog.Info("esl-tutor starting",
		"version", version,
		"config", *configPath,
		"host", cfg.Service.Host,
		"model", cfg.Session.Model,
		"character", cfg.Session.Character,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("init telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Transcript and session ────────────────────────────────────────────────
	store := transcript.NewFileStore(cfg.History.Path, cfg.History.MaxEntries)
	history := transcript.NewLog(store, cfg.History.MaxEntries)

	mgr := session.NewManager(cfg, history,
		session.WithLogger(logger),
		session.WithMetrics(metrics),
	)
	defer mgr.Disconnect()

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Voice, prompt and log level changes apply to the live session; other
	// settings take effect on the next connect.
	watcher, err := config.NewWatcher(*configPath, func(old, cur *config.Config) {
		diff := config.Compare(old, cur)
		if diff.Empty() {
			return
		}
		if diff.VoiceChanged {
			mgr.SetVoice(cur.Session.Voice)
			slog.Info("voice changed", "voice", cur.Session.Voice)
		}
		if diff.PromptChanged {
			mgr.SetPrompt(cur.Session.Prompt)
			slog.Info("prompt changed")
		}
		if diff.CharacterChanged {
			mgr.SetCharacter(cur.Session.Character)
			slog.Info("character changed", "character", cur.Session.Character)
		}
		if diff.LogLevelChanged {
			level.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.Handler())

		probes := health.New()
		probes.AddCheck("session", func(context.Context) error {
			if mgr.Status() == session.StatusError {
				return errors.New(mgr.ErrorMessage())
			}
			return nil
		})
		probes.Register(mux)

		srv := &http.Server{
			Addr:              cfg.Metrics.ListenAddr,
			Handler:           observe.Middleware(metrics)(mux),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("telemetry listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		slog.Info("telemetry listening", "addr", cfg.Metrics.ListenAddr)
	}

	g.Go(func() error { return commandLoop(gctx, os.Stdin, os.Stdout, mgr) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Command loop ──────────────────────────────────────────────────────────────

const helpText = `commands:
  connect      open a tutoring session
  disconnect   end the session
  toggle       connect or disconnect, whichever applies
  say <text>   send a text message to the tutor
  mic          toggle the microphone mute
  mute/unmute  set the microphone mute explicitly
  voice <v>    change the speech voice
  prompt <p>   change the tutoring prompt (empty restores the default)
  status       show session state
  history      print the conversation transcript
  clear        wipe the stored transcript
  quit         exit`

// commandLoop drives the session from line-based commands until EOF, quit, or
// context cancellation.
func commandLoop(ctx context.Context, in io.Reader, out io.Writer, mgr *session.Manager) error {
	fmt.Fprintln(out, "NavTalk ESL tutor — type 'help' for commands")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return context.Canceled
			}
			cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
			arg = strings.TrimSpace(arg)

			switch cmd {
			case "":
			case "connect":
				if err := mgr.Connect(ctx); err != nil {
					fmt.Fprintln(out, "error:", err)
				}
			case "disconnect":
				mgr.Disconnect()
			case "toggle":
				if err := mgr.ToggleSession(ctx); err != nil {
					fmt.Fprintln(out, "error:", err)
				}
			case "say":
				if arg == "" {
					fmt.Fprintln(out, "usage: say <text>")
					continue
				}
				if err := mgr.SendText(arg); err != nil {
					fmt.Fprintln(out, "error:", err)
				}
			case "mic":
				mgr.ToggleMicrophone()
				printMute(out, mgr)
			case "mute":
				mgr.Mute()
				printMute(out, mgr)
			case "unmute":
				mgr.Unmute()
				printMute(out, mgr)
			case "voice":
				if arg == "" {
					fmt.Fprintln(out, "usage: voice <name>")
					continue
				}
				mgr.SetVoice(arg)
			case "prompt":
				mgr.SetPrompt(arg)
			case "status":
				printStatus(out, mgr)
			case "history":
				printHistory(out, mgr)
			case "clear":
				mgr.ClearHistory()
				fmt.Fprintln(out, "transcript cleared")
			case "help":
				fmt.Fprintln(out, helpText)
			case "quit", "exit":
				return context.Canceled
			default:
				fmt.Fprintf(out, "unknown command %q — type 'help'\n", cmd)
			}
		}
	}
}

func printStatus(out io.Writer, mgr *session.Manager) {
	fmt.Fprintln(out, "status:", mgr.Status())
	if msg := mgr.ErrorMessage(); msg != "" {
		fmt.Fprintln(out, "message:", msg)
	}
	fmt.Fprintln(out, "muted:", mgr.Muted())
	fmt.Fprintln(out, "video:", mgr.VideoStreaming())
	fmt.Fprintln(out, "user speaking:", mgr.UserSpeaking())
	fmt.Fprintln(out, "tutor thinking:", mgr.Thinking())
}

func printHistory(out io.Writer, mgr *session.Manager) {
	entries := mgr.Transcript()
	if len(entries) == 0 {
		fmt.Fprintln(out, "(no transcript)")
		return
	}
	for _, e := range entries {
		marker := ""
		if e.Streaming {
			marker = " …"
		}
		fmt.Fprintf(out, "[%s] %s%s\n", e.Speaker, e.Text, marker)
	}
}

func printMute(out io.Writer, mgr *session.Manager) {
	if mgr.Muted() {
		fmt.Fprintln(out, "microphone muted")
	} else {
		fmt.Fprintln(out, "microphone live")
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

// newLogger builds the process logger: rotating file output when configured,
// stderr otherwise. The level var stays adjustable for hot reload.
func newLogger(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	var w io.Writer = os.Stderr
	if cfg.File != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
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
