package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/realtime-stt-lab/internal/capture"
	"github.com/realtime-stt-lab/internal/config"
	"github.com/realtime-stt-lab/internal/logging"
	"github.com/realtime-stt-lab/internal/mcp"
	"github.com/realtime-stt-lab/internal/server"
	"github.com/realtime-stt-lab/internal/voice"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "sessions" {
		os.Exit(querySessions(os.Args[2:]))
	}

	cfg, err := config.Load()
	sugar := logging.InitLevel(cfg.LogLevel)
	if err != nil {
		logging.FatalExitf("invalid configuration", "err", err)
	}
	defer func() { _ = logging.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	deps := voice.Deps{
		Scorer: newScorer(cfg),
		Pool: voice.NewTranscriptionPool(
			voice.NewWhisperClient(cfg.WhisperURL, cfg.WhisperTimeout()),
			cfg.MaxConcurrentTranscription,
			cfg.TranscriptionQueueSize,
		),
	}
	if cfg.SaveAudio.Enabled {
		store, err := capture.NewStore(cfg.SaveAudio.Dir)
		if err != nil {
			logging.FatalExitf("capture store", "dir", cfg.SaveAudio.Dir, "err", err)
		}
		if store != nil {
			store.StartCleaner(ctx, &wg, cfg.SaveAudio.Retention, cfg.SaveAudio.Interval, cfg.SaveAudio.MaxFiles)
			deps.Recorder = store
			sugar.Infow("saving accepted utterances", "dir", cfg.SaveAudio.Dir)
		}
	}

	registry := voice.NewRegistry(deps, cfg.MaxSessions)
	gw := server.New(ctx, registry, cfg.Session, version)
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infow("stt-gateway listening",
			"addr", cfg.ListenAddr,
			"whisper_url", cfg.WhisperURL,
			"scorer_url", cfg.ScorerURL,
			"max_sessions", cfg.MaxSessions,
			"max_concurrent_transcriptions", cfg.MaxConcurrentTranscription,
			"version", version)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if cfg.MCPRegistryURL != "" {
		go func() {
			rec := mcp.Registration{Name: "stt-gateway", URL: cfg.AdvertiseURL}
			if err := mcp.Register(ctx, nil, cfg.MCPRegistryURL, rec); err != nil {
				sugar.Warnw("mcp registration failed", "err", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		sugar.Infow("shutdown signal received, closing resources")
	case err := <-errCh:
		if err != nil {
			sugar.Errorw("http server failed", "err", err)
		}
	}

	gw.Drain()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("http shutdown incomplete", "err", err)
	}
	// Hijacked websocket connections are not tracked by http.Server.
	registry.Shutdown()
	cancel()
	wg.Wait()
	sugar.Infow("shutdown complete")
}

func newScorer(cfg config.Config) voice.Scorer {
	if cfg.ScorerURL != "" {
		return voice.NewHTTPScorer(cfg.ScorerURL, cfg.ScorerTimeout())
	}
	return voice.NewEnergyScorer()
}

// querySessions implements `stt-gateway sessions <url>`, printing the
// active_sessions tool result of a running gateway.
func querySessions(args []string) int {
	base := "http://localhost:8080"
	if len(args) > 0 {
		base = args[0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c := mcp.NewClientWrapper("stt-gateway-cli", version)
	if err := c.ConnectWebSocket(ctx, base+"/mcp/ws"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer func() { _ = c.Close() }()

	res, err := c.ActiveSessions(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
	return 0
}
