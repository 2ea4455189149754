// Command facewatch is the single-binary pipeline: it loads configuration,
// builds the Orchestrator, and runs until an interrupt or terminate signal.
// Grounded on the teacher's cmd/worker and cmd/api main functions — same
// flag/exit-code/signal-channel shape, collapsed into the one process this
// system runs as.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/your-org/facewatch/internal/config"
	"github.com/your-org/facewatch/internal/orchestrator"
)

const (
	exitConfigError   = 1
	exitStartupFailed = 2
	exitInterrupted   = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	modelPath := flag.String("model", "models/det_10g.onnx", "path to the RetinaFace ONNX model")
	adminAddr := flag.String("admin-addr", ":8090", "admin API bind address")
	adminAPIKey := flag.String("admin-api-key", os.Getenv("FACEWATCH_ADMIN_API_KEY"), "admin API key (empty disables auth)")
	natsURL := flag.String("nats-url", os.Getenv("FACEWATCH_NATS_URL"), "NATS URL for the event mirror (empty disables it)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitConfigError
	}

	orch, err := orchestrator.New(orchestrator.Options{
		Config:      cfg,
		ModelPath:   *modelPath,
		AdminAddr:   *adminAddr,
		AdminAPIKey: *adminAPIKey,
		NATSURL:     *natsURL,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build pipeline: %v\n", err)
		return exitStartupFailed
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pipeline failed: %v\n", err)
		return exitStartupFailed
	}

	// Run only returns (with a nil error) once ctx.Done fires, which here
	// happens exclusively via the signal.NotifyContext above.
	return exitInterrupted
}
