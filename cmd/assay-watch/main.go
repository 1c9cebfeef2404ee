// assay-watch connects a live assay session against a running inference
// service, advances through the test tasks as detections arrive, and prints
// the purity reading when one lands.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pion/webrtc/v4"
	"go.opentelemetry.io/otel"

	"github.com/assaylab/assay-go/internal/dotenv"
	"github.com/assaylab/assay-go/pkg/media"
	"github.com/assaylab/assay-go/pkg/protocol"
	assay "github.com/assaylab/assay-go/sdk"
)

func main() {
	configPath := flag.String("config", "assay-watch.yaml", "path to yaml config")
	envPath := flag.String("env", ".env", "path to env file")
	listDevices := flag.Bool("list-devices", false, "list capture devices and exit")
	flag.Parse()

	if *listDevices {
		devices, err := media.ListDevices()
		if err != nil {
			fmt.Fprintln(os.Stderr, "list devices:", err)
			os.Exit(1)
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return
	}

	if err := dotenv.LoadFile(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("watch failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	opts := []assay.ClientOption{
		assay.WithLogger(logger),
		assay.WithTracer(otel.Tracer("assay-watch")),
	}
	if cfg.APIKey != "" {
		opts = append(opts, assay.WithAPIKey(cfg.APIKey))
	}
	client := assay.NewClient(cfg.BaseURL, opts...)

	ctrl := assay.NewController(client,
		assay.WithConstraints(media.Constraints{
			Device:    cfg.Device,
			Width:     media.ValueRange{Ideal: cfg.Width},
			Height:    media.ValueRange{Ideal: cfg.Height},
			FrameRate: media.ValueRange{Ideal: cfg.FPS},
		}),
		assay.WithICEServers(iceServers(cfg.ICEServers)),
	)
	defer ctrl.Disconnect()

	ctrl.OnConnectionStateChange(func(state assay.ConnectionState) {
		logger.Info("connection state", "state", string(state))
	})
	ctrl.OnStatusChange(func(status protocol.SessionStatus) {
		logger.Info("status",
			"task", status.CurrentTask,
			"rubbing", status.DetectionStatus.RubbingDetected,
			"acid", status.DetectionStatus.AcidDetected,
		)
		advance(ctx, ctrl, status, logger)
	})

	sess, err := ctrl.Connect(ctx, assay.ConnectOptions{DeviceID: cfg.Device})
	if err != nil {
		return err
	}
	logger.Info("session established", "session_id", sess.ID(), "mode", string(sess.Mode()))

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// advance walks the task sequence as the service recognizes each step:
// rubbing detected moves to acid, acid detected moves to done, and a purity
// reading ends the run.
func advance(ctx context.Context, ctrl *assay.Controller, status protocol.SessionStatus, logger *slog.Logger) {
	switch status.CurrentTask {
	case protocol.TaskRubbing:
		if status.DetectionStatus.RubbingDetected {
			if !ctrl.SetTask(ctx, assay.TaskAcid) {
				logger.Warn("could not advance to acid task")
			}
		}
	case protocol.TaskAcid:
		if status.DetectionStatus.AcidDetected {
			if !ctrl.SetTask(ctx, assay.TaskDone) {
				logger.Warn("could not advance to done task")
			}
		}
	case protocol.TaskDone:
		if purity := status.DetectionStatus.GoldPurity; purity != nil {
			logger.Info("purity reading", "gold_purity", *purity)
		}
	}
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
