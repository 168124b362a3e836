package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrel-systems/faceaccess/internal/actuator"
	"github.com/kestrel-systems/faceaccess/internal/camera"
	"github.com/kestrel-systems/faceaccess/internal/config"
	"github.com/kestrel-systems/faceaccess/internal/face"
	"github.com/kestrel-systems/faceaccess/internal/logging"
	"github.com/kestrel-systems/faceaccess/internal/pipeline"
	"github.com/kestrel-systems/faceaccess/internal/policy"
	"github.com/kestrel-systems/faceaccess/internal/protocol"
	"github.com/kestrel-systems/faceaccess/internal/store"
	"github.com/kestrel-systems/faceaccess/internal/supervisor"
	"github.com/kestrel-systems/faceaccess/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the access controller",
	Long: `Run starts the recognition pipeline and the BLE registration service
together, restarting either on error and pinging a liveness watchdog until
it receives SIGINT or SIGTERM.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().String("config", "", "Path to the YAML configuration file (required)")
	runCmd.Flags().String("log-level", "", "Override the configured log level (trace|debug|info|warn|error)")
	runCmd.Flags().String("log-dir", "", "Directory to additionally mirror logs into")
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath := mustGetString(cmd, "config")
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logLevel := cfg.LogLevel
	if override := mustGetString(cmd, "log-level"); override != "" {
		logLevel = override
	}
	log := logging.New(logLevel, mustGetString(cmd, "log-dir"))

	st, err := store.Open(cfg.Database.Path, cfg.Face.EmbeddingDim, func(op string, err error) {
		logging.For(log, "store").Error().Str("op", op).Err(err).Msg("store error")
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	act, err := actuator.New(actuator.Config{
		GPIOChip:        cfg.Lock.GPIOChip,
		GPIOPin:         cfg.Lock.GPIOPin,
		ActiveHigh:      cfg.Lock.ActiveHigh,
		MockMode:        cfg.Lock.MockMode,
		ButtonPin:       cfg.Lock.ButtonPin,
		ButtonActiveLow: cfg.Lock.ButtonActiveLow,
		ButtonDebounce:  time.Duration(cfg.Lock.ButtonDebounceMs) * time.Millisecond,
		UnlockDuration:  time.Duration(cfg.Access.UnlockDurationSec * float64(time.Second)),
	}, logging.For(log, "actuator"))
	if err != nil {
		return fmt.Errorf("opening actuator: %w", err)
	}
	defer act.Cleanup()

	if cfg.Lock.ButtonPin != nil {
		act.StartButtonMonitor(func() {
			act.Unlock(0)
			st.LogAccessAttempt(context.Background(), store.AuditRecord{
				Timestamp: time.Now(),
				EventType: "exit_button",
				Result:    "granted",
				Reason:    "Exit button pressed",
			})
		})
	}

	cam, err := camera.NewFromConfig(cfg.Camera)
	if err != nil {
		return fmt.Errorf("configuring camera: %w", err)
	}

	detector, err := face.NewHTTPDetector(cfg.Face.EmbedderURL)
	if err != nil {
		return fmt.Errorf("configuring detector: %w", err)
	}
	embedder, err := face.NewEmbedder(cfg.Face)
	if err != nil {
		return fmt.Errorf("configuring embedder: %w", err)
	}
	aligner := face.NewAligner(cfg.Face.InputSize)

	pol := policy.New(policy.Config{
		GlobalCooldown:       time.Duration(cfg.Access.CooldownSec * float64(time.Second)),
		MaxAttemptsPerMinute: cfg.Access.MaxAttemptsPerMinute,
		GrantedLockout:       time.Duration(cfg.Access.GrantedLockoutSec * float64(time.Second)),
	})

	pipelineCfg := pipeline.DefaultConfig()
	pipelineCfg.MaxReadFailures = cfg.Camera.MaxReadFailures
	pipelineCfg.MaxReopenAttempts = cfg.Camera.MaxReopenAttempts
	pipelineCfg.SimilarityThreshold = cfg.Face.SimilarityThreshold
	pipelineCfg.InputSize = cfg.Face.InputSize
	pipelineCfg.Quality.MinFaceSize = cfg.Face.QualityMinFaceSize
	pipelineCfg.Quality.BlurThreshold = cfg.Face.QualityBlurThreshold

	p := pipeline.New(pipelineCfg, logging.For(log, "pipeline"), cam, detector, aligner, embedder, pol, st, act)

	auth := protocol.NewAuthenticator(cfg.BLE.SharedSecret, cfg.BLE.HMACEnabled)
	dispatcher := protocol.NewDispatcher(st, auth, cfg.Access.AdminModeEnabled, cfg.BLE.MaxPhotoSize, p.Enroll)

	components := []supervisor.Component{
		{Name: "pipeline", Run: p.Run},
	}
	if cfg.BLE.UseRealBLE {
		peripheral := transport.NewPeripheral(transport.Config{
			DeviceName:       cfg.BLE.DeviceName,
			ServiceUUID:      cfg.BLE.ServiceUUID,
			CommandCharUUID:  cfg.BLE.CommandCharUUID,
			ResponseCharUUID: cfg.BLE.ResponseCharUUID,
			FragmentBudget:   cfg.BLE.PhotoChunkSize,
		}, dispatcher.Dispatch, logging.For(log, "transport"))
		components = append(components, supervisor.Component{Name: "ble", Run: peripheral.Start})
	} else {
		log.Warn().Msg("ble.use_real_ble is false; registration service is disabled for this run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	if err := supervisor.Notify("READY=1"); err != nil {
		log.Warn().Err(err).Msg("sd_notify READY failed")
	}
	sup := supervisor.New(log, func() {
		if err := supervisor.Notify("WATCHDOG=1"); err != nil {
			log.Warn().Err(err).Msg("sd_notify WATCHDOG failed")
		}
	}, components...)

	err = sup.Run(ctx)
	if notifyErr := supervisor.Notify("STOPPING=1"); notifyErr != nil {
		log.Warn().Err(notifyErr).Msg("sd_notify STOPPING failed")
	}
	return err
}
