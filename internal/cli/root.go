// Package cli implements the citadel-gate command tree.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/device"
	"github.com/BrandonDHaskell/Citadel/gate/internal/config"
)

// Devices are the hardware and inference collaborators handed to serve and
// enroll. Site builds pass their drivers; the stock binary passes
// UnpluggedDevices.
type Devices struct {
	Camera      device.CameraOpener
	Fingerprint device.FingerprintOpener
	Detector    device.FaceDetector
	Embedder    device.FaceEmbedder
}

func UnpluggedDevices() Devices {
	return Devices{
		Camera:      device.Unplugged{Name: "camera"}.Camera(),
		Fingerprint: device.Unplugged{Name: "fingerprint reader"},
		Detector:    device.Unplugged{Name: "face detector"},
		Embedder:    device.Unplugged{Name: "face embedder"},
	}
}

// RootOptions holds global flags and the state every command shares once
// PersistentPreRunE has run.
type RootOptions struct {
	ConfigPath string

	Config  config.Config
	Logger  *slog.Logger
	Devices Devices
}

// NewRootCommand creates the root command for the gate binary.
func NewRootCommand(dev Devices) *cobra.Command {
	opts := &RootOptions{Devices: dev}

	cmd := &cobra.Command{
		Use:           "citadel-gate",
		Short:         "Campus gate access: QR, face and fingerprint verification",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.Config = cfg
			opts.Logger = newLogger(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "YAML config file (default $CITADEL_CONFIG)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewEnrollCommand(opts))

	return cmd
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
