package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/biometric"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/gate"
)

type EnrollOptions struct {
	*RootOptions
	EmbeddingFile string
	TemplateFile  string
}

// NewEnrollCommand creates the enroll command and its modality subcommands.
func NewEnrollCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnrollOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enroll",
		Short: "Store a biometric template for an enrolled student",
	}

	face := &cobra.Command{
		Use:   "face <student_no>",
		Short: "Import a precomputed face embedding (JSON array of numbers)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrollFace(cmd, opts, args[0])
		},
	}
	face.Flags().StringVar(&opts.EmbeddingFile, "embedding-file", "", "file holding the embedding")
	_ = face.MarkFlagRequired("embedding-file")

	fingerprint := &cobra.Command{
		Use:   "fingerprint <student_no>",
		Short: "Capture a fingerprint from the reader, or import a raw template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnrollFingerprint(cmd, opts, args[0])
		},
	}
	fingerprint.Flags().StringVar(&opts.TemplateFile, "template-file", "", "raw reader template to import instead of capturing")

	cmd.AddCommand(face, fingerprint)
	return cmd
}

func newEnroller(ctx context.Context, opts *EnrollOptions) (*biometric.Enroller, *stores, error) {
	key, err := biometric.ParseKey(opts.Config.TemplateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("template key: %w", err)
	}
	sealer, err := biometric.NewSealer(key)
	if err != nil {
		return nil, nil, err
	}
	s, err := openStores(ctx, opts.Config, opts.Logger, nil)
	if err != nil {
		return nil, nil, err
	}
	return biometric.NewEnroller(s.broker, sealer, nil, opts.Logger), s, nil
}

func runEnrollFace(cmd *cobra.Command, opts *EnrollOptions, studentNo string) error {
	raw, err := os.ReadFile(opts.EmbeddingFile)
	if err != nil {
		return err
	}
	var embedding []float32
	if err := json.Unmarshal(raw, &embedding); err != nil {
		return fmt.Errorf("parse %s: %w", opts.EmbeddingFile, errs.ErrInvalidArgument)
	}

	enroller, s, err := newEnroller(cmd.Context(), opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := enroller.EnrollFace(cmd.Context(), studentNo, embedding); err != nil {
		return err
	}
	printf(cmd, "face enrolled for %s\n", studentNo)
	return nil
}

func runEnrollFingerprint(cmd *cobra.Command, opts *EnrollOptions, studentNo string) error {
	ctx := cmd.Context()
	enroller, s, err := newEnroller(ctx, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts.TemplateFile != "" {
		tpl, err := os.ReadFile(opts.TemplateFile)
		if err != nil {
			return err
		}
		if err := enroller.EnrollFingerprint(ctx, studentNo, tpl); err != nil {
			return err
		}
		printf(cmd, "fingerprint imported for %s\n", studentNo)
		return nil
	}

	// No gate loop runs in this process, so the reader is ours.
	task := &gate.FingerprintEnrollment{
		Reader:   opts.Devices.Fingerprint,
		Loop:     freeReader{},
		Enroller: enroller,
		Logger:   opts.Logger,
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Config.EnrollTimeout)
	defer cancel()
	printf(cmd, "place a finger on the reader...\n")
	if err := task.Run(ctx, studentNo); err != nil {
		return err
	}
	printf(cmd, "fingerprint enrolled for %s\n", studentNo)
	return nil
}

type freeReader struct{}

func (freeReader) Lease(context.Context) (func(), error) { return func() {}, nil }
