package device

import (
	"context"
	"fmt"
	"image"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
)

// Unplugged satisfies every device interface and fails each call with
// errs.ErrHardware. The gate keeps running on it: QR claims time out at
// face confirmation and the fingerprint loop backs off.
type Unplugged struct {
	Name string
}

func (u Unplugged) err() error {
	return fmt.Errorf("%s not connected: %w", u.label(), errs.ErrHardware)
}

func (u Unplugged) label() string {
	if u.Name == "" {
		return "device"
	}
	return u.Name
}

func (u Unplugged) Open(context.Context) (FingerprintReader, error) { return nil, u.err() }

// Camera returns an opener that always fails.
func (u Unplugged) Camera() CameraOpener { return unpluggedCamera{u} }

func (u Unplugged) Detect(context.Context, image.Image) ([]Detection, error) { return nil, u.err() }

func (u Unplugged) Embed(context.Context, image.Image) ([]float32, error) { return nil, u.err() }

type unpluggedCamera struct{ u Unplugged }

func (c unpluggedCamera) Open(context.Context) (Camera, error) { return nil, c.u.err() }
