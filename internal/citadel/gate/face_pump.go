package gate

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/errs"
)

// runCamera reads frames for one awaiting-face session and feeds them to a
// single verification worker. Frames that arrive while a pass is running
// are dropped.
func (c *Controller) runCamera(ctx context.Context, session, claimed string) {
	log := c.logger.With("session", session)

	cam, err := c.deps.Camera.Open(ctx)
	for err != nil {
		log.Warn("camera unavailable", "error", errors.Join(errs.ErrHardware, err))
		if !sleepCtx(ctx, c.cfg.HardwareRetry) {
			return
		}
		cam, err = c.deps.Camera.Open(ctx)
	}
	defer cam.Close()

	frames := make(chan image.Image)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for frame := range frames {
			g, err := c.deps.Gallery.Load(ctx, false)
			if err != nil {
				log.Warn("gallery unavailable", "error", err)
				continue
			}
			res := c.deps.Faces.Match(ctx, claimed, frame, g)
			if ctx.Err() != nil {
				return
			}
			c.post(event{kind: evFaceResult, session: session, face: res})
		}
	}()
	defer func() {
		close(frames)
		wg.Wait()
	}()

	for {
		frame, err := cam.Read(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn("camera read failed", "error", errors.Join(errs.ErrHardware, err))
			if !sleepCtx(ctx, c.cfg.HardwareRetry) {
				return
			}
			continue
		}
		select {
		case frames <- frame:
		default:
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
