package device

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/srg/blecentral/internal/groutine"
)

// RSSISample is one connection RSSI reading.
type RSSISample struct {
	RSSI int
	At   time.Time
}

// PollRSSI enqueues a ReadRSSI action at most once per interval and streams the
// readings. Polls share the device queue with every other action. The stream is
// closed when ctx ends or the link goes away.
func (d *Device) PollRSSI(ctx context.Context, interval time.Duration) <-chan RSSISample {
	out := make(chan RSSISample, 1)
	if interval <= 0 {
		interval = time.Second
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	groutine.Go(ctx, "rssi-poller-"+string(d.id), d.logger, func(ctx context.Context) {
		defer close(out)
		for {
			if err := limiter.Wait(ctx); err != nil {
				return
			}

			res, err := d.Perform(ctx, ReadRSSI{})
			switch {
			case err == nil:
			case errors.Is(err, ErrNotConnected), errors.Is(err, ErrClosed), ctx.Err() != nil:
				d.logger.WithFields(logrus.Fields{
					"device_id": d.id,
					"error":     err,
				}).Debug("RSSI polling stopped")
				return
			default:
				d.logger.WithFields(logrus.Fields{
					"device_id": d.id,
					"error":     err,
				}).Warn("RSSI read failed")
				continue
			}

			select {
			case out <- RSSISample{RSSI: res.RSSI, At: time.Now()}:
			case <-ctx.Done():
				return
			}
		}
	})
	return out
}
