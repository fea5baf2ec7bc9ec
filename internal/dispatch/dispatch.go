package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flatseek/internal/auth"
	"flatseek/internal/compose"
	"flatseek/internal/config"
	"flatseek/internal/metrics"
	"flatseek/internal/model"
	"flatseek/internal/store/botdb"
	"flatseek/internal/wgclient"
)

// Sender is the slice of the protocol client the dispatcher sends with.
type Sender interface {
	ContactOffer(ctx context.Context, sess *model.Session, offerID, message string) error
	GetOfferDetail(ctx context.Context, sess *model.Session, offerID string) (wgclient.OfferDetail, error)
}

// Sessions yields a valid session for each send.
type Sessions interface {
	EnsureValidSession(ctx context.Context) (*model.Session, error)
}

// Result summarizes one dispatch pass.
type Result struct {
	Attempted int
	Sent      int
	Failed    int
	Skipped   int
	Errors    []string
}

// Dispatcher walks the filtered listings in order, composes and sends up
// to the per-run cap, marks contacts durably, and isolates per-listing
// failures.
type Dispatcher struct {
	sessions Sessions
	api      Sender
	store    *botdb.DB
	composer *compose.Composer
	cfg      config.BotConfig
	log      *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(sessions Sessions, api Sender, store *botdb.DB, composer *compose.Composer, cfg config.BotConfig, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		api:      api,
		store:    store,
		composer: composer,
		cfg:      cfg,
		log:      log,
		sleep:    sleepCtx,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run dispatches messages for the given listings. The returned error is
// non-nil only for terminal conditions (auth invalidation, cancelled
// context); individual send failures are recorded in the Result and do
// not abort the pass.
func (d *Dispatcher) Run(ctx context.Context, listings []model.Listing) (Result, error) {
	var res Result

	budget := d.cfg.MaxMessagesPerRun
	if budget <= 0 {
		budget = len(listings)
	}
	if !d.cfg.DryRun && d.cfg.MaxMessagesPerDay > 0 {
		now := d.now()
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		sentToday, err := d.store.CountSentSince(ctx, dayStart)
		if err != nil {
			return res, err
		}
		if remaining := d.cfg.MaxMessagesPerDay - sentToday; remaining < budget {
			budget = remaining
		}
		if budget <= 0 {
			d.log.Info("daily message budget exhausted",
				zap.Int("max_per_day", d.cfg.MaxMessagesPerDay))
			return res, nil
		}
	}

	delay := time.Duration(d.cfg.DelayBetweenSeconds) * time.Second
	for _, l := range listings {
		if res.Attempted >= budget {
			break
		}
		if d.store.IsContacted(l.ID) {
			res.Skipped++
			continue
		}
		if res.Attempted > 0 {
			if err := d.sleep(ctx, delay); err != nil {
				return res, err
			}
		}
		res.Attempted++

		if err := d.dispatchOne(ctx, l); err != nil {
			if errors.Is(err, auth.ErrInvalidated) || errors.Is(err, context.Canceled) {
				return res, err
			}
			res.Failed++
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", l.ID, err))
			metrics.SendErrors.Inc()
			d.log.Error("send failed",
				zap.String("listing_id", l.ID),
				zap.Error(err))
			continue
		}
		res.Sent++
	}
	return res, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, l model.Listing) error {
	var detail *wgclient.OfferDetail
	if d.composer.Personalized() {
		// Ad details only feed the personalization prompt; a failed
		// lookup is not a reason to skip the listing.
		sess, err := d.sessions.EnsureValidSession(ctx)
		if err != nil {
			return err
		}
		if dt, err := d.api.GetOfferDetail(ctx, sess, l.ID); err == nil {
			detail = &dt
		} else {
			d.log.Debug("offer detail fetch failed", zap.String("listing_id", l.ID), zap.Error(err))
		}
	}

	draft := d.composer.Compose(ctx, l, detail)

	if d.cfg.DryRun {
		d.log.Info("dry run, would send",
			zap.String("listing_id", l.ID),
			zap.String("title", truncate(l.Title, 50)),
			zap.Bool("personalized", draft.Personalized),
			zap.String("preview", truncate(draft.Text, 100)))
		if d.cfg.MarkContactedInDryRun {
			return d.store.MarkContacted(ctx, l.ID, true)
		}
		return nil
	}

	sess, err := d.sessions.EnsureValidSession(ctx)
	if err != nil {
		return err
	}
	if err := d.api.ContactOffer(ctx, sess, l.ID, draft.Text); err != nil {
		return err
	}
	metrics.MessagesSent.Inc()
	d.log.Info("message sent",
		zap.String("listing_id", l.ID),
		zap.String("title", truncate(l.Title, 50)),
		zap.Bool("personalized", draft.Personalized))
	// Mark durably before any sleep or cycle boundary. A crash between
	// the send above and this write is the accepted duplicate-contact
	// window.
	return d.store.MarkContacted(ctx, l.ID, false)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
