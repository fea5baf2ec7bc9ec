package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"flatseek/internal/auth"
	"flatseek/internal/config"
	"flatseek/internal/dispatch"
	"flatseek/internal/fetch"
	"flatseek/internal/metrics"
	"flatseek/internal/model"
	"flatseek/internal/schedule"
	"flatseek/internal/store/botdb"
	"flatseek/internal/wgclient"
)

// Bot drives one fetch → filter → compose → dispatch cycle and the
// scheduler loop around it. Only the store and the auth manager carry
// state across cycles.
type Bot struct {
	api        *wgclient.Client
	auth       *auth.Manager
	store      *botdb.DB
	collector  *fetch.Collector
	dispatcher *dispatch.Dispatcher
	cfg        config.Config
	log        *zap.Logger

	cityID string // resolved once per process
}

func NewBot(api *wgclient.Client, am *auth.Manager, store *botdb.DB, collector *fetch.Collector, dispatcher *dispatch.Dispatcher, cfg config.Config, log *zap.Logger) *Bot {
	return &Bot{
		api:        api,
		auth:       am,
		store:      store,
		collector:  collector,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

// Criteria builds the per-run filter snapshot from the search config.
func Criteria(s config.SearchConfig) model.FilterCriteria {
	return model.FilterCriteria{
		Districts:        s.Districts,
		MaxRent:          s.MaxRent,
		MinSize:          s.MinSize,
		Categories:       s.Categories,
		AllowTimeLimited: s.AllowTimeLimited,
		TargetCount:      s.TargetCount,
	}
}

// RunCycleOnce executes one full cycle and appends a run record whatever
// the outcome. The returned error is non-nil only for terminal
// conditions (auth invalidation, cancellation); everything recoverable
// is folded into the record.
func (b *Bot) RunCycleOnce(ctx context.Context) (model.RunRecord, error) {
	start := time.Now()
	metrics.Cycles.Inc()
	rec := model.RunRecord{
		ID:        uuid.NewString(),
		Timestamp: start.UTC(),
		DryRun:    b.cfg.Bot.DryRun,
	}
	defer func() {
		if len(rec.Errors) > 0 {
			metrics.CycleErrors.Inc()
		}
		if err := b.store.PutRun(ctx, rec); err != nil {
			b.log.Warn("run record write failed", zap.Error(err))
		}
		metrics.ObserveCycleDuration(start)
	}()

	sess, err := b.auth.EnsureValidSession(ctx)
	if err != nil {
		rec.Errors = append(rec.Errors, "auth: "+err.Error())
		if errors.Is(err, auth.ErrInvalidated) || ctx.Err() != nil {
			return rec, err
		}
		// Recoverable auth trouble: skip this cycle, the next one
		// retries.
		b.log.Warn("cycle skipped, no valid session", zap.Error(err))
		return rec, nil
	}

	if b.cityID == "" {
		id, name, err := b.api.FindCity(ctx, sess, b.cfg.Search.City)
		if err != nil {
			rec.Errors = append(rec.Errors, "city lookup: "+err.Error())
			return rec, nil
		}
		b.cityID = id
		b.log.Info("city resolved", zap.String("city", name), zap.String("city_id", id))
	}

	crit := Criteria(b.cfg.Search)
	collected, stats, err := b.collector.Collect(ctx, sess, b.cityID, crit)
	if err != nil {
		// The cycle proceeds with whatever the collector managed to
		// gather before failing.
		rec.Errors = append(rec.Errors, "fetch: "+err.Error())
		b.log.Warn("fetch ended early", zap.Error(err), zap.Int("collected", len(collected)))
	}
	rec.OffersSeen = stats.RawSeen
	rec.OffersMatched = len(collected)

	fresh := collected[:0:0]
	for _, l := range collected {
		if !b.store.IsContacted(l.ID) {
			fresh = append(fresh, l)
		}
	}
	rec.OffersNew = len(fresh)
	b.log.Info("cycle collected",
		zap.Int("pages", stats.PagesFetched),
		zap.Int("seen", stats.RawSeen),
		zap.Int("matched", len(collected)),
		zap.Int("new", len(fresh)))

	res, err := b.dispatcher.Run(ctx, fresh)
	rec.MessagesSent = res.Sent
	rec.Errors = append(rec.Errors, res.Errors...)
	if err != nil {
		rec.Errors = append(rec.Errors, "dispatch: "+err.Error())
		return rec, err
	}
	return rec, nil
}

// RunCycleLoop repeats cycles on a ticker until ctx is cancelled or auth
// is terminally invalidated. A failed cycle is logged and the loop keeps
// going; quiet hours skip the cycle entirely.
func (b *Bot) RunCycleLoop(ctx context.Context) error {
	interval := time.Duration(b.cfg.Bot.IntervalMinutes) * time.Minute
	t := time.NewTicker(interval)
	defer t.Stop()

	if err := b.runGuarded(ctx); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			b.log.Info("scheduler stopping")
			return ctx.Err()
		case <-t.C:
			if err := b.runGuarded(ctx); err != nil {
				return err
			}
		}
	}
}

func (b *Bot) runGuarded(ctx context.Context) error {
	now := time.Now().UTC()
	if schedule.InQuietHours(now, b.cfg.Bot.QuietHours) {
		b.log.Info("quiet hours, skipping cycle",
			zap.Time("next_window", schedule.NextWindow(now, b.cfg.Bot.QuietHours)))
		return nil
	}
	if _, err := b.RunCycleOnce(ctx); err != nil {
		if errors.Is(err, auth.ErrInvalidated) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		b.log.Error("cycle failed", zap.Error(err))
	}
	return nil
}
