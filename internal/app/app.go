// Package app wires the watcher together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"zpoolwatch/internal/config"
	"zpoolwatch/internal/heartbeat"
	"zpoolwatch/internal/intake"
	"zpoolwatch/internal/notifier"
	"zpoolwatch/internal/runtime/supervisor"
	"zpoolwatch/internal/scheduler"
	"zpoolwatch/internal/zpool"
	logx "zpoolwatch/pkg/logx"
	"zpoolwatch/pkg/systemd"
)

// stopGrace is added to the scheduler's flush timeout when waiting for
// workers on shutdown.
const stopGrace = 5 * time.Second

type App struct {
	cfgm     *config.Manager
	cfg      *config.Config
	settings config.Settings

	logs  *logx.Service
	log   logx.Logger
	runID string

	notifier  notifier.Notifier
	source    Source
	sched     *scheduler.Scheduler
	intake    *intake.Intake
	heartbeat *heartbeat.Service
	sd        *systemd.Notifier
}

type Option func(*options)

type options struct {
	notifier notifier.Notifier
	source   Source
}

// WithNotifier replaces the configured notifier driver.
func WithNotifier(n notifier.Notifier) Option { return func(o *options) { o.notifier = n } }

// WithSource replaces the zpool command source.
func WithSource(s Source) Option { return func(o *options) { o.source = s } }

// New loads the config at cfgPath (empty means built-in defaults) and builds
// every component. Nothing is started yet.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	settings, err := config.Resolve(cfg)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logSvc, root := logx.New(settings.Logging)
	root = root.With(logx.String("run", runID))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	n := o.notifier
	if n == nil {
		n, err = notifier.Open(notifier.Config{
			Driver:  settings.Notifier.Driver,
			Timeout: settings.Notifier.Timeout,
			Command: settings.Notifier.Command,
			Telegram: notifier.TelegramConfig{
				Token:      settings.Notifier.Telegram.Token,
				ChatID:     settings.Notifier.Telegram.ChatID,
				ThreadID:   settings.Notifier.Telegram.ThreadID,
				RatePerSec: float64(settings.Notifier.Telegram.RatePerSec),
				APIURL:     settings.Notifier.Telegram.APIURL,
			},
		}, root)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}

	src := o.source
	if src == nil {
		src = zpoolSource{zpool.New(zpool.Config{
			SnapshotCmd:   settings.Source.SnapshotCmd,
			FollowCmd:     settings.Source.FollowCmd,
			StatusCmd:     settings.Source.StatusCmd,
			StatusTimeout: settings.Source.StatusTimeout,
		}, root.With(logx.String("comp", "zpool")))}
	}

	sched, err := scheduler.New(scheduler.Config{
		Ladder:               settings.Scheduler.Ladder,
		MaxQuiet:             settings.Scheduler.MaxQuiet,
		OnFailure:            scheduler.FailurePolicy(settings.Scheduler.OnFailure),
		ShutdownFlushTimeout: settings.Scheduler.ShutdownFlushTimeout,
	}, n, root.With(logx.String("comp", "scheduler")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	in := intake.New(intakeConfig(settings.Intake), sched, src, root.With(logx.String("comp", "intake")))

	var hb *heartbeat.Service
	if settings.Heartbeat.Enabled {
		hb, err = heartbeat.New(heartbeat.Config{
			Schedule: settings.Heartbeat.Schedule,
			Timezone: settings.Heartbeat.Timezone,
			Prefix:   settings.Heartbeat.Prefix,
			Timeout:  settings.Notifier.Timeout,
		}, sched, n, root.With(logx.String("comp", "heartbeat")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
	}

	return &App{
		cfgm:      cfgm,
		cfg:       cfg,
		settings:  settings,
		logs:      logSvc,
		log:       log,
		runID:     runID,
		notifier:  n,
		source:    src,
		sched:     sched,
		intake:    in,
		heartbeat: hb,
		sd:        systemd.New(settings.Systemd.Notify, root.With(logx.String("comp", "systemd"))),
	}, nil
}

func intakeConfig(s config.IntakeSettings) intake.Config {
	return intake.Config{Ignore: s.Ignore, ScrubFinish: s.ScrubFinish}
}

// Scheduler exposes the coalescing worker (status only).
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Run sends the startup notification, starts every worker and blocks until
// ctx is done or a worker fails. The returned error is nil only for a
// cancellation-initiated shutdown.
func (a *App) Run(ctx context.Context) error {
	defer a.logs.Close()

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	runCtx := sup.Context()

	// Subscribe before anything blocks so a reload during startup is kept.
	// A config committed since New is queued as the first update.
	cfgSub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(cfgSub)
	if cur := a.cfgm.Get(); cur != a.cfg {
		select {
		case cfgSub <- cur:
		default:
		}
	}

	a.log.Info("starting",
		logx.String("config", a.cfgm.Path()),
		logx.String("notifier", a.notifier.Name()),
		logx.Int("ignore", len(a.settings.Intake.Ignore)),
	)

	if err := a.notifier.Notify(runCtx, a.settings.Notifier.StartupText); err != nil {
		if a.settings.Scheduler.OnFailure == string(scheduler.FailFatal) {
			sup.Cancel()
			return fmt.Errorf("startup notification: %w", err)
		}
		a.log.Error("startup notification failed", logx.Err(err))
	}

	snap, err := a.source.Snapshot(runCtx)
	if err != nil {
		sup.Cancel()
		return err
	}
	a.intake.SetSnapshot(snap)

	stream, err := a.source.Follow(runCtx)
	if err != nil {
		sup.Cancel()
		return err
	}

	sup.Go("scheduler", a.sched.Run)
	sup.Go("intake", func(c context.Context) error { return a.intake.Run(c, stream) })

	sup.GoRestart("config.watch", a.cfgm.Watch)
	sup.Go("config.apply", func(c context.Context) error {
		return a.applyConfig(c, a.cfg, cfgSub)
	})

	if a.heartbeat != nil {
		if err := a.heartbeat.Start(runCtx); err != nil {
			a.log.Warn("heartbeat disabled", logx.Err(err))
		}
	}

	a.sd.Ready()
	a.sd.Status("watching zpool events (%d known)", len(snap))
	if a.settings.Systemd.Watchdog {
		if iv := a.sd.WatchdogInterval(); iv > 0 {
			sup.GoRestart("systemd.watchdog", func(c context.Context) error {
				return a.sd.Watchdog(c, iv, func() bool { return a.sched.Snapshot().Running })
			})
		}
	}
	a.log.Info("watching", logx.Int("known_events", len(snap)))

	<-runCtx.Done()
	a.sd.Stopping()
	a.log.Info("stopping")

	waitCtx, cancel := context.WithTimeout(context.Background(), a.settings.Scheduler.ShutdownFlushTimeout+stopGrace)
	defer cancel()
	if a.heartbeat != nil {
		_ = a.heartbeat.Stop(waitCtx)
	}
	if err := sup.Wait(waitCtx); err != nil && errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("workers did not stop in time", logx.Int64("active", sup.Active()))
	}

	st := a.intake.Stats()
	stats := []logx.Field{
		logx.Uint64("accepted", st.Accepted),
		logx.Uint64("ignored", st.Ignored),
		logx.Uint64("scrub_active", st.ScrubActive),
		logx.Uint64("replay", st.Replay),
	}
	err = sup.Err()
	if err != nil {
		a.log.Error("stopped on error", append(stats, logx.Err(err))...)
	} else {
		a.log.Info("stopped", stats...)
	}
	return err
}

// applyConfig hot-applies logging and intake changes relative to last, the
// config the running components were built from. Other sections are reported
// as needing a restart.
func (a *App) applyConfig(ctx context.Context, last *config.Config, sub chan *config.Config) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			// Keep only the newest of a burst.
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					drained = true
				}
			}

			changed, restart, attrs := config.SummarizeChange(last, cfg)
			last = cfg
			if len(changed) == 0 {
				continue
			}
			s, err := config.Resolve(cfg)
			if err != nil {
				a.log.Warn("reloaded config rejected", logx.Err(err))
				continue
			}
			a.logs.Apply(s.Logging)
			a.intake.Apply(intakeConfig(s.Intake))

			fields := append([]logx.Field{logx.String("changed", strings.Join(changed, ","))}, attrs...)
			a.log.Info("config applied", fields...)
			if len(restart) > 0 {
				a.log.Warn("restart required for config changes", logx.Strings("sections", restart))
			}
		}
	}
}
