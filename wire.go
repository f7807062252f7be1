package main

import (
	"context"
	"fmt"

	"git.0xdad.com/tblyler/meditime/config"
	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/dedup"
	"git.0xdad.com/tblyler/meditime/logx"
	"git.0xdad.com/tblyler/meditime/notify"
	"git.0xdad.com/tblyler/meditime/scheduler"
	"github.com/jmhodges/clock"
)

// newScheduler wires the scheduler from cfg. Without a pushover token the
// gateway is disabled unless push is required. The returned func releases
// the dedup cache.
func newScheduler(ctx context.Context, cfg config.Config, store db.Store, logger logx.Logger, requirePush bool) (*scheduler.Scheduler, func() error, error) {
	closer := func() error { return nil }

	loc, err := cfg.Timezone()
	if err != nil {
		return nil, closer, err
	}

	var gateway notify.Gateway = notify.Disabled{}
	token, err := cfg.PushoverAPIToken()
	switch {
	case err == nil:
		rate, err := cfg.PushRatePerSec()
		if err != nil {
			return nil, closer, err
		}

		gateway = notify.NewPushover(token, rate, logger)
	case requirePush:
		return nil, closer, err
	}

	cooldown, err := cfg.Cooldown()
	if err != nil {
		return nil, closer, err
	}

	maxAge, err := cfg.CacheMaxAge()
	if err != nil {
		return nil, closer, err
	}

	var cache dedup.Cache = dedup.NewMemory()
	redisURL, err := cfg.RedisURL()
	if err != nil {
		return nil, closer, err
	}

	if redisURL != "" {
		r, err := dedup.NewRedis(ctx, redisURL, maxAge)
		if err != nil {
			return nil, closer, fmt.Errorf("unable to connect dedup cache: %w", err)
		}

		cache = r
		closer = r.Close
	}

	dueSpec, err := cfg.DueSpec()
	if err != nil {
		return nil, closer, err
	}

	missedSpec, err := cfg.MissedSpec()
	if err != nil {
		return nil, closer, err
	}

	maintenanceSpec, err := cfg.MaintenanceSpec()
	if err != nil {
		return nil, closer, err
	}

	s, err := scheduler.New(scheduler.Config{
		Reminders:       store,
		Prescriptions:   store,
		Patients:        store,
		Logs:            store,
		Notifications:   store,
		Settings:        notify.PatientResolver{Patients: store},
		Gateway:         gateway,
		Cache:           cache,
		Clock:           clock.New(),
		Location:        loc,
		Log:             logger,
		Cooldown:        cooldown,
		CacheMaxAge:     maxAge,
		DueSpec:         dueSpec,
		MissedSpec:      missedSpec,
		MaintenanceSpec: maintenanceSpec,
	})
	if err != nil {
		_ = closer()
		return nil, func() error { return nil }, err
	}

	return s, closer, nil
}
