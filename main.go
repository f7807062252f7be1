package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"git.0xdad.com/tblyler/meditime/config"
	"git.0xdad.com/tblyler/meditime/db"
	"git.0xdad.com/tblyler/meditime/logx"
)

const usage = `usage: meditime [-config path] <command> [subcommand]

commands:
  run                               start the reminder scheduler and HTTP API
  patient add|get|list              manage patients
  prescription add|list             manage prescriptions
  reminder add|list|remove|test     manage reminders
  log add                           record a dose
  notification list                 show a patient's in-app notifications, newest first
  schedule today                    show a patient's schedule for today
  maintain                          clear the dispatch cache and deactivate expired reminders

without -config, settings are read from MEDITIME_* environment variables`

func errLog(messages ...interface{}) {
	fmt.Fprintln(os.Stderr, messages...)
}

func log(messages ...interface{}) {
	fmt.Println(messages...)
}

func help() {
	errLog(usage)
}

// parseArgs splits an optional leading -config flag from the command
func parseArgs(args []string) (configPath string, rest []string, err error) {
	if len(args) > 0 && strings.HasPrefix(args[0], "-") {
		flag := strings.TrimLeft(args[0], "-")
		if name, value, ok := strings.Cut(flag, "="); ok && name == "config" {
			return value, args[1:], nil
		}

		if flag != "config" {
			return "", nil, fmt.Errorf("unknown flag %s", args[0])
		}

		if len(args) < 2 {
			return "", nil, errors.New("-config requires a path")
		}

		return args[1], args[2:], nil
	}

	return "", args, nil
}

func newLogger(cfg config.Config) (logx.Logger, error) {
	level, err := cfg.LogLevel()
	if err != nil {
		return logx.Logger{}, err
	}

	format, err := cfg.LogFormat()
	if err != nil {
		return logx.Logger{}, err
	}

	return logx.New(logx.Config{Level: level, Format: format, Output: os.Stderr}), nil
}

func openStore(cfg config.Config) (db.Store, error) {
	driver, err := cfg.StorageDriver()
	if err != nil {
		return nil, err
	}

	path, err := cfg.StoragePath()
	if err != nil {
		return nil, err
	}

	return db.Open(driver, path)
}

func main() {
	configPath, args, err := parseArgs(os.Args[1:])
	if err != nil {
		help()
		errLog(err.Error())
		os.Exit(1)
	}

	if len(args) == 0 {
		help()
		errLog("must supply at least one argument")
		os.Exit(1)
	}

	if args[0] == "help" {
		help()
		return
	}

	err = func() error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger, err := newLogger(cfg)
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return err
		}

		defer store.Close()

		ctx := context.Background()

		if args[0] == "run" {
			return run(ctx, cfg, store, logger)
		}

		c, err := newCLI(cfg, store, logger, args, bufio.NewScanner(os.Stdin))
		if err != nil {
			return err
		}

		return c.dispatch(ctx)
	}()

	if err != nil {
		errLog(err.Error())
		os.Exit(1)
	}
}
