package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix of every environment variable
	EnvPrefix = "MEDITIME"
	// BadgerPathEnv name
	BadgerPathEnv = "BADGER_PATH"
	// PushoverAPITokenEnv name
	PushoverAPITokenEnv = "PUSHOVER_API_TOKEN"
)

var (
	// ErrEnvVariableNotSet occurs when an environment variable is not set
	ErrEnvVariableNotSet = errors.New("environment variable is not set")
)

// Env variable Config implementation. Variables are prefixed with
// MEDITIME_, e.g. MEDITIME_STORAGE_PATH; BADGER_PATH and
// PUSHOVER_API_TOKEN are still read unprefixed.
type Env struct {
	Values

	LegacyBadgerPath    string `envconfig:"BADGER_PATH"`
	LegacyPushoverToken string `envconfig:"PUSHOVER_API_TOKEN"`
}

// LoadEnv reads the environment
func LoadEnv() (*Env, error) {
	e := &Env{}
	if err := envconfig.Process(EnvPrefix, e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return e, nil
}

// StoragePath for the database
func (e *Env) StoragePath() (string, error) {
	if p := strings.TrimSpace(e.Storage.Path); p != "" {
		return p, nil
	}

	if p := strings.TrimSpace(e.LegacyBadgerPath); p != "" {
		return p, nil
	}

	return "", fmt.Errorf(
		"unable to get storage path from env variable %s_STORAGE_PATH or %s: %w",
		EnvPrefix,
		BadgerPathEnv,
		ErrEnvVariableNotSet,
	)
}

// PushoverAPIToken getter
func (e *Env) PushoverAPIToken() (string, error) {
	if tok := strings.TrimSpace(e.Pushover.APIToken); tok != "" {
		return tok, nil
	}

	if tok := strings.TrimSpace(e.LegacyPushoverToken); tok != "" {
		return tok, nil
	}

	return "", fmt.Errorf(
		"unable to get pushover API token from env variable %s_%s or %s: %w",
		EnvPrefix,
		PushoverAPITokenEnv,
		PushoverAPITokenEnv,
		ErrEnvVariableNotSet,
	)
}
