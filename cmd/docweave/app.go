package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/docweave/internal/config"
	"github.com/ShayCichocki/docweave/internal/decompose"
	"github.com/ShayCichocki/docweave/internal/generator"
	"github.com/ShayCichocki/docweave/internal/orchestrator"
	"github.com/ShayCichocki/docweave/internal/registry"
	"github.com/ShayCichocki/docweave/internal/state"
)

// app bundles everything a command needs to talk to the engine.
type app struct {
	cfg        *config.Config
	log        *logrus.Logger
	store      state.Store
	registry   *registry.Registry
	decomposer *decompose.Decomposer
	engine     *orchestrator.Engine
	// client is set when tasks call the Anthropic API.
	client *generator.Client
}

// appOptions tunes newApp for a command.
type appOptions struct {
	// execute is false for commands that only read state. They still
	// register executors, since decomposition resolves them by name, but
	// bind the offline completer so no API key is needed.
	execute bool
	// provider overrides generator.provider.
	provider string
}

// newApp opens the store and builds the registry, decomposer and engine.
func newApp(opts appOptions) (*app, error) {
	if cfg == nil || logger == nil {
		if err := loadConfig(); err != nil {
			return nil, err
		}
	}

	store, err := state.OpenStore(cfg.State.Backend, cfg.State.Path, cfg.State.DSN)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	reg, completer, err := buildRegistry(opts)
	if err != nil {
		store.Close()
		return nil, err
	}

	dec := decompose.New(reg,
		decompose.WithDefaultTimeout(cfg.Engine.TaskTimeout),
		decompose.WithDefaultMaxRetries(cfg.Engine.MaxRetries),
		decompose.WithLogger(logger),
	)

	engineOpts := []orchestrator.Option{
		orchestrator.WithPolicy(cfg.Policy()),
		orchestrator.WithLogger(logger),
	}
	if cfg.Engine.DebugLog != "" {
		debug, err := orchestrator.NewDebugLogger(cfg.Engine.DebugLog)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("open debug log: %w", err)
		}
		engineOpts = append(engineOpts, orchestrator.WithDebugLogger(debug))
	}

	client, _ := completer.(*generator.Client)
	return &app{
		cfg:        cfg,
		log:        logger,
		store:      store,
		registry:   reg,
		decomposer: dec,
		engine:     orchestrator.New(dec, store, engineOpts...),
		client:     client,
	}, nil
}

func buildRegistry(opts appOptions) (*registry.Registry, generator.Completer, error) {
	reg := registry.New(logger)
	if err := reg.LoadBuiltin(); err != nil {
		return nil, nil, err
	}
	if dir := cfg.Definitions.Dir; dir != "" {
		n, err := reg.LoadDir(dir)
		if err != nil {
			return nil, nil, err
		}
		logger.WithFields(logrus.Fields{"dir": dir, "types": n}).Debug("loaded definitions")
	}

	var completer generator.Completer = generator.StaticCompleter{}
	if opts.execute {
		provider := cfg.Generator.Provider
		if opts.provider != "" {
			provider = opts.provider
		}
		apiKey := cfg.Generator.APIKey
		if provider == generator.ProviderAnthropic || provider == "" {
			key, err := config.GetAPIKey(cfg)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or use --provider static", err)
			}
			if err := config.ValidateAPIKey(key); err != nil {
				logger.WithError(err).Warn("API key looks malformed")
			}
			apiKey = key
		}
		var err error
		completer, err = generator.NewCompleter(generator.Config{
			Provider:   provider,
			Model:      cfg.Generator.Model,
			APIKey:     apiKey,
			AWSRegion:  cfg.Generator.AWSRegion,
			AWSProfile: cfg.Generator.AWSProfile,
			MaxTokens:  cfg.Generator.MaxTokens,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create generator: %w", err)
		}
	}

	if err := generator.Register(reg, completer, cfg.Artifacts.Dir); err != nil {
		return nil, nil, err
	}
	return reg, completer, nil
}

// close stops the engine, interrupting anything still running, and closes the store.
func (a *app) close() error {
	return errors.Join(a.engine.Stop(), a.store.Close())
}
