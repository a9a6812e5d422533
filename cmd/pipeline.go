package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/josephgoksu/TriageWing/internal/cache"
	"github.com/josephgoksu/TriageWing/internal/codeslice"
	"github.com/josephgoksu/TriageWing/internal/config"
	"github.com/josephgoksu/TriageWing/internal/llm"
	"github.com/josephgoksu/TriageWing/internal/policy"
	"github.com/josephgoksu/TriageWing/internal/triage"
	"github.com/josephgoksu/TriageWing/internal/validation"
)

// appFs is the filesystem used by every command. Tests swap in a MemMapFs.
var appFs afero.Fs = afero.NewOsFs()

// newCompleter builds the rate-limited provider client. Tests replace it.
var newCompleter = func(ctx context.Context) (llm.Completer, error) {
	llmCfg, err := config.LoadLLMConfig()
	if err != nil {
		return nil, err
	}
	chat, err := llm.NewChatModel(ctx, llmCfg)
	if err != nil {
		return nil, fmt.Errorf("create %s chat model: %w", llmCfg.Provider, err)
	}
	slog.Debug("chat model ready", "provider", llmCfg.Provider, "model", llmCfg.Model)
	return llm.NewClient(chat, config.LoadClientConfig()), nil
}

type pipelineOptions struct {
	noCache     bool
	concurrency int
}

// buildOrchestrator wires config, cache, policies and the provider client.
func buildOrchestrator(ctx context.Context, opts pipelineOptions) (*validation.Orchestrator, error) {
	valCfg, err := config.LoadValidationConfig()
	if err != nil {
		return nil, err
	}
	if opts.concurrency > 0 {
		valCfg.Concurrency = opts.concurrency
	}

	triageCfg, err := config.LoadTriageConfig()
	if err != nil {
		return nil, err
	}

	var overrider triage.Overrider
	engine, err := policy.NewEngine(ctx, policy.EngineConfig{
		PoliciesDir: config.GetPoliciesDir(),
		Fs:          appFs,
	})
	if err != nil {
		return nil, fmt.Errorf("load triage policies: %w", err)
	}
	if engine.PolicyCount() > 0 {
		slog.Debug("triage policies loaded", "count", engine.PolicyCount())
		overrider = engine
	}

	client, err := newCompleter(ctx)
	if err != nil {
		return nil, err
	}

	deps := validation.Deps{
		Classifier: triage.NewClassifier(triageCfg, overrider),
		Extractor:  codeslice.NewExtractor(appFs),
		Client:     client,
	}
	if config.CacheEnabled() && !opts.noCache {
		store := cache.New(config.LoadCacheConfig(appFs))
		deps.Client = llm.NewCachedClient(client, store)
		deps.Cache = store
	}

	return validation.New(valCfg, deps)
}
