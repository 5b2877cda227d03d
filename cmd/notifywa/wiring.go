package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/ardian231/notify-wa/internal/config"
	"github.com/ardian231/notify-wa/internal/intent"
	"github.com/ardian231/notify-wa/internal/ledger"
	"github.com/ardian231/notify-wa/internal/paramstore"
	"github.com/ardian231/notify-wa/internal/router"
	"github.com/ardian231/notify-wa/internal/types"
	"github.com/ardian231/notify-wa/pkg/llm"
	"github.com/ardian231/notify-wa/pkg/llm/openai"
)

const (
	ledgerFile   = "sent_messages.json"
	failuresFile = "failed_messages.jsonl"
	backupDir    = "backups"
	pidFile      = "notifywa.pid"
)

// stores holds the persistence chosen by ledger.backend. file is set only
// for the file backend, which is the one that supports backups.
type stores struct {
	ledger   types.LedgerStore
	failures types.FailureLog
	file     *ledger.FileStore
}

func loadAWS(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWS.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return awsCfg, nil
}

func openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	switch cfg.Ledger.Backend {
	case "", "file":
		fs := ledger.NewFileStore(cfg.Resolve("", ledgerFile))
		return stores{
			ledger:   fs,
			failures: ledger.NewFailureFile(cfg.Resolve("", failuresFile)),
			file:     fs,
		}, nil
	case "dynamodb":
		awsCfg, err := loadAWS(ctx, cfg)
		if err != nil {
			return stores{}, err
		}
		ds, err := ledger.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.Ledger.DynamoDBTable)
		if err != nil {
			return stores{}, err
		}
		return stores{ledger: ds, failures: ds}, nil
	default:
		return stores{}, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

// resolveAPIKey fills the LLM key from SSM when only a parameter name is set.
func resolveAPIKey(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.LLM.APIKey != "" || cfg.LLM.APIKeyParam == "" {
		return cfg.LLM.APIKey, nil
	}
	awsCfg, err := loadAWS(ctx, cfg)
	if err != nil {
		return "", err
	}
	client, err := paramstore.NewFromConfig(awsCfg)
	if err != nil {
		return "", err
	}
	key, err := paramstore.Resolve(ctx, client, cfg.LLM.APIKey, cfg.LLM.APIKeyParam)
	if err != nil {
		return "", fmt.Errorf("resolve llm api key: %w", err)
	}
	return key, nil
}

// buildResponder wires the provider, model router and intent classifier.
func buildResponder(ctx context.Context, cfg *config.Config) (*intent.Responder, *router.Router, error) {
	apiKey, err := resolveAPIKey(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if apiKey == "" {
		slog.Warn("llm api key not set, classification will fail")
	}
	if len(cfg.LLM.Models) == 0 {
		return nil, nil, fmt.Errorf("llm.models must list at least one model")
	}

	provider := openai.New(&llm.Config{BaseURL: cfg.LLM.BaseURL, APIKey: apiKey}, cfg.LLM.Timeout.Std())
	rtr := router.New(provider, cfg.LLM.Models, router.Options{
		Temperature:     cfg.LLM.Temperature,
		DefaultCooldown: cfg.LLM.DefaultCooldown.Std(),
	})

	var budget *intent.Budget
	if cfg.LLM.MaxInputTokens > 0 {
		budget, err = intent.NewBudget(cfg.LLM.Models[0], cfg.LLM.MaxInputTokens)
		if err != nil {
			slog.Warn("token budget disabled", "error", err)
			budget = nil
		}
	}
	classifier := intent.NewClassifier(rtr, intent.ClassifierOptions{
		Labels:   cfg.Intent.Labels,
		Fallback: cfg.Intent.FallbackLabel,
		Budget:   budget,
	})

	replies := intent.DefaultReplies()
	if cfg.Intent.RepliesPath != "" {
		replies, err = intent.LoadReplies(cfg.Resolve(cfg.Intent.RepliesPath, ""))
		if err != nil {
			return nil, nil, err
		}
	}
	return intent.NewResponder(classifier, replies, cfg.Intent.Apology), rtr, nil
}
