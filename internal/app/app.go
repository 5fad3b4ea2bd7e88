// Package app wires configuration, storage, encryption and the chat
// handlers into a runnable bot.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/jun/drivebot/internal/auth"
	"github.com/jun/drivebot/internal/bot"
	"github.com/jun/drivebot/internal/crypto"
	"github.com/jun/drivebot/internal/drive"
	"github.com/jun/drivebot/internal/drive/googledrive"
	"github.com/jun/drivebot/internal/secret"
	"github.com/jun/drivebot/internal/session"
	"github.com/jun/drivebot/internal/store"
	"github.com/jun/drivebot/internal/store/dynamo"
	"github.com/jun/drivebot/internal/store/memory"
	"github.com/jun/drivebot/internal/store/redisstore"
	"github.com/jun/drivebot/internal/upload"
)

// App holds the application's long-lived components.
type App struct {
	Handlers   *bot.Handlers
	Authorizer *auth.Authorizer
	Sessions   *session.Manager
	Stager     *upload.Stager

	logger *slog.Logger
}

// New initializes the application. The chat transport is injected by the
// caller so the wiring stays platform-agnostic.
func New(ctx context.Context, transport bot.Transport, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	devMode := os.Getenv("DEV_MODE") == "true"

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	// Encryptor
	var encryptor crypto.Encryptor
	if devMode {
		encryptor = crypto.NewMockEncryptor()
		logger.Info("using MockEncryptor (DEV_MODE=true)")
	} else {
		kmsKeyID := os.Getenv("KMS_KEY_ID")
		if kmsKeyID == "" {
			kmsKeyID = "alias/drivebot-token-key"
		}
		encryptor = crypto.NewKMSService(kms.NewFromConfig(cfg), kmsKeyID)
	}

	// Secret resolver
	var resolver secret.Resolver
	if devMode {
		resolver = secret.NewEnvResolver()
		logger.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(cfg))
		logger.Info("using SSMResolver (SSM Parameter Store)")
	}

	googleClientSecretParam := os.Getenv("GOOGLE_CLIENT_SECRET_PARAM")
	if googleClientSecretParam == "" {
		googleClientSecretParam = "/drivebot/google-client-secret"
	}
	googleClientSecret, err := resolver.GetSecret(ctx, googleClientSecretParam)
	if err != nil {
		logger.Warn("failed to resolve GOOGLE_CLIENT_SECRET", "error", err)
	}

	// Session store
	st, err := newStore(ctx, cfg, devMode, logger)
	if err != nil {
		return nil, err
	}

	oauthConfig := &oauth2.Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: googleClientSecret,
		Scopes: []string{
			"https://www.googleapis.com/auth/drive.file",
			"https://www.googleapis.com/auth/userinfo.profile",
			"https://www.googleapis.com/auth/userinfo.email",
		},
		Endpoint: google.Endpoint,
	}

	provider := auth.NewProvider(oauthConfig)
	sessions := session.NewManager(st, provider, encryptor, logger)
	authorizer := auth.NewAuthorizer(provider, sessions, logger)
	stager := upload.NewStager(logger)
	factory := drive.WithRetryFactory(googledrive.New)

	handlers := bot.NewHandlers(transport, sessions, authorizer, stager, factory, logger)
	authorizer.OnOutcome = handlers.NotifyFlowOutcome

	return &App{
		Handlers:   handlers,
		Authorizer: authorizer,
		Sessions:   sessions,
		Stager:     stager,
		logger:     logger,
	}, nil
}

// newStore selects the session backend. SESSION_BACKEND picks one of
// memory, redis or dynamo; the default is memory in DEV_MODE and dynamo
// otherwise.
func newStore(ctx context.Context, cfg aws.Config, devMode bool, logger *slog.Logger) (store.Store, error) {
	backend := os.Getenv("SESSION_BACKEND")
	if backend == "" {
		if devMode {
			backend = "memory"
		} else {
			backend = "dynamo"
		}
	}

	switch backend {
	case "memory":
		logger.Info("using in-memory session store")
		return memory.New(), nil

	case "redis":
		redisURL := os.Getenv("REDIS_URL")
		if redisURL == "" {
			redisURL = "redis://localhost:6379/0"
		}
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rs := redisstore.New(redis.NewClient(opts))
		if err := rs.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("using Redis session store")
		return rs, nil

	case "dynamo":
		table := os.Getenv("USER_RECORDS_TABLE")
		if table == "" {
			table = "DrivebotUsers"
		}
		logger.Info("using DynamoDB session store", "table", table)
		return dynamo.New(dynamodb.NewFromConfig(cfg), table), nil

	default:
		return nil, fmt.Errorf("unknown SESSION_BACKEND %q", backend)
	}
}

// Start resumes persisted device flows and begins background maintenance.
func (a *App) Start(ctx context.Context) error {
	flows, err := a.Sessions.PendingFlows(ctx)
	if err != nil {
		a.logger.Warn("failed to enumerate pending device flows", "error", err)
	}
	for userID, flow := range flows {
		a.Authorizer.Resume(ctx, userID, flow)
	}
	if len(flows) > 0 {
		a.logger.Info("resumed device flows", "count", len(flows))
	}

	a.Stager.StartSweep(upload.DefaultSweepInterval)
	return nil
}

// Shutdown stops pollers and background work.
func (a *App) Shutdown() {
	a.Authorizer.Shutdown()
	a.Stager.Stop()
}
