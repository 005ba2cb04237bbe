package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/claviger/internal/common"
	"github.com/ternarybob/claviger/internal/handlers"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
	"github.com/ternarybob/claviger/internal/services/browser"
	"github.com/ternarybob/claviger/internal/services/dispatch"
	"github.com/ternarybob/claviger/internal/services/events"
	"github.com/ternarybob/claviger/internal/services/login"
	"github.com/ternarybob/claviger/internal/services/otp"
	"github.com/ternarybob/claviger/internal/services/report"
	"github.com/ternarybob/claviger/internal/services/runner"
	"github.com/ternarybob/claviger/internal/services/scheduler"
	"github.com/ternarybob/claviger/internal/services/snapshot"
	"github.com/ternarybob/claviger/internal/services/token"
	"github.com/ternarybob/claviger/internal/services/triage"
	"github.com/ternarybob/claviger/internal/storage/badger"
)

// refreshJobName identifies the scheduled token refresh job
const refreshJobName = "token-refresh"

// App holds all application dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	StorageManager interfaces.StorageManager

	// Event bus
	EventService interfaces.EventService

	// OTP intake
	Registry    *otp.Registry
	ImapWatcher *otp.Watcher

	// Login pipeline
	Profiles        *login.ProfileRegistry
	Profile         *models.VendorProfile
	BrowserService  *browser.Service
	LoginService    *login.Orchestrator
	DispatchService *dispatch.Service
	SnapshotService *snapshot.Service
	TriageService   *triage.Service
	RunService      interfaces.RunService

	// Scheduling
	SchedulerService interfaces.SchedulerService

	// Log relay feeding the WebSocket broadcast
	LogRelay *handlers.LogRelay

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	OtpHandler    *handlers.OtpHandler
	RunHandler    *handlers.RunHandler
	StatusHandler *handlers.StatusHandler
	WSHandler     *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// The WebSocket handler exists before the services so that startup logs
	// and run events have somewhere to go from the first moment
	app.EventService = events.NewService(app.Logger)
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &app.Config.WebSocket)

	// Bridge arbor's context channel into the WebSocket broadcast
	app.LogRelay = handlers.NewLogRelay(app.WSHandler, &app.Config.WebSocket, app.Logger)
	if err := app.LogRelay.Start(); err != nil {
		return nil, fmt.Errorf("failed to start log relay: %w", err)
	}
	app.Logger.SetChannel("context", app.LogRelay.Channel())

	// Initialize services
	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	if err := app.initHandlers(); err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Str("vendor", cfg.Login.Vendor).
		Bool("scheduler_enabled", cfg.Scheduler.Enabled).
		Bool("imap_enabled", cfg.Imap.Enabled).
		Bool("triage_enabled", app.TriageService.IsEnabled()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes the OTP intake, the login pipeline, and the scheduler
func (a *App) initServices() error {
	cfg := a.Config

	// OTP mailboxes. The freshness window keeps stale codes from ever
	// reaching a login attempt.
	a.Registry = otp.NewRegistry(cfg.Otp.Freshness.Std(), a.Logger)

	// Resolve the vendor profile before anything that depends on it
	profiles, err := login.LoadProfiles(cfg.Login.ProfilesDir, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load vendor profiles: %w", err)
	}
	a.Profiles = profiles

	profile, err := profiles.Get(cfg.Login.Vendor)
	if err != nil {
		return fmt.Errorf("failed to resolve vendor profile: %w", err)
	}
	a.Profile = profile
	a.Logger.Debug().
		Str("vendor", profile.Name).
		Str("login_url", profile.LoginURL).
		Msg("Vendor profile resolved")

	a.BrowserService = browser.NewService(cfg.Browser, a.Logger)

	extractor := token.NewExtractor(profile.TokenURLKeys, a.Logger)
	credentials := models.Credentials{
		Identifier: cfg.Login.Identifier,
		Secret:     cfg.Login.Secret,
		Pin:        cfg.Login.Pin,
	}
	a.LoginService = login.NewOrchestrator(profile, credentials, extractor, login.Config{
		PromptTimeout:  cfg.Login.PromptTimeout.Std(),
		SuccessTimeout: cfg.Login.SuccessTimeout.Std(),
		OtpWait:        cfg.Otp.WaitTimeout.Std(),
	}, a.Logger)

	a.DispatchService = dispatch.NewService(cfg.Backend, a.Logger)

	reportService := report.NewService(a.Logger)
	a.SnapshotService = snapshot.NewService(cfg.Storage.Snapshots, reportService, a.Logger)

	// Triage is constructed regardless of config; it reports itself disabled
	// and the runner skips it
	a.TriageService = triage.NewService(cfg.Triage, a.Logger)

	a.RunService = runner.NewService(
		profile,
		cfg.Login,
		cfg.Storage.RunHistory,
		a.BrowserService,
		a.LoginService,
		a.Registry,
		a.DispatchService,
		a.StorageManager.RunStorage(),
		a.EventService,
		a.SnapshotService,
		a.TriageService,
		a.Logger,
	)

	a.SchedulerService = scheduler.NewService(a.Logger)
	if cfg.Scheduler.Enabled {
		if err := a.registerRefreshJob(); err != nil {
			return err
		}
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	} else {
		a.Logger.Debug().Msg("Scheduler disabled")
	}

	// IMAP is a fallback OTP source; the webhook stays primary
	if cfg.Imap.Enabled {
		watcher := otp.NewWatcher(cfg.Imap, a.Registry, profile.OtpLength, a.Logger)
		if err := watcher.Start(context.Background()); err != nil {
			return fmt.Errorf("failed to start IMAP watcher: %w", err)
		}
		a.ImapWatcher = watcher
	}

	return nil
}

// registerRefreshJob wires the scheduled token refresh into the scheduler
func (a *App) registerRefreshJob() error {
	err := a.SchedulerService.RegisterJob(
		refreshJobName,
		a.Config.Scheduler.Schedule,
		"Scheduled vendor login and token refresh",
		func() error {
			record, err := a.RunService.ExecuteRun(context.Background(), models.RunTriggerScheduled)
			if err != nil {
				// A manually started run owns the slot; the next scheduled
				// fire will try again
				if errors.Is(err, runner.ErrRunActive) {
					a.Logger.Warn().Msg("Scheduled refresh skipped, a run is already active")
					return nil
				}
				return err
			}
			if record.State == models.RunStateFailed {
				return fmt.Errorf("run %s failed: %s", record.ID, record.FailureKind)
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("failed to register refresh job: %w", err)
	}

	a.Logger.Info().
		Str("job", refreshJobName).
		Str("schedule", a.Config.Scheduler.Schedule).
		Msg("Token refresh job registered")

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()
	// WSHandler already initialized in New() so the log relay could attach

	a.OtpHandler = handlers.NewOtpHandler(
		a.Registry,
		a.StorageManager.OtpJournal(),
		a.Profile.OtpLength,
		a.Config.Otp.Freshness.Std(),
		&a.Config.Server,
		a.Logger,
	)

	a.RunHandler = handlers.NewRunHandler(a.RunService, a.SnapshotService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.RunService, a.SchedulerService, a.Logger)

	a.Logger.Debug().Msg("HTTP handlers initialized")
	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	// Stop OTP intake first so nothing new enters the pipeline
	if a.ImapWatcher != nil {
		a.ImapWatcher.Stop()
		a.Logger.Info().Msg("IMAP watcher stopped")
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	// Terminates any session an in-flight run still holds
	if a.BrowserService != nil {
		if err := a.BrowserService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser service")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.LogRelay != nil {
		if err := a.LogRelay.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log relay")
		}
	}

	// Close storage
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
