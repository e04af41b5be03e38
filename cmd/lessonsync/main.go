package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lessonsync/internal/channel"
	"lessonsync/internal/config"
	"lessonsync/internal/dispatch"
	"lessonsync/internal/lesson"
	"lessonsync/internal/lessonapi"
	"lessonsync/internal/reconnect"
	"lessonsync/internal/store"
	"lessonsync/internal/syncqueue"
	"lessonsync/internal/transport"
	"lessonsync/pkg/types"
)

// Application coordinates the sync client components. Initialization
// order is store, dispatcher, controller, queue, session, machine;
// shutdown reverses it.
type Application struct {
	config     *config.Config
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	controller *reconnect.Controller
	queue      *syncqueue.Queue
	session    *channel.Session
	machine    *lesson.Machine
}

// NewApplication wires every component for one channel binding.
func NewApplication(cfg *config.Config, channelCfg types.ChannelConfig) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := store.NewStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	dispatcher := dispatch.NewDispatcher()

	factory := transport.Factory(transport.Options{
		ConnectTimeout:    cfg.Transport.ConnectTimeout,
		HeartbeatInterval: cfg.Transport.HeartbeatInterval,
		PongTimeout:       cfg.Transport.PongTimeout,
		WriteTimeout:      cfg.Transport.WriteTimeout,
	})

	controller := reconnect.NewController(factory, dispatcher, reconnect.Options{
		BackoffBase: cfg.Reconnect.BackoffBase,
		BackoffCap:  cfg.Reconnect.BackoffCap,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	})

	api := lessonapi.NewClient(cfg.API.BaseURL, cfg.API.AuthToken)

	session, err := channel.NewSession(cfg.Server.BaseURL, channelCfg, controller, dispatcher, api)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create channel session: %w", err)
	}

	notifier := NewConsoleNotifier()

	// Queued tasks become wire messages; delivery only runs while the
	// controller reports connected, so a send here rides the live socket.
	deliver := func(task *types.SyncTask) error {
		if controller.Status() != types.StatusConnected {
			return fmt.Errorf("channel not connected")
		}
		msg := types.NewCommandMessage(types.MessageTypeStudentInteraction, map[string]interface{}{
			"type":     task.Type,
			"entityId": task.EntityID,
			"action":   task.Action,
			"payload":  task.Data,
		})
		return session.Send(msg)
	}

	queue := syncqueue.NewQueue(deliver, st, st, notifier, dispatcher, syncqueue.Options{
		MaxAttempts: cfg.Queue.MaxAttempts,
		Capacity:    cfg.Queue.Capacity,
		DrainPause:  cfg.Queue.DrainPause,
	})

	controller.OnStatusChange(func(status types.ConnectionStatus) {
		queue.SetConnected(status == types.StatusConnected)
		if status == types.StatusReconnecting {
			notifier.ConnectionLost("connection interrupted")
		}
	})

	dispatcher.On(types.EventReconnectFailed, func(evt dispatch.Event) {
		notifier.ReconnectFailed()
	})

	machine := lesson.NewMachine(channelCfg.LessonID, channelCfg.Role, dispatcher, session.Send)

	return &Application{
		config:     cfg,
		store:      st,
		dispatcher: dispatcher,
		controller: controller,
		queue:      queue,
		session:    session,
		machine:    machine,
	}, nil
}

// Start restores local state and opens the channel.
func (app *Application) Start(ctx context.Context) error {
	if err := app.queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync queue: %w", err)
	}

	app.restoreRoster(ctx)

	if err := app.session.Connect(ctx); err != nil {
		app.queue.Stop()
		return fmt.Errorf("failed to connect channel: %w", err)
	}

	log.Printf("lessonsync connected lesson=%s role=%s", app.session.Config().LessonID, app.session.Config().Role)
	return nil
}

// Stop leaves the channel and flushes local state to disk.
func (app *Application) Stop(ctx context.Context) error {
	if err := app.session.Leave(); err != nil {
		log.Printf("channel leave error: %v", err)
	}

	app.queue.Stop()
	app.saveRoster(ctx)

	if err := app.store.Close(); err != nil {
		log.Printf("store shutdown error: %v", err)
	}

	log.Printf("lessonsync shutdown complete")
	return nil
}

// rosterKey namespaces the persisted roster per lesson.
func (app *Application) rosterKey() string {
	return "roster/" + app.session.Config().LessonID
}

// restoreRoster reloads the teacher's roster from the last run.
// Restored participants come back offline until live events promote
// them.
func (app *Application) restoreRoster(ctx context.Context) {
	if app.session.Config().Role != types.RoleTeacher {
		return
	}
	data, err := app.store.LoadSnapshot(ctx, app.rosterKey())
	if err != nil {
		return
	}
	if err := app.machine.Roster().RestoreJSON(data); err != nil {
		log.Printf("roster restore failed: %v", err)
		return
	}
	log.Printf("restored roster with %d participants", app.machine.Roster().Count())
}

// saveRoster persists the teacher's roster for the next run.
func (app *Application) saveRoster(ctx context.Context) {
	if app.session.Config().Role != types.RoleTeacher {
		return
	}
	data, err := app.machine.Roster().SnapshotJSON()
	if err != nil {
		log.Printf("roster snapshot failed: %v", err)
		return
	}
	if err := app.store.SaveSnapshot(ctx, app.rosterKey(), data); err != nil {
		log.Printf("roster snapshot not persisted: %v", err)
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := loadConfig()

	channelCfg := types.ChannelConfig{
		ChannelID: envOr("LESSONSYNC_CHANNEL_ID", "classroom-demo"),
		Type:      envOr("LESSONSYNC_CHANNEL_TYPE", types.ChannelTypeLesson),
		UserID:    envOr("LESSONSYNC_USER_ID", "teacher-1"),
		Role:      envOr("LESSONSYNC_ROLE", types.RoleTeacher),
		LessonID:  envOr("LESSONSYNC_LESSON_ID", "lesson-demo"),
		ClassID:   os.Getenv("LESSONSYNC_CLASS_ID"),
	}

	app, err := NewApplication(cfg, channelCfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)

	if err := app.Start(ctx); err != nil {
		_ = app.store.Close()
		return fmt.Errorf("application error: %w", err)
	}

	sig := <-signalCh
	log.Printf("Received signal %v, shutting down gracefully", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	return app.Stop(shutdownCtx)
}

// loadConfig applies precedence: file > env > defaults.
func loadConfig() *config.Config {
	if path := os.Getenv("LESSONSYNC_CONFIG_FILE"); path != "" {
		if cfg, err := config.LoadFromFile(path); err == nil {
			return cfg
		} else {
			log.Printf("config file %s not usable, falling back to env: %v", path, err)
		}
	}
	return config.LoadFromEnv()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
