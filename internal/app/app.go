// Package app assembles the chat client from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"filechat/internal/api"
	"filechat/internal/attachment"
	"filechat/internal/auth"
	"filechat/internal/config"
	"filechat/internal/history"
	"filechat/internal/log"
	"filechat/internal/models"
	"filechat/internal/pipeline"
	"filechat/internal/realtime"
	"filechat/internal/redis"
	"filechat/internal/remote"
	"filechat/internal/session"
	"filechat/internal/storage"
	"filechat/internal/transcript"
)

type App struct {
	Config     *config.Config
	Remote     *remote.Client
	Sessions   *session.Manager
	Stage      *attachment.Stage
	Picker     *attachment.Picker
	Transcript *transcript.Transcript
	Pipeline   *pipeline.Pipeline
	History    *history.Service

	db  *sql.DB
	rdb *redis.Client
}

func New(cfg *config.Config) (*App, error) {
	log.SetLevel(cfg.BasicConfig.LogLevel)

	dbType := cfg.BasicConfig.Database
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.New(cfg.Redis)
		if err != nil {
			log.Warnf("history cache disabled: %v", err)
			rdb = nil
		}
	}

	client := remote.NewClient(cfg.BasicConfig.ServerURL, time.Duration(cfg.BasicConfig.RequestTimeout)*time.Second)
	sessions := session.NewManager(client, session.NewStore(db, cfg.BasicConfig.ServerURL))

	validator := attachment.NewValidator(
		attachment.WithMaxCount(cfg.Attachments.MaxCount),
		attachment.WithMaxSizeBytes(cfg.Attachments.MaxSizeBytes),
	)
	stage := attachment.NewStage(validator)
	tr := transcript.NewWithWelcome()
	pl, err := pipeline.New(client, tr, stage)
	if err != nil {
		rdb.Close()
		db.Close()
		return nil, err
	}
	hist := history.NewService(client, history.NewCache(rdb, time.Duration(cfg.Redis.HistoryTTL)*time.Minute))

	hist.OnClear(func() { tr.Reset() })
	sessions.OnLogout(func() {
		hist.Reset()
		stage.Clear()
		tr.Reset()
	})

	return &App{
		Config:     cfg,
		Remote:     client,
		Sessions:   sessions,
		Stage:      stage,
		Picker:     attachment.NewPicker(stage),
		Transcript: tr,
		Pipeline:   pl,
		History:    hist,
		db:         db,
		rdb:        rdb,
	}, nil
}

// Restore brings back the saved session. Having none is not an error.
func (a *App) Restore(ctx context.Context) (models.SessionContext, bool, error) {
	sc, err := a.Sessions.Restore(ctx)
	if errors.Is(err, session.ErrNoSession) {
		return models.SessionContext{}, false, nil
	}
	if err != nil {
		return models.SessionContext{}, false, err
	}
	return sc, true, nil
}

// Gateway starts the realtime hub and returns the HTTP handler for the browser
// UI. Background work stops when ctx is done.
func (a *App) Gateway(ctx context.Context) http.Handler {
	origins := a.Config.BasicConfig.AllowedOrigins
	hub := realtime.NewHub(func(origin string) bool {
		for _, o := range origins {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	})
	go hub.Run(ctx)

	a.Transcript.Subscribe(func(m models.Message) { hub.Broadcast(realtime.EventMessage, m) })
	a.Pipeline.OnChange(func(s pipeline.State) { hub.Broadcast(realtime.EventState, s) })
	a.History.OnClear(func() { hub.Broadcast(realtime.EventHistoryCleared, nil) })
	if err := a.History.Watch(ctx); err != nil {
		log.Warnf("history invalidation listener: %v", err)
	}

	handler := api.NewHandler(api.Deps{
		Sessions:   a.Sessions,
		Guard:      auth.NewGuard(a.Sessions),
		Stage:      a.Stage,
		Picker:     a.Picker,
		Pipeline:   a.Pipeline,
		Transcript: a.Transcript,
		History:    a.History,
		Hub:        hub,
	})
	return api.NewServer(handler, origins)
}

// Close releases the worker pool, cache and database.
func (a *App) Close() {
	a.Pipeline.Close()
	if err := a.rdb.Close(); err != nil {
		log.Warnf("close redis: %v", err)
	}
	if err := a.db.Close(); err != nil {
		log.Warnf("close database: %v", err)
	}
}
