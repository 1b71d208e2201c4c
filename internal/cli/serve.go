package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"llmchat/internal/api"
	"llmchat/internal/auth"
	"llmchat/internal/config"
	"llmchat/internal/events"
	"llmchat/internal/redis"
	"llmchat/internal/service/ai"
	"llmchat/internal/service/chat"
	"llmchat/internal/service/conversation"
	"llmchat/internal/service/search"
	"llmchat/internal/storage"
	"llmchat/internal/uploads"
)

const (
	shutdownTimeout     = 30 * time.Second
	maintenanceInterval = time.Hour
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.BasicConfig.ServerAddress = addr
			}
			srv, err := newServer(cmd.Context(), cfg, opts.dbType)
			if err != nil {
				return err
			}
			defer srv.close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides basic_config.server_address")
	return cmd
}

// server owns every long-lived component of the serve command.
type server struct {
	cfg     *config.Config
	db      *sql.DB
	rdb     *redis.Client
	bus     *events.Bus
	cache   *conversation.ListCache
	auth    *auth.Service
	files   *uploads.Files
	memory  *uploads.MemoryStore
	handler *api.Handler
	http    *http.Server
}

func newServer(ctx context.Context, cfg *config.Config, dbType string) (*server, error) {
	s := &server{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	s.db = db
	if err := storage.Migrate(db, dbType); err != nil {
		return nil, errors.Wrap(err, "migrate database")
	}

	s.rdb, err = redis.NewRedisClient(cfg.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "create redis client")
	}

	var storeOpts []conversation.Option
	if s.rdb != nil {
		s.cache = conversation.NewListCache(s.rdb)
		storeOpts = append(storeOpts, conversation.WithListCache(s.cache))
	}
	store, err := conversation.NewService(db, storeOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "init conversation store")
	}

	s.auth = auth.NewService(db, s.rdb, time.Duration(cfg.BasicConfig.TokenTTLHours)*time.Hour)
	s.auth.SetSecureCookies(os.Getenv("LLMCHAT_SECURE_COOKIES") == "true")

	uploadTTL := time.Duration(cfg.BasicConfig.UploadTTL) * time.Minute
	s.files = uploads.NewFiles(cfg.BasicConfig.FileBaseDir, uploadTTL)
	var pending uploads.Store
	if s.rdb != nil {
		pending = uploads.NewRedisStore(s.rdb, uploadTTL)
	} else {
		s.memory = uploads.NewMemoryStore(uploadTTL)
		pending = s.memory
	}

	s.bus, err = events.New(s.rdb, cfg.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "create event bus")
	}

	var local *ai.LocalBackend
	if cfg.Projects.RootDir != "" {
		local = ai.NewLocalBackend(cfg.Projects.RootDir, cfg.Projects.Command)
	}
	registry := ai.NewRegistry(cfg.Providers, local)

	chatOpts := []chat.Option{
		chat.WithUploads(pending, s.files),
		chat.WithEvents(s.bus),
		chat.WithDefaults(cfg.Chat.DefaultModel, cfg.Chat.DefaultSystemPrompt),
		chat.WithTimeout(time.Duration(cfg.BasicConfig.StreamTimeout) * time.Second),
	}
	if parts, err := ai.NewPartBuilder(ctx); err != nil {
		log.Warn().Err(err).Msg("attachment parser unavailable, attachments will not reach the model")
	} else {
		chatOpts = append(chatOpts, chat.WithParts(parts))
	}
	if chain := search.FromConfig(ctx, cfg); chain.Len() > 0 {
		chatOpts = append(chatOpts, chat.WithSearcher(chain))
	} else {
		log.Warn().Msg("no web search backend configured, web_search requests will be answered without search")
	}

	s.handler = api.NewHandler(api.Deps{
		Store:     store,
		Auth:      s.auth,
		Chat:      chat.New(store, registry, chatOpts...),
		Pending:   pending,
		Files:     s.files,
		Projects:  local,
		Events:    s.bus,
		RateLimit: cfg.RateLimit,
	})

	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	s.handler.RegisterRoutes(router)

	s.http = &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	ok = true
	return s, nil
}

// run serves until ctx is done, then shuts down gracefully.
func (s *server) run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.bus.Run(gctx, events.Projector(s.cache, s.files))
	})
	eg.Go(func() error {
		return s.files.Run(gctx, time.Duration(s.cfg.BasicConfig.CleanInterval)*time.Minute, s.expirePending)
	})
	eg.Go(func() error {
		s.maintain(gctx)
		return nil
	})
	eg.Go(func() error {
		log.Info().Str("addr", s.http.Addr).Msg("starting chat server")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	eg.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "server shutdown")
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})
	return eg.Wait()
}

// expirePending drops in-memory upload tokens past their TTL along with their files.
func (s *server) expirePending() {
	if s.memory == nil {
		return
	}
	dropped := s.memory.Expire()
	if len(dropped) == 0 {
		return
	}
	paths := make([]string, 0, len(dropped))
	for _, p := range dropped {
		paths = append(paths, p.StoragePath)
	}
	s.files.Remove(paths...)
	log.Debug().Int("count", len(dropped)).Msg("expired pending uploads")
}

// maintain purges expired auth tokens and idle rate limiters.
func (s *server) maintain(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.auth.PurgeExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("purge expired tokens")
			} else if n > 0 {
				log.Info().Int64("count", n).Msg("purged expired tokens")
			}
			if pruned := s.handler.PruneLimiters(); pruned > 0 {
				log.Debug().Int("count", pruned).Msg("pruned idle rate limiters")
			}
		}
	}
}

func (s *server) close() {
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			log.Warn().Err(err).Msg("close event bus")
		}
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}
