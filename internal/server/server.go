package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/quiz"
	"github.com/victornm/livequiz/internal/roomcode"
	"github.com/victornm/livequiz/internal/roster"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/store"
	"github.com/victornm/livequiz/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Redis struct {
		Store struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Quiz struct {
			Addr string
			User string
			Pass string
			Name string
			// Migrate creates the quizzes table on start.
			Migrate bool
		}
	}

	Game struct {
		RoomCodeAttempts    int
		FinishedTTL         time.Duration
		MaxNicknameLength   int
		LeaderboardInterval time.Duration
		BaseURL             string
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			store  redis.UniversalClient
			pubsub redis.UniversalClient
		}

		postgres struct {
			quiz *pgxpool.Pool
		}
	}

	service struct {
		quiz        *quiz.Repository
		store       *store.Store
		session     *session.Service
		roster      *roster.Service
		score       *score.Service
		leaderboard *leaderboard.Service
	}

	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(role string, addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r, role); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.store, err = connect("store", s.c.Redis.Store.Addrs, s.c.Redis.Store.Pass)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	s.infra.redis.pubsub, err = connect("pubsub", s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	s.infra.postgres.quiz, err = connectQuizDB(s.c)
	return err
}

// OpenQuizzes connects to the quiz database for tooling that runs without the game server.
func OpenQuizzes(c Config) (*quiz.Repository, func(), error) {
	db, err := connectQuizDB(c)
	if err != nil {
		return nil, nil, err
	}

	return quiz.NewRepository(quiz.Config{DB: db}), db.Close, nil
}

func connectQuizDB(c Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pc := c.Postgres.Quiz
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return nil, fmt.Errorf("quiz: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("quiz: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("quiz: %w", err)
	}

	if pc.Migrate {
		if _, err := db.Exec(ctx, quiz.Schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("quiz: migrate: %w", err)
		}
	}

	return db, nil
}

func (s *Server) initService() {
	s.service.quiz = quiz.NewRepository(quiz.Config{
		DB: s.infra.postgres.quiz,
	})

	s.service.store = store.New(store.Config{
		Redis:       s.infra.redis.store,
		Prefix:      s.c.Redis.Store.Prefix,
		FinishedTTL: s.c.Game.FinishedTTL,
	})

	s.service.session = session.NewService(session.Config{
		EventBus: s.eb,
		Store:    s.service.store,
		Quizzes:  s.service.quiz,
		Codes: roomcode.NewGenerator(roomcode.GeneratorConfig{
			Attempts: s.c.Game.RoomCodeAttempts,
		}),
	})

	s.service.roster = roster.NewService(roster.Config{
		EventBus:          s.eb,
		Store:             s.service.store,
		MaxNicknameLength: s.c.Game.MaxNicknameLength,
	})

	s.service.score = score.NewService(score.Config{
		EventBus: s.eb,
		Store:    s.service.store,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus:        s.eb,
		Store:           s.service.store,
		Redis:           s.infra.redis.store,
		Prefix:          s.c.Redis.Store.Prefix,
		PublishInterval: s.c.Game.LeaderboardInterval,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.Use(gin.Recovery())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")

	opts := append(telemetry.GRPCServerInterceptor(), api.IdentityInterceptors()...)
	s.grpc = grpc.NewServer(opts...)

	api.New(api.Config{
		GRPC:         s.grpc,
		Router:       e,
		EventBus:     s.eb,
		Store:        s.service.store,
		Session:      s.service.session,
		Roster:       s.service.roster,
		Score:        s.service.score,
		Leaderboard:  s.service.leaderboard,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		BaseURL:      s.c.Game.BaseURL,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c, 2*time.Second)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error { return s.infra.redis.store.Ping(ctx).Err() })
	eg.Go(func() error { return s.infra.redis.pubsub.Ping(ctx).Err() })
	eg.Go(func() error { return s.infra.postgres.quiz.Ping(ctx) })

	if err := eg.Wait(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	// Open snapshot streams only end with their clients.
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	s.infra.postgres.quiz.Close()
	for _, r := range []redis.UniversalClient{s.infra.redis.store, s.infra.redis.pubsub} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
