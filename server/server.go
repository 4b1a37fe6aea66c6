package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"Kickfolio/cache"
	"Kickfolio/config"
	"Kickfolio/core/auth"
	"Kickfolio/core/catalog"
	"Kickfolio/core/playback"
	"Kickfolio/db"
	"Kickfolio/logger"
	"Kickfolio/metrics"
	"Kickfolio/repository"
	"Kickfolio/storage"

	"github.com/gorilla/mux"
)

// NewRouter 注册全部路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware, metricsMiddleware)

	// 公开接口
	router.HandleFunc("/api/catalog", h.GetCatalogHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}", h.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}/media", h.TrackMediaHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/analytics/events", h.PostAnalyticsEventHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/health", h.HealthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws/session", h.SessionHandler).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	// 管理端
	router.HandleFunc("/api/admin/login", h.LoginHandler).Methods(http.MethodPost)
	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/tracks", h.AuthMiddleware(h.ListAllTracksHandler)).Methods(http.MethodGet)
	admin.HandleFunc("/tracks", h.AuthMiddleware(h.UploadTrackHandler)).Methods(http.MethodPost)
	admin.HandleFunc("/tracks/reorder", h.AuthMiddleware(h.ReorderTracksHandler)).Methods(http.MethodPut)
	admin.HandleFunc("/tracks/{id}", h.AuthMiddleware(h.UpdateTrackHandler)).Methods(http.MethodPut)
	admin.HandleFunc("/tracks/{id}", h.AuthMiddleware(h.DeleteTrackHandler)).Methods(http.MethodDelete)
	admin.HandleFunc("/tracks/{id}/kicks", h.AuthMiddleware(h.UpdateKicksHandler)).Methods(http.MethodPut)
	admin.HandleFunc("/tracks/{id}/sections", h.AuthMiddleware(h.GetSectionsHandler)).Methods(http.MethodGet)
	admin.HandleFunc("/tracks/{id}/sections", h.AuthMiddleware(h.ReplaceSectionsHandler)).Methods(http.MethodPut)
	admin.HandleFunc("/cache/invalidate", h.AuthMiddleware(h.InvalidateCacheHandler)).Methods(http.MethodPost)
	admin.HandleFunc("/analytics", h.AuthMiddleware(h.AnalyticsStatisticsHandler)).Methods(http.MethodGet)

	return router
}

// corsMiddleware 添加 CORS 头
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder 记录响应状态码，并保留 websocket 需要的 Hijack
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

// Start initializes dependencies and runs the HTTP server until SIGINT/SIGTERM.
func Start(cfg *config.Config) error {
	if err := db.ConnectGormDB(cfg); err != nil {
		return err
	}
	defer db.CloseGormDB()

	if err := db.AutoMigrateModels(); err != nil {
		return err
	}

	health := map[string]HealthCheck{"database": db.PingGormDB}

	var snapshot *cache.CatalogCache
	if err := db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis 不可用，目录快照与跨实例失效已禁用", logger.ErrorField(err))
	} else {
		defer db.CloseRedis()
		snapshot = cache.NewCatalogCache(db.RedisClient, cfg.CatalogTTL)
		health["redis"] = func(ctx context.Context) error { return db.RedisClient.Ping(ctx).Err() }
	}

	var media MediaStore
	store, err := storage.NewStore(cfg)
	if err != nil {
		logger.Warn("MinIO 不可用，上传已禁用", logger.ErrorField(err))
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = store.EnsureBucket(ctx)
		cancel()
		if err != nil {
			logger.Warn("MinIO 存储桶检查失败，上传已禁用", logger.ErrorField(err))
		} else {
			media = store
			health["storage"] = store.Ping
		}
	}

	trackRepo := repository.NewGormTrackRepository(db.GormDB)
	prefetch := playback.NewPrefetchCache(
		catalog.NewRepositoryLoader(trackRepo, snapshot),
		storage.NewURLResolver(storage.PublicBase(cfg)),
		playback.WithTTL(cfg.CatalogTTL),
	)

	admin := auth.Admin{
		Email:        cfg.AdminEmail,
		PasswordHash: cfg.AdminPasswordHash,
		Secret:       []byte(cfg.JWTSecret),
		TTL:          cfg.JWTTTL,
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET 未设置，管理端登录已禁用")
		admin = auth.Admin{}
	}

	h := NewAPIHandler(Deps{
		Tracks:    trackRepo,
		Sections:  repository.NewGormSectionRepository(db.GormDB),
		Analytics: repository.NewGormAnalyticsRepository(db.GormDB),
		Catalog:   prefetch,
		Snapshot:  snapshot,
		Media:     media,
		Admin:     admin,
		Health:    health,
		Config:    cfg,
	})

	bgCtx, stopBg := context.WithCancel(context.Background())
	defer stopBg()
	if snapshot != nil {
		go func() {
			if err := snapshot.Subscribe(bgCtx, prefetch.Invalidate); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("目录失效订阅已停止", logger.ErrorField(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(h),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // 大文件上传
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务器启动", logger.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-stop:
	}
	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("服务器已停止")
	return nil
}
