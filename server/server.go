package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"sunoman/cache"
	"sunoman/config"
	"sunoman/core/analyzer"
	"sunoman/core/event"
	"sunoman/core/orchestrator"
	"sunoman/core/suno"
	"sunoman/db"
	"sunoman/logger"
	"sunoman/model"
	"sunoman/repository"
	"sunoman/storage"
)

// Start 完成全部初始化并启动 HTTP 服务，阻塞到收到退出信号
func Start() {
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogPath,
	})

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("连接数据库失败", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.InitDB(); err != nil {
		logger.Fatal("初始化数据库失败", logger.ErrorField(err))
	}

	// settings 表走 GORM
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("连接 GORM 数据库失败", logger.ErrorField(err))
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.Setting{}); err != nil {
		logger.Fatal("迁移 settings 表失败", logger.ErrorField(err))
	}

	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Fatal("连接 Redis 失败", logger.ErrorField(err))
	}
	defer cache.CloseRedis()

	if err := storage.InitMinio(cfg); err != nil {
		logger.Warn("MinIO 初始化失败，归档功能关闭", logger.ErrorField(err))
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		logger.Fatal("创建下载目录失败", logger.ErrorField(err))
	}

	songRepo := repository.NewMySQLSongRepository()
	genRepo := repository.NewMySQLGenerationRepository()
	settingsRepo, err := repository.NewGormSettingsRepository()
	if err != nil {
		logger.Fatal("初始化设置存储失败", logger.ErrorField(err))
	}

	manager := suno.NewManager(loadCookie(cfg))
	if err := manager.WatchCookieFile(cfg.CookieFile); err != nil {
		logger.Warn("cookie 文件监听启动失败", logger.ErrorField(err))
	}
	defer manager.Close()
	source := orchestrator.NewManagerSource(manager)

	bus := event.NewBus()

	silence := analyzer.NewFFmpegAnalyzer(cfg.FFmpegPath)
	pipeline := &orchestrator.Pipeline{
		Songs:    songRepo,
		Gens:     genRepo,
		Settings: settingsRepo,
		Client:   source,
		Analyzer: silence,
		Bus:      bus,
	}
	coordinator := orchestrator.NewCoordinator(pipeline)
	coordinator.Settings = settingsRepo

	poller := &orchestrator.Poller{
		Songs:       songRepo,
		Gens:        genRepo,
		Settings:    settingsRepo,
		Client:      source,
		Coordinator: coordinator,
		Bus:         bus,
	}
	submitter := &orchestrator.Submitter{
		Songs:    songRepo,
		Gens:     genRepo,
		Settings: settingsRepo,
		Client:   source,
		Poller:   poller,
		Bus:      bus,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	coordinator.Start(ctx)
	poller.Start(ctx)

	h := NewAPIHandler(songRepo, genRepo, settingsRepo, source, submitter, coordinator, poller, manager, silence, cfg)
	wsHub := NewWSHub(bus)

	router := mux.NewRouter()
	router.Use(corsMiddleware)

	// 歌曲管理
	router.HandleFunc("/api/songs", h.CreateSongsHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/songs", h.ListSongsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/delete", h.BatchDeleteSongsHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/songs/{id}", h.GetSongHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/{id}", h.DeleteSongHandler).Methods(http.MethodDelete)
	router.HandleFunc("/api/songs/{id}/submit", h.SubmitSongHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/stats", h.StatsHandler).Methods(http.MethodGet)

	// 批量提交
	router.HandleFunc("/api/submit/all", h.SubmitAllHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/submit/retry", h.RetryFailedHandler).Methods(http.MethodPost)

	// 下载
	router.HandleFunc("/api/download/all", h.DownloadAllHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/download/progress", h.DownloadProgressHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/download/{sunoId}", h.DownloadHandler).Methods(http.MethodPost)

	// 静音分析
	router.HandleFunc("/api/silence/{sunoId}", h.SilenceDetailsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/silence/{sunoId}/analyze", h.ReanalyzeSilenceHandler).Methods(http.MethodPost)

	// 轮询与设置
	router.HandleFunc("/api/poll/now", h.PollNowHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/poll/status", h.PollStatusHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/settings", h.GetSettingsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/settings", h.UpdateSettingsHandler).Methods(http.MethodPut)

	// Suno 账户
	router.HandleFunc("/api/suno/credits", h.CreditsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/suno/models", h.ModelsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/suno/cookie", h.UpdateCookieHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/import/history", h.ImportHistoryHandler).Methods(http.MethodPost)

	// WebSocket 事件推送
	router.HandleFunc("/ws", wsHub.ServeWS)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务异常退出", logger.ErrorField(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("收到退出信号，开始优雅关闭")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP 关闭超时", logger.ErrorField(err))
	}

	cancel()
	poller.Stop()
	coordinator.Stop()
	logger.Info("服务已退出")
}

// loadCookie 优先读 cookie 文件，其次环境变量
func loadCookie(cfg *config.Config) string {
	if data, err := os.ReadFile(cfg.CookieFile); err == nil {
		if cookie := strings.TrimSpace(string(data)); cookie != "" {
			return cookie
		}
	}
	return cfg.SunoCookie
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
