package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/gamewallet/internal/telemetry"
	"github.com/MarkoPoloResearchLab/gamewallet/internal/tokens"
	"github.com/MarkoPoloResearchLab/gamewallet/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// TokenResolver turns provider bearer tokens into player identities.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (tokens.Identity, error)
}

// Dependencies carries the collaborators of the HTTP facade.
type Dependencies struct {
	Service  *ledger.Service
	Tokens   TokenResolver
	Logger   *zap.Logger
	Metrics  *telemetry.Metrics
	Gatherer prometheus.Gatherer
}

// Run serves the facade until ctx is cancelled.
func Run(ctx context.Context, cfg Config, deps Dependencies) error {
	router, err := NewRouter(cfg, deps)
	if err != nil {
		return err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("walletd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter validates cfg and builds the gin engine.
func NewRouter(cfg Config, deps Dependencies) (*gin.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("wallet service is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token resolver is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	sessionValidator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}

	handler := &httpHandler{
		cfg:     cfg,
		service: deps.Service,
		tokens:  deps.Tokens,
		logger:  deps.Logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(observeRequests(deps.Metrics))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	callbacks := router.Group("/callbacks/:provider")
	callbacks.POST("/bet", handler.handleBet)
	callbacks.POST("/payout", handler.handlePayout)
	callbacks.POST("/refund", handler.handleRefund)

	api := router.Group("/api")
	api.Use(sessionValidator.GinMiddleware(claimsContextKey))
	api.GET("/balances", handler.handleBalances)
	api.GET("/balances/:currency", handler.handleBalance)
	api.GET("/entries", handler.handleEntries)

	return router, nil
}

func observeRequests(metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		metrics.ObserveRequest(ctx.FullPath(), ctx.Writer.Status(), time.Since(started))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
