// Package server exposes the comptroller service over a JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stablerisk/gateway/middleware"
	risk "stablerisk/native/comptroller"
	"stablerisk/native/stablecoin"
	"stablerisk/services/comptroller"
)

const requestLimit = 1 << 20 // 1 MiB

// Rate limiter keys used by the route groups.
const (
	RateLimitWrite = "comptroller"
	RateLimitAdmin = "admin"
)

// Config carries the optional middleware. Nil members are skipped.
type Config struct {
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
}

type Server struct {
	svc    *comptroller.Service
	cfg    Config
	logger *slog.Logger
}

func New(svc *comptroller.Service, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, cfg: cfg, logger: logger.With(slog.String("component", "http"))}
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "height": s.svc.Height(), "paused": s.svc.ModulePaused()})
	})
	if s.cfg.Observability != nil {
		r.Handle("/metrics", s.cfg.Observability.MetricsHandler())
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			s.observe(read, "read")
			read.Get("/markets", s.listMarkets)
			read.Get("/accounts/{account}", s.getAccount)
			read.Get("/stablecoin", s.getStablecoin)
			read.Get("/events", s.listEvents)
			read.Get("/liquidate/preview", s.previewSeize)
			read.Get("/liquidate/allowed", s.liquidationAllowed)
		})
		v1.Group(func(write chi.Router) {
			s.limit(write, RateLimitWrite)
			s.authenticate(write, middleware.ScopeWrite)
			s.observe(write, "write")
			write.Post("/markets/enter", s.enterMarkets)
			write.Post("/markets/exit", s.exitMarket)
			write.Post("/stablecoin/approve", s.approve)
			write.Post("/stablecoin/mint", s.mint)
			write.Post("/stablecoin/repay", s.repay)
			write.Post("/liquidate/stablecoin", s.liquidateStablecoin)
			write.Post("/liquidate/borrow", s.liquidateBorrow)
		})
		v1.Route("/admin", func(admin chi.Router) {
			s.limit(admin, RateLimitAdmin)
			s.authenticate(admin, middleware.ScopeAdmin)
			s.observe(admin, "admin")
			admin.Post("/markets", s.supportMarket)
			admin.Post("/collateral-factor", s.setCollateralFactor)
			admin.Post("/prices", s.setPrice)
			admin.Post("/params", s.updateParams)
			admin.Post("/balances", s.setBalance)
			admin.Post("/pause", s.setPause)
			admin.Post("/blocks", s.advanceBlocks)
		})
	})
	return r
}

func (s *Server) observe(r chi.Router, route string) {
	if s.cfg.Observability != nil {
		r.Use(s.cfg.Observability.Middleware(route))
	}
}

func (s *Server) limit(r chi.Router, key string) {
	if s.cfg.RateLimiter != nil {
		r.Use(s.cfg.RateLimiter.Middleware(key))
	}
}

func (s *Server) authenticate(r chi.Router, scope string) {
	if s.cfg.Authenticator != nil {
		r.Use(s.cfg.Authenticator.Middleware(scope))
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

var (
	errBadRequest   = errors.New("bad request")
	errActorMissing = errors.New("account required")
)

type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }
func (e badRequest) Unwrap() error { return errBadRequest }

func invalid(format string, args ...any) error {
	return badRequest{msg: fmt.Sprintf(format, args...)}
}

// actor resolves the acting account. With authentication on it is the token
// subject; otherwise the body's account field.
func (s *Server) actor(ctx context.Context, fromBody string) (common.Address, error) {
	if s.cfg.Authenticator.Enabled() {
		subject, ok := middleware.Subject(ctx)
		if !ok {
			return common.Address{}, errActorMissing
		}
		return parseAddress("sub", subject)
	}
	if strings.TrimSpace(fromBody) == "" {
		return common.Address{}, invalid("account required")
	}
	return parseAddress("account", fromBody)
}

func parseAddress(field, value string) (common.Address, error) {
	addr, err := risk.ParseAddress(value)
	if err != nil {
		return common.Address{}, invalid("%s: %v", field, err)
	}
	return addr, nil
}

func parseAmount(field, value string) (*uint256.Int, error) {
	if strings.EqualFold(strings.TrimSpace(value), "max") {
		return new(uint256.Int).Set(stablecoin.MaxAllowance), nil
	}
	amount, err := risk.ParseAmount(value)
	if err != nil {
		return nil, invalid("%s: %v", field, err)
	}
	return amount, nil
}

func parseMantissa(field, value string) (*uint256.Int, error) {
	v, err := risk.ParseMantissa(value)
	if err != nil {
		return nil, invalid("%s: %v", field, err)
	}
	return v, nil
}

func decodeJSON(r *http.Request, out any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		return invalid("decode request: %v", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var reason string
	switch {
	case errors.Is(err, errBadRequest):
		status, reason = http.StatusBadRequest, "bad_request"
	case errors.Is(err, errActorMissing):
		status, reason = http.StatusUnauthorized, "unauthenticated"
	default:
		status, reason = statusFor(err)
	}
	if status >= http.StatusInternalServerError && reason == "internal" {
		s.logger.Error("request failed",
			slog.String("route", r.URL.Path),
			slog.String("error", err.Error()))
		writeJSON(w, status, map[string]string{"error": "internal error", "code": reason})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": reason})
}
