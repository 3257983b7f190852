package api

import (
	"errors"
	"net/http"

	"green-reward/internal/service"
	"green-reward/pkg"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type Handlers struct {
	AuthService service.AuthService
	Backend     service.Backend
	Sessions    *service.CollectorSessions
	Hub         *Hub
	Logger      pkg.Logger
}

var _ ServerInterface = (*Handlers)(nil)

func (h *Handlers) GetHealth(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, HealthResponse{Status: "active", Message: "GreenReward API is running"})
}

func (h *Handlers) PostApiAuth(ctx echo.Context) error {
	var req AuthRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: ptr("Invalid request body")})
	}

	token, err := h.AuthService.Authenticate(req.Username, req.Password)
	if err != nil {
		h.Logger.Warn("invalid credentials", zap.String("username", req.Username), zap.Error(err))
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: ptr("Invalid credentials")})
	}
	return ctx.JSON(http.StatusOK, AuthResponse{Token: &token})
}

func (h *Handlers) GetUsersName(ctx echo.Context, name string) error {
	user, err := h.Backend.GetUser(ctx.Request().Context(), name)
	if err != nil {
		return h.ledgerError(ctx, "failed to get user", name, err)
	}
	return ctx.JSON(http.StatusOK, user)
}

func (h *Handlers) PostReward(ctx echo.Context) error {
	var req service.RewardRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: ptr("Invalid request body")})
	}

	res, err := h.Backend.Reward(ctx.Request().Context(), req)
	if err != nil {
		return h.ledgerError(ctx, "failed to reward", req.ResidentName, err)
	}
	return ctx.JSON(http.StatusOK, res)
}

func (h *Handlers) PostRedeem(ctx echo.Context) error {
	var req service.RedeemRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: ptr("Invalid request body")})
	}

	res, err := h.Backend.Redeem(ctx.Request().Context(), req)
	if err != nil {
		return h.ledgerError(ctx, "failed to redeem", req.ResidentName, err)
	}
	return ctx.JSON(http.StatusOK, res)
}

func (h *Handlers) PostCollectorScan(ctx echo.Context) error {
	collector, err := h.collector(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: ptr(err.Error())})
	}
	var req ScanRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: ptr("Invalid request body")})
	}

	snap, err := collector.StartScan(req.ResidentName)
	if err != nil {
		return h.collectorError(ctx, snap, err)
	}
	return ctx.JSON(http.StatusAccepted, snap)
}

func (h *Handlers) PostCollectorApprove(ctx echo.Context) error {
	collector, err := h.collector(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: ptr(err.Error())})
	}

	snap, err := collector.Approve(ctx.Request().Context())
	if err != nil {
		return h.collectorError(ctx, snap, err)
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (h *Handlers) PostCollectorConfirm(ctx echo.Context) error {
	collector, err := h.collector(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: ptr(err.Error())})
	}

	snap, err := collector.Confirm(ctx.Request().Context())
	if err != nil {
		return h.collectorError(ctx, snap, err)
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (h *Handlers) PostCollectorReset(ctx echo.Context) error {
	collector, err := h.collector(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: ptr(err.Error())})
	}

	snap, err := collector.Reset()
	if err != nil {
		return h.collectorError(ctx, snap, err)
	}
	return ctx.JSON(http.StatusOK, snap)
}

func (h *Handlers) GetCollectorState(ctx echo.Context) error {
	collector, err := h.collector(ctx)
	if err != nil {
		return ctx.JSON(http.StatusUnauthorized, ErrorResponse{Errors: ptr(err.Error())})
	}
	return ctx.JSON(http.StatusOK, collector.State())
}

func (h *Handlers) GetWs(ctx echo.Context, params GetWsParams) error {
	var resident string
	if params.Resident != nil {
		resident = *params.Resident
	}
	return h.Hub.Serve(ctx, resident)
}

func (h *Handlers) collector(ctx echo.Context) (*service.Collector, error) {
	operator, err := getUsernameFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return h.Sessions.Get(operator), nil
}

func (h *Handlers) ledgerError(ctx echo.Context, msg, resident string, err error) error {
	switch {
	case errors.Is(err, service.ErrUserNotFound):
		return ctx.JSON(http.StatusNotFound, ErrorResponse{Errors: ptr("User not found")})
	case errors.Is(err, service.ErrInvalidAmount):
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: ptr("Amount must be > 0")})
	case errors.Is(err, service.ErrInvalidShop):
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: ptr("Shop name is required")})
	case errors.Is(err, service.ErrVersionConflict):
		return ctx.JSON(http.StatusConflict, ErrorResponse{Errors: ptr("Ledger changed concurrently, please retry")})
	}
	h.Logger.Error(msg, zap.String("resident", resident), zap.Error(err))
	return ctx.JSON(http.StatusInternalServerError, ErrorResponse{Errors: ptr("Internal server error")})
}

func (h *Handlers) collectorError(ctx echo.Context, snap service.CollectorSnapshot, err error) error {
	switch {
	case errors.Is(err, service.ErrNoResident):
		return ctx.JSON(http.StatusBadRequest, ErrorResponse{Errors: ptr("Resident is required")})
	case errors.Is(err, service.ErrSubmissionInFlight):
		return ctx.JSON(http.StatusConflict, ErrorResponse{Errors: ptr("Reward already submitted")})
	case errors.Is(err, service.ErrInvalidTransition):
		return ctx.JSON(http.StatusConflict, ErrorResponse{Errors: ptr("Not allowed in state " + snap.State.String())})
	}
	h.Logger.Error("collector action failed", zap.String("resident", snap.Resident), zap.Error(err))
	notice := snap.LastError
	if notice == "" {
		notice = "Internal server error"
	}
	return ctx.JSON(http.StatusInternalServerError, ErrorResponse{Errors: ptr(notice)})
}

func getUsernameFromContext(ctx echo.Context) (string, error) {
	claims := ctx.Get("user")
	if claims == nil {
		return "", errUnauthorized("Unauthorized")
	}
	jwtClaims, ok := claims.(jwt.MapClaims)
	if !ok {
		return "", errUnauthorized("Invalid token claims")
	}
	username, ok := jwtClaims["username"].(string)
	if !ok || username == "" {
		return "", errUnauthorized("Invalid token claims")
	}
	return username, nil
}

func ptr(s string) *string {
	return &s
}

func errUnauthorized(msg string) error {
	return echo.NewHTTPError(http.StatusUnauthorized, msg)
}
