package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token *string `json:"token,omitempty"`
}

type ErrorResponse struct {
	Errors *string `json:"errors,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type ScanRequest struct {
	ResidentName string `json:"resident_name"`
}

type GetWsParams struct {
	Resident *string `query:"resident"`
}

// ServerInterface is the full set of routes served by the API.
type ServerInterface interface {
	// (GET /)
	GetHealth(ctx echo.Context) error
	// (POST /api/auth)
	PostApiAuth(ctx echo.Context) error
	// (GET /users/{name})
	GetUsersName(ctx echo.Context, name string) error
	// (POST /reward)
	PostReward(ctx echo.Context) error
	// (POST /redeem)
	PostRedeem(ctx echo.Context) error
	// (POST /collector/scan)
	PostCollectorScan(ctx echo.Context) error
	// (POST /collector/approve)
	PostCollectorApprove(ctx echo.Context) error
	// (POST /collector/confirm)
	PostCollectorConfirm(ctx echo.Context) error
	// (POST /collector/reset)
	PostCollectorReset(ctx echo.Context) error
	// (GET /collector/state)
	GetCollectorState(ctx echo.Context) error
	// (GET /ws)
	GetWs(ctx echo.Context, params GetWsParams) error
}

// ServerInterfaceWrapper extracts path and query parameters before calling
// the handler.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) GetHealth(ctx echo.Context) error {
	return w.Handler.GetHealth(ctx)
}

func (w *ServerInterfaceWrapper) PostApiAuth(ctx echo.Context) error {
	return w.Handler.PostApiAuth(ctx)
}

func (w *ServerInterfaceWrapper) GetUsersName(ctx echo.Context) error {
	name := ctx.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Missing parameter name")
	}
	return w.Handler.GetUsersName(ctx, name)
}

func (w *ServerInterfaceWrapper) PostReward(ctx echo.Context) error {
	return w.Handler.PostReward(ctx)
}

func (w *ServerInterfaceWrapper) PostRedeem(ctx echo.Context) error {
	return w.Handler.PostRedeem(ctx)
}

func (w *ServerInterfaceWrapper) PostCollectorScan(ctx echo.Context) error {
	return w.Handler.PostCollectorScan(ctx)
}

func (w *ServerInterfaceWrapper) PostCollectorApprove(ctx echo.Context) error {
	return w.Handler.PostCollectorApprove(ctx)
}

func (w *ServerInterfaceWrapper) PostCollectorConfirm(ctx echo.Context) error {
	return w.Handler.PostCollectorConfirm(ctx)
}

func (w *ServerInterfaceWrapper) PostCollectorReset(ctx echo.Context) error {
	return w.Handler.PostCollectorReset(ctx)
}

func (w *ServerInterfaceWrapper) GetCollectorState(ctx echo.Context) error {
	return w.Handler.GetCollectorState(ctx)
}

func (w *ServerInterfaceWrapper) GetWs(ctx echo.Context) error {
	var params GetWsParams
	if resident := ctx.QueryParam("resident"); resident != "" {
		params.Resident = &resident
	}
	return w.Handler.GetWs(ctx, params)
}

// EchoRouter is satisfied by both *echo.Echo and *echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

func RegisterHandlers(router EchoRouter, si ServerInterface) {
	wrapper := ServerInterfaceWrapper{Handler: si}

	router.GET("/", wrapper.GetHealth)
	router.POST("/api/auth", wrapper.PostApiAuth)
	router.GET("/users/:name", wrapper.GetUsersName)
	router.POST("/reward", wrapper.PostReward)
	router.POST("/redeem", wrapper.PostRedeem)
	router.POST("/collector/scan", wrapper.PostCollectorScan)
	router.POST("/collector/approve", wrapper.PostCollectorApprove)
	router.POST("/collector/confirm", wrapper.PostCollectorConfirm)
	router.POST("/collector/reset", wrapper.PostCollectorReset)
	router.GET("/collector/state", wrapper.GetCollectorState)
	router.GET("/ws", wrapper.GetWs)
}
