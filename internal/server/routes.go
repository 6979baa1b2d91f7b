package server

import (
	"net/http"
	"time"

	"shelly2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/devices", s.ListDevicesHandler)
	e.POST("/devices", s.PairDeviceHandler)
	e.POST("/pair", s.PairDeviceHandler)
	e.DELETE("/devices/:id", s.UnpairDeviceHandler)
	e.POST("/devices/:id/command", s.CommandHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) ListDevicesHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ListDevicesRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.ListDevicesResponse)
	if !ok {
		return c.String(http.StatusInternalServerError, "unexpected response")
	}
	return c.JSON(http.StatusOK, response.Devices)
}

type pairDeviceBody struct {
	ID       string `json:"id"`
	Model    string `json:"model"`
	Address  string `json:"address"`
	Mode     string `json:"mode"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) PairDeviceHandler(c echo.Context) error {
	var body pairDeviceBody
	if err := c.Bind(&body); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.PairDeviceRequest{
		Profile: domain.DeviceProfile{
			ID:       body.ID,
			Model:    body.Model,
			Address:  body.Address,
			Mode:     body.Mode,
			Username: body.Username,
			Password: body.Password,
		},
	}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.PairDeviceResponse)
	if !ok {
		return c.String(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return c.String(http.StatusBadRequest, response.GetResponseError().Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) UnpairDeviceHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.UnpairDeviceRequest{
		DeviceID: c.Param("id"),
	}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.UnpairDeviceResponse)
	if !ok {
		return c.String(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return c.String(http.StatusNotFound, response.GetResponseError().Error())
	}
	return c.NoContent(http.StatusOK)
}

type commandBody struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

func (s *Server) CommandHandler(c echo.Context) error {
	var body commandBody
	if err := c.Bind(&body); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	action, err := domain.ParseAction(body.Action)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.DispatchCommandRequest{
		DeviceID: c.Param("id"),
		Action:   action,
		Params:   body.Params,
	}, 20*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.DispatchCommandResponse)
	if !ok {
		return c.String(http.StatusInternalServerError, "unexpected response")
	}
	if response.HasResponseError() {
		return c.String(http.StatusBadGateway, response.GetResponseError().Error())
	}
	return c.NoContent(http.StatusOK)
}
