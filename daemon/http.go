package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"undocked"
	"undocked/api"
	"undocked/node"
	"undocked/node/traffic"
)

const (
	httpShutdownTimeout = 5 * time.Second
	wsWriteTimeout      = 10 * time.Second
)

// Proxy forwards a request to a local service and meters it.
type Proxy interface {
	Serve(w http.ResponseWriter, r *http.Request, id, path string)
	Ban(addr string) error
	BannedAddrs() []string
}

var _ Proxy = (*traffic.Meter)(nil)

var kindStatus = map[string]int{
	"NotFound":            http.StatusNotFound,
	"AlreadyExists":       http.StatusConflict,
	"PortInUse":           http.StatusConflict,
	"OperationInProgress": http.StatusConflict,
	"InvalidArgument":     http.StatusBadRequest,
	"EngineUnavailable":   http.StatusServiceUnavailable,
	"Timeout":             http.StatusGatewayTimeout,
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// frame is one websocket message of the events stream.
type frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type messageBody struct {
	Message string `json:"message"`
}

type banRequest struct {
	Addr string `json:"addr"`
}

type bansResponse struct {
	Banned []string `json:"banned"`
}

// HTTPAPI serves the node over HTTP for browsers and scripts. Streams are
// websockets.
type HTTPAPI struct {
	node     Node
	proxy    Proxy
	echo     *echo.Echo
	upgrader websocket.Upgrader
	log      *slog.Logger

	// base outlives requests; hijacked websocket connections end with it.
	base   context.Context
	cancel context.CancelFunc
}

// NewHTTPAPI builds the HTTP API. A nil proxy disables /v1/proxy and a nil
// gatherer disables /metrics.
func NewHTTPAPI(n Node, proxy Proxy, gatherer prometheus.Gatherer) *HTTPAPI {
	base, cancel := context.WithCancel(context.Background())
	a := &HTTPAPI{
		node:  n,
		proxy: proxy,
		echo:  echo.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-host tooling only; the API binds to loopback by default.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:    slog.With("component", "http"),
		base:   base,
		cancel: cancel,
	}

	e := a.echo
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = a.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				a.log.Debug("Request failed.", append(attrs, "err", v.Error)...)
				return nil
			}
			a.log.Debug("Request.", attrs...)
			return nil
		},
	}))

	v1 := e.Group("/v1")
	v1.GET("/snapshot", a.snapshot)
	v1.GET("/services", a.listServices)
	v1.POST("/services", a.startService)
	v1.GET("/services/recommended", a.recommended)
	v1.POST("/services/configure", a.configure)
	v1.GET("/services/:id", a.getService)
	v1.DELETE("/services/:id", a.stopService)
	v1.GET("/services/:id/logs", a.logs)
	v1.GET("/peers", a.peers)
	v1.GET("/catalog", a.catalog)
	v1.GET("/engine", a.checkEngine)
	v1.POST("/engine/start", a.startEngine)
	v1.GET("/events", a.events)
	if proxy != nil {
		v1.Any("/proxy/:id", a.forward)
		v1.Any("/proxy/:id/*", a.forward)
		v1.GET("/ban", a.bans)
		v1.POST("/ban", a.ban)
	}
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return a
}

// Handler returns the router, for tests and custom servers.
func (a *HTTPAPI) Handler() http.Handler {
	return a.echo
}

// Close ends every open websocket stream.
func (a *HTTPAPI) Close() {
	a.cancel()
}

// ListenAndServe serves the API on addr until ctx is cancelled.
func (a *HTTPAPI) ListenAndServe(ctx context.Context, addr string) error {
	go func() {
		<-ctx.Done()
		a.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), httpShutdownTimeout)
		defer cancel()
		if err := a.echo.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("HTTP shutdown failed.", "err", err)
		}
	}()

	a.log.Info("HTTP API listening.", "addr", addr)
	if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http %s: %w", addr, err)
	}
	return nil
}

func (a *HTTPAPI) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := errorBody{Error: err.Error(), Kind: undocked.Kind(err)}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		body = errorBody{Error: fmt.Sprint(he.Message)}
		if code == http.StatusBadRequest {
			body.Kind = "InvalidArgument"
		}
	} else if status, ok := kindStatus[body.Kind]; ok {
		code = status
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		a.log.Debug("Write error response failed.", "err", err)
	}
}

func (a *HTTPAPI) snapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, a.node.Snapshot())
}

func (a *HTTPAPI) listServices(c echo.Context) error {
	return c.JSON(http.StatusOK, api.ServicesResponse{Services: a.node.ListServices()})
}

func (a *HTTPAPI) getService(c echo.Context) error {
	svc, err := a.node.GetService(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, svc)
}

func (a *HTTPAPI) startService(c echo.Context) error {
	var req api.StartServiceRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	svc, err := a.node.Launch(c.Request().Context(), launchRequest(&req))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, api.StartServiceResponse{Message: node.StartedMessage(svc), Service: svc})
}

func (a *HTTPAPI) stopService(c echo.Context) error {
	msg, err := a.node.StopService(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageBody{Message: msg})
}

func (a *HTTPAPI) recommended(c echo.Context) error {
	return c.JSON(http.StatusOK, api.ProfilesResponse{Profiles: a.node.ListRecommendedServices()})
}

func (a *HTTPAPI) catalog(c echo.Context) error {
	return c.JSON(http.StatusOK, api.ProfilesResponse{Profiles: a.node.Catalog()})
}

// configure registers a new catalog profile.
func (a *HTTPAPI) configure(c echo.Context) error {
	var p undocked.ServiceProfile
	if err := c.Bind(&p); err != nil {
		return err
	}
	added, err := a.node.AddProfile(p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, added)
}

func (a *HTTPAPI) bans(c echo.Context) error {
	return c.JSON(http.StatusOK, bansResponse{Banned: a.proxy.BannedAddrs()})
}

// ban refuses proxied traffic from a client address.
func (a *HTTPAPI) ban(c echo.Context) error {
	var req banRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := a.proxy.Ban(req.Addr); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageBody{Message: fmt.Sprintf("Client %s banned.", req.Addr)})
}

func (a *HTTPAPI) peers(c echo.Context) error {
	return c.JSON(http.StatusOK, api.PeersResponse{Peers: a.node.GetPeers()})
}

func (a *HTTPAPI) checkEngine(c echo.Context) error {
	return c.JSON(http.StatusOK, api.EngineResponse{Status: a.node.CheckEngine(c.Request().Context())})
}

func (a *HTTPAPI) startEngine(c echo.Context) error {
	st, err := a.node.StartEngine(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, api.EngineResponse{Status: st, Message: "Container engine is running."})
}

func (a *HTTPAPI) forward(c echo.Context) error {
	a.proxy.Serve(c.Response(), c.Request(), c.Param("id"), "/"+c.Param("*"))
	return nil
}

func (a *HTTPAPI) logs(c echo.Context) error {
	ctx, cancel := context.WithCancel(a.base)
	defer cancel()

	lines, err := a.node.StreamLogs(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	conn, err := a.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already answered the request.
		return nil
	}
	defer closeWebSocket(conn)
	go discardReads(conn, cancel)

	for line := range lines {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return nil
		}
	}
	return nil
}

func (a *HTTPAPI) events(c echo.Context) error {
	types := eventTypes(c.QueryParams()["types"])
	if err := validateEventTypes(types); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(a.base)
	defer cancel()

	conn, err := a.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer closeWebSocket(conn)
	go discardReads(conn, cancel)

	for ev := range Events(ctx, a.node, types) {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(frame{Type: ev.Type, Data: eventData(ev)}); err != nil {
			return nil
		}
	}
	return nil
}

// eventTypes accepts repeated and comma separated type parameters.
func eventTypes(params []string) []string {
	var types []string
	for _, p := range params {
		for t := range strings.SplitSeq(p, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}
	return types
}

func eventData(ev api.Event) any {
	switch {
	case ev.Stats != nil:
		return ev.Stats
	case ev.Error != nil:
		return ev.Error
	case ev.Engine != nil:
		return ev.Engine
	}
	return nil
}

// discardReads consumes client frames so control messages are handled, and
// calls cancel once the client goes away.
func discardReads(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func closeWebSocket(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
