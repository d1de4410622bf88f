package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/prometheus"
	"github.com/osbuild/installer-core/internal/structure"
)

// Server exposes a Registry over HTTP.
type Server struct {
	reg  *Registry
	echo *echo.Echo
	srv  *http.Server
}

func NewServer(reg *Registry) *Server {
	s := &Server{reg: reg}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Logger = common.Logger()
	e.Pre(common.OperationIDMiddleware)
	e.Use(middleware.Recover())
	e.Use(common.LoggerMiddleware)
	e.Use(prometheus.MetricsMiddleware)

	g := e.Group(BasePath)
	g.POST("/call", s.call)
	g.POST("/get", s.get)
	g.POST("/set", s.set)
	g.POST("/get-all", s.getAll)
	g.GET("/introspect", s.introspect)
	g.GET("/objects", s.objects)
	g.GET("/signals", s.signals)
	g.GET("/status", s.status)

	s.echo = e
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Serve accepts connections on listener until Shutdown is called.
func (s *Server) Serve(listener net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.srv.Serve(listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func bind(c echo.Context, v interface{}) error {
	if ct := c.Request().Header.Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, "Only 'application/json' content is supported")
	}
	if err := json.NewDecoder(c.Request().Body).Decode(v); err != nil {
		if installerrors.KindOf(err) == installerrors.ErrorSchema {
			return installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "malformed request")
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Malformed json, unable to decode body")
	}
	return nil
}

func (s *Server) call(c echo.Context) error {
	var req CallRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	results, err := s.reg.Call(c.Request().Context(), req.Path, req.Interface, req.Method, req.Args)
	if err != nil {
		return err
	}
	if results == nil {
		results = []structure.Variant{}
	}
	return c.JSON(http.StatusOK, CallResponse{Results: results})
}

func (s *Server) get(c echo.Context) error {
	var req PropertyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	v, err := s.reg.Get(c.Request().Context(), req.Path, req.Interface, req.Property)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PropertyResponse{Value: v})
}

func (s *Server) set(c echo.Context) error {
	var req PropertyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Value == nil {
		return installerrors.InvalidRequest("no value given for %s", req.Property)
	}
	if err := s.reg.Set(c.Request().Context(), req.Path, req.Interface, req.Property, *req.Value); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getAll(c echo.Context) error {
	var req GetAllRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	props, err := s.reg.GetAll(c.Request().Context(), req.Path, req.Interface)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, GetAllResponse{Properties: props})
}

func (s *Server) introspect(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return installerrors.InvalidRequest("missing path")
	}
	info, err := s.reg.Introspect(path)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) objects(c echo.Context) error {
	return c.JSON(http.StatusOK, ObjectsResponse{Paths: s.reg.Objects()})
}

func (s *Server) status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:      "OK",
		Objects:     len(s.reg.Objects()),
		BuildCommit: common.BuildCommit,
	})
}

// signals streams events as server-sent events. The optional path query
// parameter limits the stream to objects at or below that path.
func (s *Server) signals(c echo.Context) error {
	prefix := c.QueryParam("path")
	sub := s.reg.Subscribe()
	defer sub.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			logrus.WithContext(ctx).Debugf("signal stream closed: %v", err)
			return nil
		}
		if prefix != "" && ev.Path != prefix && !strings.HasPrefix(ev.Path, prefix+"/") {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "event: signal\ndata: %s\n\n", data); err != nil {
			return nil
		}
		resp.Flush()
	}
}
