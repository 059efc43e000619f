package api

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/swissborg/certificate-guardian/config"
)

type Server struct {
	echo     *echo.Echo
	handlers *Handlers
}

func NewServer(issuer Issuer, verifier Verifier, records Records) *Server {
	s := &Server{handlers: NewHandlers(issuer, verifier, records)}
	s.echo = s.makeEcho()
	return s
}

func (s *Server) Start(cfg config.APIConf) error {
	log.Infof("API server starting...")

	err := s.echo.Start(fmt.Sprintf("%s:%s", cfg.Host, cfg.Port))
	if err != nil {
		return err
	}
	return nil
}

func (s *Server) Stop() error {
	const shutdownTimeout = time.Second * 10

	ctx, cancelTimeout := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelTimeout()

	if err := s.echo.Shutdown(ctx); err != nil {
		return err
	}

	return nil
}

func (s *Server) makeEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("64K"))

	e.Validator = &CustomValidator{validator: validator.New()}

	certGroup := e.Group("/cert")
	certGroup.POST("/issue", s.handlers.IssueCert)
	certGroup.POST("/verify", s.handlers.VerifyCert)
	certGroup.GET("/list", s.handlers.ListCerts)
	certGroup.GET("/:fingerprint", s.handlers.GetCert)
	certGroup.POST("/:fingerprint/register", s.handlers.RegisterCert)

	return e
}

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
