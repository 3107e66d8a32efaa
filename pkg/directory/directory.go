// Package directory implements a payjoin directory: an ohttp gateway in
// front of store and forward mailboxes. It is meant for development and
// tests, mailboxes live in memory.
package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"github.com/tdex-network/tdex-payjoin/pkg/ohttp"
	"github.com/tdex-network/tdex-payjoin/pkg/stats"
)

const (
	// DefaultMailboxTTL is how long a mailbox keeps its content.
	DefaultMailboxTTL = 24 * time.Hour
	gatewayPath       = "/.well-known/ohttp-gateway"
	keysPath          = "/ohttp-keys"
	maxPayloadSize    = 1 << 16
)

var mailboxID = regexp.MustCompile(`^[A-Za-z0-9]{1,64}$`)

// Server serves the directory api. It implements http.Handler.
type Server struct {
	echo      *echo.Echo
	gateway   *ohttp.Gateway
	mailboxes *cache.Cache
}

// NewServer returns a directory decrypting requests with the given gateway.
// Mailboxes are emptied after ttl, DefaultMailboxTTL if not positive.
func NewServer(gateway *ohttp.Gateway, ttl time.Duration) *Server {
	if ttl <= 0 {
		ttl = DefaultMailboxTTL
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		gateway:   gateway,
		mailboxes: cache.New(ttl, ttl/2),
	}
	e.Use(logRequests)
	e.GET(keysPath, s.getKeys)
	e.POST("/", s.postOhttp)
	e.POST(gatewayPath, s.postOhttp)
	e.GET("/:id", s.getMailbox)
	e.POST("/:id", s.postMailbox)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// KeyConfig returns the configuration clients encrypt requests with.
func (s *Server) KeyConfig() *ohttp.KeyConfig {
	return s.gateway.KeyConfig()
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	log.Infof("directory listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) getKeys(c echo.Context) error {
	keys, err := ohttp.EncodeKeys(s.gateway.KeyConfig())
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, ohttp.ContentTypeKeys, keys)
}

// postOhttp decapsulates a request, serves it as a mailbox operation and
// encapsulates the response.
func (s *Server) postOhttp(c echo.Context) error {
	if ct := c.Request().Header.Get(echo.HeaderContentType); ct != ohttp.ContentTypeRequest {
		return echo.NewHTTPError(
			http.StatusUnsupportedMediaType, fmt.Sprintf("unsupported content type %q", ct),
		)
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}

	plain, serverCtx, err := s.gateway.DecapsulateRequest(body)
	if err != nil {
		log.WithError(err).Debug("failed to decapsulate request")
		return echo.NewHTTPError(http.StatusBadRequest, "invalid encapsulated request")
	}
	req, err := ohttp.UnmarshalRequest(plain)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid binary http request")
	}

	res := s.serveInner(req)
	encRes, err := serverCtx.EncapsulateResponse(res.Marshal())
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, ohttp.ContentTypeResponse, encRes)
}

func (s *Server) serveInner(req *ohttp.Request) *ohttp.Response {
	id := req.Path
	if len(id) > 0 && id[0] == '/' {
		id = id[1:]
	}
	if !mailboxID.MatchString(id) {
		return &ohttp.Response{Status: http.StatusNotFound}
	}

	switch req.Method {
	case http.MethodGet:
		status, body := s.readMailbox(id)
		return &ohttp.Response{Status: status, Body: body}
	case http.MethodPost, http.MethodPut:
		if len(req.Body) > maxPayloadSize {
			return &ohttp.Response{Status: http.StatusRequestEntityTooLarge}
		}
		return &ohttp.Response{Status: s.writeMailbox(id, req.Body)}
	default:
		return &ohttp.Response{Status: http.StatusMethodNotAllowed}
	}
}

func (s *Server) getMailbox(c echo.Context) error {
	id := c.Param("id")
	if !mailboxID.MatchString(id) {
		return echo.ErrNotFound
	}
	status, body := s.readMailbox(id)
	if body == nil {
		return c.NoContent(status)
	}
	return c.Blob(status, echo.MIMEOctetStream, body)
}

func (s *Server) postMailbox(c echo.Context) error {
	id := c.Param("id")
	if !mailboxID.MatchString(id) {
		return echo.ErrNotFound
	}
	body, err := readBody(c)
	if err != nil {
		return err
	}
	return c.NoContent(s.writeMailbox(id, body))
}

// readMailbox returns 202 while the mailbox is empty.
func (s *Server) readMailbox(id string) (int, []byte) {
	v, ok := s.mailboxes.Get(id)
	if !ok {
		stats.MailboxRequests.WithLabelValues("read", "empty").Inc()
		return http.StatusAccepted, nil
	}
	stats.MailboxRequests.WithLabelValues("read", "hit").Inc()
	return http.StatusOK, v.([]byte)
}

func (s *Server) writeMailbox(id string, body []byte) int {
	if len(body) == 0 {
		return http.StatusBadRequest
	}
	s.mailboxes.SetDefault(id, append([]byte{}, body...))
	stats.MailboxRequests.WithLabelValues("write", "stored").Inc()
	return http.StatusOK
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPayloadSize+1))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(body) > maxPayloadSize {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge)
	}
	return body, nil
}

func logRequests(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		log.WithFields(log.Fields{
			"method":  c.Request().Method,
			"path":    c.Request().URL.Path,
			"status":  c.Response().Status,
			"elapsed": time.Since(start),
		}).Debug("directory request")
		return err
	}
}
