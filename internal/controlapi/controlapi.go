// Package controlapi implements the JSON control channel (§4.7, §6
// "Control channel"): a single echo route accepting
// `{"API_JSON_REQUEST": {"Type", "Token", "Data"}}`, gated by a per-token
// permission set pulled from settings, with a per-source-IP soft block
// after repeated failures.
package controlapi

import (
	"log"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"smo-relay/internal/operator"
	"smo-relay/internal/settings"
)

// maxFailures is the per-source-IP failure count after which requests are
// soft-blocked (§4.7 "after 5 malformed or unauthorized requests the IP is
// soft-blocked").
const maxFailures = 5

// RequestType names the three shapes the control channel accepts (§6).
type RequestType string

const (
	TypeStatus      RequestType = "Status"
	TypeCommand     RequestType = "Command"
	TypePermissions RequestType = "Permissions"
)

// envelope is the wire shape of one control-channel request.
type envelope struct {
	APIJSONRequest struct {
		Type  RequestType `json:"Type"`
		Token string      `json:"Token"`
		Data  string      `json:"Data,omitempty"`
	} `json:"API_JSON_REQUEST"`
}

// Server is the JSON control channel's echo wrapper.
type Server struct {
	settings *settings.Handle
	surface  operator.Surface
	echo     *echo.Echo

	mu       sync.Mutex
	failures map[string]int
}

// New constructs a Server bound to settings (for token→permission lookup)
// and surface (the Coordinator's command dispatcher).
func New(s *settings.Handle, surface operator.Surface) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	srv := &Server{settings: s, surface: surface, echo: e, failures: make(map[string]int)}
	e.POST("/", srv.handle)
	return srv
}

// Run starts the echo server on addr and blocks until Shutdown closes it;
// a server closed that way returns nil.
func (s *Server) Run(addr string) error {
	log.Printf("[api] control channel listening on %s", addr)
	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the echo server.
func (s *Server) Shutdown() error {
	return s.echo.Close()
}

func (s *Server) handle(c echo.Context) error {
	ip := c.RealIP()
	if s.isBlocked(ip) {
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many failed requests"})
	}

	var req envelope
	if err := c.Bind(&req); err != nil {
		s.recordFailure(ip)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request"})
	}

	perms, ok := s.settings.PermissionsFor(req.APIJSONRequest.Token)
	if !ok {
		s.recordFailure(ip)
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unknown token"})
	}

	switch req.APIJSONRequest.Type {
	case TypeStatus:
		return s.handleStatus(c, ip, perms)
	case TypeCommand:
		return s.handleCommand(c, ip, perms, req.APIJSONRequest.Data)
	case TypePermissions:
		return c.JSON(http.StatusOK, map[string]any{"permissions": perms})
	default:
		s.recordFailure(ip)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown request type"})
	}
}

func (s *Server) handleStatus(c echo.Context, ip string, perms map[string]bool) error {
	if !perms["Status"] {
		s.recordFailure(ip)
		return c.JSON(http.StatusForbidden, map[string]string{"error": "missing Status permission"})
	}
	reply := s.surface.Dispatch(operator.Command{Action: operator.ActionStatus, Target: operator.All})
	if reply.Err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": reply.Err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": reply.Text})
}

// handleCommand parses a minimal `<action> <name...>` command line out of
// Data and dispatches it, matching the console's own parser so both
// surfaces accept identical syntax (§4.7 "every console action has a JSON
// equivalent").
func (s *Server) handleCommand(c echo.Context, ip string, perms map[string]bool, data string) error {
	cmd, ok := operator.ParseCommandLine(data)
	if !ok {
		s.recordFailure(ip)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed command"})
	}
	if !perms["Commands"] && !perms["Commands/"+actionPermName(cmd.Action)] {
		s.recordFailure(ip)
		return c.JSON(http.StatusForbidden, map[string]string{"error": "missing Commands permission"})
	}

	reply := s.surface.Dispatch(cmd)
	if reply.Err != nil {
		return c.JSON(http.StatusOK, map[string]string{"error": reply.Err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"result": reply.Text})
}

func actionPermName(a operator.Action) string {
	switch a {
	case operator.ActionSendShine:
		return "shine"
	case operator.ActionKick:
		return "kick"
	case operator.ActionBan:
		return "ban"
	case operator.ActionBroadcastGame:
		return "stage"
	case operator.ActionStatus:
		return "status"
	default:
		return ""
	}
}

func (s *Server) isBlocked(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[ip] >= maxFailures
}

func (s *Server) recordFailure(ip string) {
	s.mu.Lock()
	s.failures[ip]++
	n := s.failures[ip]
	s.mu.Unlock()
	if n == maxFailures {
		log.Printf("[api] soft-blocking %s after %d failures", ip, n)
	}
}

