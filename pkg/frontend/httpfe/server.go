// Package httpfe serves the HTTP/SSE control frontend: JSON status,
// server-sent state events, control routes, websocket audio and the
// Prometheus metrics endpoint.
package httpfe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sgrams/trxd/pkg/frontend"
	"github.com/sgrams/trxd/pkg/logging"
	"github.com/sgrams/trxd/pkg/protocol"
	"github.com/sgrams/trxd/pkg/rig"
)

const ssePingInterval = 5 * time.Second

// server carries per-instance state for one spawned HTTP frontend.
type server struct {
	env      frontend.Env
	sessions *SessionStore
	// sseClients is the current /events subscriber count, injected
	// into every published snapshot.
	sseClients atomic.Int64

	upgrader websocket.Upgrader
}

// Serve is the HTTP frontend entry point.
func Serve(ctx context.Context, env frontend.Env) error {
	s := &server{
		env:      env,
		sessions: NewSessionStore(DefaultSessionTTL),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/auth/login", s.handleLogin)
	router.POST("/auth/logout", s.handleLogout)

	view := router.Group("/", s.requireRole(RoleRx))
	{
		view.GET("/status", s.handleStatus)
		view.GET("/events", s.handleEvents)
		view.GET("/spectrum", s.handleSpectrum)
		view.GET("/ws/audio", s.handleAudioWebSocket)
	}

	control := router.Group("/", s.requireRole(RoleControl))
	{
		control.GET("/set_freq", s.handleSetFreq)
		control.GET("/set_mode", s.handleSetMode)
		control.GET("/set_ptt", s.handleSetPtt)
		control.GET("/toggle_power", s.handleTogglePower)
		control.GET("/toggle_vfo", s.handleToggleVfo)
		control.GET("/lock", s.handleLock)
		control.GET("/unlock", s.handleUnlock)
		control.GET("/set_tx_limit", s.handleSetTxLimit)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/static", "./web/static")

	srv := &http.Server{Addr: env.ListenAddr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("http", "listening on "+env.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("http frontend: %w", err)
	}
}

// authDisabled reports whether the instance runs without credentials.
func (s *server) authDisabled() bool {
	return len(s.env.Runtime.HTTPTokens) == 0 && len(s.env.Runtime.ControlTokens) == 0
}

// roleForToken resolves a login token against the credential sets.
func (s *server) roleForToken(token string) (Role, bool) {
	stripped := protocol.StripBearer(token)
	for _, t := range s.env.Runtime.ControlTokens {
		if t == stripped {
			return RoleControl, true
		}
	}
	for _, t := range s.env.Runtime.HTTPTokens {
		if t == stripped {
			return RoleRx, true
		}
	}
	return RoleRx, false
}

func (s *server) handleLogin(c *gin.Context) {
	var body struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected JSON body with token"})
		return
	}
	role := RoleControl
	if !s.authDisabled() {
		var okTok bool
		role, okTok = s.roleForToken(body.Token)
		if !okTok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization token"})
			return
		}
	}
	sid := s.sessions.Create(role)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, sid, int(DefaultSessionTTL.Seconds()), "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"role": roleName(role)})
}

func (s *server) handleLogout(c *gin.Context) {
	if sid, err := c.Cookie(SessionCookie); err == nil {
		s.sessions.Remove(sid)
	}
	c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func roleName(r Role) string {
	if r == RoleControl {
		return "control"
	}
	return "rx"
}

// requireRole gates a route group on session role. Bearer tokens are
// accepted in place of a session cookie.
func (s *server) requireRole(min Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authDisabled() {
			c.Next()
			return
		}
		if sid, err := c.Cookie(SessionCookie); err == nil {
			if sess, okSess := s.sessions.Lookup(sid); okSess && sess.Role >= min {
				c.Next()
				return
			}
		}
		if auth := c.GetHeader("Authorization"); auth != "" {
			if role, okTok := s.roleForToken(auth); okTok && role >= min {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
	}
}

func (s *server) snapshot() (rig.Snapshot, bool) {
	state := s.env.StateWatch.Get()
	return state.Snapshot()
}

// statusPayload injects the SSE subscriber count into a snapshot.
func (s *server) statusPayload(snap rig.Snapshot) ([]byte, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	obj["clients"] = s.sseClients.Load()
	return json.Marshal(obj)
}

func (s *server) handleStatus(c *gin.Context) {
	snap, okSnap := s.snapshot()
	if !okSnap {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rig state not available yet"})
		return
	}
	payload, err := s.statusPayload(snap)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}

// handleEvents streams snapshots as server-sent events. A new
// subscriber receives the current snapshot first, then every change,
// with comment pings to keep proxies from timing the stream out.
func (s *server) handleEvents(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	s.sseClients.Add(1)
	defer s.sseClients.Add(-1)

	rx := s.env.StateWatch.Subscribe()
	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	ctx := c.Request.Context()
	writeEvent := func(state rig.State) bool {
		snap, okSnap := state.Snapshot()
		if !okSnap {
			return true
		}
		payload, err := s.statusPayload(snap)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
			return false
		}
		c.Writer.Flush()
		return true
	}

	// First event is the current snapshot.
	if !writeEvent(rx.Latest()) {
		return
	}

	changes := make(chan rig.State, 1)
	go func() {
		for {
			state, err := rx.Changed(ctx)
			if err != nil {
				close(changes)
				return
			}
			select {
			case changes <- state:
			case <-ctx.Done():
				close(changes)
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case state, okCh := <-changes:
			if !okCh {
				return
			}
			if !writeEvent(state) {
				return
			}
		case <-ping.C:
			if _, err := io.WriteString(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

func (s *server) handleSpectrum(c *gin.Context) {
	if s.env.Runtime.Spectrum == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no spectrum source"})
		return
	}
	spec := s.env.Runtime.Spectrum()
	if spec == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "spectrum not available yet"})
		return
	}
	c.JSON(http.StatusOK, spec)
}

// handleAudioWebSocket streams the raw PCM broadcast as binary
// frames.
func (s *server) handleAudioWebSocket(c *gin.Context) {
	if s.env.Runtime.SubscribePCM == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no audio source"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	rx := s.env.Runtime.SubscribePCM()
	defer rx.Close()

	ctx := c.Request.Context()
	for {
		frame, _, err := rx.Recv(ctx)
		if err != nil {
			return
		}
		buf := make([]byte, len(frame)*2)
		for i, v := range frame {
			if v > 1 {
				v = 1
			} else if v < -1 {
				v = -1
			}
			s16 := int16(v * 32767)
			buf[i*2] = byte(s16)
			buf[i*2+1] = byte(uint16(s16) >> 8)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
			return
		}
	}
}

// execute runs a rig command and replies with the snapshot or a 400
// carrying the error string.
func (s *server) execute(c *gin.Context, cmd rig.Command) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 12*time.Second)
	defer cancel()
	snap, err := s.env.Do(ctx, cmd)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *server) handleSetFreq(c *gin.Context) {
	hz, err := strconv.ParseUint(c.Query("hz"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected hz parameter"})
		return
	}
	s.execute(c, rig.Command{Kind: rig.CmdSetFreq, Freq: rig.Frequency{Hz: hz}})
}

func (s *server) handleSetMode(c *gin.Context) {
	mode := c.Query("mode")
	if mode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected mode parameter"})
		return
	}
	s.execute(c, rig.Command{Kind: rig.CmdSetMode, Mode: rig.ParseMode(mode)})
}

func (s *server) handleSetPtt(c *gin.Context) {
	ptt, err := strconv.ParseBool(c.Query("ptt"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected ptt parameter"})
		return
	}
	s.execute(c, rig.Command{Kind: rig.CmdSetPtt, Ptt: ptt})
}

func (s *server) handleTogglePower(c *gin.Context) {
	snap, okSnap := s.snapshot()
	if okSnap && snap.PowerOn {
		s.execute(c, rig.Command{Kind: rig.CmdPowerOff})
		return
	}
	s.execute(c, rig.Command{Kind: rig.CmdPowerOn})
}

func (s *server) handleToggleVfo(c *gin.Context) {
	s.execute(c, rig.Command{Kind: rig.CmdToggleVfo})
}

func (s *server) handleLock(c *gin.Context) {
	s.execute(c, rig.Command{Kind: rig.CmdLock})
}

func (s *server) handleUnlock(c *gin.Context) {
	s.execute(c, rig.Command{Kind: rig.CmdUnlock})
}

func (s *server) handleSetTxLimit(c *gin.Context) {
	limit, err := strconv.ParseUint(c.Query("limit"), 10, 8)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected limit parameter"})
		return
	}
	s.execute(c, rig.Command{Kind: rig.CmdSetTxLimit, Limit: uint8(limit)})
}
