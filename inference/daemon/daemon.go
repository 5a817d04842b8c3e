// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package daemon runs the process-resident inference service. The daemon is
// a co-tenant OS process: it binds its socket immediately, loads the model
// on a background goroutine, answers ping throughout, and outlives contract
// rounds until the container restarts.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luxfi/gamevm/config"
	"github.com/luxfi/gamevm/inference"
	"github.com/luxfi/gamevm/utils/metric"
)

const (
	readTimeout       = 30 * time.Second
	writeTimeout      = 30 * time.Second
	heartbeatInterval = 30 * time.Second
)

var errWrongRole = errors.New("request not served by this daemon role")

// Daemon serves typed JSON requests over a local TCP socket.
type Daemon struct {
	role     inference.Role
	params   config.Parameters
	model    inference.Model
	log      log.Logger
	encoding promptEncoding

	pidPath string
	ln      net.Listener

	// session is the game daemon's persistent inference context. The jury
	// daemon never seeds one.
	session inference.Session

	mu      sync.RWMutex
	loading bool
	loadErr error

	requests     prometheus.Counter
	generateTime metric.Averager

	done     chan struct{}
	closing  sync.Once
	handlers sync.WaitGroup
}

// New creates a daemon for the given role. Start must be called before it
// serves anything.
func New(
	role inference.Role,
	model inference.Model,
	params config.Parameters,
	logger log.Logger,
	reg prometheus.Registerer,
) (*Daemon, error) {
	requests := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "daemon_requests_served",
		Help: "Number of daemon requests served",
	})
	if err := reg.Register(requests); err != nil {
		return nil, fmt.Errorf("failed to register request counter: %w", err)
	}
	generateTime, err := metric.NewAverager(
		"daemon_generate_duration",
		"time (in ns) a generation request took",
		reg,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register generate averager: %w", err)
	}

	d := &Daemon{
		role:         role,
		params:       params,
		model:        model,
		log:          logger,
		encoding:     chatMLEncoding(),
		pidPath:      inference.PIDFile(params.DataDir, role),
		requests:     requests,
		generateTime: generateTime,
		done:         make(chan struct{}),
	}
	if role == inference.RoleGame {
		d.session = model.NewSession()
	}
	return d, nil
}

// Start binds the socket, writes the pid sentinel, and kicks off the model
// loader, the accept loop and the heartbeat. The socket accepts connections
// before the model finishes loading; ping answers "loading" during that
// window.
func (d *Daemon) Start() error {
	port := d.params.GamePort
	if d.role == inference.RoleJury {
		port = d.params.JuryPort
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to bind daemon socket: %w", err)
	}
	d.ln = ln

	if err := os.WriteFile(d.pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	d.mu.Lock()
	d.loading = true
	d.mu.Unlock()

	go d.loadModel()
	go d.acceptLoop()
	go d.heartbeat()

	d.log.Info("daemon listening",
		"role", d.role,
		"addr", ln.Addr().String(),
	)
	return nil
}

// Addr returns the bound socket address.
func (d *Daemon) Addr() net.Addr {
	return d.ln.Addr()
}

// Close stops serving. It is only used on process shutdown; the supervisor
// never calls it for a live daemon.
func (d *Daemon) Close() {
	d.closing.Do(func() {
		close(d.done)
		_ = d.ln.Close()
		d.handlers.Wait()
		_ = os.Remove(d.pidPath)
	})
}

func (d *Daemon) loadModel() {
	start := time.Now()
	err := d.model.Load(context.Background())

	d.mu.Lock()
	d.loading = false
	d.loadErr = err
	d.mu.Unlock()

	if err != nil {
		d.log.Error("model load failed", "role", d.role, "error", err)
		return
	}
	d.log.Info("model loaded",
		"role", d.role,
		"duration", time.Since(start),
	)
}

func (d *Daemon) heartbeat() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.log.Debug("daemon alive",
				"role", d.role,
				"status", d.status().Status,
			)
		}
	}
}

func (d *Daemon) acceptLoop() {
	for {
		conn, err := d.ln.Accept()
		if err != nil {
			select {
			case <-d.done:
				return
			default:
			}
			d.log.Warn("accept failed", "error", err)
			continue
		}
		d.handlers.Add(1)
		go func() {
			defer d.handlers.Done()
			d.handleConn(conn)
		}()
	}
}

// handleConn serves exactly one request: read until the client half-closes,
// answer, close.
func (d *Daemon) handleConn(conn net.Conn) {
	defer conn.Close()
	d.requests.Inc()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	raw, err := io.ReadAll(conn)
	if err != nil {
		d.log.Warn("failed to read request", "error", err)
		return
	}

	var req inference.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		d.reply(conn, inference.GenerateResponse{Error: "malformed request: " + err.Error()})
		return
	}

	switch req.Type {
	case inference.Ping:
		d.reply(conn, d.status())
	case inference.ResetConversation:
		if d.session != nil {
			d.session.Reset()
		}
		d.reply(conn, inference.ResetResponse{Status: inference.ResetAck})
	case inference.CreateGame:
		d.serveCreate(conn, req)
	case inference.PlayerAction:
		d.serveAction(conn, req)
	case inference.Validate:
		d.serveValidate(conn, req)
	default:
		d.reply(conn, inference.GenerateResponse{Error: fmt.Sprintf("unknown request type %q", req.Type)})
	}
}

func (d *Daemon) status() inference.PingResponse {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch {
	case d.loadErr != nil:
		return inference.PingResponse{
			Status: inference.StatusError,
			Error:  d.loadErr.Error(),
		}
	case d.loading:
		return inference.PingResponse{
			Status:       inference.StatusLoading,
			ModelLoading: true,
		}
	default:
		return inference.PingResponse{
			Status:      inference.StatusReady,
			ModelLoaded: true,
		}
	}
}

func (d *Daemon) ready() error {
	status := d.status()
	switch status.Status {
	case inference.StatusLoading:
		return errors.New("model still loading")
	case inference.StatusError:
		return errors.New("model failed to load: " + status.Error)
	}
	return nil
}

func (d *Daemon) serveCreate(conn net.Conn, req inference.Request) {
	if d.role != inference.RoleGame {
		d.reply(conn, inference.GenerateResponse{Error: errWrongRole.Error()})
		return
	}
	if err := d.ready(); err != nil {
		d.reply(conn, inference.GenerateResponse{Error: err.Error()})
		return
	}

	ctx, cancel := d.generateContext()
	defer cancel()

	start := time.Now()
	text, err := d.model.Generate(ctx, d.encoding.createGame(req.Prompt), d.params.CreateSampling, nil)
	d.generateTime.Observe(float64(time.Since(start)))
	if err != nil {
		d.reply(conn, inference.GenerateResponse{Error: err.Error()})
		return
	}
	d.reply(conn, inference.GenerateResponse{Text: text})
}

func (d *Daemon) serveAction(conn net.Conn, req inference.Request) {
	if d.role != inference.RoleGame {
		d.reply(conn, inference.GenerateResponse{Error: errWrongRole.Error()})
		return
	}
	if err := d.ready(); err != nil {
		d.reply(conn, inference.GenerateResponse{Error: err.Error()})
		return
	}

	ctx, cancel := d.generateContext()
	defer cancel()

	start := time.Now()
	text, err := d.generateTransition(ctx, req)
	d.generateTime.Observe(float64(time.Since(start)))
	if err != nil {
		d.reply(conn, inference.GenerateResponse{Error: err.Error()})
		return
	}
	d.reply(conn, inference.GenerateResponse{Text: text})
}

// generateTransition produces the new state block. Continuation mode
// appends a minimal turn to the persistent context; any failure there falls
// back to rebuilding the full prompt, which also re-seeds the context.
func (d *Daemon) generateTransition(ctx context.Context, req inference.Request) (string, error) {
	stop := []string{inference.EndStateMarker}

	if req.ContinueConversation && d.session.Active() {
		out, err := d.session.Append(ctx, d.encoding.continuationTurn(req.Action), d.params.ActionSampling, stop)
		if err == nil {
			return ensureEndMarker(out), nil
		}
		d.log.Warn("continuation failed, rebuilding full prompt",
			"game", req.GameID,
			"error", err,
		)
	}

	prompt := d.encoding.playerAction(req.World, req.OldState, req.Action)
	out, err := d.session.Seed(ctx, prompt, d.params.ActionSampling, stop)
	if err != nil {
		return "", err
	}
	return ensureEndMarker(out), nil
}

// ensureEndMarker restores the end marker when generation early-stopped on
// it, so the extraction rule still finds a complete pair.
func ensureEndMarker(out string) string {
	if _, ok := inference.ExtractStateBlock(out); ok {
		return out
	}
	if _, found := inference.ExtractStateBlock(out + "\n" + inference.EndStateMarker); found {
		return out + "\n" + inference.EndStateMarker
	}
	return out
}

func (d *Daemon) serveValidate(conn net.Conn, req inference.Request) {
	if d.role != inference.RoleJury {
		d.reply(conn, inference.GenerateResponse{Error: errWrongRole.Error()})
		return
	}
	if err := d.ready(); err != nil {
		d.reply(conn, inference.GenerateResponse{Error: err.Error()})
		return
	}

	ctx, cancel := d.generateContext()
	defer cancel()

	raw, err := d.model.Generate(ctx, d.encoding.validate(req.Statement), d.params.ValidateSampling, nil)
	if err != nil {
		d.reply(conn, inference.GenerateResponse{Error: err.Error()})
		return
	}

	valid, confidence := parseVerdict(raw)
	d.reply(conn, inference.ValidateResponse{
		Valid:       valid,
		Confidence:  confidence,
		RawResponse: raw,
	})
}

func (d *Daemon) generateContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d.params.GenerateTimeout)
}

func (d *Daemon) reply(conn net.Conn, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		d.log.Error("failed to marshal response", "error", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(raw); err != nil {
		d.log.Warn("failed to write response", "error", err)
	}
}
