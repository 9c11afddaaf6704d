// Copyright 2024-2026 Aiku AI

package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/spacebar-bridge/pkg/metrics"
)

// ErrGatewayFatal wraps errors after which the gateway will not reconnect.
var ErrGatewayFatal = errors.New("gateway connection failed")

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opPresenceUpdate = 3
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// DefaultIntents subscribes to guild messages and guild message reactions.
const DefaultIntents = 1<<9 | 1<<10

const defaultHeartbeatInterval = 41250 * time.Millisecond

// Presence is the status shown for the bridge account.
type Presence struct {
	Status            string
	CustomStatus      string
	CustomStatusEmoji string
}

// GatewayOptions tunes a gateway client.
type GatewayOptions struct {
	Intents int
	// GuildID limits the role and channel directory to one guild.
	GuildID string
	// MaxReconnects is the number of consecutive failed reconnects after
	// which the gateway gives up.
	MaxReconnects int
	// SupportsPresence marks servers that accept presence updates.
	SupportsPresence bool
	Dialer           *websocket.Dialer
}

// Gateway keeps a websocket session open and queues message events for
// polling. Poll never blocks.
type Gateway struct {
	name  string
	token string
	rest  *Client
	opts  GatewayOptions
	log   zerolog.Logger

	ready *exsync.Event

	mu         sync.Mutex
	queue      []Event
	selfID     string
	sessionID  string
	resumeURL  string
	gatewayURL string
	err        error
	roles      []Role
	channels   []Channel

	seq   atomic.Int64
	acked atomic.Bool

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewGateway creates a gateway client. rest is used to discover the
// websocket URL.
func NewGateway(name, token string, rest *Client, opts GatewayOptions, log zerolog.Logger) *Gateway {
	if opts.Intents == 0 {
		opts.Intents = DefaultIntents
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 5
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Gateway{
		name:  name,
		token: token,
		rest:  rest,
		opts:  opts,
		log:   log.With().Str("component", "gateway").Str("link", name).Logger(),
		ready: exsync.NewEvent(),
	}
}

// Name returns the link name.
func (g *Gateway) Name() string {
	return g.name
}

// Connect opens the first session. It returns once IDENTIFY has been sent;
// use Ready to learn when the session is established.
func (g *Gateway) Connect(ctx context.Context) error {
	gatewayURL, err := g.rest.GatewayURL(ctx)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.gatewayURL = gatewayURL
	g.mu.Unlock()

	conn, interval, err := g.dial(ctx, gatewayURL)
	if err != nil {
		return err
	}
	if err = g.identify(conn); err != nil {
		_ = conn.Close()
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})
	go g.run(runCtx, conn, interval)
	g.log.Info().Str("url", gatewayURL).Msg("Gateway connected")
	return nil
}

// Ready reports whether READY has been received.
func (g *Gateway) Ready() bool {
	return g.ready.IsSet()
}

// Err returns the error that stopped the gateway, if any.
func (g *Gateway) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// SelfID returns the user ID of the bridge account.
func (g *Gateway) SelfID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selfID
}

// Poll pops the oldest queued event.
func (g *Gateway) Poll() (Event, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		return Event{}, false
	}
	evt := g.queue[0]
	g.queue[0] = Event{}
	g.queue = g.queue[1:]
	return evt, true
}

// Roles returns the roles of the configured guild.
func (g *Gateway) Roles() []Role {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.roles
}

// Channels returns the channels of the configured guild.
func (g *Gateway) Channels() []Channel {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.channels
}

// SupportsPresence reports whether UpdatePresence has any effect.
func (g *Gateway) SupportsPresence() bool {
	return g.opts.SupportsPresence
}

// UpdatePresence sets the online status and custom status of the account.
func (g *Gateway) UpdatePresence(p Presence) error {
	activities := []map[string]any{}
	if p.CustomStatus != "" {
		activity := map[string]any{
			"name":  "Custom Status",
			"type":  4,
			"state": p.CustomStatus,
		}
		if p.CustomStatusEmoji != "" {
			activity["emoji"] = map[string]any{"name": p.CustomStatusEmoji}
		}
		activities = append(activities, activity)
	}
	status := p.Status
	if status == "" {
		status = "online"
	}
	g.connMu.Lock()
	conn := g.conn
	g.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	err := g.send(conn, opPresenceUpdate, map[string]any{
		"status":     status,
		"afk":        false,
		"since":      0,
		"activities": activities,
	})
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	g.log.Debug().Str("status", status).Msg("Updated presence")
	return nil
}

// Close stops the gateway and waits for its goroutines.
func (g *Gateway) Close() error {
	g.stopOnce.Do(func() {
		if g.cancel == nil {
			return
		}
		g.cancel()
		<-g.done
	})
	return nil
}

func (g *Gateway) setErr(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err == nil {
		g.err = err
	}
}

func (g *Gateway) enqueue(evt Event) {
	g.mu.Lock()
	g.queue = append(g.queue, evt)
	g.mu.Unlock()
}

type payload struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

func (g *Gateway) dial(ctx context.Context, url string) (*websocket.Conn, time.Duration, error) {
	target := strings.TrimSuffix(url, "/") + "/?v=9&encoding=json"
	header := http.Header{}
	header.Set("User-Agent", "spacebar-bridge")
	conn, resp, err := g.opts.Dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to dial gateway: %w", err)
	}
	var hello payload
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	if err = conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return nil, 0, fmt.Errorf("failed to read hello: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	interval := defaultHeartbeatInterval
	if hello.Op == opHello {
		var d struct {
			HeartbeatInterval int64 `json:"heartbeat_interval"`
		}
		if json.Unmarshal(hello.D, &d) == nil && d.HeartbeatInterval > 0 {
			interval = time.Duration(d.HeartbeatInterval) * time.Millisecond
		}
	} else {
		g.log.Warn().Int("op", hello.Op).Msg("Expected hello as first payload")
	}
	g.connMu.Lock()
	g.conn = conn
	g.connMu.Unlock()
	return conn, interval, nil
}

func (g *Gateway) send(conn *websocket.Conn, op int, d any) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(map[string]any{"op": op, "d": d})
}

func (g *Gateway) identify(conn *websocket.Conn) error {
	err := g.send(conn, opIdentify, map[string]any{
		"token": g.token,
		"properties": map[string]string{
			"os":      runtime.GOOS,
			"browser": "spacebar-bridge",
			"device":  "spacebar-bridge",
		},
		"intents": g.opts.Intents,
		"presence": map[string]any{
			"activities": []any{},
			"status":     "online",
			"since":      nil,
			"afk":        false,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send identify: %w", err)
	}
	g.log.Debug().Msg("Sent identify")
	return nil
}

func (g *Gateway) resume(conn *websocket.Conn, sessionID string) error {
	err := g.send(conn, opResume, map[string]any{
		"token":      g.token,
		"session_id": sessionID,
		"seq":        g.seq.Load(),
	})
	if err != nil {
		return fmt.Errorf("failed to send resume: %w", err)
	}
	g.log.Debug().Msg("Sent resume")
	return nil
}

// sessionEnd describes why a session stopped.
type sessionEnd struct {
	resumable bool
	fatal     error
}

func (g *Gateway) run(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	defer close(g.done)
	for {
		end := g.session(ctx, conn, interval)
		_ = conn.Close()
		if ctx.Err() != nil {
			g.log.Info().Msg("Gateway stopped")
			return
		}
		if end.fatal != nil {
			g.log.Error().Err(end.fatal).Msg("Gateway failed")
			g.setErr(end.fatal)
			return
		}
		var err error
		for attempt := 1; ; attempt++ {
			conn, interval, err = g.reconnect(ctx, end.resumable)
			if err == nil {
				break
			}
			if ctx.Err() != nil {
				return
			}
			g.log.Warn().Err(err).Int("attempt", attempt).Msg("Reconnect failed")
			if attempt >= g.opts.MaxReconnects {
				g.setErr(fmt.Errorf("%w: %d reconnect attempts failed: %w", ErrGatewayFatal, attempt, err))
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * time.Second):
			}
			end.resumable = false
		}
	}
}

func (g *Gateway) reconnect(ctx context.Context, resumable bool) (*websocket.Conn, time.Duration, error) {
	g.mu.Lock()
	sessionID, resumeURL, gatewayURL := g.sessionID, g.resumeURL, g.gatewayURL
	g.mu.Unlock()
	if resumable && sessionID != "" && resumeURL != "" {
		metrics.GatewayReconnects.WithLabelValues(g.name, "resume").Inc()
		g.log.Info().Msg("Resuming gateway session")
		conn, interval, err := g.dial(ctx, resumeURL)
		if err != nil {
			return nil, 0, err
		}
		if err = g.resume(conn, sessionID); err != nil {
			_ = conn.Close()
			return nil, 0, err
		}
		return conn, interval, nil
	}
	metrics.GatewayReconnects.WithLabelValues(g.name, "identify").Inc()
	g.log.Info().Msg("Starting new gateway session")
	conn, interval, err := g.dial(ctx, gatewayURL)
	if err != nil {
		return nil, 0, err
	}
	g.seq.Store(0)
	if err = g.identify(conn); err != nil {
		_ = conn.Close()
		return nil, 0, err
	}
	return conn, interval, nil
}

// session reads payloads from conn until the connection ends.
func (g *Gateway) session(ctx context.Context, conn *websocket.Conn, interval time.Duration) sessionEnd {
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		_ = conn.Close()
	}()
	g.acked.Store(true)
	go g.heartbeat(sessionCtx, conn, interval)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return g.classifyReadError(err)
		}
		var p payload
		if err = json.Unmarshal(data, &p); err != nil {
			g.log.Warn().Err(err).Msg("Failed to decode gateway payload")
			continue
		}
		switch p.Op {
		case opDispatch:
			if p.S != nil {
				g.seq.Store(*p.S)
			}
			g.dispatch(p.T, p.D)
		case opHeartbeat:
			if err = g.sendHeartbeat(conn); err != nil {
				return sessionEnd{resumable: true}
			}
		case opHeartbeatAck:
			g.acked.Store(true)
		case opReconnect:
			g.log.Info().Msg("Server requested reconnect")
			return sessionEnd{resumable: true}
		case opInvalidSession:
			var resumable bool
			_ = json.Unmarshal(p.D, &resumable)
			g.log.Info().Bool("resumable", resumable).Msg("Session invalidated")
			return sessionEnd{resumable: resumable}
		}
	}
}

func (g *Gateway) classifyReadError(err error) sessionEnd {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		g.log.Debug().Err(err).Msg("Gateway connection lost")
		return sessionEnd{resumable: true}
	}
	g.log.Warn().Int("code", closeErr.Code).Str("reason", closeErr.Text).Msg("Gateway closed connection")
	switch closeErr.Code {
	case 4004, 4010, 4011, 4012, 4013, 4014:
		return sessionEnd{fatal: fmt.Errorf("%w: close code %d: %s", ErrGatewayFatal, closeErr.Code, closeErr.Text)}
	case 4007, 4009:
		return sessionEnd{resumable: false}
	default:
		return sessionEnd{resumable: true}
	}
}

func (g *Gateway) sendHeartbeat(conn *websocket.Conn) error {
	var seq any
	if s := g.seq.Load(); s > 0 {
		seq = s
	}
	return g.send(conn, opHeartbeat, seq)
}

// heartbeat beats at interval with jitter and drops the connection if the
// previous beat was never acknowledged.
func (g *Gateway) heartbeat(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	wait := time.Duration(float64(interval) * rand.Float64())
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if !g.acked.Load() {
			g.log.Warn().Msg("Heartbeat not acknowledged, reconnecting")
			_ = conn.Close()
			return
		}
		g.acked.Store(false)
		if err := g.sendHeartbeat(conn); err != nil {
			g.log.Debug().Err(err).Msg("Failed to send heartbeat")
			return
		}
		wait = interval
	}
}

func (g *Gateway) dispatch(t string, d json.RawMessage) {
	var err error
	switch t {
	case "READY":
		var ready struct {
			SessionID        string `json:"session_id"`
			ResumeGatewayURL string `json:"resume_gateway_url"`
			User             User   `json:"user"`
		}
		if err = json.Unmarshal(d, &ready); err == nil {
			g.mu.Lock()
			g.sessionID = ready.SessionID
			g.resumeURL = ready.ResumeGatewayURL
			g.selfID = ready.User.ID
			g.mu.Unlock()
			g.ready.Set()
			g.log.Info().Str("user_id", ready.User.ID).Str("username", ready.User.Username).Msg("Gateway ready")
		}
	case "RESUMED":
		g.log.Info().Msg("Gateway session resumed")
	case "GUILD_CREATE":
		var guild struct {
			ID       string    `json:"id"`
			Roles    []Role    `json:"roles"`
			Channels []Channel `json:"channels"`
		}
		if err = json.Unmarshal(d, &guild); err == nil && (g.opts.GuildID == "" || guild.ID == g.opts.GuildID) {
			g.mu.Lock()
			g.roles, g.channels = guild.Roles, guild.Channels
			g.mu.Unlock()
			g.log.Debug().Str("guild_id", guild.ID).Int("roles", len(guild.Roles)).Int("channels", len(guild.Channels)).Msg("Loaded guild directory")
		}
	case string(OpMessageCreate), string(OpMessageUpdate), string(OpMessageDelete):
		var msg Message
		if err = json.Unmarshal(d, &msg); err == nil {
			g.enqueue(Event{Op: Op(t), Message: msg})
		}
	case string(OpReactionAdd), string(OpReactionRemove):
		var r struct {
			UserID    string  `json:"user_id"`
			ChannelID string  `json:"channel_id"`
			MessageID string  `json:"message_id"`
			GuildID   string  `json:"guild_id"`
			Emoji     Emoji   `json:"emoji"`
			Member    *Member `json:"member"`
		}
		if err = json.Unmarshal(d, &r); err == nil {
			evt := Event{
				Op:      Op(t),
				Message: Message{ID: r.MessageID, ChannelID: r.ChannelID, GuildID: r.GuildID, Member: r.Member},
				UserID:  r.UserID,
				Emoji:   &r.Emoji,
			}
			if evt.UserID == "" && r.Member != nil && r.Member.User != nil {
				evt.UserID = r.Member.User.ID
			}
			g.enqueue(evt)
		}
	case "MESSAGE_REACTION_ADD_MANY":
		var r struct {
			ChannelID string `json:"channel_id"`
			MessageID string `json:"message_id"`
			GuildID   string `json:"guild_id"`
			Reactions []struct {
				Emoji Emoji    `json:"emoji"`
				Users []string `json:"users"`
			} `json:"reactions"`
		}
		if err = json.Unmarshal(d, &r); err == nil {
			for _, reaction := range r.Reactions {
				for _, userID := range reaction.Users {
					emoji := reaction.Emoji
					g.enqueue(Event{
						Op:      OpReactionAdd,
						Message: Message{ID: r.MessageID, ChannelID: r.ChannelID, GuildID: r.GuildID},
						UserID:  userID,
						Emoji:   &emoji,
					})
				}
			}
		}
	default:
		return
	}
	if err != nil {
		g.log.Warn().Err(err).Str("type", t).Msg("Failed to decode dispatch")
	}
}
