package relaynode

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/toonchat/compass/internal/adapters/relay"
	"github.com/toonchat/compass/internal/config"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func SetupRouter(cfg *config.Config, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ws", func(c *gin.Context) {
		handleWS(cfg, hub, c)
	})

	log.Info().Str("module", "relaynode").Msg("router setup")
	return r
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *wsClient) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return errors.New("backpressure")
	}
	return nil
}

func (c *wsClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

func handleWS(cfg *config.Config, hub *Hub, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relaynode").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(cfg.ReadLimit)

	peer := uuid.NewString()
	client := &wsClient{conn: ws, send: make(chan []byte, 32)}
	log.Info().Str("module", "relaynode").Str("peer", peer).Msg("new connection")

	go writePump(client)
	readPump(hub, peer, client)
}

func writePump(c *wsClient) {
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			log.Error().Err(err).Str("module", "relaynode").Msg("writePump set deadline")
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "relaynode").Msg("writePump write error")
			return
		}
	}
}

// readPump expects a join frame first; everything after is data fanned out
// to the group.
func readPump(hub *Hub, peer string, c *wsClient) {
	group := ""
	defer func() {
		if group != "" {
			hub.Leave(group, peer)
		}
		c.Close()
		log.Info().Str("module", "relaynode").Str("peer", peer).Msg("readPump closing")
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f relay.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Error().Err(err).Str("module", "relaynode").Str("peer", peer).Msg("bad frame json")
			continue
		}
		switch f.Type {
		case relay.FrameJoin:
			if group != "" || f.Group == "" {
				continue
			}
			group = f.Group
			hub.Join(group, peer, c)
		case relay.FrameData:
			if group == "" {
				continue
			}
			hub.Fanout(group, peer, f.Payload)
		default:
			log.Warn().Str("module", "relaynode").Str("type", f.Type).Msg("unknown frame")
		}
	}
}
