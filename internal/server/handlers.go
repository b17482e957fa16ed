package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHistoryPage = 50
	healthPingTimeout  = 2 * time.Second
)

// WebSocketHandler upgrades the request, attaches the connection to the hub
// and starts its read and write pumps. The connection joins the chat once it
// sends user_join.
func (s *Server) WebSocketHandler(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	client := NewClient(id, conn, s.hub, c.Request.RemoteAddr, s.cfg, s.log)
	if !s.hub.Attach(id, client, client.writePump, client.readPump) {
		s.log.Warn("hub is shutting down; refusing connection", zap.String("addr", c.Request.RemoteAddr))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
}

// HealthHandler reports liveness, the online count and whether the message
// store answers a ping. With a presence mirror it also reports how many
// connections the mirror holds.
func (s *Server) HealthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Online: s.hub.OnlineCount(), Store: "ok"}
	if err := s.store.Ping(ctx); err != nil {
		s.log.Warn("store ping failed", zap.Error(err))
		resp.Status = "degraded"
		resp.Store = "error"
	}
	if s.presence != nil {
		if n, err := s.presence.Count(ctx); err != nil {
			s.log.Warn("presence count failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Presence = "error"
		} else {
			resp.Presence = "ok"
			resp.Mirrored = &n
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// RoomsHandler lists the public rooms.
func (s *Server) RoomsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Rooms())
}

// UsersHandler returns the current roster.
func (s *Server) UsersHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Roster())
}

// UserHandler returns one online connection. It reads the presence mirror
// when one is configured and the hub roster otherwise.
func (s *Server) UserHandler(c *gin.Context) {
	id := c.Param("id")

	if s.presence != nil {
		entry, ok, err := s.presence.Lookup(c.Request.Context(), id)
		if err != nil {
			s.log.Error("presence lookup failed", zap.String("conn", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, errorResponse{Error: "presence unavailable"})
			return
		}
		if !ok {
			c.JSON(http.StatusNotFound, errorResponse{Error: "unknown user"})
			return
		}
		c.JSON(http.StatusOK, entry)
		return
	}

	for _, e := range s.hub.Roster() {
		if e.ID == id {
			c.JSON(http.StatusOK, e)
			return
		}
	}
	c.JSON(http.StatusNotFound, errorResponse{Error: "unknown user"})
}

type historyQuery struct {
	Limit  int       `form:"limit,default=50" binding:"min=1,max=100"`
	Before time.Time `form:"before" time_format:"2006-01-02T15:04:05Z07:00"`
}

// HistoryHandler pages backwards through a public room's messages. Private
// conversations are not served.
func (s *Server) HistoryHandler(c *gin.Context) {
	room := c.Param("room")
	if !s.hub.IsPublicRoom(room) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "unknown room"})
		return
	}

	q := historyQuery{Limit: defaultHistoryPage}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	msgs, err := s.store.Recent(c.Request.Context(), room, q.Before, q.Limit)
	if err != nil {
		s.log.Error("history read failed", zap.String("room", room), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, msgs)
}

// TestPageHandler serves a minimal page for exercising the chat protocol
// from a browser.
func (s *Server) TestPageHandler(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(testPage))
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>GoChat</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log { border: 1px solid #ccc; height: 320px; padding: 10px; overflow-y: scroll; margin: 10px 0; background: #f9f9f9; }
        #typing { color: #888; height: 1.2em; }
        input[type="text"] { width: 280px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
    </style>
</head>
<body>
    <h1>GoChat</h1>
    <div>
        <input type="text" id="name" placeholder="Display name">
        <button onclick="join()">Join</button>
        <select id="rooms" onchange="send('join_room', this.value)"></select>
    </div>
    <div id="log"></div>
    <div id="typing"></div>
    <div>
        <input type="text" id="text" placeholder="Type a message..." disabled>
        <button onclick="post()">Send</button>
    </div>
    <script>
        const log = document.getElementById('log');
        const text = document.getElementById('text');
        const rooms = document.getElementById('rooms');
        const typing = document.getElementById('typing');
        let ws = null;
        let typingTimer = null;

        function line(s) {
            const el = document.createElement('div');
            el.textContent = s;
            log.appendChild(el);
            log.scrollTop = log.scrollHeight;
        }

        function send(event, data) {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify({event: event, data: data}));
            }
        }

        function join() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = () => { send('user_join', document.getElementById('name').value); text.disabled = false; };
            ws.onclose = () => { line('* disconnected'); text.disabled = true; };
            ws.onmessage = (e) => {
                const f = JSON.parse(e.data);
                switch (f.event) {
                case 'available_rooms':
                    rooms.innerHTML = '';
                    f.data.forEach(r => rooms.add(new Option(r, r)));
                    break;
                case 'message_history':
                    log.innerHTML = '';
                    f.data.forEach(m => line(m.sender + ': ' + m.message));
                    break;
                case 'receive_message':
                    line((m => (m.isPrivate ? '[private] ' : '') + m.sender + ': ' + m.message)(f.data));
                    break;
                case 'notification':
                    line('* ' + f.data.message);
                    break;
                case 'typing_users':
                    typing.textContent = f.data.length ? f.data.join(', ') + ' typing...' : '';
                    break;
                case 'room_joined':
                    rooms.value = f.data;
                    break;
                }
            };
        }

        function post() {
            if (text.value.trim()) {
                send('send_message', {message: text.value});
                send('typing_stop');
                text.value = '';
            }
        }

        text.addEventListener('keypress', (e) => {
            if (e.key === 'Enter') { post(); return; }
            send('typing_start');
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => send('typing_stop'), 2000);
        });
    </script>
</body>
</html>`
