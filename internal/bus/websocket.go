package bus

import (
	"context"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"snapcmd/internal/event"
)

const (
	// HubPath is where a Hub accepts subscriber connections.
	HubPath = "/ws"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 20 * time.Second
)

// hubURL maps an http(s) upstream address onto the hub's websocket endpoint.
func hubURL(u *url.URL) string {
	v := *u
	switch v.Scheme {
	case "http":
		v.Scheme = "ws"
	case "https":
		v.Scheme = "wss"
	}
	if v.Path == "" || v.Path == "/" {
		v.Path = HubPath
	}
	return v.String()
}

// WebsocketDialer connects to the Hub at addr.
func WebsocketDialer(addr string, log *zap.Logger) DialFunc {
	d := websocket.Dialer{HandshakeTimeout: writeWait}
	return func(ctx context.Context) (Conn, error) {
		c, _, err := d.DialContext(ctx, addr, nil)
		if err != nil {
			return nil, err
		}
		return &wsConn{c: c, log: log}, nil
	}
}

type wsConn struct {
	c   *websocket.Conn
	log *zap.Logger
}

func (w *wsConn) Serve(ctx context.Context, h Handler) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			w.c.Close()
		case <-stop:
		}
	}()

	w.c.SetReadDeadline(time.Now().Add(pongWait))
	w.c.SetPingHandler(func(data string) error {
		w.c.SetReadDeadline(time.Now().Add(pongWait))
		err := w.c.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		mt, b, err := w.c.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		t, err := event.Decode(b)
		if err != nil {
			w.log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		h(t)
	}
}

func (w *wsConn) Close() error {
	w.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return w.c.Close()
}
