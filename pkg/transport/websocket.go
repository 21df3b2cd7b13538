package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/fwcore/pkg/framework"
)

// wsConn keeps the server side handler of an accepted websocket alive
// until the link is closed.
type wsConn struct {
	*websocket.Conn
	server *http.Server
	done   chan struct{}
	once   sync.Once
}

func (c *wsConn) Close() (err error) {
	c.once.Do(func() {
		err = c.Conn.Close()
		close(c.done)
		if c.server != nil {
			c.server.Close()
		}
	})
	return
}

func dialWebsocket(ctx context.Context, u *url.URL) (io.ReadWriteCloser, error) {
	origin := "http://" + u.Host
	if u.Scheme == "wss" {
		origin = "https://" + u.Host
	}
	config, err := websocket.NewConfig(u.String(), origin)
	if err != nil {
		return nil, err
	}
	var conn *websocket.Conn
	err = framework.RunWithContextCancel(ctx, nil, func() (err error) {
		conn, err = websocket.DialConfig(config)
		return
	})
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	return conn, nil
}

func acceptWebsocket(ctx context.Context, u *url.URL) (io.ReadWriteCloser, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", u.Host)
	if err != nil {
		return nil, err
	}
	return serveWebsocket(ctx, ln, u.Path)
}

func serveWebsocket(ctx context.Context, ln net.Listener, path string) (io.ReadWriteCloser, error) {
	if path == "" {
		path = "/"
	}
	connCh := make(chan *wsConn, 1)
	var accepted sync.Once
	mux := http.NewServeMux()
	server := &http.Server{Handler: mux}
	mux.Handle(path, websocket.Handler(func(ws *websocket.Conn) {
		conn := &wsConn{Conn: ws, server: server, done: make(chan struct{})}
		taken := false
		accepted.Do(func() {
			ws.PayloadType = websocket.BinaryFrame
			connCh <- conn
			taken = true
		})
		if !taken {
			glog.Warningf("websocket %s: rejected extra peer %s", path, ws.Request().RemoteAddr)
			return
		}
		<-conn.done
	}))
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			glog.Warningf("websocket %s: %v", path, err)
		}
	}()
	select {
	case conn := <-connCh:
		return conn, nil
	case <-ctx.Done():
		server.Close()
		return nil, ctx.Err()
	}
}
