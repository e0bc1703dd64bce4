package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/mcpbridge/errors"
)

// Executor is one live WebSocket connection from an executor runtime.
type Executor struct {
	id          string
	remoteAddr  string
	connectedAt time.Time

	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func newExecutor(conn *websocket.Conn, remoteAddr string, cfg Config) *Executor {
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	return &Executor{
		id:           uuid.NewString(),
		remoteAddr:   remoteAddr,
		connectedAt:  time.Now(),
		conn:         conn,
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
}

// ID returns the identifier assigned on connect.
func (e *Executor) ID() string {
	return e.id
}

// Info returns a description of the executor.
func (e *Executor) Info() ExecutorInfo {
	return ExecutorInfo{ID: e.id, RemoteAddr: e.remoteAddr, ConnectedAt: e.connectedAt}
}

// Done is closed when the connection is closed.
func (e *Executor) Done() <-chan struct{} {
	return e.done
}

// send writes one envelope as a single text frame.
func (e *Executor) send(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.InvalidInput("encode envelope: " + err.Error())
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	select {
	case <-e.done:
		return errors.Closed("executor " + e.id + " disconnected")
	default:
	}

	if e.writeTimeout > 0 {
		e.conn.SetWriteDeadline(time.Now().Add(e.writeTimeout))
	}
	return e.conn.WriteMessage(websocket.TextMessage, data)
}

// ping sends a WebSocket ping frame.
func (e *Executor) ping() error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
}

// keepalive pings until the connection closes or a ping fails.
func (e *Executor) keepalive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			if err := e.ping(); err != nil {
				return
			}
		}
	}
}

// Close sends a close frame and closes the connection. Safe to call more
// than once.
func (e *Executor) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.done)
		e.writeMu.Lock()
		e.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		e.writeMu.Unlock()
		err = e.conn.Close()
	})
	return err
}
