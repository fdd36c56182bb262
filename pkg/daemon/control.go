package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"time"
)

// Control socket operations.
const (
	ControlCron   = "cron"
	ControlStatus = "status"
	ControlTick   = "tick"
)

// controlTimeout bounds a single request/response exchange.
const controlTimeout = 5 * time.Second

// Request is one line sent to the control socket.
type Request struct {
	Op   string         `json:"op"`
	Args map[string]any `json:"args,omitempty"`
}

// Response is the single line written back.
type Response struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the response payload into v.
func (r Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return errors.New("empty response payload")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ControlHandler answers control requests.
type ControlHandler interface {
	HandleControl(ctx context.Context, req Request) (any, error)
}

// serveControl accepts connections until ctx is done or ln is closed.
func serveControl(ctx context.Context, ln net.Listener, h ControlHandler, logger *log.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Printf("control accept: %v", err)
			continue
		}
		go handleControlConn(ctx, conn, h, logger)
	}
}

// handleControlConn reads one JSON request line and writes one response.
func handleControlConn(ctx context.Context, conn net.Conn, h ControlHandler, logger *log.Logger) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(controlTimeout))

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}

	var resp Response
	var req Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		resp.Error = fmt.Sprintf("malformed request: %v", err)
	} else if data, err := h.HandleControl(ctx, req); err != nil {
		resp.Error = err.Error()
	} else {
		raw, err := json.Marshal(data)
		if err != nil {
			resp.Error = fmt.Sprintf("encode response: %v", err)
		} else {
			resp.OK = true
			resp.Data = raw
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		logger.Printf("control encode: %v", err)
		return
	}
	if _, err := conn.Write(append(out, '\n')); err != nil {
		logger.Printf("control write: %v", err)
	}
}

// Call sends req to the daemon listening on sockPath and returns its reply.
// A reply with OK false is returned as an error carrying the daemon's
// message.
func Call(ctx context.Context, sockPath string, req Request) (Response, error) {
	dialer := &net.Dialer{Timeout: controlTimeout}
	conn, err := dialer.DialContext(ctx, "unix", sockPath)
	if err != nil {
		return Response{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(controlTimeout))

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("read response: %w", err)
		}
		return Response{}, errors.New("no response received")
	}
	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if !resp.OK {
		return resp, fmt.Errorf("daemon: %s", resp.Error)
	}
	return resp, nil
}
