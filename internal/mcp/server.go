// Package mcp exposes gateway introspection as Model Context Protocol tools
// over a websocket, and a small client for calling them.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/realtime-stt-lab/internal/logging"
)

// ToolActiveSessions reports the live streaming sessions.
const ToolActiveSessions = "active_sessions"

// SessionLister is the read-only view of the session registry the tools use.
type SessionLister interface {
	ActiveCount() int
	IDs() []string
}

// ActiveSessions is the active_sessions tool result.
type ActiveSessions struct {
	ActiveSessions int      `json:"active_sessions"`
	SessionIDs     []string `json:"session_ids"`
}

type noArgs struct{}

// NewServer builds an MCP server whose tools read from sessions.
func NewServer(sessions SessionLister, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "stt-gateway", Version: version}, nil)
	sdk.AddTool(server, &sdk.Tool{
		Name:        ToolActiveSessions,
		Description: "Number and IDs of the live real-time transcription sessions",
	}, func(ctx context.Context, req *sdk.CallToolRequest, _ noArgs) (*sdk.CallToolResult, ActiveSessions, error) {
		out := ActiveSessions{ActiveSessions: sessions.ActiveCount(), SessionIDs: sessions.IDs()}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, out, err
		}
		return &sdk.CallToolResult{
			Content: []sdk.Content{&sdk.TextContent{Text: string(b)}},
		}, out, nil
	})
	return server
}

// Handler upgrades requests to websockets and serves server on each one.
// Sessions live until the peer disconnects or ctx is done.
func Handler(ctx context.Context, server *sdk.Server) http.HandlerFunc {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("mcp: ws upgrade failed", "err", err)
			return
		}
		go func() {
			ss, err := server.Connect(ctx, NewWebSocketTransport(conn), nil)
			if err != nil {
				logging.Warnw("mcp: server connect error", "err", err)
				_ = conn.Close()
				return
			}
			stop := context.AfterFunc(ctx, func() { _ = ss.Close() })
			defer stop()
			if err := ss.Wait(); err != nil {
				logging.Debugw("mcp: session ended with error", "err", err)
				return
			}
			logging.Debugw("mcp: session ended")
		}()
	}
}
