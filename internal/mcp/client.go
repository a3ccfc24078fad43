package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// ClientWrapper connects to a gateway's MCP endpoint over websocket and
// manages the client session lifecycle.
type ClientWrapper struct {
	client  *sdk.Client
	session *sdk.ClientSession
}

// NewClientWrapper creates a new wrapper with the given name/version.
func NewClientWrapper(name, version string) *ClientWrapper {
	return &ClientWrapper{client: sdk.NewClient(&sdk.Implementation{Name: name, Version: version}, nil)}
}

// ConnectWebSocket dials rawurl (http and https are mapped to ws and wss)
// and initializes the MCP session.
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("mcp: dial %s: %w", u, err)
	}
	sess, err := w.client.Connect(ctx, NewWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("mcp: connect: %w", err)
	}
	w.session = sess
	return nil
}

// ActiveSessions calls the active_sessions tool.
func (w *ClientWrapper) ActiveSessions(ctx context.Context) (ActiveSessions, error) {
	var out ActiveSessions
	if w.session == nil {
		return out, errors.New("mcp: not connected")
	}
	res, err := w.session.CallTool(ctx, &sdk.CallToolParams{Name: ToolActiveSessions, Arguments: map[string]any{}})
	if err != nil {
		return out, err
	}
	if res.IsError || len(res.Content) == 0 {
		return out, fmt.Errorf("mcp: %s returned no result", ToolActiveSessions)
	}
	text, ok := res.Content[0].(*sdk.TextContent)
	if !ok {
		return out, fmt.Errorf("mcp: unexpected content type %T", res.Content[0])
	}
	if err := json.Unmarshal([]byte(text.Text), &out); err != nil {
		return out, fmt.Errorf("mcp: decode %s: %w", ToolActiveSessions, err)
	}
	return out, nil
}

func (w *ClientWrapper) Close() error {
	if w.session != nil {
		return w.session.Close()
	}
	return nil
}
