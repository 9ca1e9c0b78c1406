// Package dispatch carries messages between drivers' chat clients and the bot:
// Telegram long polling and WebSocket sessions, behind one Router.
package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/example/taxi-dispatch/internal/chat"
)

var ErrNoTransport = errors.New("no transport for channel")

// Transport is one chat network.
type Transport interface {
	chat.Messenger
	chat.MediaResolver
}

// Router picks the transport by channel id: "ws:" ids go to WebSocket,
// everything else to the primary transport.
type Router struct {
	Primary Transport // nil when Telegram is not configured
	WS      *WSRegistry
}

func (r *Router) pick(channelID string) (Transport, error) {
	if strings.HasPrefix(channelID, WSPrefix) && r.WS != nil {
		return r.WS, nil
	}
	if r.Primary == nil {
		return nil, ErrNoTransport
	}
	return r.Primary, nil
}

func (r *Router) Send(ctx context.Context, msg chat.Message) error {
	t, err := r.pick(msg.ChannelID)
	if err != nil {
		return err
	}
	return t.Send(ctx, msg)
}

func (r *Router) ResolveImage(ctx context.Context, channelID, ref string) (string, error) {
	t, err := r.pick(channelID)
	if err != nil {
		return "", err
	}
	return t.ResolveImage(ctx, channelID, ref)
}
