package chat

import "context"

type Button struct {
	Text           string `json:"text"`
	RequestContact bool   `json:"requestContact,omitempty"`
}

// Message is one outbound reply. Keyboard rows replace the client's reply
// keyboard when present.
type Message struct {
	ChannelID string     `json:"-"`
	Text      string     `json:"text"`
	Keyboard  [][]Button `json:"keyboard,omitempty"`
	OneTime   bool       `json:"oneTime,omitempty"`
}

// Messenger delivers messages to a driver's channel.
type Messenger interface {
	Send(ctx context.Context, msg Message) error
}

// MediaResolver turns a transport-specific image reference into a durable URL.
type MediaResolver interface {
	ResolveImage(ctx context.Context, channelID, ref string) (string, error)
}

// Handler consumes classified inbound events.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) Handle(ctx context.Context, ev Event) { f(ctx, ev) }

// Row builds a keyboard row of plain buttons.
func Row(labels ...string) []Button {
	row := make([]Button, 0, len(labels))
	for _, l := range labels {
		row = append(row, Button{Text: l})
	}
	return row
}

// MainMenu is the driver's default keyboard.
func MainMenu() [][]Button {
	return [][]Button{
		Row(LabelRegister),
		Row(LabelOnline, LabelOffline),
		Row(LabelStatus),
	}
}
