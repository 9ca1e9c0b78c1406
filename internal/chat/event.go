// Package chat defines what flows between drivers' conversational channels and
// the dispatch core, independent of the transport carrying it.
package chat

import (
	"strconv"
	"strings"
)

type Kind int

const (
	KindText Kind = iota
	KindCommand
	KindContact
	KindImage
	KindRatingDigit
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindContact:
		return "contact"
	case KindImage:
		return "image"
	case KindRatingDigit:
		return "rating_digit"
	default:
		return "text"
	}
}

type Command string

const (
	CmdStart    Command = "start"
	CmdRegister Command = "register"
	CmdOnline   Command = "online"
	CmdOffline  Command = "offline"
	CmdFinish   Command = "finish"
	CmdStatus   Command = "status"
	CmdCancel   Command = "cancel"
)

// Menu labels shown on reply keyboards.
const (
	LabelRegister = "📞 Register / update details"
	LabelOnline   = "🟢 Go online"
	LabelOffline  = "🔴 End session"
	LabelFinish   = "✅ Finish trip"
	LabelStatus   = "ℹ️ My status"
	LabelCancel   = "⬅️ Cancel"
	LabelShare    = "Share phone number"
)

var commandsByText = map[string]Command{
	"/start":      CmdStart,
	"/register":   CmdRegister,
	"/online":     CmdOnline,
	"/offline":    CmdOffline,
	"/finish":     CmdFinish,
	"/status":     CmdStatus,
	"/cancel":     CmdCancel,
	LabelRegister: CmdRegister,
	LabelOnline:   CmdOnline,
	LabelOffline:  CmdOffline,
	LabelFinish:   CmdFinish,
	LabelStatus:   CmdStatus,
	LabelCancel:   CmdCancel,
}

// Event is one inbound message, already classified. Only the fields matching
// Kind are meaningful, except Text which always carries the raw text.
type Event struct {
	ChannelID string
	Kind      Kind
	Command   Command
	Text      string
	Phone     string
	ImageRef  string
	Digit     int
}

// TextEvent classifies a plain text message: menu commands, bare integers and
// free text.
func TextEvent(channelID, text string) Event {
	text = strings.TrimSpace(text)
	ev := Event{ChannelID: channelID, Kind: KindText, Text: text}
	key := text
	if strings.HasPrefix(key, "/") {
		// "/start@my_bot payload" → "/start"
		key = strings.Fields(key)[0]
		if i := strings.IndexByte(key, '@'); i > 0 {
			key = key[:i]
		}
	}
	if cmd, ok := commandsByText[key]; ok {
		ev.Kind = KindCommand
		ev.Command = cmd
		return ev
	}
	if n, err := strconv.Atoi(text); err == nil {
		ev.Kind = KindRatingDigit
		ev.Digit = n
	}
	return ev
}

func ContactEvent(channelID, phone string) Event {
	return Event{ChannelID: channelID, Kind: KindContact, Phone: strings.TrimSpace(phone)}
}

func ImageEvent(channelID, ref string) Event {
	return Event{ChannelID: channelID, Kind: KindImage, ImageRef: ref}
}

// FreeText reports whether the event can be taken as a typed answer.
func (e Event) FreeText() bool {
	return (e.Kind == KindText || e.Kind == KindRatingDigit) && e.Text != ""
}
