package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Inbound event names.
const (
	EventUserJoin       = "user_join"
	EventSendMessage    = "send_message"
	EventEditMessage    = "edit_message"
	EventDeleteMessage  = "delete_message"
	EventJoinRoom       = "join_room"
	EventTypingStart    = "typing_start"
	EventTypingStop     = "typing_stop"
	EventAddReaction    = "add_reaction"
	EventMessageRead    = "message_read"
	EventPrivateMessage = "private_message"
)

// Outbound event names.
const (
	EventConnected      = "connected"
	EventAvailableRooms = "available_rooms"
	EventMessageHistory = "message_history"
	EventUserList       = "user_list"
	EventNotification   = "notification"
	EventReceiveMessage = "receive_message"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventRoomJoined     = "room_joined"
	EventTypingUsers    = "typing_users"
)

var (
	// ErrUnknownEvent is returned by DecodeInbound for an unrecognized event name.
	ErrUnknownEvent = errors.New("chat: unknown event")
	// ErrInvalidPayload is returned by DecodeInbound when the payload does not
	// match the event's schema.
	ErrInvalidPayload = errors.New("chat: invalid payload")
)

// Envelope is the wire frame exchanged with clients.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Encode builds the wire frame for an outbound event.
func Encode(event string, payload any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: payload})
}

// Inbound is one decoded client event.
type Inbound interface {
	EventName() string
}

// UserJoin registers the connection under a display name.
type UserJoin struct {
	Username string `validate:"required,max=32"`
}

// SendMessage posts a message to the current room or to Room.
type SendMessage struct {
	Message string `json:"message" validate:"max=4000"`
	Room    string `json:"room,omitempty" validate:"max=64"`
	Image   string `json:"image,omitempty" validate:"omitempty,max=2048"`
}

// EditMessage replaces the body of a message.
type EditMessage struct {
	ID      string `json:"id" validate:"required"`
	Content string `json:"content" validate:"required,max=4000"`
}

// DeleteMessage removes a message.
type DeleteMessage struct {
	ID string `json:"id" validate:"required"`
}

// JoinRoom moves the connection to another public room.
type JoinRoom struct {
	Room string `validate:"required,max=64"`
}

// TypingStart marks the connection as typing.
type TypingStart struct{}

// TypingStop clears the typing mark.
type TypingStop struct{}

// AddReaction reacts to a message.
type AddReaction struct {
	MessageID string `json:"messageId" validate:"required"`
	Emoji     string `json:"emoji" validate:"required,max=32"`
}

// MessageRead flags a message as read.
type MessageRead struct {
	MessageID string `json:"messageId" validate:"required"`
}

// PrivateMessage sends a message to a single connection.
type PrivateMessage struct {
	ToUserID string `json:"toUserId" validate:"required"`
	Message  string `json:"message" validate:"required,max=4000"`
}

func (UserJoin) EventName() string       { return EventUserJoin }
func (SendMessage) EventName() string    { return EventSendMessage }
func (EditMessage) EventName() string    { return EventEditMessage }
func (DeleteMessage) EventName() string  { return EventDeleteMessage }
func (JoinRoom) EventName() string       { return EventJoinRoom }
func (TypingStart) EventName() string    { return EventTypingStart }
func (TypingStop) EventName() string     { return EventTypingStop }
func (AddReaction) EventName() string    { return EventAddReaction }
func (MessageRead) EventName() string    { return EventMessageRead }
func (PrivateMessage) EventName() string { return EventPrivateMessage }

var validate = validator.New()

// DecodeInbound parses a client frame into its typed event and validates it.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var (
		ev  Inbound
		err error
	)
	switch env.Event {
	case EventUserJoin:
		var name string
		err = unmarshalData(env.Data, &name)
		ev = UserJoin{Username: strings.TrimSpace(name)}
	case EventJoinRoom:
		var room string
		err = unmarshalData(env.Data, &room)
		ev = JoinRoom{Room: room}
	case EventTypingStart:
		ev = TypingStart{}
	case EventTypingStop:
		ev = TypingStop{}
	case EventSendMessage:
		ev, err = decodeStruct[SendMessage](env.Data)
	case EventEditMessage:
		ev, err = decodeStruct[EditMessage](env.Data)
	case EventDeleteMessage:
		ev, err = decodeStruct[DeleteMessage](env.Data)
	case EventAddReaction:
		ev, err = decodeStruct[AddReaction](env.Data)
	case EventMessageRead:
		ev, err = decodeStruct[MessageRead](env.Data)
	case EventPrivateMessage:
		ev, err = decodeStruct[PrivateMessage](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(ev); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	return ev, nil
}

func decodeStruct[T Inbound](data json.RawMessage) (Inbound, error) {
	var v T
	if err := unmarshalData(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
