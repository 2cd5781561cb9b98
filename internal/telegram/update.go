package telegram

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// errIncompleteFrame means the bytes after the first '{' are not yet a
// whole JSON value.
var errIncompleteFrame = errors.New("telegram: incomplete frame")

// Update is one incoming message as handed to the Handler.
type Update struct {
	UpdateID       int64
	ChatID         int64
	SenderUsername string
	SenderID       int64
	Text           string
	// Raw is the whole update object as decoded JSON.
	Raw map[string]any
}

// Handler is called synchronously for every incoming text message. It may
// call b.Send to queue a reply.
type Handler func(b *Bot, u Update)

// apiResponse is the generic Telegram API response wrapper.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message,omitempty"`
}

type tgMessage struct {
	Chat *tgChat `json:"chat,omitempty"`
	From *tgUser `json:"from,omitempty"`
	Text *string `json:"text,omitempty"`
}

type tgChat struct {
	ID int64 `json:"id"`
}

type tgUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// replyKind classifies a parsed API reply.
type replyKind int

const (
	// replyEmpty is a getUpdates reply with no pending updates.
	replyEmpty replyKind = iota
	// replyAck is a reply whose result is not a list, i.e. the answer to
	// sendMessage.
	replyAck
	// replyUpdate carries one update.
	replyUpdate
	// replyError is an ok:false reply.
	replyError
)

func (k replyKind) String() string {
	switch k {
	case replyEmpty:
		return "empty"
	case replyAck:
		return "ack"
	case replyUpdate:
		return "update"
	case replyError:
		return "error"
	default:
		return fmt.Sprintf("replyKind(%d)", int(k))
	}
}

type reply struct {
	kind replyKind
	// updateID is set for replyUpdate.
	updateID int64
	// update is nil for replyUpdate entries without a text message.
	update *Update
	// err describes a replyError.
	err error
}

// parseReply decodes a JSON frame. It returns errIncompleteFrame when the
// frame is not valid JSON yet; any other error means the reply was complete
// but did not have the expected shape.
func parseReply(frame []byte) (reply, error) {
	if !json.Valid(frame) {
		return reply{}, errIncompleteFrame
	}
	var resp apiResponse
	if err := json.Unmarshal(frame, &resp); err != nil {
		return reply{}, fmt.Errorf("decode reply: %w", err)
	}
	if !resp.OK {
		return reply{
			kind: replyError,
			err:  fmt.Errorf("telegram api error %d: %s", resp.ErrorCode, resp.Description),
		}, nil
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || result[0] != '[' {
		return reply{kind: replyAck}, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(result, &items); err != nil {
		return reply{}, fmt.Errorf("decode result list: %w", err)
	}
	if len(items) == 0 {
		return reply{kind: replyEmpty}, nil
	}

	// limit=1, so only the first element is ever looked at.
	var u tgUpdate
	if err := json.Unmarshal(items[0], &u); err != nil {
		return reply{}, fmt.Errorf("decode update: %w", err)
	}
	rep := reply{kind: replyUpdate, updateID: u.UpdateID}
	if u.Message == nil || u.Message.Text == nil {
		return rep, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(items[0], &raw); err != nil {
		return reply{}, fmt.Errorf("decode raw update: %w", err)
	}

	upd := &Update{UpdateID: u.UpdateID, Text: *u.Message.Text, Raw: raw}
	if from := u.Message.From; from != nil {
		upd.SenderID = from.ID
		upd.SenderUsername = from.Username
	}
	if u.Message.Chat != nil {
		upd.ChatID = u.Message.Chat.ID
	} else {
		upd.ChatID = upd.SenderID
	}
	rep.update = upd
	return rep, nil
}
