package http

import (
	"encoding/json"

	"github.com/roomcast/roomcast-server/internal/core"
	"github.com/roomcast/roomcast-server/internal/proto"
	"github.com/roomcast/roomcast-server/internal/store"
)

func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error, error) {
	switch inbound.Type {
	case proto.InboundTypeJoin:
		var join proto.JoinData
		if err := json.Unmarshal(inbound.Data, &join); err != nil {
			return nil, nil, err
		}
		kind := store.Kind(join.Conversation.Kind)
		switch kind {
		case store.KindPublic:
			if join.Conversation.Name == "" {
				return nil, &proto.Error{Code: core.ErrCodeInvalidRequest, Msg: "conversation name is required"}, nil
			}
		case store.KindPrivate, store.KindDirect:
			if join.Conversation.ID == 0 {
				return nil, &proto.Error{Code: core.ErrCodeInvalidRequest, Msg: "conversation id is required"}, nil
			}
		default:
			return nil, &proto.Error{Code: core.ErrCodeInvalidRequest, Msg: "unknown conversation kind"}, nil
		}
		return &core.Command{
			Kind:             core.CommandJoin,
			ConversationKind: kind,
			ConversationID:   join.Conversation.ID,
			ConversationName: join.Conversation.Name,
		}, nil, nil

	case proto.InboundTypeDirect:
		var direct proto.DirectData
		if err := json.Unmarshal(inbound.Data, &direct); err != nil {
			return nil, nil, err
		}
		if direct.TargetIdentityID == 0 {
			return nil, &proto.Error{Code: core.ErrCodeInvalidRequest, Msg: "target identity is required"}, nil
		}
		return &core.Command{
			Kind:             core.CommandInitiateDirect,
			TargetIdentityID: direct.TargetIdentityID,
		}, nil, nil

	case proto.InboundTypeLeave:
		return &core.Command{Kind: core.CommandLeave}, nil, nil

	case proto.InboundTypeMsg:
		var msg proto.MsgData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, nil, err
		}
		if msg.Conversation.ID == 0 {
			return nil, &proto.Error{Code: core.ErrCodeInvalidRequest, Msg: "conversation id is required"}, nil
		}
		return &core.Command{
			Kind:             core.CommandSendMessage,
			ConversationKind: store.Kind(msg.Conversation.Kind),
			ConversationID:   msg.Conversation.ID,
			Text:             msg.Text,
		}, nil, nil

	case proto.InboundTypeTyping:
		var typing proto.TypingData
		if err := json.Unmarshal(inbound.Data, &typing); err != nil {
			return nil, nil, err
		}
		if typing.Conversation.ID == 0 {
			return nil, &proto.Error{Code: core.ErrCodeInvalidRequest, Msg: "conversation id is required"}, nil
		}
		return &core.Command{
			Kind:             core.CommandTyping,
			ConversationKind: store.Kind(typing.Conversation.Kind),
			ConversationID:   typing.Conversation.ID,
			Typing:           typing.Typing,
		}, nil, nil

	case proto.InboundTypeStatus:
		var status proto.StatusData
		if err := json.Unmarshal(inbound.Data, &status); err != nil {
			return nil, nil, err
		}
		return &core.Command{
			Kind:          core.CommandSetStatus,
			Status:        store.Status(status.Status),
			StatusMessage: status.StatusMessage,
		}, nil, nil

	default:
		return nil, &proto.Error{Code: core.ErrCodeInvalidRequest, Msg: "unknown message type"}, nil
	}
}

func identityInfo(snap core.Snapshot) proto.IdentityInfo {
	return proto.IdentityInfo{
		ID:            snap.ID,
		Name:          snap.Name,
		AvatarURL:     snap.AvatarURL,
		Status:        string(snap.Status),
		StatusMessage: snap.StatusMessage,
		LastSeen:      snap.LastSeen.Unix(),
	}
}

func identityInfos(snaps []core.Snapshot) []proto.IdentityInfo {
	out := make([]proto.IdentityInfo, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, identityInfo(s))
	}
	return out
}

func messageEvent(msg *store.Message, kind store.Kind, sender proto.IdentityInfo) proto.EventMessage {
	return proto.EventMessage{
		ID: msg.ID,
		Conversation: proto.ConversationRef{
			Kind: string(kind),
			ID:   msg.ConversationID,
		},
		Sender: sender,
		Text:   msg.Body,
		TS:     msg.CreatedAt.Unix(),
	}
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventJoined:
		conv := event.Conversation
		recent := make([]proto.EventMessage, 0, len(event.Recent))
		for _, msg := range event.Recent {
			recent = append(recent, messageEvent(msg, conv.Kind, proto.IdentityInfo{
				ID:   msg.SenderID,
				Name: msg.SenderName,
			}))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameJoined,
			Data: proto.EventJoined{
				Conversation: proto.ConversationInfo{
					ID:           conv.ID,
					Kind:         string(conv.Kind),
					Name:         conv.Name,
					DisplayName:  conv.DisplayName,
					LastActivity: conv.LastActivity.Unix(),
				},
				WasCreated:     event.WasCreated,
				Members:        identityInfos(event.Members),
				RecentMessages: recent,
			},
		}

	case core.EventMemberList:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameMembers,
			Data: proto.EventMembers{
				ConversationID: event.ConversationID,
				Members:        identityInfos(event.Members),
			},
		}

	case core.EventMessage:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameMessage,
			Data:  messageEvent(event.Message, event.ConversationKind, identityInfo(event.Sender)),
		}

	case core.EventDirectSummary:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameDirectSummary,
			Data: proto.EventDirectSummary{
				ConversationID: event.ConversationID,
				Other:          identityInfo(event.Other),
				LastActivity:   event.LastActivity.Unix(),
				Unread:         event.Unread,
			},
		}

	case core.EventPresence:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNamePresence,
			Data: proto.EventPresence{
				IdentityID:    event.User.ID,
				Status:        string(event.User.Status),
				StatusMessage: event.User.StatusMessage,
				LastSeen:      event.User.LastSeen.Unix(),
			},
		}

	case core.EventTyping:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventNameTyping,
			Data: proto.EventTyping{
				ConversationID: event.ConversationID,
				IdentityID:     event.User.ID,
				Name:           event.User.Name,
				Typing:         event.Typing,
			},
		}

	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}

	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}
