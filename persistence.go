package agentworld

import (
	"context"
	"encoding/json"
)

// subscribeEventPersistence attaches the opt-in subscriber that writes bus
// events to storage. Transient events (sse chunks, tool progress) are
// filtered at the source; everything else is persisted best-effort with
// metadata derived at persist time. Returns a combined unsubscribe.
func subscribeEventPersistence(w *World) func() {
	channels := []EventChannel{ChannelMessage, ChannelSSE, ChannelWorld, ChannelSystem, ChannelCRUD}
	unsubs := make([]func(), 0, len(channels))
	for _, ch := range channels {
		ch := ch
		unsubs = append(unsubs, w.bus.On(ch, func(event any) error {
			w.persistEvent(ch, event)
			return nil
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (w *World) persistEvent(channel EventChannel, event any) {
	if transientEvent(event) {
		return
	}
	rec := EventRecord{
		ID:        NewID(),
		WorldID:   w.ID,
		Channel:   string(channel),
		CreatedAt: NowUnix(),
	}
	switch ev := event.(type) {
	case MessageEvent:
		rec.ChatID = ev.ChatID
		rec.MessageID = ev.MessageID
		annotateMessageRecord(&rec, ev)
	case SSEEvent:
		rec.ChatID = ev.ChatID
		rec.MessageID = ev.MessageID
	case ToolEvent:
		rec.ChatID = ev.ChatID
		rec.MessageID = ev.MessageID
	case SystemEvent:
		rec.ChatID = ev.ChatID
		rec.MessageID = ev.MessageID
	case CRUDEvent:
		rec.ChatID = ev.ChatID
	}

	payload, err := json.Marshal(event)
	if err != nil {
		w.logger.Warn("event encode failed", "channel", string(channel), "error", err)
		return
	}
	rec.Payload = payload

	if err := w.rt.Storage.SaveEvent(context.Background(), rec); err != nil {
		w.logger.Warn("event persist failed", "channel", string(channel), "error", err)
	}
}

// transientEvent reports whether an event is excluded from persistence.
func transientEvent(event any) bool {
	switch ev := event.(type) {
	case SSEEvent:
		return ev.Type == SSEChunk
	case ToolEvent:
		return ev.Type == ToolProgress
	}
	return false
}

// annotateMessageRecord derives routing metadata for a message event:
// sender, first addressed recipient, direction, thread root, and whether
// the message declares tool calls.
func annotateMessageRecord(rec *EventRecord, ev MessageEvent) {
	rec.Sender = ev.Sender
	rec.HasToolCalls = len(ev.ToolCalls) > 0
	rec.ThreadRoot = ev.ReplyToMessageID
	if rec.ThreadRoot == "" {
		rec.ThreadRoot = ev.MessageID
	}
	if leading := ParagraphBeginMentions(ev.Content); len(leading) > 0 {
		rec.Recipient = leading[0]
	}

	senderHuman := canonicalSender(ev.Sender) == SenderHuman
	switch {
	case ev.Sender == SenderSystem:
		rec.Direction = "system"
	case senderHuman:
		rec.Direction = "human-to-agent"
	case rec.Recipient == SenderHuman:
		rec.Direction = "agent-to-human"
	default:
		rec.Direction = "agent-to-agent"
	}
}
