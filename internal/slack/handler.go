package slack

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

type MentionHandler interface {
	HandleMention(event Event)
	HandleThreadMessage(event Event)
	HandleSlashCommand(cmd SlashCommand)
}

type Event struct {
	Type     string `json:"type"`
	User     string `json:"user"`
	Text     string `json:"text"`
	Channel  string `json:"channel"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"` // Thread timestamp (if in a thread)
}

// ConversationKey identifies the thread an event belongs to.
func (e Event) ConversationKey() string {
	if e.ThreadTS != "" {
		return e.Channel + ":" + e.ThreadTS
	}
	return e.Channel + ":" + e.TS
}

type SlashCommand struct {
	Command     string
	Text        string
	Channel     string
	User        string
	ResponseURL string
}

type Handler struct {
	api             *slack.Client
	socketClient    *socketmode.Client
	mentionHandler  MentionHandler
	processedEvents sync.Map
}

func NewHandler(appToken, botToken string, mentionHandler MentionHandler) *Handler {
	api := slack.New(
		botToken,
		slack.OptionAppLevelToken(appToken),
	)
	socketClient := socketmode.New(api)

	return &Handler{
		api:            api,
		socketClient:   socketClient,
		mentionHandler: mentionHandler,
	}
}

func (h *Handler) SetMentionHandler(mh MentionHandler) {
	h.mentionHandler = mh
}

func (h *Handler) APIClient() *slack.Client {
	return h.api
}

func (h *Handler) Run(ctx context.Context) error {
	go h.handleEvents(ctx)
	go h.cleanupLoop(ctx)
	return h.socketClient.RunContext(ctx)
}

func (h *Handler) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-h.socketClient.Events:
			if !ok {
				return
			}
			h.processEvent(evt)
		}
	}
}

func (h *Handler) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		h.socketClient.Ack(*evt.Request)

		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		var eventID string
		if cb, ok := eventsAPIEvent.Data.(*slackevents.EventsAPICallbackEvent); ok {
			eventID = cb.EventID
		}
		h.dispatch(eventID, eventsAPIEvent.InnerEvent.Data)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			return
		}
		h.socketClient.Ack(*evt.Request)
		h.dispatchCommand(cmd)
	}
}

// dispatch routes one callback event to the mention handler, once per event id.
func (h *Handler) dispatch(eventID string, inner any) {
	event, mention, ok := toEvent(inner)
	if !ok {
		return
	}

	// Dedup by event ID
	if eventID == "" {
		eventID = event.TS // fallback
	}
	if _, loaded := h.processedEvents.LoadOrStore(eventID, time.Now()); loaded {
		slog.Info("duplicate event, skipping", "event_id", eventID)
		return
	}

	slog.Info("received slack event",
		"event_id", eventID,
		"type", event.Type,
		"channel", event.Channel,
		"user", event.User,
		"thread_ts", event.ThreadTS,
	)

	if mention {
		go h.mentionHandler.HandleMention(event)
	} else {
		go h.mentionHandler.HandleThreadMessage(event)
	}
}

// toEvent converts app mentions and human thread replies. The bool reports
// whether the event is a mention.
func toEvent(inner any) (Event, bool, bool) {
	switch ev := inner.(type) {
	case *slackevents.AppMentionEvent:
		return Event{
			Type:     ev.Type,
			User:     ev.User,
			Text:     ev.Text,
			Channel:  ev.Channel,
			TS:       ev.TimeStamp,
			ThreadTS: ev.ThreadTimeStamp,
		}, true, true

	case *slackevents.MessageEvent:
		// Only human replies inside threads
		if ev.BotID != "" || ev.ThreadTimeStamp == "" || ev.SubType != "" {
			return Event{}, false, false
		}
		return Event{
			Type:     ev.Type,
			User:     ev.User,
			Text:     ev.Text,
			Channel:  ev.Channel,
			TS:       ev.TimeStamp,
			ThreadTS: ev.ThreadTimeStamp,
		}, false, true
	}
	return Event{}, false, false
}

func (h *Handler) dispatchCommand(cmd slack.SlashCommand) {
	slog.Info("received slash_command",
		"command", cmd.Command,
		"channel", cmd.ChannelID,
		"user", cmd.UserID,
	)

	go h.mentionHandler.HandleSlashCommand(SlashCommand{
		Command:     cmd.Command,
		Text:        cmd.Text,
		Channel:     cmd.ChannelID,
		User:        cmd.UserID,
		ResponseURL: cmd.ResponseURL,
	})
}

// ServeCommands handles slash commands delivered over HTTP. Mount it behind
// VerifyMiddleware.
func (h *Handler) ServeCommands(w http.ResponseWriter, r *http.Request) {
	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	h.dispatchCommand(cmd)

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"response_type":"ephemeral","text":":hourglass_flowing_sand: Working on it..."}`))
}

func (h *Handler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pruneProcessed(time.Now().Add(-30 * time.Minute))
		}
	}
}

func (h *Handler) pruneProcessed(cutoff time.Time) {
	h.processedEvents.Range(func(key, value any) bool {
		if t, ok := value.(time.Time); ok && t.Before(cutoff) {
			h.processedEvents.Delete(key)
		}
		return true
	})
}
