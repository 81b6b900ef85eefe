package http

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"liveguess-service/internal/app"
)

// ProjectorHandler drives the projector screen: it pushes the state machine
// view plus countdown snapshots and accepts phase-advance commands. Commands
// arriving in the wrong phase are silently ignored, so a double-clicked
// button or a re-sent frame cannot derail the quiz.
type ProjectorHandler struct {
	projector *app.Projector
	countdown *app.CountdownTracker
	upgrader  websocket.Upgrader
}

func NewProjectorHandler(projector *app.Projector, countdown *app.CountdownTracker) *ProjectorHandler {
	return &ProjectorHandler{
		projector: projector,
		countdown: countdown,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type commandPayload struct {
	Action string `json:"action"`
}

// ServeWS upgrades the request and attaches the projector screen.
func (h *ProjectorHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("projector ws upgrade failed")
		return
	}
	defer conn.Close()

	views, cancelViews := h.projector.Subscribe()
	defer cancelViews()

	snapshots, cancelCountdown, err := h.countdown.Watch(r.Context())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancelCountdown()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("projector ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case view, ok := <-views:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "state", Payload: view}:
				case <-closeSignals:
					return
				}
			case snapshot, ok := <-snapshots:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "countdown", Payload: countdownPayload{
					Question:  snapshot.Question,
					Remaining: snapshot.Remaining,
					Open:      snapshot.Open(),
				}}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if inbound.Type != "command" {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
			continue
		}
		var payload commandPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid command payload"}}
			continue
		}

		var cmdErr error
		switch payload.Action {
		case "start":
			cmdErr = h.projector.Start(r.Context())
		case "open":
			cmdErr = h.projector.OpenAnswers(r.Context())
		case "reveal":
			cmdErr = h.projector.Reveal(r.Context())
		case "next":
			h.projector.Next()
		case "finish":
			h.projector.Finish()
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unknown action"}}
			continue
		}
		if cmdErr != nil {
			log.Warn().Err(cmdErr).Str("action", payload.Action).Msg("projector command failed")
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "command failed"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
