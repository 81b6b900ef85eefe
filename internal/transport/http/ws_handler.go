package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"liveguess-service/internal/app"
	"liveguess-service/internal/domain"
)

// WSHandler serves participant devices: it pushes countdown snapshots, the
// user's current answer for the live question, and rating updates, and
// accepts answer submissions.
type WSHandler struct {
	countdown *app.CountdownTracker
	answers   *app.AnswerService
	ratings   *app.RatingService
	upgrader  websocket.Upgrader
}

func NewWSHandler(countdown *app.CountdownTracker, answers *app.AnswerService, ratings *app.RatingService) *WSHandler {
	return &WSHandler{
		countdown: countdown,
		answers:   answers,
		ratings:   ratings,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID int     `json:"questionId"`
	Answer     float64 `json:"answer"`
}

type countdownPayload struct {
	Question  *domain.QuestionMeta `json:"question"`
	Remaining int                  `json:"remaining"`
	Open      bool                 `json:"open"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and wires the participant into the live quiz.
// All subscriptions are released when the connection goes away, whichever way
// it goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if err := domain.ValidateUserID(userID); err != nil {
		http.Error(w, "missing or invalid userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	snapshots, cancelCountdown, err := h.countdown.Watch(r.Context())
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancelCountdown()

	ratings, cancelRatings, err := h.ratings.Watch(r.Context(), userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancelRatings()

	// The live question as last pushed to this client; guards submissions.
	var (
		mu      sync.RWMutex
		current *app.CountdownSnapshot
	)
	setCurrent := func(s app.CountdownSnapshot) {
		mu.Lock()
		current = &s
		mu.Unlock()
	}
	liveQuestion := func() (domain.QuestionMeta, bool) {
		mu.RLock()
		defer mu.RUnlock()
		if current == nil || !current.Open() {
			return domain.QuestionMeta{}, false
		}
		return *current.Question, true
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		var lastQuestionID *int
		for {
			select {
			case snapshot, ok := <-snapshots:
				if !ok {
					return
				}
				setCurrent(snapshot)
				select {
				case send <- outboundMessage[any]{Type: "countdown", Payload: countdownPayload{
					Question:  snapshot.Question,
					Remaining: snapshot.Remaining,
					Open:      snapshot.Open(),
				}}:
				case <-closeSignals:
					return
				}
				// Echo the stored answer when a new question goes live.
				if snapshot.Question != nil && (lastQuestionID == nil || *lastQuestionID != snapshot.Question.ID) {
					id := snapshot.Question.ID
					lastQuestionID = &id
					answer, err := h.answers.Current(r.Context(), userID, id)
					if err != nil {
						log.Warn().Err(err).Str("user_id", userID).Msg("answer lookup failed")
						continue
					}
					select {
					case send <- outboundMessage[any]{Type: "answer", Payload: answer}:
					case <-closeSignals:
						return
					}
				}
			case rating, ok := <-ratings:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "rating", Payload: rating}:
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
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			question, open := liveQuestion()
			if !open || question.ID != payload.QuestionID {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: domain.ErrAnswersClosed.Error()}}
				continue
			}
			answer, err := h.answers.Submit(r.Context(), userID, question, payload.Answer)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: submitErrorMessage(err)}}
				continue
			}
			send <- outboundMessage[any]{Type: "answerResult", Payload: answer}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// submitErrorMessage keeps validation feedback readable without leaking
// store internals to the client.
func submitErrorMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrAnswerOutOfRange),
		errors.Is(err, domain.ErrAnswerNotOnStep),
		errors.Is(err, domain.ErrInvalidUserID):
		return err.Error()
	default:
		return "submission failed"
	}
}
