package app

import (
	"context"
	"sync"

	"liveguess-service/internal/domain"
)

// ProjectorState is the phase the projector screen is in.
type ProjectorState string

const (
	StateIdle        ProjectorState = "IDLE"
	StateOpen        ProjectorState = "OPEN"
	StateAnswering   ProjectorState = "ANSWERING"
	StateResult      ProjectorState = "RESULT"
	StateFinalResult ProjectorState = "FINAL_RESULT"
)

// ProjectorView is a render-ready snapshot of the projector.
type ProjectorView struct {
	State    ProjectorState   `json:"state"`
	Question *domain.Question `json:"question,omitempty"`
	Answers  []domain.Answer  `json:"answers,omitempty"`
}

// ProjectorStore is the slice of the realtime store the projector drives.
type ProjectorStore interface {
	QuestionStore
	CountdownStore
	AnswerStore
}

// Projector walks the quiz through IDLE → OPEN → ANSWERING → RESULT → OPEN …
// → FINAL_RESULT. Every transition is guarded by a current-state match; a call
// in the wrong state is a silent no-op so duplicate UI commands (double-clicks,
// re-sent frames) are harmless. State only advances after the involved store
// write or read has succeeded.
type Projector struct {
	store ProjectorStore

	mu          sync.Mutex
	state       ProjectorState
	questions   []domain.Question
	index       int
	answers     []domain.Answer
	subscribers map[chan ProjectorView]struct{}
}

func NewProjector(store ProjectorStore) *Projector {
	return &Projector{
		store:       store,
		state:       StateIdle,
		subscribers: make(map[chan ProjectorView]struct{}),
	}
}

// Start loads the ordered question list and opens the first question.
// No-op unless idle, and no-op when no questions have been authored yet.
func (p *Projector) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return nil
	}
	questions, err := p.store.Questions(ctx)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		return nil
	}
	p.questions = questions
	p.index = 0
	p.state = StateOpen
	p.broadcastLocked()
	return nil
}

// OpenAnswers publishes the countdown record for the current question. The
// store server assigns the start timestamp; the projector never trusts its own
// clock for it. Transition happens only once the write is confirmed.
func (p *Projector) OpenAnswers(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateOpen {
		return nil
	}
	if err := p.store.PublishCountdown(ctx, p.questions[p.index].Meta()); err != nil {
		return err
	}
	p.state = StateAnswering
	p.broadcastLocked()
	return nil
}

// Reveal fetches all answers for the current question in a one-shot read and
// moves to the result phase. An empty result set still reveals.
func (p *Projector) Reveal(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateAnswering {
		return nil
	}
	answers, err := p.store.AnswersByQuestion(ctx, p.questions[p.index].ID)
	if err != nil {
		return err
	}
	if answers == nil {
		answers = []domain.Answer{}
	}
	p.answers = answers
	p.state = StateResult
	p.broadcastLocked()
	return nil
}

// Next opens the question following the current one by list position.
// No-op on the last question; the final result needs an explicit Finish.
func (p *Projector) Next() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateResult {
		return
	}
	if p.index == len(p.questions)-1 {
		return
	}
	p.index++
	p.answers = nil
	p.state = StateOpen
	p.broadcastLocked()
}

// Finish moves from the last question's result to the terminal final-result
// screen. The aggregation behind it is computed externally.
func (p *Projector) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateResult || p.index != len(p.questions)-1 {
		return
	}
	p.state = StateFinalResult
	p.broadcastLocked()
}

// View returns the current render snapshot.
func (p *Projector) View() ProjectorView {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.viewLocked()
}

// Subscribe returns a channel receiving the current view immediately and a
// fresh view after each transition. The caller must invoke cancel to avoid
// leaking the subscription.
func (p *Projector) Subscribe() (<-chan ProjectorView, func()) {
	ch := make(chan ProjectorView, 8)

	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	initial := p.viewLocked()
	p.mu.Unlock()

	ch <- initial

	cancel := func() {
		p.mu.Lock()
		if _, ok := p.subscribers[ch]; ok {
			delete(p.subscribers, ch)
			close(ch)
		}
		p.mu.Unlock()
	}
	return ch, cancel
}

func (p *Projector) viewLocked() ProjectorView {
	view := ProjectorView{State: p.state}
	if p.state == StateOpen || p.state == StateAnswering || p.state == StateResult {
		question := p.questions[p.index]
		view.Question = &question
	}
	if p.state == StateResult {
		view.Answers = p.answers
	}
	return view
}

func (p *Projector) broadcastLocked() {
	view := p.viewLocked()
	for ch := range p.subscribers {
		select {
		case ch <- view:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
}
