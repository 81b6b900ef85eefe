package domain

// Question is a numeric-estimation quiz question. A negative ID marks a
// practice question, shown distinctly but not otherwise special-cased.
type Question struct {
	Key     string  `json:"-"`
	ID      int     `json:"id"`
	Text    string  `json:"text"`
	Seconds int     `json:"seconds"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Unit    string  `json:"unit"`
}

// Practice reports whether the question is a practice question.
func (q Question) Practice() bool {
	return q.ID < 0
}

// Meta strips the question text for publication in a Countdown record.
func (q Question) Meta() QuestionMeta {
	return QuestionMeta{
		ID:      q.ID,
		Seconds: q.Seconds,
		Min:     q.Min,
		Max:     q.Max,
		Step:    q.Step,
		Unit:    q.Unit,
	}
}

// QuestionMeta is a Question minus its text. Participants only ever see the
// text on the projector; the countdown carries everything else they need to
// answer.
type QuestionMeta struct {
	ID      int     `json:"id"`
	Seconds int     `json:"seconds"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Step    float64 `json:"step"`
	Unit    string  `json:"unit"`
}

// Countdown is the shared singleton record announcing the currently live
// question and its authoritative start time. StartAt is assigned by the store
// server at write time, in unix milliseconds of the server clock.
type Countdown struct {
	Question QuestionMeta `json:"question"`
	StartAt  int64        `json:"startAt"`
}

// Answer is one participant's numeric answer to one question. Key is the
// store-generated record key; empty until the record has been written.
type Answer struct {
	Key        string  `json:"-"`
	UserID     string  `json:"userId"`
	QuestionID int     `json:"questionId"`
	Value      float64 `json:"answer"`
}

// Rating is a precomputed per-user score and rank, produced by an external
// aggregation process and only read here.
type Rating struct {
	Key    string  `json:"-"`
	UserID string  `json:"userId"`
	Score  float64 `json:"score"`
	Rank   int     `json:"rank"`
	IsTie  bool    `json:"isTie"`
}

// QuestionSet is a durably stored, named question list that the admin can
// publish into the live store in one shot.
type QuestionSet struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}
