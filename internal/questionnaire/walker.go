package questionnaire

import "fmt"

// Walker steps an operator through one assessment. It is not safe for
// concurrent use.
type Walker struct {
	state   State
	result  string
	answers []Answer
}

// NewWalker returns a walker positioned on the first question.
func NewWalker() *Walker {
	w := &Walker{}
	w.Start()
	return w
}

// Start resets the walker and returns the first question.
func (w *Walker) Start() Question {
	w.state = StateActiveThreat
	w.result = ""
	w.answers = nil
	q, _ := QuestionFor(w.state)
	return q
}

// Current returns the pending question. ok is false once a result is reached.
func (w *Walker) Current() (Question, bool) {
	if w.Done() {
		return Question{}, false
	}
	return QuestionFor(w.state)
}

// Answer records a response to the pending question. An answer the question
// does not offer leaves the walker where it was.
func (w *Walker) Answer(a Answer) error {
	if w.Done() {
		return ErrFinished
	}
	next, resultID, err := Step(w.state, a)
	if err != nil {
		return err
	}
	w.answers = append(w.answers, a)
	if resultID != "" {
		w.result = resultID
		return nil
	}
	w.state = next
	return nil
}

// Done reports whether a result has been reached.
func (w *Walker) Done() bool { return w.result != "" }

// Result returns the assessment outcome once Done.
func (w *Walker) Result() (Result, bool) {
	if !w.Done() {
		return Result{}, false
	}
	return Lookup(w.result), true
}

// Answers returns the responses given so far.
func (w *Walker) Answers() []Answer {
	return append([]Answer(nil), w.answers...)
}

// Summary renders the path taken, e.g. for a CAD comment.
func (w *Walker) Summary() string {
	res, ok := w.Result()
	if !ok {
		return fmt.Sprintf("FIDS in progress at %s", w.state)
	}
	return fmt.Sprintf("FIDS: %s (%s) tactic %s, %s, trojans %s", res.Title, res.ID, res.Tactic, res.DeploymentType, res.Trojans)
}
