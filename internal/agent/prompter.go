package agent

import (
	"context"
)

// Question is a confirmation request surfaced mid-run: a blocking signal or
// a low-confidence reflection needs the user's judgment before the loop
// proceeds.
type Question struct {
	StepID     string
	Content    string
	responseCh chan Answer
}

// Answer is the user's response to a question.
type Answer struct {
	Content string
	Error   error
}

// AnswerFunc is the callback that produces answers, typically backed by a
// terminal prompt or a UI dialog.
type AnswerFunc func(ctx context.Context, stepID string, question string) (string, error)

// Prompter manages non-blocking question-and-answer flow between the
// execution loop and whoever is watching it.
type Prompter struct {
	questionCh chan Question
	answerFn   AnswerFunc
	done       chan struct{}
}

// NewPrompter creates a prompter with the specified buffer size and answer
// function. bufferSize should typically be 2x the concurrency limit so
// concurrent steps asking at once don't block each other.
func NewPrompter(bufferSize int, answerFn AnswerFunc) *Prompter {
	return &Prompter{
		questionCh: make(chan Question, bufferSize),
		answerFn:   answerFn,
		done:       make(chan struct{}),
	}
}

// Start launches the question handler goroutine.
// It processes questions until the context is cancelled.
func (p *Prompter) Start(ctx context.Context) {
	go p.handleQuestions(ctx)
}

func (p *Prompter) handleQuestions(ctx context.Context) {
	defer close(p.done)

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-p.questionCh:
			content, err := p.answerFn(ctx, q.StepID, q.Content)

			// Check if context was cancelled during the answer.
			select {
			case <-ctx.Done():
				q.responseCh <- Answer{Error: ctx.Err()}
				return
			default:
				q.responseCh <- Answer{Content: content, Error: err}
			}
		}
	}
}

// Ask sends a question and waits for the answer. It respects context
// cancellation at both the send and receive stages.
func (p *Prompter) Ask(ctx context.Context, stepID, question string) (string, error) {
	// Buffered so the handler never blocks on a caller that gave up.
	responseCh := make(chan Answer, 1)

	q := Question{StepID: stepID, Content: question, responseCh: responseCh}

	select {
	case p.questionCh <- q:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case answer := <-responseCh:
		if answer.Error != nil {
			return "", answer.Error
		}
		return answer.Content, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop blocks until the handler goroutine has exited.
func (p *Prompter) Stop() {
	<-p.done
}
