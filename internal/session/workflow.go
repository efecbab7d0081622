package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/applyflow/applyflow/pkg/models"
)

var (
	// ErrCheckpointRequired is returned when a workflow suspended behind a
	// human verification wall. The continuation is parked on the session.
	ErrCheckpointRequired = errors.New("checkpoint required")

	// ErrNoSession is returned when an operation needs a live session page.
	ErrNoSession = errors.New("no active session")

	// ErrNoApplication is returned when an answer arrives with no
	// application in progress.
	ErrNoApplication = errors.New("no application in progress")
)

const (
	feedURL      = "https://www.linkedin.com/feed/"
	jobSearchURL = "https://www.linkedin.com/jobs/search/"
	jobViewURL   = "https://www.linkedin.com/jobs/view/%s/"

	easyApplySelector = "button.jobs-apply-button"
	answerSelector    = ".jobs-easy-apply-content input, .jobs-easy-apply-content textarea"
	nextSelector      = "button[aria-label='Continue to next step']"
	submitSelector    = "button[aria-label='Submit application']"
)

// jobCardsJS scrapes the visible job cards on a search results page.
const jobCardsJS = `() => {
	const cards = document.querySelectorAll('[data-job-id]');
	return Array.from(cards).map(card => ({
		id: card.getAttribute('data-job-id') || '',
		title: (card.querySelector('.job-card-list__title')?.innerText || '').trim(),
		company: (card.querySelector('.artdeco-entity-lockup__subtitle')?.innerText || '').trim(),
		location: (card.querySelector('.job-card-container__metadata-item')?.innerText || '').trim(),
		url: card.querySelector('a')?.href || '',
		easyApply: !!card.querySelector('.job-card-container__apply-method'),
	}));
}`

// questionsJS inspects the Easy Apply modal for its question fields.
const questionsJS = `() => {
	const fields = document.querySelectorAll('.jobs-easy-apply-content .fb-dash-form-element');
	return Array.from(fields).map(f =>
		(f.querySelector('label')?.innerText || '').trim());
}`

// login navigates to the feed using the user's persisted cookies and works
// out whether the automation is signed in, blocked by a login wall, or
// blocked by a verification challenge. Caller holds the user lock.
func (m *Manager) login(ctx context.Context, sess *Session) error {
	page := sess.Page()
	if page == nil {
		return ErrNoSession
	}

	if err := page.Navigate(ctx, feedURL); err != nil {
		return fmt.Errorf("navigate to feed: %w", err)
	}

	current, err := page.URL(ctx)
	if err != nil {
		return fmt.Errorf("read url: %w", err)
	}

	if IsVerificationURL(current) {
		userID := sess.UserID
		m.suspend(sess, "login", "Verification required to sign in", current, func() {
			go m.confirmLogin(userID)
		})
		return ErrCheckpointRequired
	}

	sess.mu.Lock()
	sess.IsLoggedIn = true
	sess.mu.Unlock()
	sess.Touch()
	m.broadcast(sess.UserID, "logged_in", "", "login")
	return nil
}

// confirmLogin re-checks login state after a checkpoint cleared.
func (m *Manager) confirmLogin(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	unlock, err := m.lockUser(ctx, userID)
	if err != nil {
		return
	}
	defer unlock()

	sess, ok := m.Session(userID)
	if !ok || sess.Page() == nil {
		return
	}
	if err := m.login(ctx, sess); err != nil && !errors.Is(err, ErrCheckpointRequired) {
		log.Printf("confirm login for user %s: %v", userID, err)
	}
}

// FetchJobs scrapes job postings for the user's search. Concurrent calls for
// one user are deduplicated: they share a single scrape and its result.
func (m *Manager) FetchJobs(ctx context.Context, userID string, req models.FetchJobsRequest) ([]models.Job, error) {
	v, err, _ := m.fetches.Do(userID, func() (interface{}, error) {
		unlock, lockErr := m.lockUser(ctx, userID)
		if lockErr != nil {
			return nil, lockErr
		}
		defer unlock()
		return m.fetchJobs(ctx, userID, req)
	})
	if err != nil {
		return nil, err
	}
	jobs, _ := v.([]models.Job)
	return jobs, nil
}

func (m *Manager) fetchJobs(ctx context.Context, userID string, req models.FetchJobsRequest) ([]models.Job, error) {
	sess, ok := m.Session(userID)
	if !ok || sess.Page() == nil {
		return nil, ErrNoSession
	}
	page := sess.Page()

	m.checkpoints.Set(userID, models.CheckpointState{
		State:     models.CheckpointRunning,
		Step:      "fetch_jobs",
		SessionID: sess.ID,
	})
	m.broadcast(userID, "job_fetch_started", "", "fetch_jobs")

	query := url.Values{}
	query.Set("keywords", req.Keywords)
	if req.Location != "" {
		query.Set("location", req.Location)
	}
	if err := page.Navigate(ctx, jobSearchURL+"?"+query.Encode()); err != nil {
		m.fail(userID, sess, "fetch_jobs", err)
		return nil, fmt.Errorf("navigate to search: %w", err)
	}

	current, err := page.URL(ctx)
	if err != nil {
		m.fail(userID, sess, "fetch_jobs", err)
		return nil, fmt.Errorf("read url: %w", err)
	}
	if IsVerificationURL(current) {
		m.suspend(sess, "fetch_jobs", "Verification required before job search", current, func() {
			go func() {
				bg, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				if _, err := m.FetchJobs(bg, userID, req); err != nil && !errors.Is(err, ErrCheckpointRequired) {
					log.Printf("resumed job fetch for user %s: %v", userID, err)
				}
			}()
		})
		return nil, ErrCheckpointRequired
	}

	raw, err := page.Eval(ctx, jobCardsJS)
	if err != nil {
		m.fail(userID, sess, "fetch_jobs", err)
		return nil, fmt.Errorf("scrape job cards: %w", err)
	}

	var jobs []models.Job
	if err := json.Unmarshal([]byte(raw), &jobs); err != nil {
		m.fail(userID, sess, "fetch_jobs", err)
		return nil, fmt.Errorf("decode job cards: %w", err)
	}
	if req.Limit > 0 && len(jobs) > req.Limit {
		jobs = jobs[:req.Limit]
	}

	sess.Touch()
	m.checkpoints.Set(userID, models.CheckpointState{
		State:     models.CheckpointDone,
		Step:      "fetch_jobs",
		SessionID: sess.ID,
	})
	m.broadcast(userID, "job_fetch_complete", fmt.Sprintf("%d jobs found", len(jobs)), "fetch_jobs")
	return jobs, nil
}

// Apply opens a job posting and starts its Easy Apply flow. If the modal has
// questions, the application pauses for answers via AnswerQuestion; with no
// questions it submits immediately.
func (m *Manager) Apply(ctx context.Context, userID, jobID string) (models.SessionStatus, error) {
	unlock, err := m.lockUser(ctx, userID)
	if err != nil {
		return models.SessionStatus{}, err
	}
	defer unlock()
	return m.apply(ctx, userID, jobID)
}

func (m *Manager) apply(ctx context.Context, userID, jobID string) (models.SessionStatus, error) {
	sess, ok := m.Session(userID)
	if !ok || sess.Page() == nil {
		return models.SessionStatus{}, ErrNoSession
	}
	page := sess.Page()

	m.checkpoints.Set(userID, models.CheckpointState{
		State:     models.CheckpointRunning,
		Step:      "apply",
		SessionID: sess.ID,
	})
	m.broadcast(userID, "application_started", "", "apply")

	if err := page.Navigate(ctx, fmt.Sprintf(jobViewURL, jobID)); err != nil {
		m.fail(userID, sess, "apply", err)
		return models.SessionStatus{}, fmt.Errorf("navigate to job: %w", err)
	}

	current, err := page.URL(ctx)
	if err != nil {
		m.fail(userID, sess, "apply", err)
		return models.SessionStatus{}, fmt.Errorf("read url: %w", err)
	}
	if IsVerificationURL(current) {
		m.suspend(sess, "apply", "Verification required before applying", current, func() {
			go func() {
				bg, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				if _, err := m.Apply(bg, userID, jobID); err != nil && !errors.Is(err, ErrCheckpointRequired) {
					log.Printf("resumed application for user %s: %v", userID, err)
				}
			}()
		})
		return models.SessionStatus{}, ErrCheckpointRequired
	}

	if err := page.Click(ctx, easyApplySelector, m.cfg.ClickTimeout); err != nil {
		m.fail(userID, sess, "apply", err)
		return models.SessionStatus{}, fmt.Errorf("easy apply button: %w", err)
	}

	raw, err := page.Eval(ctx, questionsJS)
	if err != nil {
		m.fail(userID, sess, "apply", err)
		return models.SessionStatus{}, fmt.Errorf("inspect questions: %w", err)
	}
	var questions []string
	if err := json.Unmarshal([]byte(raw), &questions); err != nil {
		m.fail(userID, sess, "apply", err)
		return models.SessionStatus{}, fmt.Errorf("decode questions: %w", err)
	}

	sess.mu.Lock()
	sess.CurrentJobID = jobID
	sess.TotalQuestions = len(questions)
	sess.CurrentQuestionIndex = 0
	sess.ApplicationProgress = 0
	sess.mu.Unlock()
	sess.Touch()

	if len(questions) == 0 {
		return m.submitApplication(ctx, userID, sess)
	}

	sess.mu.Lock()
	sess.CurrentQuestion = questions[0]
	sess.ApplicationProgress = 10
	sess.mu.Unlock()
	return sess.Snapshot(), nil
}

// Answer fills in the current application question and advances the flow,
// submitting once the last question is answered.
func (m *Manager) Answer(ctx context.Context, userID, answer string) (models.SessionStatus, error) {
	unlock, err := m.lockUser(ctx, userID)
	if err != nil {
		return models.SessionStatus{}, err
	}
	defer unlock()

	sess, ok := m.Session(userID)
	if !ok || sess.Page() == nil {
		return models.SessionStatus{}, ErrNoSession
	}
	if sess.TotalQuestions == 0 {
		return models.SessionStatus{}, ErrNoApplication
	}
	page := sess.Page()

	if err := page.Type(ctx, answerSelector, answer, m.cfg.TypeDelay); err != nil {
		return models.SessionStatus{}, fmt.Errorf("fill answer: %w", err)
	}

	sess.mu.Lock()
	sess.CurrentQuestionIndex++
	sess.ApplicationProgress = 10 + (80*sess.CurrentQuestionIndex)/sess.TotalQuestions
	sess.mu.Unlock()
	sess.Touch()

	if sess.CurrentQuestionIndex >= sess.TotalQuestions {
		return m.submitApplication(ctx, userID, sess)
	}

	if err := page.Click(ctx, nextSelector, m.cfg.ClickTimeout); err != nil {
		return models.SessionStatus{}, fmt.Errorf("next step: %w", err)
	}

	raw, err := page.Eval(ctx, questionsJS)
	if err == nil {
		var questions []string
		if json.Unmarshal([]byte(raw), &questions) == nil && len(questions) > 0 {
			sess.mu.Lock()
			sess.CurrentQuestion = questions[0]
			sess.mu.Unlock()
		}
	}

	m.broadcast(userID, "question_answered", sess.CurrentQuestion, "apply")
	return sess.Snapshot(), nil
}

func (m *Manager) submitApplication(ctx context.Context, userID string, sess *Session) (models.SessionStatus, error) {
	page := sess.Page()
	if err := page.Click(ctx, submitSelector, m.cfg.ClickTimeout); err != nil {
		m.fail(userID, sess, "apply", err)
		return models.SessionStatus{}, fmt.Errorf("submit application: %w", err)
	}

	sess.mu.Lock()
	sess.ApplicationProgress = 100
	sess.CurrentQuestion = ""
	sess.TotalQuestions = 0
	sess.CurrentQuestionIndex = 0
	sess.CurrentJobID = ""
	sess.mu.Unlock()
	sess.Touch()

	m.checkpoints.Set(userID, models.CheckpointState{
		State:     models.CheckpointDone,
		Step:      "apply",
		SessionID: sess.ID,
	})
	m.broadcast(userID, "application_submitted", "", "apply")
	return sess.Snapshot(), nil
}

// suspend records the checkpoint, parks the continuation on the session, and
// tells connected clients a human is needed. The calling workflow returns to
// its HTTP handler instead of blocking on the human.
func (m *Manager) suspend(sess *Session, step, message, checkpointURL string, resumeFn func()) {
	m.checkpoints.Set(sess.UserID, models.CheckpointState{
		State:         models.CheckpointRequired,
		Step:          step,
		Message:       message,
		CheckpointURL: checkpointURL,
		SessionID:     sess.ID,
	})
	sess.SetResume(NewResume(resumeFn))
	sess.SetCheckpointData(map[string]interface{}{
		"step":          step,
		"checkpointUrl": checkpointURL,
	})
	m.broadcast(sess.UserID, "checkpoint_required", message, step)
}

func (m *Manager) fail(userID string, sess *Session, step string, cause error) {
	m.checkpoints.Set(userID, models.CheckpointState{
		State:     models.CheckpointFailed,
		Step:      step,
		Message:   cause.Error(),
		SessionID: sess.ID,
	})
	m.broadcast(userID, "workflow_failed", cause.Error(), step)
}
