package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applyflow/applyflow/pkg/models"
)

func startedManager(t *testing.T) (*Manager, *fakeLauncher, *fakePage) {
	t.Helper()
	m, launcher, _, _ := newTestManager(t)
	_, err := m.Start(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, launcher.pages, 1)
	return m, launcher, launcher.pages[0]
}

func TestFetchJobsScrapesCards(t *testing.T) {
	m, _, page := startedManager(t)
	page.evalResult = `[
		{"id":"1","title":"Go Engineer","company":"Acme","url":"https://jobs/1","easyApply":true},
		{"id":"2","title":"Backend Engineer","company":"Initech","url":"https://jobs/2","easyApply":false}
	]`

	jobs, err := m.FetchJobs(context.Background(), "u1", models.FetchJobsRequest{Keywords: "golang"})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "Go Engineer", jobs[0].Title)
	assert.True(t, jobs[0].EasyApply)

	assert.Equal(t, models.CheckpointDone, m.checkpoints.Get("u1").State)
}

func TestFetchJobsHonorsLimit(t *testing.T) {
	m, _, page := startedManager(t)
	page.evalResult = `[{"id":"1","url":"u"},{"id":"2","url":"u"},{"id":"3","url":"u"}]`

	jobs, err := m.FetchJobs(context.Background(), "u1", models.FetchJobsRequest{Keywords: "go", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestFetchJobsWithoutSession(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.FetchJobs(context.Background(), "ghost", models.FetchJobsRequest{Keywords: "go"})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestFetchJobsSuspendsAtWall(t *testing.T) {
	m, _, page := startedManager(t)
	page.redirects[jobSearchURL+"?keywords=go"] = "https://www.linkedin.com/checkpoint/challenge/wall"

	_, err := m.FetchJobs(context.Background(), "u1", models.FetchJobsRequest{Keywords: "go"})
	assert.ErrorIs(t, err, ErrCheckpointRequired)

	state := m.checkpoints.Get("u1")
	assert.Equal(t, models.CheckpointRequired, state.State)
	assert.Equal(t, "fetch_jobs", state.Step)

	sess, _ := m.Session("u1")
	assert.NotNil(t, sess.TakeResume())
}

func TestApplyWithQuestionsPausesForAnswers(t *testing.T) {
	m, _, page := startedManager(t)
	page.evalResult = `["Years of Go experience?","Visa sponsorship needed?"]`

	status, err := m.Apply(context.Background(), "u1", "12345")
	require.NoError(t, err)

	assert.Equal(t, 2, status.TotalQuestions)
	assert.Equal(t, 0, status.CurrentQuestionIndex)
	assert.Equal(t, "Years of Go experience?", status.CurrentQuestion)
	assert.Contains(t, page.clicked, easyApplySelector)

	// Answer both questions; the second answer submits.
	page.evalResult = `["Visa sponsorship needed?"]`
	status, err = m.Answer(context.Background(), "u1", "7 years")
	require.NoError(t, err)
	assert.Equal(t, 1, status.CurrentQuestionIndex)
	assert.Contains(t, page.typed, "7 years")

	status, err = m.Answer(context.Background(), "u1", "No")
	require.NoError(t, err)
	assert.Equal(t, 100, status.ApplicationProgress)
	assert.Contains(t, page.clicked, submitSelector)
	assert.Equal(t, models.CheckpointDone, m.checkpoints.Get("u1").State)
}

func TestApplyWithNoQuestionsSubmitsImmediately(t *testing.T) {
	m, _, page := startedManager(t)
	page.evalResult = `[]`

	status, err := m.Apply(context.Background(), "u1", "12345")
	require.NoError(t, err)
	assert.Equal(t, 100, status.ApplicationProgress)
	assert.Contains(t, page.clicked, submitSelector)
}

func TestAnswerWithoutApplication(t *testing.T) {
	m, _, _ := startedManager(t)

	_, err := m.Answer(context.Background(), "u1", "anything")
	assert.ErrorIs(t, err, ErrNoApplication)
}

func TestResumeInvokedExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	r := NewResume(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Invoke()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)

	var nilResume *Resume
	nilResume.Invoke() // nil-safe
}
