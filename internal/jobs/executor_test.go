package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
	"github.com/ternarybob/ghostrun/internal/services/browser/browsertest"
)

func newTestSession(t *testing.T, driver *browsertest.Driver) *browsertest.Session {
	t.Helper()
	session, err := driver.Launch(context.Background(), models.BrowserChromium, interfaces.SessionOptions{})
	require.NoError(t, err)
	return session.(*browsertest.Session)
}

func TestExecutor_Goto(t *testing.T) {
	storage := newTestStorage(t)
	executor := NewExecutor(storage.ArtifactStorage(), arbor.NewLogger())
	session := newTestSession(t, browsertest.NewDriver())

	outcome, err := executor.Execute(context.Background(), session, "job-1", models.GotoAction{URL: "https://example.com"})
	require.NoError(t, err)
	require.NotNil(t, outcome.Timing)
	assert.Equal(t, 40*time.Millisecond, outcome.Timing.DOMContentLoaded)
	assert.Equal(t, 90*time.Millisecond, outcome.Timing.Load)

	url, err := session.URL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", url)
}

func TestExecutor_GotoPassesActionTimeout(t *testing.T) {
	storage := newTestStorage(t)
	executor := NewExecutor(storage.ArtifactStorage(), arbor.NewLogger())
	session := newTestSession(t, browsertest.NewDriver())

	_, err := executor.Execute(context.Background(), session, "job-1", models.GotoAction{URL: "https://example.com", Timeout: 15 * time.Second})
	require.NoError(t, err)
	_, err = executor.Execute(context.Background(), session, "job-1", models.GotoAction{URL: "https://example.org"})
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{15 * time.Second, 0}, session.NavigateTimeouts())
}

func TestExecutor_ScreenshotStoresArtifact(t *testing.T) {
	storage := newTestStorage(t)
	executor := NewExecutor(storage.ArtifactStorage(), arbor.NewLogger())
	executor.newID = func() string { return "shot-1" }
	session := newTestSession(t, browsertest.NewDriver())

	outcome, err := executor.Execute(context.Background(), session, "job-1", models.ScreenshotAction{})
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/jobs/job-1/screenshots/shot-1", outcome.Screenshot)
	assert.True(t, session.HasCall("screenshot full"))

	key, ok := models.ScreenshotKeyFromPath(outcome.Screenshot)
	require.True(t, ok)
	data, err := storage.ArtifactStorage().GetArtifact(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, browsertest.PNG, data)
}

func TestExecutor_ClickVariants(t *testing.T) {
	storage := newTestStorage(t)
	executor := NewExecutor(storage.ArtifactStorage(), arbor.NewLogger())
	driver := browsertest.NewDriver()
	driver.Elements[models.SelectorLocator{Selector: "#submit"}] = browsertest.Element{Text: "Submit"}
	session := newTestSession(t, driver)
	ctx := context.Background()

	_, err := executor.Execute(ctx, session, "job-1", models.ClickAction{Target: models.SelectorLocator{Selector: "#submit"}})
	require.NoError(t, err)

	_, err = executor.Execute(ctx, session, "job-1", models.ClickAction{Point: &models.Point{X: 10, Y: 20}})
	require.NoError(t, err)

	// Neither target nor point does nothing
	_, err = executor.Execute(ctx, session, "job-1", models.ClickAction{})
	require.NoError(t, err)

	assert.Equal(t, []string{"click #submit", "click-at 10,20"}, session.Calls())

	_, err = executor.Execute(ctx, session, "job-1", models.ClickAction{Target: models.SelectorLocator{Selector: "#missing"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "click #missing")
}

func TestExecutor_FillAndScroll(t *testing.T) {
	storage := newTestStorage(t)
	executor := NewExecutor(storage.ArtifactStorage(), arbor.NewLogger())
	driver := browsertest.NewDriver()
	email := models.LabelLocator{Label: "Email"}
	driver.Elements[email] = browsertest.Element{}
	session := newTestSession(t, driver)
	ctx := context.Background()

	_, err := executor.Execute(ctx, session, "job-1", models.FillAction{Target: email, Value: "user@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", session.Filled()[email.Describe()])

	_, err = executor.Execute(ctx, session, "job-1", models.FillAction{Value: "ignored"})
	require.NoError(t, err)

	_, err = executor.Execute(ctx, session, "job-1", models.ScrollAction{Target: email})
	require.NoError(t, err)
	_, err = executor.Execute(ctx, session, "job-1", models.ScrollAction{Point: &models.Point{X: 0, Y: 500}})
	require.NoError(t, err)
	_, err = executor.Execute(ctx, session, "job-1", models.ScrollAction{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		`fill label="Email"`,
		`scroll-into-view label="Email"`,
		"scroll-by 0,500",
	}, session.Calls())
}

func TestExecutor_Expect(t *testing.T) {
	storage := newTestStorage(t)
	executor := NewExecutor(storage.ArtifactStorage(), arbor.NewLogger())
	driver := browsertest.NewDriver()
	heading := models.SelectorLocator{Selector: "h1"}
	hidden := models.SelectorLocator{Selector: ".toast"}
	driver.Elements[heading] = browsertest.Element{Text: "Example Domain"}
	driver.Elements[hidden] = browsertest.Element{Text: "Saved", Hidden: true}
	session := newTestSession(t, driver)
	ctx := context.Background()

	tests := []struct {
		name    string
		action  models.ExpectAction
		wantErr string
	}{
		{name: "contains text", action: models.ExpectAction{Target: heading, ToContainText: "Example"}},
		{name: "text mismatch", action: models.ExpectAction{Target: heading, ToContainText: "Welcome"}, wantErr: `expected text "Welcome"`},
		{name: "visible", action: models.ExpectAction{Target: heading, ToBeVisible: true}},
		{name: "hidden", action: models.ExpectAction{Target: hidden, ToBeVisible: true}, wantErr: "not visible"},
		{name: "exists", action: models.ExpectAction{Target: hidden}},
		{name: "missing element", action: models.ExpectAction{Target: models.SelectorLocator{Selector: "#nope"}}, wantErr: "element not found"},
		{name: "no locator", action: models.ExpectAction{ToContainText: "x"}, wantErr: "requires a locator"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executor.Execute(ctx, session, "job-1", tt.action)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestExecutor_WaitHonoursContext(t *testing.T) {
	storage := newTestStorage(t)
	executor := NewExecutor(storage.ArtifactStorage(), arbor.NewLogger())
	session := newTestSession(t, browsertest.NewDriver())

	start := time.Now()
	_, err := executor.Execute(context.Background(), session, "job-1", models.WaitAction{Duration: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = executor.Execute(ctx, session, "job-1", models.WaitAction{Duration: time.Hour})
	assert.ErrorIs(t, err, context.Canceled)
}
