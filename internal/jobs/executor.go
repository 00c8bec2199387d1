package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghostrun/internal/common"
	"github.com/ternarybob/ghostrun/internal/interfaces"
	"github.com/ternarybob/ghostrun/internal/models"
)

// StepOutcome is what a successful action leaves behind
type StepOutcome struct {
	Screenshot string                       // Retrieval path of a stored screenshot
	Timing     *interfaces.NavigationTiming // Set by goto
}

// Executor performs a single typed action against a browser session
type Executor struct {
	artifacts interfaces.ArtifactStorage
	logger    arbor.ILogger
	newID     func() string
}

// NewExecutor creates an executor that stores screenshots in artifacts
func NewExecutor(artifacts interfaces.ArtifactStorage, logger arbor.ILogger) *Executor {
	return &Executor{
		artifacts: artifacts,
		logger:    logger,
		newID:     common.NewArtifactID,
	}
}

// Execute runs action on session. Errors are returned with the action description attached.
func (e *Executor) Execute(ctx context.Context, session interfaces.BrowserSession, jobID string, action models.Action) (StepOutcome, error) {
	outcome, err := e.execute(ctx, session, jobID, action)
	if err != nil {
		return StepOutcome{}, fmt.Errorf("%s: %w", action.Describe(), err)
	}
	return outcome, nil
}

func (e *Executor) execute(ctx context.Context, session interfaces.BrowserSession, jobID string, action models.Action) (StepOutcome, error) {
	switch a := action.(type) {
	case models.GotoAction:
		timing, err := session.Navigate(ctx, a.URL, a.Timeout)
		if err != nil {
			return StepOutcome{}, err
		}
		return StepOutcome{Timing: &timing}, nil

	case models.ClickAction:
		switch {
		case a.Target != nil:
			return StepOutcome{}, session.Click(ctx, a.Target, a.Timeout)
		case a.Point != nil:
			return StepOutcome{}, session.ClickAt(ctx, a.Point.X, a.Point.Y)
		}
		return StepOutcome{}, nil

	case models.FillAction:
		if a.Target == nil {
			return StepOutcome{}, nil
		}
		return StepOutcome{}, session.Fill(ctx, a.Target, a.Value, a.Timeout)

	case models.ScrollAction:
		switch {
		case a.Target != nil:
			return StepOutcome{}, session.ScrollIntoView(ctx, a.Target, a.Timeout)
		case a.Point != nil:
			return StepOutcome{}, session.ScrollBy(ctx, a.Point.X, a.Point.Y)
		}
		return StepOutcome{}, nil

	case models.WaitAction:
		timer := time.NewTimer(a.Duration)
		defer timer.Stop()
		select {
		case <-timer.C:
			return StepOutcome{}, nil
		case <-ctx.Done():
			return StepOutcome{}, ctx.Err()
		}

	case models.ExpectAction:
		return StepOutcome{}, e.expect(ctx, session, a)

	case models.ScreenshotAction:
		path, err := e.screenshot(ctx, session, jobID, true)
		if err != nil {
			return StepOutcome{}, err
		}
		return StepOutcome{Screenshot: path}, nil
	}

	return StepOutcome{}, fmt.Errorf("unsupported action %T", action)
}

func (e *Executor) expect(ctx context.Context, session interfaces.BrowserSession, a models.ExpectAction) error {
	if a.Target == nil {
		return errors.New("expect requires a locator")
	}

	if a.ToBeVisible {
		if err := session.WaitVisible(ctx, a.Target, a.Timeout); err != nil {
			return err
		}
	}

	if a.ToContainText != "" || !a.ToBeVisible {
		text, err := session.Text(ctx, a.Target, a.Timeout)
		if err != nil {
			return err
		}
		if a.ToContainText != "" && !strings.Contains(text, a.ToContainText) {
			return fmt.Errorf("expected text %q, got %q", a.ToContainText, text)
		}
	}
	return nil
}

// screenshot stores a PNG of the page and returns its retrieval path
func (e *Executor) screenshot(ctx context.Context, session interfaces.BrowserSession, jobID string, fullPage bool) (string, error) {
	png, err := session.Screenshot(ctx, fullPage)
	if err != nil {
		return "", err
	}

	shotID := e.newID()
	if err := e.artifacts.PutArtifact(ctx, models.ScreenshotKey(jobID, shotID), png); err != nil {
		return "", fmt.Errorf("store screenshot: %w", err)
	}

	e.logger.Debug().
		Str("job_id", jobID).
		Str("screenshot_id", shotID).
		Int("bytes", len(png)).
		Msg("Screenshot stored")

	return models.ScreenshotPath(jobID, shotID), nil
}
