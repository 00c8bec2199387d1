package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/ghostrun/internal/models"
)

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func validConfig() *models.JobConfig {
	return &models.JobConfig{
		DeviceType:  models.DeviceDesktop,
		BrowserType: models.BrowserChromium,
		Actions: []models.ActionSpec{
			{Type: models.ActionGoto, URL: "https://example.com"},
			{Type: models.ActionScreenshot},
		},
	}
}

func detailsOf(t *testing.T, err error) []FieldError {
	t.Helper()
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr), "expected *ValidationError, got %v", err)
	return validationErr.Details
}

func hasDetail(details []FieldError, field, tag string) bool {
	for _, d := range details {
		if d.Field == field && d.Tag == tag {
			return true
		}
	}
	return false
}

func TestValidate_AcceptsValidConfig(t *testing.T) {
	service := NewJobValidationService()

	config := validConfig()
	config.Options = &models.JobOptions{
		Timeout:       intPtr(5000),
		Viewport:      &models.Viewport{Width: 1280, Height: 720},
		GenerateTrace: true,
	}
	config.Actions = append(config.Actions,
		models.ActionSpec{Type: models.ActionFill, Label: "Email", Text: "me@example.com"},
		models.ActionSpec{Type: models.ActionClick, Selector: "#go", Timeout: intPtr(500)},
		models.ActionSpec{Type: models.ActionExpect, Text: "Welcome", ToContainText: "Welcome back"},
		models.ActionSpec{Type: models.ActionWait},
	)

	assert.NoError(t, service.Validate(config))
}

func TestValidate_MissingActions(t *testing.T) {
	service := NewJobValidationService()

	config := validConfig()
	config.Actions = nil

	details := detailsOf(t, service.Validate(config))
	assert.True(t, hasDetail(details, "actions", "required"), "details: %+v", details)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *models.JobConfig)
		field  string
		tag    string
	}{
		{"unknown device", func(c *models.JobConfig) { c.DeviceType = "watch" }, "deviceType", "oneof"},
		{"unknown browser", func(c *models.JobConfig) { c.BrowserType = "opera" }, "browserType", "oneof"},
		{"too many actions", func(c *models.JobConfig) {
			c.Actions = make([]models.ActionSpec, 51)
			for i := range c.Actions {
				c.Actions[i] = models.ActionSpec{Type: models.ActionWait}
			}
		}, "actions", "max"},
		{"unknown action", func(c *models.JobConfig) { c.Actions[1].Type = "hover" }, "actions[1].type", "oneof"},
		{"goto without url", func(c *models.JobConfig) { c.Actions[0].URL = "" }, "actions[0].url", "required_for_goto"},
		{"relative url", func(c *models.JobConfig) { c.Actions[0].URL = "example" }, "actions[0].url", "url"},
		{"fill without text", func(c *models.JobConfig) {
			c.Actions[1] = models.ActionSpec{Type: models.ActionFill, Selector: "#q"}
		}, "actions[1].text", "required_for_fill"},
		{"expect without locator", func(c *models.JobConfig) {
			c.Actions[1] = models.ActionSpec{Type: models.ActionExpect, ToContainText: "x"}
		}, "actions[1].selector", "locator_required"},
		{"two locators", func(c *models.JobConfig) {
			c.Actions[1] = models.ActionSpec{Type: models.ActionClick, Selector: "#a", Label: "A"}
		}, "actions[1].locator", "exclusive_locator"},
		{"click with x only", func(c *models.JobConfig) {
			c.Actions[1] = models.ActionSpec{Type: models.ActionClick, X: floatPtr(10)}
		}, "actions[1].y", "point_incomplete"},
		{"scroll with y only", func(c *models.JobConfig) {
			c.Actions[1] = models.ActionSpec{Type: models.ActionScroll, Y: floatPtr(400)}
		}, "actions[1].x", "point_incomplete"},
		{"action timeout too large", func(c *models.JobConfig) { c.Actions[1].Timeout = intPtr(60001) }, "actions[1].timeout", "max"},
		{"job timeout too small", func(c *models.JobConfig) {
			c.Options = &models.JobOptions{Timeout: intPtr(999)}
		}, "options.timeout", "min"},
		{"viewport too narrow", func(c *models.JobConfig) {
			c.Options = &models.JobOptions{Viewport: &models.Viewport{Width: 100, Height: 600}}
		}, "options.viewport.width", "min"},
		{"viewport too tall", func(c *models.JobConfig) {
			c.Options = &models.JobOptions{Viewport: &models.Viewport{Width: 800, Height: 2000}}
		}, "options.viewport.height", "max"},
	}

	service := NewJobValidationService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			details := detailsOf(t, service.Validate(config))
			assert.True(t, hasDetail(details, tt.field, tt.tag), "details: %+v", details)
			for _, d := range details {
				assert.NotEmpty(t, d.Message)
			}
		})
	}
}

func TestValidate_FillTextDoesNotCountAsLocator(t *testing.T) {
	service := NewJobValidationService()

	config := validConfig()
	config.Actions[1] = models.ActionSpec{Type: models.ActionFill, Name: "q", Text: "search terms"}

	assert.NoError(t, service.Validate(config))
}

func TestValidate_NilAndDecodeErrors(t *testing.T) {
	service := NewJobValidationService()

	details := detailsOf(t, service.Validate(nil))
	assert.Equal(t, "body", details[0].Field)

	decodeErr := NewDecodeError(errors.New("unexpected EOF"))
	assert.Contains(t, decodeErr.Error(), "unexpected EOF")
}
