package models

import (
	"fmt"
	"strings"
	"time"
)

// ActionType names one of the supported browser actions
type ActionType string

const (
	ActionGoto       ActionType = "goto"
	ActionClick      ActionType = "click"
	ActionFill       ActionType = "fill"
	ActionScroll     ActionType = "scroll"
	ActionWait       ActionType = "wait"
	ActionExpect     ActionType = "expect"
	ActionScreenshot ActionType = "screenshot"
)

// DefaultWait is used by a wait action without a timeout
const DefaultWait = 1000 * time.Millisecond

// ActionSpec is the flat wire form of an action as submitted by clients.
// For fill, Text is the value typed into the field. For every other type
// Text locates an element by its visible text.
type ActionSpec struct {
	Type          ActionType `json:"type" yaml:"type" validate:"required,oneof=goto click fill scroll wait expect screenshot"`
	Selector      string     `json:"selector,omitempty" yaml:"selector,omitempty"`
	Label         string     `json:"label,omitempty" yaml:"label,omitempty"`
	Text          string     `json:"text,omitempty" yaml:"text,omitempty"`
	Exact         bool       `json:"exact,omitempty" yaml:"exact,omitempty"`
	Name          string     `json:"name,omitempty" yaml:"name,omitempty"`
	AltText       string     `json:"altText,omitempty" yaml:"altText,omitempty"`
	URL           string     `json:"url,omitempty" yaml:"url,omitempty" validate:"omitempty,url"`
	X             *float64   `json:"x,omitempty" yaml:"x,omitempty"`
	Y             *float64   `json:"y,omitempty" yaml:"y,omitempty"`
	Timeout       *int       `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"omitempty,min=0,max=60000"` // Milliseconds
	ToContainText string     `json:"toContainText,omitempty" yaml:"toContainText,omitempty"`
	ToBeVisible   bool       `json:"toBeVisible,omitempty" yaml:"toBeVisible,omitempty"`
}

// LocatorFields returns the names of the locator fields set on the spec
func (s ActionSpec) LocatorFields() []string {
	var fields []string
	if s.Label != "" {
		fields = append(fields, "label")
	}
	if s.Text != "" && s.Type != ActionFill {
		fields = append(fields, "text")
	}
	if s.Name != "" {
		fields = append(fields, "name")
	}
	if s.Selector != "" {
		fields = append(fields, "selector")
	}
	if s.AltText != "" {
		fields = append(fields, "altText")
	}
	return fields
}

// Locator resolves the locator using the order label, text, name, selector, altText.
// Returns nil when no locator field is set.
func (s ActionSpec) Locator() Locator {
	switch {
	case s.Label != "":
		return LabelLocator{Label: s.Label}
	case s.Text != "" && s.Type != ActionFill:
		return TextLocator{Text: s.Text, Exact: s.Exact}
	case s.Name != "":
		return NameLocator{Name: s.Name}
	case s.Selector != "":
		return SelectorLocator{Selector: s.Selector}
	case s.AltText != "":
		return AltTextLocator{AltText: s.AltText}
	}
	return nil
}

func (s ActionSpec) point() *Point {
	if s.X == nil || s.Y == nil {
		return nil
	}
	return &Point{X: *s.X, Y: *s.Y}
}

func (s ActionSpec) timeout() time.Duration {
	if s.Timeout == nil {
		return 0
	}
	return time.Duration(*s.Timeout) * time.Millisecond
}

// ToAction converts the wire form into its typed variant
func (s ActionSpec) ToAction() (Action, error) {
	switch s.Type {
	case ActionGoto:
		if s.URL == "" {
			return nil, fmt.Errorf("goto action requires url")
		}
		return GotoAction{URL: s.URL, Timeout: s.timeout()}, nil
	case ActionClick:
		return ClickAction{Target: s.Locator(), Point: s.point(), Timeout: s.timeout()}, nil
	case ActionFill:
		return FillAction{Target: s.Locator(), Value: s.Text, Timeout: s.timeout()}, nil
	case ActionScroll:
		return ScrollAction{Target: s.Locator(), Point: s.point(), Timeout: s.timeout()}, nil
	case ActionWait:
		wait := s.timeout()
		if wait <= 0 {
			wait = DefaultWait
		}
		return WaitAction{Duration: wait}, nil
	case ActionExpect:
		return ExpectAction{
			Target:        s.Locator(),
			ToContainText: s.ToContainText,
			ToBeVisible:   s.ToBeVisible,
			Timeout:       s.timeout(),
		}, nil
	case ActionScreenshot:
		return ScreenshotAction{}, nil
	}
	return nil, fmt.Errorf("unknown action type %q", s.Type)
}

// Point is a page coordinate in CSS pixels
type Point struct {
	X float64
	Y float64
}

// Action is the closed set of typed action variants
type Action interface {
	Type() ActionType
	Describe() string
}

// GotoAction navigates the page
type GotoAction struct {
	URL     string
	Timeout time.Duration // Zero means the session default
}

// ClickAction clicks the first match of Target, or Point when Target is nil
type ClickAction struct {
	Target  Locator
	Point   *Point
	Timeout time.Duration // Zero means the session default
}

// FillAction types Value into the field matched by Target
type FillAction struct {
	Target  Locator
	Value   string
	Timeout time.Duration
}

// ScrollAction scrolls Target into view, or scrolls the window by Point
type ScrollAction struct {
	Target  Locator
	Point   *Point
	Timeout time.Duration
}

// WaitAction pauses the job
type WaitAction struct {
	Duration time.Duration
}

// ExpectAction asserts on the first match of Target
type ExpectAction struct {
	Target        Locator
	ToContainText string
	ToBeVisible   bool
	Timeout       time.Duration
}

// ScreenshotAction captures a full page PNG
type ScreenshotAction struct{}

func (GotoAction) Type() ActionType       { return ActionGoto }
func (ClickAction) Type() ActionType      { return ActionClick }
func (FillAction) Type() ActionType       { return ActionFill }
func (ScrollAction) Type() ActionType     { return ActionScroll }
func (WaitAction) Type() ActionType       { return ActionWait }
func (ExpectAction) Type() ActionType     { return ActionExpect }
func (ScreenshotAction) Type() ActionType { return ActionScreenshot }

func (a GotoAction) Describe() string { return "goto " + a.URL }

func (a ClickAction) Describe() string {
	return describeTargeted("click", a.Target, a.Point)
}

func (a FillAction) Describe() string {
	return fmt.Sprintf("%s with %q", describeTargeted("fill", a.Target, nil), a.Value)
}

func (a ScrollAction) Describe() string {
	return describeTargeted("scroll", a.Target, a.Point)
}

func (a WaitAction) Describe() string {
	return fmt.Sprintf("wait %dms", a.Duration.Milliseconds())
}

func (a ExpectAction) Describe() string {
	parts := []string{describeTargeted("expect", a.Target, nil)}
	if a.ToContainText != "" {
		parts = append(parts, fmt.Sprintf("to contain text %q", a.ToContainText))
	}
	if a.ToBeVisible {
		parts = append(parts, "to be visible")
	}
	return strings.Join(parts, " ")
}

func (ScreenshotAction) Describe() string { return "screenshot" }

func describeTargeted(verb string, target Locator, point *Point) string {
	switch {
	case target != nil:
		return verb + " " + target.Describe()
	case point != nil:
		return fmt.Sprintf("%s at (%g, %g)", verb, point.X, point.Y)
	}
	return verb
}

// Locator is the closed set of ways an action can address an element
type Locator interface {
	Describe() string
	locator()
}

// SelectorLocator matches a CSS selector
type SelectorLocator struct {
	Selector string
}

// LabelLocator matches a form control by its label text
type LabelLocator struct {
	Label string
}

// TextLocator matches an element by its visible text
type TextLocator struct {
	Text  string
	Exact bool
}

// NameLocator matches a form field by accessible name
type NameLocator struct {
	Name string
}

// AltTextLocator matches an element by its alt attribute
type AltTextLocator struct {
	AltText string
}

func (SelectorLocator) locator() {}
func (LabelLocator) locator()    {}
func (TextLocator) locator()     {}
func (NameLocator) locator()     {}
func (AltTextLocator) locator()  {}

func (l SelectorLocator) Describe() string { return l.Selector }
func (l LabelLocator) Describe() string    { return fmt.Sprintf("label=%q", l.Label) }
func (l NameLocator) Describe() string     { return fmt.Sprintf("name=%q", l.Name) }
func (l AltTextLocator) Describe() string  { return fmt.Sprintf("alt=%q", l.AltText) }

func (l TextLocator) Describe() string {
	if l.Exact {
		return fmt.Sprintf("text=%q (exact)", l.Text)
	}
	return fmt.Sprintf("text=%q", l.Text)
}
