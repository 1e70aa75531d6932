package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title     *color.Color
	Label     *color.Color
	Value     *color.Color
	Strategy  *color.Color
	Success   *color.Color
	Warning   *color.Color
	Error     *color.Color
	Dim       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.FgCyan, color.Bold),
		Label:     color.New(color.Bold),
		Value:     color.New(color.FgCyan),
		Strategy:  color.New(color.FgMagenta, color.Bold),
		Success:   color.New(color.FgGreen),
		Warning:   color.New(color.FgYellow),
		Error:     color.New(color.FgRed),
		Dim:       color.New(color.Faint),
		Highlight: color.New(color.FgBlue, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()

	for _, c := range []*color.Color{
		scheme.Title, scheme.Label, scheme.Value, scheme.Strategy,
		scheme.Success, scheme.Warning, scheme.Error, scheme.Dim, scheme.Highlight,
	} {
		c.DisableColor()
	}

	return scheme
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}

// WarningIcon returns a warning symbol with appropriate color
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return color.New(color.FgYellow).Sprint("⚠")
}

// rateColor picks green, yellow or red for an error rate.
func (s *ColorScheme) rateColor(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return s.Error
	case errorRate > 0.01:
		return s.Warning
	default:
		return s.Success
	}
}
