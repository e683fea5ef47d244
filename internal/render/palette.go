package render

import "fmt"

// 256-color escape sequences.
const (
	Indigo400 = "\033[38;5;99m"
	Indigo300 = "\033[38;5;141m"
	Yellow300 = "\033[38;5;220m"
	Amber400  = "\033[38;5;130m"
	Bold      = "\033[1m"
	Reset     = "\033[0m"
)

// Theme names accepted by ThemePalette.
const (
	ThemeDefault = "default"
	ThemeLight   = "light"
	ThemeDark    = "dark"
	ThemeBold    = "bold"
	ThemePlain   = "plain"
)

// Palette holds the escape sequences written around each part of a line.
type Palette struct {
	Out       string
	Err       string
	Timestamp string
	Reset     string
}

// ThemePalette returns the palette of a named theme.
// The plain theme has no escape sequences at all, not even a reset.
func ThemePalette(theme string) (Palette, error) {
	switch theme {
	case ThemeDefault, "":
		return Palette{Err: Bold + Amber400, Timestamp: Indigo300, Reset: Reset}, nil
	case ThemeLight:
		return Palette{Err: Bold + Amber400, Timestamp: Indigo400, Reset: Reset}, nil
	case ThemeDark:
		return Palette{Err: Bold + Yellow300, Timestamp: Indigo300, Reset: Reset}, nil
	case ThemeBold:
		return Palette{Err: Bold, Reset: Reset}, nil
	case ThemePlain:
		return Palette{}, nil
	default:
		return Palette{}, fmt.Errorf("unknown theme %q", theme)
	}
}
