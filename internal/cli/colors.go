package cli

import (
	"fmt"
	"os"
	"strings"
)

const (
	ResetCode = "\033[0m"
	BoldCode  = "\033[1m"
	DimCode   = "\033[2m"

	Black  = "\033[30m"
	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
)

// disableColor is a cached check for the environment variable
var disableColor = checkNoColor()

func checkNoColor() bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return true
	}
	v := os.Getenv("LOG_COLOR")
	return v == "false" || v == "0"
}

// Enabled reports whether ANSI colours should be emitted.
func Enabled() bool {
	return !disableColor
}

// Stylize wraps text in a colour code.
func Stylize(text string, colorCode string) string {
	if disableColor {
		return text
	}
	return fmt.Sprintf("%s%s%s", colorCode, text, ResetCode)
}

func CheckMark() string {
	return Stylize("✔", Green)
}

func CrossMark() string {
	return Stylize("✘", Red)
}

func WarningSign() string {
	return Stylize("⚠", Yellow)
}

// ServiceLine renders one line of the startup service table.
func ServiceLine(ok bool, id, kind, detail string) string {
	mark := CheckMark()
	if !ok {
		mark = CrossMark()
	}
	return fmt.Sprintf("%s %s %s %s",
		mark,
		Stylize(padRight(id, 16), BoldCode),
		Stylize(padRight(kind, 10), Cyan),
		Stylize(detail, DimCode),
	)
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
