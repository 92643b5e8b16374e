package common

import (
	"fmt"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the application startup banner
func PrintBanner(command, sourceURL, logFile string) {
	version := GetVersion()
	build := GetBuild()

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorPurple).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")

	b.PrintTopLine()
	b.PrintCenteredText("YTVAULT")
	b.PrintCenteredText("YouTrack Selective Backup & Restore")
	b.PrintSeparatorLine()

	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Command", command, 15)
	b.PrintKeyValue("Instance", sourceURL, 15)
	b.PrintBottomLine()

	fmt.Printf("\n")

	if logFile != "" {
		pattern := strings.Replace(logFile, ".log", ".{YYYY-MM-DDTHH-MM-SS}.log", 1)
		fmt.Printf("   • Log File: %s\n\n", pattern)
	}
}

// PrintShutdownBanner displays the application shutdown banner
func PrintShutdownBanner(serviceName string) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorPurple).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(42)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText(serviceName)
	b.PrintBottomLine()
	fmt.Println()
}

// PrintSuccess prints a success message in green
func PrintSuccess(message string) {
	fmt.Printf("%s✓ %s%s\n", banner.ColorGreen, message, banner.ColorReset)
}

// PrintError prints an error message in red
func PrintError(message string) {
	fmt.Printf("%s✗ %s%s\n", banner.ColorRed, message, banner.ColorReset)
}

// PrintWarning prints a warning message in yellow
func PrintWarning(message string) {
	fmt.Printf("%s⚠ %s%s\n", banner.ColorYellow, message, banner.ColorReset)
}
