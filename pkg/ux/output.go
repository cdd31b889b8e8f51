// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux provides rich terminal output styling for the Pryzm CLI.
package ux

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Pryzm color palette - refracted violet light and spectrum accents
var (
	// Primary palette (brightest to darkest)
	ColorPrismBright  = lipgloss.Color("#C792EA") // Bright violet - highlights, success
	ColorPrismPrimary = lipgloss.Color("#A177F2") // Primary violet - main brand color
	ColorPrismVibrant = lipgloss.Color("#8B5CF6") // Vibrant violet - interactive elements
	ColorPrismMedium  = lipgloss.Color("#7C4DDB") // Medium violet - secondary elements
	ColorPrismDeep    = lipgloss.Color("#6639B8") // Deep violet - borders, accents
	ColorPrismDusk    = lipgloss.Color("#553098") // Dusk violet - subtle accents

	// Dark palette (for backgrounds, muted elements)
	ColorNightshade = lipgloss.Color("#3B2B63") // Nightshade - deep backgrounds
	ColorEclipse    = lipgloss.Color("#2E2150") // Eclipse - darker backgrounds
	ColorMidnight   = lipgloss.Color("#201740") // Midnight - deep backgrounds
	ColorGraphite   = lipgloss.Color("#4E4663") // Graphite - muted text, borders
	ColorDarkest    = lipgloss.Color("#14101F") // Darkest - near black

	// Semantic colors (keeping standard conventions for clarity)
	ColorSuccess = lipgloss.Color("#C792EA") // Bright violet for success
	ColorWarning = lipgloss.Color("#F4D03F") // Gold/amber for warnings
	ColorError   = lipgloss.Color("#E74C3C") // Red for errors
	ColorMuted   = lipgloss.Color("#4E4663") // Graphite for muted text
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	// Text styles
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	// Box styles
	Box        lipgloss.Style
	InfoBox    lipgloss.Style
	WarningBox lipgloss.Style
	ErrorBox   lipgloss.Style

	// Status indicators
	StatusOK      lipgloss.Style
	StatusWarning lipgloss.Style
	StatusError   lipgloss.Style
	StatusPending lipgloss.Style
}{
	// Text styles
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorPrismBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorPrismPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorGraphite),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorPrismBright).Bold(true),

	// Box styles
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPrismDeep).
		Padding(0, 1),
	InfoBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorPrismPrimary).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),

	// Status indicators
	StatusOK:      lipgloss.NewStyle().SetString("✓").Foreground(ColorSuccess),
	StatusWarning: lipgloss.NewStyle().SetString("⚠").Foreground(ColorWarning),
	StatusError:   lipgloss.NewStyle().SetString("✗").Foreground(ColorError),
	StatusPending: lipgloss.NewStyle().SetString("○").Foreground(ColorGraphite),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess  Icon = "✓"
	IconWarning  Icon = "⚠"
	IconError    Icon = "✗"
	IconPending  Icon = "○"
	IconArrow    Icon = "→"
	IconBullet   Icon = "•"
	IconPrism    Icon = "◆"
	IconSpark    Icon = "✦"
	IconBeam     Icon = "▸"
	IconChat     Icon = "💬"
	IconInfo     Icon = "ℹ"
	IconDocument Icon = "📄"
	IconTime     Icon = "⏱"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Print helpers that respect personality level

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stdout, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func Error(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", IconError.Render(), text)
	default:
		fmt.Printf("%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Println(text)
	default:
		fmt.Printf("%s %s\n", Styles.Muted.Render("│"), text)
	}
}

// Muted prints muted/secondary text
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Println(Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Printf("%s: %s\n", title, content)
		return
	}
	boxStyle := Styles.Box.Width(60)
	titleLine := Styles.Title.Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// WarningBox prints text in a warning-styled box
func WarningBox(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(os.Stderr, "WARN %s: %s\n", title, content)
		return
	}
	boxStyle := Styles.WarningBox.Width(60)
	titleLine := Styles.Warning.Bold(true).Render(title)
	fmt.Println(boxStyle.Render(titleLine + "\n" + content))
}

// CheckStatus prints a named check with its status
func CheckStatus(name string, status Icon, detail string) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Printf("%s\t%s\t%s\n", status, name, detail)
	case PersonalityMinimal:
		fmt.Printf("%s %s\n", status.Render(), name)
	default:
		if detail != "" {
			fmt.Printf("%s %s %s\n", status.Render(), name, Styles.Muted.Render("("+detail+")"))
		} else {
			fmt.Printf("%s %s\n", status.Render(), name)
		}
	}
}

// Summary prints a summary line with counts
func Summary(passed, failed, total int) {
	p := GetPersonality()
	switch p.Level {
	case PersonalityMachine:
		fmt.Printf("SUMMARY: passed=%d failed=%d total=%d\n", passed, failed, total)
	default:
		fmt.Printf("\n%s %s  %s %s  %s %s\n",
			Styles.Success.Render(fmt.Sprintf("%d", passed)), Styles.Muted.Render("passed"),
			Styles.Error.Render(fmt.Sprintf("%d", failed)), Styles.Muted.Render("failed"),
			Styles.Bold.Render(fmt.Sprintf("%d", total)), Styles.Muted.Render("total"),
		)
	}
}
