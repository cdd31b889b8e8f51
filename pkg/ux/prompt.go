// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// ErrNotInteractive is returned by prompts that require a terminal when
// the session is non-interactive.
var ErrNotInteractive = errors.New("interactive terminal required")

// pryzmTheme returns the huh form theme matching the Pryzm palette.
func pryzmTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Title = t.Focused.Title.Foreground(ColorPrismBright).Bold(true)
	t.Focused.Description = t.Focused.Description.Foreground(ColorGraphite)
	t.Focused.SelectSelector = t.Focused.SelectSelector.Foreground(ColorPrismPrimary).SetString("▸ ")
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(ColorPrismBright)
	t.Focused.FocusedButton = t.Focused.FocusedButton.
		Background(ColorPrismVibrant).
		Foreground(lipgloss.Color("#FFFFFF"))
	t.Focused.BlurredButton = t.Focused.BlurredButton.
		Background(ColorEclipse).
		Foreground(ColorGraphite)
	t.Focused.ErrorIndicator = t.Focused.ErrorIndicator.Foreground(ColorError)
	t.Focused.ErrorMessage = t.Focused.ErrorMessage.Foreground(ColorError)

	t.Blurred = t.Focused
	t.Blurred.Base = t.Blurred.Base.BorderStyle(lipgloss.HiddenBorder())

	return t
}

// PromptOption is a single choice in a selection prompt
type PromptOption struct {
	// Label is the display text for the option
	Label string

	// Description provides additional context shown below the label
	Description string

	// Value is the value returned when this option is selected
	Value string

	// Recommended marks the option that should be suggested to the user
	Recommended bool
}

// Confirm asks a yes/no question with a styled confirmation prompt.
//
// # Description
//
// Shows a huh confirmation form with the Pryzm theme. In non-interactive
// contexts (machine personality or no terminal) the default answer is
// returned without prompting, so scripted runs never block on input.
//
// # Inputs
//
//   - title: The question to ask.
//   - description: Optional context shown below the question. May be empty.
//   - defaultYes: The preselected answer, and the answer used when
//     non-interactive.
//
// # Outputs
//
//   - bool: The user's answer.
//   - error: Form error (e.g. the user aborted with ctrl-c).
func Confirm(title, description string, defaultYes bool) (bool, error) {
	if !IsInteractive() {
		return defaultYes, nil
	}

	confirmed := defaultYes
	confirm := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirmed)
	if description != "" {
		confirm = confirm.Description(description)
	}

	form := huh.NewForm(huh.NewGroup(confirm)).WithTheme(pryzmTheme())
	if err := form.Run(); err != nil {
		return false, err
	}
	return confirmed, nil
}

// SelectOption asks the user to pick one option from a list.
//
// # Description
//
// Shows a huh select form with the Pryzm theme and returns the Value of
// the chosen option. Long labels are truncated to keep the list readable.
// Returns ErrNotInteractive when there is no terminal to prompt on.
//
// # Inputs
//
//   - title: The prompt title.
//   - options: The choices. Recommended options are marked in the label.
//
// # Outputs
//
//   - string: The Value of the selected option.
//   - error: ErrNotInteractive, or a form error.
func SelectOption(title string, options []PromptOption) (string, error) {
	if !IsInteractive() {
		return "", ErrNotInteractive
	}
	if len(options) == 0 {
		return "", errors.New("no options to select from")
	}

	huhOptions := make([]huh.Option[string], 0, len(options))
	for _, opt := range options {
		label := truncate(opt.Label, 70)
		if opt.Recommended {
			label += " (recommended)"
		}
		if opt.Description != "" {
			label += " " + Styles.Muted.Render(truncate(opt.Description, 40))
		}
		huhOptions = append(huhOptions, huh.NewOption(label, opt.Value))
	}

	var value string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(title).
			Options(huhOptions...).
			Value(&value),
	)).WithTheme(pryzmTheme())

	if err := form.Run(); err != nil {
		return "", err
	}
	return value, nil
}

// truncate shortens a string to maxLen, appending "..." when truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
