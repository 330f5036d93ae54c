// ABOUTME: Key bindings for the player TUI
// ABOUTME: Maps physical keys to player actions via bubbles/key
package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings recognized by the player TUI.
type KeyMap struct {
	VolumeUp    key.Binding
	VolumeDown  key.Binding
	ToggleMute  key.Binding
	ToggleDebug key.Binding
	Quit        key.Binding
}

// DefaultKeyMap is the built-in key binding set.
var DefaultKeyMap = KeyMap{
	VolumeUp: key.NewBinding(
		key.WithKeys("up", "+"),
		key.WithHelp("↑/+", "volume up"),
	),
	VolumeDown: key.NewBinding(
		key.WithKeys("down", "-"),
		key.WithHelp("↓/-", "volume down"),
	),
	ToggleMute: key.NewBinding(
		key.WithKeys("m"),
		key.WithHelp("m", "mute"),
	),
	ToggleDebug: key.NewBinding(
		key.WithKeys("d"),
		key.WithHelp("d", "debug"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}

// ShortHelp returns the bindings as one list. KeyMap has no FullHelp, so
// it does not satisfy bubbles' help.KeyMap, and the footer drawn by
// renderHelp does not use it.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.VolumeUp, k.VolumeDown, k.ToggleMute, k.ToggleDebug, k.Quit}
}
