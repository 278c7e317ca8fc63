package update

import (
	"github.com/charmbracelet/bubbles/key"
)

type keyMap struct {
	Complete key.Binding
	Snooze   key.Binding
	Presets  key.Binding
	Dismiss  key.Binding
	Next     key.Binding
	Help     key.Binding
	Quit     key.Binding
}

func defaultKeys() keyMap {
	return keyMap{
		Complete: key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "complete")),
		Snooze:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "snooze")),
		Presets:  key.NewBinding(key.WithKeys("1", "2", "3", "4", "5", "6", "7", "8", "9"), key.WithHelp("1-9", "snooze preset")),
		Dismiss:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "dismiss")),
		Next:     key.NewBinding(key.WithKeys("tab", "n"), key.WithHelp("tab", "next reminder")),
		Help:     key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Complete, k.Snooze, k.Dismiss, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Complete, k.Snooze, k.Presets, k.Dismiss},
		{k.Next, k.Help, k.Quit},
	}
}
