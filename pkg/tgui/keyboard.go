package tgui

import kit "restorebot/internal/transport"

// Keyboard builds an inline keyboard row by row.
type Keyboard struct {
	rows [][]kit.Button
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

func (k *Keyboard) Row(btn ...kit.Button) *Keyboard {
	if len(btn) > 0 {
		k.rows = append(k.rows, btn)
	}
	return k
}

func (k *Keyboard) Rows() [][]kit.Button { return k.rows }

// Btn is a callback button.
func Btn(text, data string) kit.Button { return kit.Button{Text: text, Data: data} }

func URLBtn(text, url string) kit.Button { return kit.Button{Text: text, URL: url} }

// Grid lays buttons out cols per row.
func Grid(cols int, buttons ...kit.Button) *Keyboard {
	if cols <= 0 {
		cols = 1
	}
	k := NewKeyboard()
	for len(buttons) > 0 {
		n := min(cols, len(buttons))
		k.Row(buttons[:n]...)
		buttons = buttons[n:]
	}
	return k
}

// Options returns HTML send options carrying the keyboard.
func (k *Keyboard) Options() *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Keyboard: k.rows}
}
