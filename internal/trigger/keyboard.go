package trigger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/eiannone/keyboard"
)

// Keyboard fires when the configured key is pressed on the terminal.
type Keyboard struct {
	*Manual
	key    string
	onQuit func()
	log    *slog.Logger
	exited chan struct{}
}

func NewKeyboard(key string, onQuit func(), log *slog.Logger) (*Keyboard, error) {
	events, err := keyboard.GetKeys(8)
	if err != nil {
		return nil, fmt.Errorf("open keyboard: %w", err)
	}
	k := &Keyboard{
		Manual: NewManual(),
		key:    key,
		onQuit: onQuit,
		log:    log.With(slog.String("component", "keyboard-trigger")),
		exited: make(chan struct{}),
	}
	go k.run(events)
	k.log.Info("press key to talk", slog.String("key", keyName(key)))
	return k, nil
}

func (k *Keyboard) run(events <-chan keyboard.KeyEvent) {
	defer close(k.exited)
	for ev := range events {
		if ev.Err != nil {
			k.log.Warn("keyboard read failed", slog.String("error", ev.Err.Error()))
			continue
		}
		switch {
		case ev.Key == keyboard.KeyCtrlC || ev.Key == keyboard.KeyEsc:
			if k.onQuit != nil {
				k.onQuit()
			}
			return
		case matches(k.key, ev):
			k.Fire("keyboard")
		}
	}
}

func (k *Keyboard) Close() error {
	_ = k.Manual.Close()
	err := keyboard.Close()
	select {
	case <-k.exited:
	case <-time.After(time.Second):
	}
	return err
}

func matches(key string, ev keyboard.KeyEvent) bool {
	switch key {
	case " ", "space", "":
		return ev.Key == keyboard.KeySpace || ev.Rune == ' '
	case "enter":
		return ev.Key == keyboard.KeyEnter
	}
	r := []rune(key)
	return len(r) == 1 && ev.Rune == r[0]
}

func keyName(key string) string {
	if key == " " || key == "" {
		return "space"
	}
	return key
}
