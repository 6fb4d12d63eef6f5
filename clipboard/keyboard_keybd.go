//go:build darwin || windows

package clipboard

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/micmonay/keybd_event"
)

var letterKeys = [26]int{
	keybd_event.VK_A, keybd_event.VK_B, keybd_event.VK_C, keybd_event.VK_D,
	keybd_event.VK_E, keybd_event.VK_F, keybd_event.VK_G, keybd_event.VK_H,
	keybd_event.VK_I, keybd_event.VK_J, keybd_event.VK_K, keybd_event.VK_L,
	keybd_event.VK_M, keybd_event.VK_N, keybd_event.VK_O, keybd_event.VK_P,
	keybd_event.VK_Q, keybd_event.VK_R, keybd_event.VK_S, keybd_event.VK_T,
	keybd_event.VK_U, keybd_event.VK_V, keybd_event.VK_W, keybd_event.VK_X,
	keybd_event.VK_Y, keybd_event.VK_Z,
}

var digitKeys = [10]int{
	keybd_event.VK_0, keybd_event.VK_1, keybd_event.VK_2, keybd_event.VK_3,
	keybd_event.VK_4, keybd_event.VK_5, keybd_event.VK_6, keybd_event.VK_7,
	keybd_event.VK_8, keybd_event.VK_9,
}

// keybdKeyboard types through the OS event API. Punctuation is layout
// dependent here, so anything beyond letters, digits and space is pasted.
type keybdKeyboard struct {
	mu sync.Mutex
	kb keybd_event.KeyBonding
}

var (
	sharedKeyboard *keybdKeyboard
	keyboardOnce   sync.Once
	keyboardErr    error
)

func openKeyboard() (keyboard, error) {
	keyboardOnce.Do(func() {
		kb, err := keybd_event.NewKeyBonding()
		if err != nil {
			keyboardErr = fmt.Errorf("%w: %v", ErrInjectUnavailable, err)
			return
		}
		sharedKeyboard = &keybdKeyboard{kb: kb}
	})
	if keyboardErr != nil {
		return nil, keyboardErr
	}
	return sharedKeyboard, nil
}

func (k *keybdKeyboard) lookup(r rune) (key, bool) {
	switch {
	case r >= 'a' && r <= 'z':
		return key{letterKeys[r-'a'], false}, true
	case r >= 'A' && r <= 'Z':
		return key{letterKeys[r-'A'], true}, true
	case r >= '0' && r <= '9':
		return key{digitKeys[r-'0'], false}, true
	case r == ' ':
		return key{keybd_event.VK_SPACE, false}, true
	}
	return key{}, false
}

func (k *keybdKeyboard) tap(kc key) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kb.SetKeys(kc.code)
	k.kb.HasSHIFT(kc.shift)
	k.kb.HasCTRL(false)
	k.kb.HasSuper(false)
	return k.kb.Launching()
}

func (k *keybdKeyboard) paste() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kb.SetKeys(keybd_event.VK_V)
	k.kb.HasSHIFT(false)
	if runtime.GOOS == "darwin" {
		k.kb.HasSuper(true) // Cmd+V
	} else {
		k.kb.HasCTRL(true)
	}
	return k.kb.Launching()
}

// Verify checks that the keyboard event binding is initialized.
func Verify() (string, error) {
	if _, err := openKeyboard(); err != nil {
		return "", err
	}
	if runtime.GOOS == "darwin" {
		return "keyboard event binding OK (Cmd+V)", nil
	}
	return "keyboard event binding OK (Ctrl+V)", nil
}
