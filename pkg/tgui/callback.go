package tgui

import (
	"errors"
	"strings"
)

// MaxCallbackDataLen is the platform's callback data limit in bytes.
const MaxCallbackDataLen = 64

const sep = "|"

var ErrCallbackDataTooLong = errors.New("tgui: callback data too long")

// Data joins an action and its fields as "action|f1|f2". Fields must
// not contain "|". When the result exceeds MaxCallbackDataLen the last
// field is shortened; if that is not enough an error is returned.
func Data(action string, fields ...string) (string, error) {
	s := strings.Join(append([]string{action}, fields...), sep)
	if len(s) <= MaxCallbackDataLen {
		return s, nil
	}
	if len(fields) == 0 {
		return "", ErrCallbackDataTooLong
	}
	head := strings.Join(append([]string{action}, fields[:len(fields)-1]...), sep) + sep
	room := MaxCallbackDataLen - len(head)
	if room <= 0 {
		return "", ErrCallbackDataTooLong
	}
	return head + TruncBytes(fields[len(fields)-1], room), nil
}

// Split parses Data output into action and fields.
func Split(data string) (string, []string) {
	parts := strings.Split(data, sep)
	return parts[0], parts[1:]
}
