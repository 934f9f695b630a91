// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"strconv"
	"strings"
	"sync"

	kit "restorebot/internal/transport"
)

// Call is one recorded adapter call.
type Call struct {
	Op      string // send, photo, edit, delete, answer
	ID      string // callback id for answer
	Ref     kit.MessageRef
	Text    string
	Photo   string
	Alert   bool
	Options kit.SendOptions
}

// Adapter records every outbound call. Hooks may inject errors.
type Adapter struct {
	mu     sync.Mutex
	nextID int
	calls  []Call

	// Members maps "chat/user" to a member status; missing means "member".
	Members map[string]string

	// Fail, when set, is consulted before every call; a non-nil error is
	// returned instead of performing it.
	Fail func(op string, ref kit.MessageRef) error

	out chan<- kit.Update
}

var _ kit.Adapter = (*Adapter)(nil)

func New() *Adapter { return &Adapter{Members: map[string]string{}} }

func (a *Adapter) Start(_ context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	a.out = out
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop(context.Context) error { return nil }

// Push delivers an inbound update to the consumer passed to Start.
func (a *Adapter) Push(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out != nil {
		out <- up
	}
}

func (a *Adapter) fail(op string, ref kit.MessageRef) error {
	if a.Fail == nil {
		return nil
	}
	return a.Fail(op, ref)
}

func opts(o *kit.SendOptions) kit.SendOptions {
	if o == nil {
		return kit.SendOptions{}
	}
	return *o
}

func (a *Adapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	if err := a.fail("send", ref); err != nil {
		return kit.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	ref.MessageID = a.nextID
	a.calls = append(a.calls, Call{Op: "send", Ref: ref, Text: text, Options: opts(opt)})
	return ref, nil
}

func (a *Adapter) SendPhoto(_ context.Context, to kit.ChatTarget, photo, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID}
	if err := a.fail("photo", ref); err != nil {
		return kit.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	ref.MessageID = a.nextID
	a.calls = append(a.calls, Call{Op: "photo", Ref: ref, Text: caption, Photo: photo, Options: opts(opt)})
	return ref, nil
}

func (a *Adapter) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := a.fail("edit", ref); err != nil {
		return err
	}
	a.record(Call{Op: "edit", Ref: ref, Text: text, Options: opts(opt)})
	return nil
}

func (a *Adapter) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	if err := a.fail("delete", ref); err != nil {
		return err
	}
	a.record(Call{Op: "delete", Ref: ref})
	return nil
}

func (a *Adapter) AnswerCallback(_ context.Context, id, text string, alert bool) error {
	if err := a.fail("answer", kit.MessageRef{}); err != nil {
		return err
	}
	a.record(Call{Op: "answer", Text: text, Alert: alert, ID: id})
	return nil
}

func (a *Adapter) MemberStatus(_ context.Context, chat string, userID int64) (string, error) {
	if err := a.fail("member", kit.MessageRef{ChatID: userID}); err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.Members[chat+"/"+strconv.FormatInt(userID, 10)]; ok {
		return st, nil
	}
	return kit.MemberMember, nil
}

// SetMember sets userID's status in chat.
func (a *Adapter) SetMember(chat string, userID int64, status string) {
	a.mu.Lock()
	a.Members[chat+"/"+strconv.FormatInt(userID, 10)] = status
	a.mu.Unlock()
}

func (a *Adapter) record(c Call) {
	a.mu.Lock()
	a.calls = append(a.calls, c)
	a.mu.Unlock()
}

// Calls returns a copy of every recorded call.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// Find returns the calls of op whose text contains substr.
func (a *Adapter) Find(op, substr string) []Call {
	var out []Call
	for _, c := range a.Calls() {
		if c.Op == op && strings.Contains(c.Text, substr) {
			out = append(out, c)
		}
	}
	return out
}

// Last returns the most recent call, or a zero Call.
func (a *Adapter) Last() Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) == 0 {
		return Call{}
	}
	return a.calls[len(a.calls)-1]
}

func (a *Adapter) Reset() {
	a.mu.Lock()
	a.calls = nil
	a.mu.Unlock()
}
