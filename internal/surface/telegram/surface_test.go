package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"fencewatch/internal/alert"
	"fencewatch/internal/engine"
	kit "fencewatch/internal/transport"
	logx "fencewatch/pkg/logx"
)

type sentMsg struct {
	text   string
	ref    kit.MessageRef
	markup *tele.ReplyMarkup
}

type fakeTransport struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentMsg
	deleted []kit.MessageRef
	edited  []kit.MessageRef
	answers []string
}

func (f *fakeTransport) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: f.nextID}
	var rm *tele.ReplyMarkup
	if opt != nil {
		rm, _ = opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	}
	f.sent = append(f.sent, sentMsg{text: text, ref: ref, markup: rm})
	return ref, nil
}

func (f *fakeTransport) EditText(_ context.Context, ref kit.MessageRef, _ string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, ref)
	return nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, id+":"+text)
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) deletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type fakeController struct {
	mu        sync.Mutex
	dismissed []string
	activated []string
	viewing   []bool
}

func (c *fakeController) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dismissed = append(c.dismissed, id)
}

func (c *fakeController) Activate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activated = append(c.activated, id)
}

func (c *fakeController) SetViewing(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viewing = append(c.viewing, open)
}

func (c *fakeController) Snapshot() engine.Status {
	return engine.Status{Running: true, QueueLen: 2, Shown: 5}
}

const testChatID = int64(4242)

func newTestSurface(t *testing.T) (*Surface, *fakeTransport, *fakeController, chan kit.Update) {
	t.Helper()
	tr := &fakeTransport{}
	ctrl := &fakeController{}
	s, err := New(Config{ChatID: testChatID, RatePerSec: 100}, tr, nil, logx.Nop())
	require.NoError(t, err)
	s.Bind(ctrl)

	updates := make(chan kit.Update, 8)
	require.NoError(t, s.Start(context.Background(), updates))
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, tr, ctrl, updates
}

func display(id string) engine.Display {
	return engine.Display{
		Event: alert.Event{
			ID:       id,
			DeviceID: "collar-7",
			Kind:     alert.KindOutOfRange,
			Active:   true,
		},
		ShownAt: time.Now(),
	}
}

func TestShowThenClearDeletesPopup(t *testing.T) {
	s, tr, _, _ := newTestSurface(t)
	ctx := context.Background()

	require.NoError(t, s.Show(ctx, display("a-1")))
	require.Equal(t, 1, tr.sentCount())

	msg := tr.sent[0]
	assert.Contains(t, msg.text, "Animal outside safe zone")
	assert.Contains(t, msg.text, "collar-7")
	require.NotNil(t, msg.markup)
	require.Len(t, msg.markup.InlineKeyboard, 1)
	require.Len(t, msg.markup.InlineKeyboard[0], 2)
	assert.Equal(t, cbOpen+"|a-1", msg.markup.InlineKeyboard[0][0].Data)
	assert.Equal(t, cbDismiss+"|a-1", msg.markup.InlineKeyboard[0][1].Data)

	require.NoError(t, s.Clear(ctx, display("a-1"), engine.ReasonUser))
	require.Equal(t, 1, tr.deletedCount())
	assert.Equal(t, msg.ref, tr.deleted[0])

	// Clearing an already-cleared popup stays quiet.
	require.NoError(t, s.Clear(ctx, display("a-1"), engine.ReasonTimeout))
	assert.Equal(t, 1, tr.deletedCount())
}

func TestCallbackButtonsDriveEngine(t *testing.T) {
	_, tr, ctrl, updates := newTestSurface(t)

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", ChatID: testChatID, Data: cbDismiss + "|a-1",
	}}
	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb2", ChatID: testChatID, Data: cbOpen + "|a-2",
	}}

	require.Eventually(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return len(ctrl.dismissed) == 1 && len(ctrl.activated) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a-1"}, ctrl.dismissed)
	assert.Equal(t, []string{"a-2"}, ctrl.activated)

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Len(t, tr.answers, 2, "every callback press gets answered")
}

func TestForeignChatIgnored(t *testing.T) {
	_, tr, ctrl, updates := newTestSurface(t)

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", ChatID: 999, Data: cbDismiss + "|a-1",
	}}
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: 999, Text: "/status",
	}}

	time.Sleep(100 * time.Millisecond)
	ctrl.mu.Lock()
	assert.Empty(t, ctrl.dismissed)
	ctrl.mu.Unlock()
	assert.Equal(t, 0, tr.sentCount())
}

func TestAlertsCommandOpensViewAndClosesOnButton(t *testing.T) {
	_, tr, ctrl, updates := newTestSurface(t)

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: testChatID, Text: "/alerts",
	}}
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	tr.mu.Lock()
	view := tr.sent[0]
	tr.mu.Unlock()
	assert.Contains(t, view.text, "Recent alerts")
	assert.Contains(t, view.text, "No alert journal configured")
	require.NotNil(t, view.markup)
	assert.Equal(t, cbClose, view.markup.InlineKeyboard[0][0].Data)

	ctrl.mu.Lock()
	assert.Equal(t, []bool{true}, ctrl.viewing)
	ctrl.mu.Unlock()

	updates <- kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "cb1", ChatID: testChatID, Data: cbClose,
	}}
	require.Eventually(t, func() bool { return tr.deletedCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return len(ctrl.viewing) == 2 && !ctrl.viewing[1]
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStatusCommand(t *testing.T) {
	_, tr, _, updates := newTestSurface(t)

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: testChatID, Text: "/status@fencewatch_bot",
	}}
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	tr.mu.Lock()
	text := tr.sent[0].text
	tr.mu.Unlock()
	assert.Contains(t, text, "Engine: running")
	assert.Contains(t, text, "Queued: 2")
}

func TestRenderPopupFallsBackForUnknownKind(t *testing.T) {
	t.Parallel()
	got := renderPopup(alert.Event{ID: "x", Kind: alert.KindUnknown, Active: true}, time.Now())
	assert.Contains(t, got, "New alert")
	assert.False(t, strings.Contains(got, "Tracker:"), "no device line without a device id")
}
