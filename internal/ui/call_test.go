package ui

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/room"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

type fakeControls struct {
	mu      sync.Mutex
	calls   []string
	devices []string
	sent    []string
	err     error
}

func (f *fakeControls) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.err
}

func (f *fakeControls) MuteMic(context.Context) error       { return f.record("mute") }
func (f *fakeControls) UnmuteMic(context.Context) error     { return f.record("unmute") }
func (f *fakeControls) EnableWebcam(context.Context) error  { return f.record("enable webcam") }
func (f *fakeControls) DisableWebcam(context.Context) error { return f.record("disable webcam") }
func (f *fakeControls) RestartICE(context.Context) error    { return f.record("restart ice") }

func (f *fakeControls) ChangeWebcam(_ context.Context, deviceID string) error {
	f.mu.Lock()
	f.devices = append(f.devices, deviceID)
	f.mu.Unlock()
	return f.record("change webcam")
}

func (f *fakeControls) SendChat(text string) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.mu.Unlock()
	return f.record("chat")
}

func (f *fakeControls) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestView(t *testing.T) (*CallView, *fakeControls) {
	t.Helper()
	v := NewCallView("room-1")
	c := &fakeControls{}
	v.SetControls(c)
	return v, c
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and runs the command it returns, feeding the result
// back into the model.
func press(t *testing.T, m *callModel, msg tea.KeyMsg) tea.Msg {
	t.Helper()
	_, cmd := m.Update(msg)
	if cmd == nil {
		return nil
	}
	out := cmd()
	m.Update(out)
	return out
}

func TestCallViewObserverUpdatesModel(t *testing.T) {
	v, _ := newTestView(t)
	m := v.model

	v.OnStateChange(room.StateJoined)
	v.OnJoinStatus(room.JoinSucceeded)
	v.OnPeer(room.Peer{ID: "p2", DisplayName: "Bob", Consumers: []room.PeerConsumer{
		{ID: "c1", Kind: media.KindAudio},
		{ID: "c2", Kind: media.KindVideo, RemotelyPaused: true},
	}})
	v.OnPeer(room.Peer{ID: "p3", DisplayName: "Alice"})
	v.OnProducer(room.ProducerInfo{ID: "mic-1", Source: room.SourceMic, Kind: media.KindAudio}, true)
	v.OnActiveSpeaker(room.ActiveSpeaker{PeerID: "p2", Volume: -20})

	require.Equal(t, room.StateJoined, m.state)
	require.Equal(t, room.JoinSucceeded, m.join)
	require.Len(t, m.peers, 2)

	peers := m.sortedPeers()
	require.Equal(t, "Alice", peers[0].DisplayName)
	require.Equal(t, "Bob", peers[1].DisplayName)

	view := m.View()
	require.Contains(t, view, "room-1")
	require.Contains(t, view, "Peers (2)")
	require.Contains(t, view, "Bob")
	require.Contains(t, view, IconMic+IconPlaying)
	require.Contains(t, view, IconWebcam+IconPaused)
	require.Contains(t, view, IconMic+" mic")

	v.OnPeerClosed("p2")
	v.OnProducer(room.ProducerInfo{Source: room.SourceMic}, false)
	require.Len(t, m.peers, 1)
	require.Contains(t, m.View(), "not sending")
}

func TestCallViewWakesProgram(t *testing.T) {
	v, _ := newTestView(t)
	m := v.model

	v.OnStateChange(room.StateConnecting)
	v.OnStateChange(room.StateEntering)

	// Wakes coalesce into a single pending message.
	msg := m.listenForUpdates()()
	require.IsType(t, wakeMsg{}, msg)
	require.Len(t, m.wake, 0)

	_, cmd := m.Update(msg)
	require.NotNil(t, cmd)

	v.OnClose()
	_, cmd = m.Update(m.listenForUpdates()())
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestCallViewChatAndNotices(t *testing.T) {
	v, _ := newTestView(t)
	m := v.model

	v.OnPeer(room.Peer{ID: "p2", DisplayName: "Bob"})
	msg, err := room.NewDataMessage(room.MessageChat, "p2", "hello")
	require.NoError(t, err)
	v.OnDataMessage("p2", msg)
	v.OnDataMessage("p9", room.ParseDataMessage([]byte("plain")))

	require.Equal(t, []chatLine{{from: "Bob", text: "hello"}, {from: "p9", text: "plain"}}, m.chat)

	for i := 0; i < maxChatLines+2; i++ {
		v.OnDataMessage("p2", msg)
	}
	require.Len(t, m.chat, maxChatLines)

	for i := 0; i < maxNotices+2; i++ {
		v.OnNotice(room.Notice{Source: room.SourceDevice, Severity: room.SeverityWarning, Message: "Cannot produce video"})
	}
	v.OnNotice(room.Notice{Source: room.SourceSocket, Severity: room.SeverityError, Message: "WebSocket disconnected"})
	require.Len(t, m.notices, maxNotices)
	require.Equal(t, "WebSocket disconnected", m.notices[maxNotices-1].Message)
	require.Contains(t, m.View(), "WebSocket disconnected")
}

func TestCallViewMuteToggle(t *testing.T) {
	v, c := newTestView(t)
	m := v.model

	// No mic producer yet.
	require.Nil(t, press(t, m, key("m")))

	v.OnProducer(room.ProducerInfo{Source: room.SourceMic}, true)
	press(t, m, key("m"))

	v.OnProducer(room.ProducerInfo{Source: room.SourceMic, Paused: true}, true)
	require.Contains(t, m.View(), IconMuted)
	press(t, m, key("m"))

	require.Equal(t, []string{"mute", "unmute"}, c.Calls())
}

func TestCallViewWebcamKeys(t *testing.T) {
	v, c := newTestView(t)
	m := v.model

	press(t, m, key("v"))
	v.OnProducer(room.ProducerInfo{Source: room.SourceWebcam}, true)
	press(t, m, key("v"))
	press(t, m, key("c"))
	press(t, m, key("r"))

	require.Equal(t, []string{"enable webcam", "disable webcam", "change webcam", "restart ice"}, c.Calls())
	require.Equal(t, []string{""}, c.devices)
}

func TestCallViewActionErrorBecomesNotice(t *testing.T) {
	v, c := newTestView(t)
	m := v.model
	c.err = errors.New("not joined")

	out := press(t, m, key("r"))
	require.Equal(t, actionMsg{action: "restart ice", err: c.err}, out)
	require.Len(t, m.notices, 1)
	require.Equal(t, room.SeverityError, m.notices[0].Severity)
	require.Equal(t, "restart ice: not joined", m.notices[0].Message)
}

func TestCallViewSendChat(t *testing.T) {
	v, c := newTestView(t)
	m := v.model

	m.Update(key("t"))
	require.True(t, m.typing)

	// Keys go to the input while typing.
	m.Update(key("hi m"))
	require.Empty(t, c.Calls())

	out := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, chatSentMsg{text: "hi m"}, out)
	require.False(t, m.typing)
	require.Equal(t, []string{"hi m"}, c.sent)
	require.Equal(t, []chatLine{{from: "you", text: "hi m"}}, m.chat)

	m.Update(key("t"))
	m.Update(key("draft"))
	m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.False(t, m.typing)
	require.Empty(t, m.input.Value())
	require.Len(t, c.sent, 1)

	m.Update(key("t"))
	require.Nil(t, press(t, m, tea.KeyMsg{Type: tea.KeyEnter}))
}

func TestCallViewQuit(t *testing.T) {
	v, _ := newTestView(t)

	_, cmd := v.model.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.True(t, v.Quitting())
	require.Empty(t, v.model.View())
}

func TestCallViewWithoutControls(t *testing.T) {
	v := NewCallView("room-1")
	v.OnProducer(room.ProducerInfo{Source: room.SourceMic}, true)

	_, cmd := v.model.Update(key("m"))
	require.Nil(t, cmd)

	_, cmd = v.model.Update(key("q"))
	require.NotNil(t, cmd)
}
