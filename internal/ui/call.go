package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/room"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	maxChatLines  = 6
	maxNotices    = 3
	actionTimeout = 10 * time.Second
)

// Controls are the session operations the call view can trigger.
type Controls interface {
	MuteMic(ctx context.Context) error
	UnmuteMic(ctx context.Context) error
	EnableWebcam(ctx context.Context) error
	DisableWebcam(ctx context.Context) error
	ChangeWebcam(ctx context.Context, deviceID string) error
	RestartICE(ctx context.Context) error
	SendChat(text string) error
}

// CallView renders a live call in the terminal. It implements room.Observer:
// events update the model under its lock and wake the program.
type CallView struct {
	model *callModel
	opts  []tea.ProgramOption
}

// NewCallView creates a view for the call in roomID. Keys do nothing until
// SetControls binds a session.
func NewCallView(roomID string, opts ...tea.ProgramOption) *CallView {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	in := textinput.New()
	in.Placeholder = "Say something"
	in.Prompt = IconChat + " "
	in.CharLimit = 500

	return &CallView{
		model: &callModel{
			roomID:    roomID,
			peers:     make(map[string]room.Peer),
			producers: make(map[string]room.ProducerInfo),
			spinner:   s,
			input:     in,
			wake:      make(chan struct{}, 1),
			startTime: time.Now(),
		},
		opts: opts,
	}
}

// SetControls binds the session the keys act on. Call it before Run.
func (v *CallView) SetControls(c Controls) {
	v.model.controls = c
}

// Run drives the program until the user quits, the session closes, or ctx
// ends.
func (v *CallView) Run(ctx context.Context) error {
	opts := append([]tea.ProgramOption{tea.WithContext(ctx)}, v.opts...)
	p := tea.NewProgram(v.model, opts...)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Quitting reports whether the user asked to leave.
func (v *CallView) Quitting() bool {
	v.model.mu.RLock()
	defer v.model.mu.RUnlock()
	return v.model.quitting
}

func (v *CallView) update(fn func(m *callModel)) {
	v.model.mu.Lock()
	fn(v.model)
	v.model.mu.Unlock()

	select {
	case v.model.wake <- struct{}{}:
	default:
	}
}

func (v *CallView) OnStateChange(state room.State) {
	v.update(func(m *callModel) { m.state = state })
}

func (v *CallView) OnJoinStatus(status room.JoinStatus) {
	v.update(func(m *callModel) { m.join = status })
}

func (v *CallView) OnClose() {
	v.update(func(m *callModel) { m.closed = true })
}

func (v *CallView) OnPeer(peer room.Peer) {
	v.update(func(m *callModel) { m.peers[peer.ID] = peer })
}

func (v *CallView) OnPeerClosed(peerID string) {
	v.update(func(m *callModel) { delete(m.peers, peerID) })
}

func (v *CallView) OnLocalTrack(media.Track) {}

func (v *CallView) OnProducer(info room.ProducerInfo, available bool) {
	v.update(func(m *callModel) {
		if available {
			m.producers[info.Source] = info
		} else {
			delete(m.producers, info.Source)
		}
	})
}

func (v *CallView) OnActiveSpeaker(speaker room.ActiveSpeaker) {
	v.update(func(m *callModel) { m.speaker = speaker })
}

func (v *CallView) OnDataMessage(peerID string, msg room.DataMessage) {
	v.update(func(m *callModel) {
		from := peerID
		if p, ok := m.peers[peerID]; ok && p.DisplayName != "" {
			from = p.DisplayName
		}
		m.addChat(from, msg.Text())
	})
}

func (v *CallView) OnNotice(n room.Notice) {
	v.update(func(m *callModel) { m.addNotice(n) })
}

var _ room.Observer = (*CallView)(nil)

type (
	wakeMsg   struct{}
	actionMsg struct {
		action string
		err    error
	}
	chatSentMsg struct {
		text string
		err  error
	}
)

type chatLine struct {
	from string
	text string
}

type callModel struct {
	roomID   string
	controls Controls

	mu        sync.RWMutex
	state     room.State
	join      room.JoinStatus
	peers     map[string]room.Peer
	producers map[string]room.ProducerInfo
	speaker   room.ActiveSpeaker
	chat      []chatLine
	notices   []room.Notice
	closed    bool
	quitting  bool

	spinner   spinner.Model
	input     textinput.Model
	typing    bool
	wake      chan struct{}
	startTime time.Time
}

func (m *callModel) addChat(from, text string) {
	m.chat = append(m.chat, chatLine{from: from, text: text})
	if len(m.chat) > maxChatLines {
		m.chat = m.chat[len(m.chat)-maxChatLines:]
	}
}

func (m *callModel) addNotice(n room.Notice) {
	m.notices = append(m.notices, n)
	if len(m.notices) > maxNotices {
		m.notices = m.notices[len(m.notices)-maxNotices:]
	}
}

func (m *callModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForUpdates())
}

func (m *callModel) listenForUpdates() tea.Cmd {
	return func() tea.Msg {
		<-m.wake
		return wakeMsg{}
	}
}

// run executes a control operation off the program loop.
func (m *callModel) run(action string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{action: action, err: fn(ctx)}
	}
}

func (m *callModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.typing {
			return m.updateInput(msg)
		}
		return m, m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case wakeMsg:
		m.mu.RLock()
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			return m, tea.Quit
		}
		return m, m.listenForUpdates()

	case actionMsg:
		if msg.err != nil {
			m.mu.Lock()
			m.addNotice(room.Notice{
				Severity: room.SeverityError,
				Message:  fmt.Sprintf("%s: %v", msg.action, msg.err),
			})
			m.mu.Unlock()
		}
		return m, nil

	case chatSentMsg:
		m.mu.Lock()
		if msg.err != nil {
			m.addNotice(room.Notice{Severity: room.SeverityError, Message: fmt.Sprintf("send chat: %v", msg.err)})
		} else {
			m.addChat("you", msg.text)
		}
		m.mu.Unlock()
		return m, nil
	}

	return m, nil
}

func (m *callModel) handleKey(msg tea.KeyMsg) tea.Cmd {
	if m.controls == nil && msg.String() != "q" && msg.String() != "ctrl+c" {
		return nil
	}

	m.mu.RLock()
	mic, hasMic := m.producers[room.SourceMic]
	_, hasWebcam := m.producers[room.SourceWebcam]
	m.mu.RUnlock()

	switch msg.String() {
	case "q", "ctrl+c":
		m.mu.Lock()
		m.quitting = true
		m.mu.Unlock()
		return tea.Quit
	case "m":
		if !hasMic {
			return nil
		}
		if mic.Paused {
			return m.run("unmute", m.controls.UnmuteMic)
		}
		return m.run("mute", m.controls.MuteMic)
	case "v":
		if hasWebcam {
			return m.run("disable webcam", m.controls.DisableWebcam)
		}
		return m.run("enable webcam", m.controls.EnableWebcam)
	case "c":
		return m.run("change webcam", func(ctx context.Context) error {
			return m.controls.ChangeWebcam(ctx, "")
		})
	case "r":
		return m.run("restart ice", m.controls.RestartICE)
	case "t":
		m.typing = true
		return m.input.Focus()
	}
	return nil
}

func (m *callModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.typing = false
		m.input.Blur()
		m.input.Reset()
		return m, nil
	case tea.KeyEnter:
		text := strings.TrimSpace(m.input.Value())
		m.typing = false
		m.input.Blur()
		m.input.Reset()
		if text == "" {
			return m, nil
		}
		controls := m.controls
		return m, func() tea.Msg {
			return chatSentMsg{text: text, err: controls.SendChat(text)}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *callModel) View() string {
	if m.quitting {
		return ""
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder

	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s Room %s", IconRoom, m.roomID)))
	b.WriteString("\n")

	status := stateStyle(m.state).Render(m.state.String())
	if m.state == room.StateConnecting || m.state == room.StateEntering {
		status = m.spinner.View() + " " + status
	}
	b.WriteString(status)
	if m.state == room.StateJoined {
		b.WriteString(MutedStyle.Render(" " + time.Since(m.startTime).Round(time.Second).String()))
	}
	b.WriteString("\n")

	b.WriteString(SectionStyle.Render("You"))
	b.WriteString("\n")
	b.WriteString("  " + m.localLine() + "\n")

	b.WriteString(SectionStyle.Render(fmt.Sprintf("Peers (%d)", len(m.peers))))
	b.WriteString("\n")
	if len(m.peers) == 0 {
		b.WriteString("  " + MutedStyle.Render("Waiting for others to join") + "\n")
	}
	for _, p := range m.sortedPeers() {
		b.WriteString("  " + m.peerLine(p) + "\n")
	}

	if len(m.chat) > 0 {
		b.WriteString(SectionStyle.Render("Chat"))
		b.WriteString("\n")
		for _, c := range m.chat {
			b.WriteString(fmt.Sprintf("  %s %s\n", BoldStyle.Render(c.from+":"), c.text))
		}
	}

	if len(m.notices) > 0 {
		b.WriteString("\n")
		for _, n := range m.notices {
			b.WriteString(noticeLine(n) + "\n")
		}
	}

	if m.typing {
		b.WriteString("\n" + m.input.View() + "\n")
		b.WriteString(FooterStyle.Render("enter send • esc cancel"))
	} else {
		b.WriteString(FooterStyle.Render("m mute • v webcam • c switch camera • t chat • r restart ice • q leave"))
	}
	return b.String()
}

func (m *callModel) localLine() string {
	var parts []string
	if mic, ok := m.producers[room.SourceMic]; ok {
		if mic.Paused {
			parts = append(parts, IconMuted+" muted")
		} else {
			parts = append(parts, IconMic+" mic")
		}
	}
	if _, ok := m.producers[room.SourceWebcam]; ok {
		parts = append(parts, IconWebcam+" webcam")
	}
	if _, ok := m.producers[room.SourceChat]; ok {
		parts = append(parts, IconChat+" chat")
	}
	if len(parts) == 0 {
		return MutedStyle.Render("not sending")
	}
	return strings.Join(parts, "  ")
}

func (m *callModel) sortedPeers() []room.Peer {
	out := make([]room.Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *callModel) peerLine(p room.Peer) string {
	name := p.DisplayName
	if name == "" {
		name = p.ID
	}
	if p.ID == m.speaker.PeerID {
		name = SpeakerStyle.Render(IconSpeaker + " " + name)
	} else {
		name = IconPeer + " " + name
	}

	var flows []string
	for _, c := range p.Consumers {
		icon := IconMic
		if c.Kind == media.KindVideo {
			icon = IconWebcam
		}
		state := IconPlaying
		if !c.Playable() {
			state = IconPaused
		}
		flows = append(flows, icon+state)
	}
	if len(p.DataConsumers) > 0 {
		flows = append(flows, IconChat)
	}
	if len(flows) == 0 {
		return name
	}
	return name + "  " + MutedStyle.Render(strings.Join(flows, " "))
}
