package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/BioHazard786/Warpcall/internal/media"
	"github.com/BioHazard786/Warpcall/internal/room"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.FgCyan, text.Bold}
	t.Style().Color.Border = text.Colors{text.FgCyan}
	t.Style().Color.Separator = text.Colors{text.FgCyan}
	t.Style().Format.Header = text.FormatDefault
	if title != "" {
		t.SetTitle(title)
		t.Style().Title.Colors = text.Colors{text.FgHiCyan, text.Bold}
	}
	return t
}

// DevicesView lists capture devices.
func DevicesView(devices []media.DeviceInfo) string {
	if len(devices) == 0 {
		return MutedStyle.Render("No capture devices found")
	}

	t := newTable(IconWebcam + " Capture Devices")
	t.AppendHeader(table.Row{"#", "Kind", "Label", "ID"})
	for i, d := range devices {
		t.AppendRow(table.Row{i + 1, kindLabel(d.Kind), truncate(d.Label, 40), d.ID})
	}
	return t.Render()
}

func RenderDevices(devices []media.DeviceInfo) {
	fmt.Println(DevicesView(devices))
}

// PeersView lists remote peers with their inbound flows.
func PeersView(peers []room.Peer) string {
	if len(peers) == 0 {
		return MutedStyle.Render("Nobody else is here")
	}

	t := newTable(IconPeer + " Peers")
	t.AppendHeader(table.Row{"Name", "ID", "Audio", "Video", "Data"})
	for _, p := range peers {
		audio, video := consumerCounts(p)
		t.AppendRow(table.Row{displayName(p), p.ID, audio, video, len(p.DataConsumers)})
	}
	return t.Render()
}

// SessionSummary is what the join command prints on exit.
type SessionSummary struct {
	RoomID    string
	PeerID    string
	State     room.State
	Duration  time.Duration
	Peers     []room.Peer
	Producers []room.ProducerInfo
}

func SessionSummaryView(s SessionSummary) string {
	t := newTable(IconCall + " Call Summary")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.RoomID},
		{"Peer", s.PeerID},
		{"State", s.State.String()},
		{"Duration", s.Duration.Round(time.Second).String()},
		{"Peers", len(s.Peers)},
		{"Sending", producerList(s.Producers)},
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignRight},
	})
	return t.Render()
}

func RenderSessionSummary(s SessionSummary) {
	fmt.Println(SessionSummaryView(s))
}

func consumerCounts(p room.Peer) (audio, video int) {
	for _, c := range p.Consumers {
		switch c.Kind {
		case media.KindAudio:
			audio++
		case media.KindVideo:
			video++
		}
	}
	return audio, video
}

func producerList(producers []room.ProducerInfo) string {
	if len(producers) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(producers))
	for _, p := range producers {
		parts = append(parts, p.Source)
	}
	return strings.Join(parts, ", ")
}

func kindLabel(k media.Kind) string {
	switch k {
	case media.KindAudio:
		return IconMic + " audio"
	case media.KindVideo:
		return IconWebcam + " video"
	}
	return string(k)
}

func displayName(p room.Peer) string {
	if p.DisplayName == "" {
		return MutedStyle.Render("(unnamed)")
	}
	return p.DisplayName
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
