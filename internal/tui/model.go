// Package tui is the terminal viewer. It renders the active channel's virtual
// window, reports measured row counts back to the feed engine and turns key
// presses into scroll, pagination and channel switches.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chatfeed/internal/feed"
	"chatfeed/internal/models"
)

const (
	// header, status line and help line
	chromeRows = 3
	// Measuring can shift the window onto unmeasured items; this bounds the
	// passes per frame.
	maxLayoutPasses = 8
	eventBuffer     = 64
)

// ConnStatusMsg reports the live connection going up or down.
type ConnStatusMsg struct {
	Connected bool
}

// ReconnectedMsg is sent after the live session is re-established. Anything
// published while it was down is missing from the warm channels.
type ReconnectedMsg struct{}

// SubscribedMsg carries the channel list the server confirmed for the live
// session. Channels missing from it get no live updates.
type SubscribedMsg struct {
	ChannelIDs []string
}

type feedEventMsg struct {
	ev feed.Event
}

type initialLoadedMsg struct {
	channelID string
	err       error
}

type olderLoadedMsg struct {
	channelID string
	err       error
}

type jumpDoneMsg struct {
	channelID string
	err       error
}

type layoutSettledMsg struct {
	channelID string
}

type Model struct {
	ctx      context.Context
	manager  *feed.Manager
	channels []models.Channel
	active   int
	logger   *slog.Logger

	events   chan feed.Event
	keys     KeyMap
	help     help.Model
	spinner  spinner.Model
	spinning bool
	styles   styles
	renderer *itemRenderer

	width, height int
	frame         []string
	settlePending bool
	connected     bool
	subscribed    map[string]bool // nil until the server confirms
	notice        string
}

// New builds the viewer over manager. The manager's listener is replaced.
func New(ctx context.Context, manager *feed.Manager, channels []models.Channel, initial string, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	s := defaultStyles()
	m := &Model{
		ctx:      ctx,
		manager:  manager,
		channels: channels,
		logger:   logger.With("component", "tui"),
		events:   make(chan feed.Event, eventBuffer),
		keys:     DefaultKeyMap(),
		help:     help.New(),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		styles:   s,
		renderer: newItemRenderer(s),
	}
	for i, ch := range channels {
		if ch.ID == initial || ch.Name == initial {
			m.active = i
		}
	}
	manager.SetListener(m.listen)
	if len(channels) > 0 {
		manager.Switch(channels[m.active].ID)
	}
	return m
}

// listen runs on whatever goroutine changed the channel, including the
// program's own Update, so it must never block.
func (m *Model) listen(ev feed.Event) {
	select {
	case m.events <- ev:
	default:
	}
}

func (m *Model) waitForEvent() tea.Msg {
	select {
	case ev := <-m.events:
		// Collapse a burst into one redraw.
		for {
			select {
			case ev = <-m.events:
			default:
				return feedEventMsg{ev: ev}
			}
		}
	case <-m.ctx.Done():
		return nil
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.waitForEvent, m.openActive())
}

func (m *Model) channel() *feed.Channel {
	return m.manager.Active()
}

func (m *Model) activeID() string {
	if len(m.channels) == 0 {
		return ""
	}
	return m.channels[m.active].ID
}

func (m *Model) feedRows() int {
	return max(m.height-chromeRows, 1)
}

// openActive sizes the active channel and loads it unless it is warm.
func (m *Model) openActive() tea.Cmd {
	ch := m.channel()
	if ch == nil {
		return nil
	}
	if m.height > 0 {
		ch.Resize(float64(m.feedRows()))
	}
	st := ch.State()
	if st.Loaded || st.LoadingInitial {
		return nil
	}
	return tea.Batch(m.loadInitial(ch), m.startSpinner())
}

func (m *Model) loadInitial(ch *feed.Channel) tea.Cmd {
	id := ch.ID()
	return func() tea.Msg {
		return initialLoadedMsg{channelID: id, err: ch.LoadInitial(m.ctx)}
	}
}

func (m *Model) startSpinner() tea.Cmd {
	if m.spinning {
		return nil
	}
	m.spinning = true
	return m.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		if err := m.renderer.setWidth(msg.Width); err != nil {
			m.logger.Error("resizing renderer", "error", err)
		}
		if ch := m.channel(); ch != nil {
			ch.Resize(float64(m.feedRows()))
		}

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Quit) {
			return m, tea.Quit
		}
		cmds = append(cmds, m.handleKey(msg))

	case feedEventMsg:
		if msg.ev.Err != nil {
			m.logger.Debug("feed event", "kind", msg.ev.Kind.String(), "channel_id", msg.ev.ChannelID, "error", msg.ev.Err)
		}
		cmds = append(cmds, m.waitForEvent)

	case initialLoadedMsg:
		if msg.err != nil {
			m.logger.Warn("initial load failed", "channel_id", msg.channelID, "error", msg.err)
		}

	case olderLoadedMsg:
		if msg.err != nil {
			m.logger.Warn("loading older messages failed", "channel_id", msg.channelID, "error", msg.err)
		}

	case jumpDoneMsg:
		if msg.err != nil {
			m.notice = "Couldn't load the latest messages"
			m.logger.Warn("jump to latest failed", "channel_id", msg.channelID, "error", msg.err)
		}

	case layoutSettledMsg:
		m.settlePending = false
		if ch := m.channel(); ch != nil && ch.ID() == msg.channelID {
			ch.LayoutSettled()
		}

	case ConnStatusMsg:
		m.connected = msg.Connected

	case ReconnectedMsg:
		cmds = append(cmds, m.resync())

	case SubscribedMsg:
		m.setSubscribed(msg.ChannelIDs)

	case spinner.TickMsg:
		if m.busy() {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		} else {
			m.spinning = false
		}
	}

	cmds = append(cmds, m.layout()...)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	ch := m.channel()
	if ch == nil {
		return nil
	}
	m.notice = ""
	page := float64(max(m.feedRows()-1, 1))

	switch {
	case key.Matches(msg, m.keys.Up):
		ch.ScrollBy(-1)
	case key.Matches(msg, m.keys.Down):
		ch.ScrollBy(1)
	case key.Matches(msg, m.keys.PageUp):
		ch.ScrollBy(-page)
	case key.Matches(msg, m.keys.PageDown):
		ch.ScrollBy(page)
	case key.Matches(msg, m.keys.Top):
		ch.OnScroll(0)
	case key.Matches(msg, m.keys.Latest):
		id := ch.ID()
		return func() tea.Msg {
			return jumpDoneMsg{channelID: id, err: ch.JumpToLatest(m.ctx)}
		}
	case key.Matches(msg, m.keys.Retry):
		return m.retry(ch)
	case key.Matches(msg, m.keys.Next):
		return m.switchTo(m.active + 1)
	case key.Matches(msg, m.keys.Prev):
		return m.switchTo(m.active - 1)
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return nil
}

func (m *Model) retry(ch *feed.Channel) tea.Cmd {
	if ch.State().InitialErr != nil {
		return tea.Batch(m.loadInitial(ch), m.startSpinner())
	}
	fetch, err := ch.TryRetry()
	if errors.Is(err, feed.ErrNoPaginationError) {
		m.notice = "Nothing to retry"
		return nil
	}
	id := ch.ID()
	return tea.Batch(func() tea.Msg {
		return olderLoadedMsg{channelID: id, err: fetch(m.ctx)}
	}, m.startSpinner())
}

func (m *Model) switchTo(i int) tea.Cmd {
	if len(m.channels) < 2 {
		return nil
	}
	m.active = (i + len(m.channels)) % len(m.channels)
	m.manager.Switch(m.activeID())
	m.frame = nil
	return m.openActive()
}

// resync drops every warm channel except the active one, which reloads in
// place.
func (m *Model) resync() tea.Cmd {
	active := m.activeID()
	for _, id := range m.manager.ChannelIDs() {
		if id != active {
			m.manager.Drop(id)
		}
	}
	ch := m.channel()
	if ch == nil {
		return nil
	}
	return tea.Batch(m.loadInitial(ch), m.startSpinner())
}

func (m *Model) busy() bool {
	ch := m.channel()
	if ch == nil {
		return false
	}
	st := ch.State()
	return st.LoadingInitial || st.IsLoadingOlder
}

// layout renders the active window, reports every row count that differs from
// the engine's estimate and rebuilds the frame. It returns the follow-up work
// the engine asked for: a settle notification and a backward fetch.
func (m *Model) layout() []tea.Cmd {
	ch := m.channel()
	if ch == nil || m.height == 0 {
		return nil
	}

	var (
		r    feed.Range
		msgs []models.Message
		rows map[int][]string
	)
	for pass := 0; pass < maxLayoutPasses; pass++ {
		msgs = ch.Messages()
		r = ch.Range()
		var changed, stale bool
		rows = make(map[int][]string, len(r.Items))
		for _, item := range r.Items {
			if item.Index >= len(msgs) || msgs[item.Index].ID != item.ID {
				stale = true
				break
			}
			var prev *models.Message
			if item.Index > 0 {
				prev = &msgs[item.Index-1]
			}
			lines := m.renderer.render(&msgs[item.Index], feed.IsCompact(prev, &msgs[item.Index]))
			rows[item.Index] = lines
			if float64(len(lines)) != item.Size {
				ch.Measure(item.Index, float64(len(lines)))
				changed = true
			}
		}
		if !changed && !stale {
			break
		}
	}

	keep := make(map[string]bool, len(msgs))
	for _, msg := range msgs {
		keep[msg.ID] = true
	}
	m.renderer.forget(keep)

	st := ch.State()
	offset := int(math.Round(st.Viewport.Offset))
	extent := m.feedRows()
	frame := make([]string, extent)
	for _, item := range r.Items {
		start := int(math.Round(item.Start))
		for j, line := range rows[item.Index] {
			if pos := start + j - offset; pos >= 0 && pos < extent {
				frame[pos] = line
			}
		}
	}
	m.frame = frame

	var cmds []tea.Cmd
	if !m.settlePending && ch.AwaitingLayout() {
		m.settlePending = true
		id := ch.ID()
		cmds = append(cmds, func() tea.Msg { return layoutSettledMsg{channelID: id} })
	}
	if ch.ShouldLoadOlder() {
		if fetch, ok := ch.TryLoadOlder(); ok {
			id := ch.ID()
			cmds = append(cmds, func() tea.Msg {
				return olderLoadedMsg{channelID: id, err: fetch(m.ctx)}
			}, m.startSpinner())
		}
	}
	return cmds
}

func (m *Model) View() string {
	if m.height == 0 {
		return ""
	}
	if len(m.channels) == 0 {
		return "No channels.\n"
	}

	var b strings.Builder
	b.WriteString(m.tabs())
	b.WriteByte('\n')

	ch := m.channel()
	st := ch.State()
	body := m.frame
	switch {
	case !st.Loaded && st.InitialErr != nil:
		body = centered(m.styles.errorText.Render("Couldn't load messages. Press r to retry."), m.feedRows())
	case !st.Loaded:
		body = centered(m.spinner.View()+" Loading messages…", m.feedRows())
	case st.Len == 0:
		body = centered(m.styles.status.Render("No messages yet."), m.feedRows())
	}
	for i := 0; i < m.feedRows(); i++ {
		if i < len(body) {
			b.WriteString(body[i])
		}
		b.WriteByte('\n')
	}

	b.WriteString(m.statusLine(st))
	b.WriteByte('\n')
	b.WriteString(m.help.View(m.keys))
	return b.String()
}

func (m *Model) tabs() string {
	parts := make([]string, len(m.channels))
	for i, c := range m.channels {
		name := "#" + c.Name
		if i == m.active {
			parts[i] = m.styles.activeTab.Render(name)
		} else {
			parts[i] = m.styles.tab.Render(name)
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (m *Model) statusLine(st feed.State) string {
	var left string
	switch {
	case m.notice != "":
		left = m.styles.errorText.Render(m.notice)
	case st.PaginationErr != nil:
		left = m.styles.errorText.Render("Couldn't load older messages. Press r to retry.")
	case st.IsLoadingOlder:
		left = m.spinner.View() + m.styles.status.Render(" Loading older messages…")
	case st.Loaded && !st.HasMoreOlder && st.Viewport.Offset <= 0:
		left = m.styles.status.Render("Beginning of #" + m.channels[m.active].Name)
	}

	var right []string
	if st.Indicator.HasNewMessages {
		right = append(right, m.styles.indicator.Render(newMessagesLabel(st.Indicator.NewMessageCount)))
	}
	switch {
	case m.connected && !m.isSubscribed(m.channels[m.active].ID):
		right = append(right, m.styles.offline.Render("○ not subscribed"))
	case m.connected:
		right = append(right, m.styles.online.Render("● live"))
	default:
		right = append(right, m.styles.offline.Render("○ offline"))
	}
	rightText := strings.Join(right, "  ")

	gap := m.width - lipgloss.Width(left) - lipgloss.Width(rightText)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + rightText
}

func newMessagesLabel(n int) string {
	if n == 1 {
		return "1 new message · End to jump"
	}
	return fmt.Sprintf("%d new messages · End to jump", n)
}

func centered(line string, rows int) []string {
	out := make([]string, rows)
	out[rows/2] = "  " + line
	return out
}

func (m *Model) setSubscribed(ids []string) {
	m.subscribed = make(map[string]bool, len(ids))
	for _, id := range ids {
		m.subscribed[id] = true
	}
	var missing []string
	for _, ch := range m.channels {
		if !m.subscribed[ch.ID] {
			missing = append(missing, ch.Name)
		}
	}
	if len(missing) > 0 {
		m.logger.Warn("channels without live updates", "channels", missing)
	}
}

func (m *Model) isSubscribed(channelID string) bool {
	return m.subscribed == nil || m.subscribed[channelID]
}
