package chat

import "github.com/charmbracelet/lipgloss"

// Message roles rendered as cards in the transcript.
const (
	roleUser    = "user"
	rolePersona = "persona"
	rolePhoto   = "photo"
	roleError   = "error"
)

// palette adapts to light and dark terminals.
type palette struct {
	moon  lipgloss.AdaptiveColor
	night lipgloss.AdaptiveColor
	sky   lipgloss.AdaptiveColor
	faint lipgloss.AdaptiveColor
	you   lipgloss.AdaptiveColor
	film  lipgloss.AdaptiveColor
	alarm lipgloss.AdaptiveColor
}

var moonlight = palette{
	moon:  lipgloss.AdaptiveColor{Light: "54", Dark: "230"},
	night: lipgloss.AdaptiveColor{Light: "255", Dark: "54"},
	sky:   lipgloss.AdaptiveColor{Light: "97", Dark: "183"},
	faint: lipgloss.AdaptiveColor{Light: "243", Dark: "244"},
	you:   lipgloss.AdaptiveColor{Light: "166", Dark: "214"},
	film:  lipgloss.AdaptiveColor{Light: "30", Dark: "109"},
	alarm: lipgloss.AdaptiveColor{Light: "160", Dark: "203"},
}

// card is the title tab and body box of one transcript entry.
type card struct {
	title lipgloss.Style
	body  lipgloss.Style
	// narrow cards take part of the width and hug the right edge.
	narrow bool
}

type theme struct {
	header  lipgloss.Style
	meta    lipgloss.Style
	divider lipgloss.Style
	boot    lipgloss.Style
	online  lipgloss.Style
	idle    lipgloss.Style
	busy    lipgloss.Style
	failed  lipgloss.Style
	prompt  lipgloss.Style
	hint    lipgloss.Style
	input   lipgloss.Style
	frame   lipgloss.Style
	cards   map[string]card
}

func newTheme(p palette) theme {
	tab := func(c lipgloss.AdaptiveColor) lipgloss.Style {
		return lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(p.night).Background(c)
	}
	box := func(c lipgloss.AdaptiveColor, border lipgloss.Border) lipgloss.Style {
		return lipgloss.NewStyle().Border(border).BorderForeground(c).Padding(0, 1)
	}

	return theme{
		header:  tab(p.moon).Foreground(p.moon).Background(p.night),
		meta:    lipgloss.NewStyle().Foreground(p.sky).Italic(true),
		divider: lipgloss.NewStyle().Foreground(p.sky),
		boot:    lipgloss.NewStyle().Foreground(p.faint),
		online:  lipgloss.NewStyle().Bold(true).Foreground(p.film),
		idle:    lipgloss.NewStyle().Foreground(p.faint),
		busy:    lipgloss.NewStyle().Bold(true).Foreground(p.sky),
		failed:  lipgloss.NewStyle().Bold(true).Foreground(p.alarm),
		prompt:  lipgloss.NewStyle().Bold(true).Foreground(p.you),
		hint:    lipgloss.NewStyle().Foreground(p.faint),
		input:   box(p.you, lipgloss.RoundedBorder()),
		frame:   box(p.sky, lipgloss.NormalBorder()),
		cards: map[string]card{
			roleUser:    {title: tab(p.you), body: box(p.you, lipgloss.RoundedBorder()), narrow: true},
			rolePersona: {title: tab(p.sky), body: box(p.sky, lipgloss.RoundedBorder())},
			rolePhoto:   {title: tab(p.film), body: box(p.film, lipgloss.DoubleBorder()).Italic(true)},
			roleError:   {title: tab(p.alarm), body: box(p.alarm, lipgloss.ThickBorder()).Foreground(p.alarm)},
		},
	}
}

// render draws a card for role at the given transcript width.
func (t theme) render(role, title, body string, width int) string {
	c, ok := t.cards[role]
	if !ok {
		return body
	}
	if !c.narrow {
		return lipgloss.JoinVertical(lipgloss.Left, c.title.Render(title), c.body.Width(width).Render(body))
	}

	inner := max(20, width*3/4)
	placed := lipgloss.JoinVertical(lipgloss.Right, c.title.Render(title), c.body.Width(inner).Render(body))
	return lipgloss.PlaceHorizontal(width, lipgloss.Right, placed)
}
