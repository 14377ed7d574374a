package main

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/worldx-ucra/worldcache/internal/cache"
	"golang.org/x/term"
)

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(18)
	pathStyle  = lipgloss.NewStyle().Bold(true)

	outcomeStyles = map[string]lipgloss.Style{
		cache.OutcomeHit.String():        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		cache.OutcomeMiss.String():       lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		cache.OutcomeStale.String():      lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		cache.OutcomeCorrupt.String():    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		cache.StatusValid.String():       lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		cache.StatusAbsent.String():      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		cache.StatusInvalidated.String(): lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		"error":                          lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// printer renders CLI output, styled only when writing to a terminal.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return printer{w: w, styled: styled}
}

func (p printer) tag(s string) string {
	if !p.styled {
		return s
	}
	if st, ok := outcomeStyles[s]; ok {
		return st.Render(s)
	}
	return s
}

func (p printer) label(s string) string {
	if !p.styled {
		return s + ":"
	}
	return labelStyle.Render(s + ":")
}

func (p printer) path(s string) string {
	if !p.styled {
		return s
	}
	return pathStyle.Render(s)
}
