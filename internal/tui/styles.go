package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/evcraddock/street-kams/internal/advisory"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	subtleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	blockStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63")).MarginTop(1)
	labelStyle    = lipgloss.NewStyle().Width(28)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	emptyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Italic(true)
	readyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	blockedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	advisoryFrame = lipgloss.NewStyle().Padding(0, 1).MarginTop(1)
)

var advisoryColors = map[advisory.Kind]lipgloss.Color{
	advisory.Success: lipgloss.Color("42"),
	advisory.Info:    lipgloss.Color("39"),
	advisory.Warning: lipgloss.Color("214"),
	advisory.Error:   lipgloss.Color("196"),
}

func advisoryStyle(k advisory.Kind) lipgloss.Style {
	c, ok := advisoryColors[k]
	if !ok {
		c = advisoryColors[advisory.Info]
	}
	return advisoryFrame.Foreground(c).Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(c)
}
