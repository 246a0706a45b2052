package popup

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Rorqualx/proxyauth/internal/badge"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1A73E8"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5F6368"))
	nameStyle    = lipgloss.NewStyle().Bold(true)
	keyStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1A73E8"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#9E9E9E"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#155724")).Background(lipgloss.Color("#D4EDDA")).Padding(0, 1)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#721C24")).Background(lipgloss.Color("#F8D7DA")).Padding(0, 1)
	frameStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#DADCE0")).Padding(1, 2)
)

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Proxy Auth"))
	b.WriteString("\n\n")

	switch {
	case m.busy == opRestore:
		b.WriteString(mutedStyle.Render("Checking session..."))
	case m.tokenInput:
		m.viewTokenInput(&b)
	case m.loggedIn:
		m.viewUser(&b)
	default:
		m.viewLogin(&b)
	}

	if m.status != "" {
		b.WriteString("\n\n")
		if m.statusKind == statusError {
			b.WriteString(errorStyle.Render(m.status))
		} else {
			b.WriteString(successStyle.Render(m.status))
		}
	}

	frame := frameStyle
	if m.width > 4 && m.width < 60 {
		frame = frame.Width(m.width - 4)
	}
	return frame.Render(b.String()) + "\n"
}

func (m Model) viewLogin(b *strings.Builder) {
	b.WriteString("Sign in to use the proxy.\n\n")
	b.WriteString(button("l", "Sign in with Google", "Signing in...", m.busy == opSignIn))
	b.WriteString("\n")
	b.WriteString(button("q", "Quit", "", false))
}

func (m Model) viewTokenInput(b *strings.Builder) {
	b.WriteString("No Google account is available on this machine.\n")
	b.WriteString("Paste an identity token and press Enter.\n\n")
	masked := strings.Repeat("•", len([]rune(m.input)))
	b.WriteString(labelStyle.Render("Token: ") + masked + "█\n\n")
	b.WriteString(mutedStyle.Render("enter sign in · esc cancel"))
}

func (m Model) viewUser(b *strings.Builder) {
	name, email := "User", ""
	var ips []string
	if m.profile != nil {
		if m.profile.Name != "" {
			name = m.profile.Name
		}
		email = m.profile.Email
		ips = m.profile.IPs
	}

	b.WriteString(nameStyle.Render(name))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(email))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render("Authorized IPs: "))
	if len(ips) == 0 {
		b.WriteString(mutedStyle.Render("none"))
	} else {
		b.WriteString(strings.Join(ips, ", "))
	}
	b.WriteString("\n")

	b.WriteString(labelStyle.Render("Proxy: "))
	switch {
	case !m.proxyKnown:
		b.WriteString(badge.Style(badge.Error))
	case m.proxyActive:
		b.WriteString(badge.Style(badge.On))
	default:
		b.WriteString(badge.Style(badge.Off))
	}
	b.WriteString("\n\n")

	b.WriteString(button("a", "Add Proxy", "Adding...", m.busy == opAddProxy))
	b.WriteString("\n")
	b.WriteString(button("r", "Remove Proxy", "Removing...", m.busy == opRemoveProxy))
	b.WriteString("\n")
	b.WriteString(button("o", "Sign out", "Signing out...", m.busy == opLogout))
	b.WriteString("\n")
	b.WriteString(button("q", "Quit", "", false))
}

func button(key, label, loading string, busy bool) string {
	if busy {
		return mutedStyle.Render("[" + key + "] " + loading)
	}
	return keyStyle.Render("["+key+"]") + " " + label
}
