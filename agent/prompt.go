// ABOUTME: System prompt for the simulation assistant.
// ABOUTME: Embeds the session's identity and current run status so the model starts oriented.
package agent

import (
	"fmt"
	"strings"

	"github.com/2389-research/mdsession/session/core"
)

const basePrompt = `You are an assistant for molecular dynamics simulations run with GROMACS and PLUMED.
You help the user configure, launch and monitor simulations in their session.

Use the tools to read the current config, update it, regenerate input files, check
simulation status, list files and read progress. Never guess a config value; read it.
Config edits are refused while a simulation is running; tell the user to stop it first.
Keep answers short and concrete.`

// SystemPrompt builds the prompt for a session.
func SystemPrompt(sess core.Session) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n## Session\n")
	fmt.Fprintf(&b, "- id: %s\n", sess.ID)
	if sess.Nickname != "" {
		fmt.Fprintf(&b, "- nickname: %s\n", sess.Nickname)
	}
	fmt.Fprintf(&b, "- run status: %s\n", sess.Run.Status)
	if sess.SelectedArtifact != "" {
		fmt.Fprintf(&b, "- selected structure: %s\n", sess.SelectedArtifact)
	}
	if c := sess.Choice; c.Method != "" || c.System != "" {
		fmt.Fprintf(&b, "- method: %s, system: %s, engine template: %s\n", c.Method, c.System, c.Gromacs)
	}
	return b.String()
}
