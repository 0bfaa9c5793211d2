package banner

import (
	"github.com/charmbracelet/lipgloss"

	"samplerelay/internal/tui/styles"
)

const ascii = `
                            __                __
   _________ _____ ___  ____  / /__  ________  / /___ ___  __
  / ___/ __ '/ __ '__ \/ __ \/ / _ \/ ___/ _ \/ / __ '/ / / /
 (__  ) /_/ / / / / / / /_/ / /  __/ /  /  __/ / /_/ / /_/ /
/____/\__,_/_/ /_/ /_/ .___/_/\___/_/   \___/_/\__,_/\__, /
                    /_/                             /____/ `

func GetString() string {
	style := lipgloss.DefaultRenderer().NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	return "\n" + style.Render(ascii) + "\n" +
		styles.Subtle.Render("  sample results in, telemetry out") + "\n"
}
