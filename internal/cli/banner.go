package cli

import (
	"fmt"
	"io"
	"strings"
)

// ProviderLine renders one row of the startup provider table.
func ProviderLine(ok bool, id, kind, note string) string {
	mark := CheckMark()
	if !ok {
		mark = CrossMark()
	}
	line := fmt.Sprintf("%s %s %s", mark, Stylize(padRight(id, 22), BoldCode), Stylize(padRight(kind, 10), Black))
	if note != "" {
		color := Black
		if !ok {
			color = Yellow
		}
		line += " " + Stylize(note, color)
	}
	return line
}

// Banner writes the startup header with the listening address.
func Banner(w io.Writer, name, version, addr string) {
	_, _ = fmt.Fprintf(w, "\n  %s %s\n", GradientText(name), Stylize("v"+version, Black))
	_, _ = fmt.Fprintf(w, "  %s listening on %s\n\n", Arrow(), Stylize(addr, Cyan))
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
