package base

import (
	"flag"
	"fmt"
	"strings"
)

// FlagSet wraps a standard flag set and renders its flags as a help
// section that commands append to their usage text.
type FlagSet struct {
	*flag.FlagSet
}

// NewFlagSet returns a FlagSet wrapping f.
func NewFlagSet(f *flag.FlagSet) *FlagSet {
	return &FlagSet{
		FlagSet: f,
	}
}

// Help returns a formatted listing of all defined flags.
func (f *FlagSet) Help() string {
	var b strings.Builder

	b.WriteString("\n\nCommand Options:\n")
	f.VisitAll(func(fl *flag.Flag) {
		b.WriteString(fmt.Sprintf("\n  -%s", fl.Name))
		if fl.DefValue != "" {
			b.WriteString(fmt.Sprintf(" (default: %s)", fl.DefValue))
		}
		b.WriteString("\n")
		for _, line := range wrapUsage(fl.Usage, 72) {
			b.WriteString(fmt.Sprintf("      %s\n", line))
		}
	})

	return b.String()
}

// wrapUsage breaks a usage string into lines of at most width runes,
// splitting on spaces.
func wrapUsage(usage string, width int) []string {
	words := strings.Fields(usage)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	line := words[0]
	for _, w := range words[1:] {
		if len(line)+1+len(w) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	lines = append(lines, line)

	return lines
}
