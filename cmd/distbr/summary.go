package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/openmined/distbr/internal/postbuild"
)

var (
	red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	gray  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

func printSummary(w io.Writer, rep *postbuild.Report) {
	status := green.Render("✅ done")
	if rep.Err != nil {
		status = red.Render("❌ done with errors")
	}

	fmt.Fprintf(w, "%s %s\n", status, gray.Render(rep.Root))
	fmt.Fprintf(w, "  files    %d\n", rep.Files)
	fmt.Fprintf(w, "  written  %d (%s saved)\n", rep.Written, humanize.IBytes(uint64(rep.SavedBytes)))
	fmt.Fprintf(w, "  skipped  %d\n", rep.Skipped)
	if rep.Exists > 0 {
		fmt.Fprintf(w, "  exists   %d\n", rep.Exists)
	}
	if rep.Failed > 0 {
		fmt.Fprintf(w, "  %s\n", red.Render(fmt.Sprintf("failed   %d", rep.Failed)))
	}
	fmt.Fprintf(w, "  took     %s\n", rep.Duration.Round(time.Millisecond))
}
