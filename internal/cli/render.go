package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"kd5/internal/inspector"
	"kd5/pkg/types"
)

var (
	colorAlive     = lipgloss.Color("10")
	colorConnected = lipgloss.Color("12")
	colorDied      = lipgloss.Color("9")

	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	nameStyle   = lipgloss.NewStyle().Bold(true).Width(20)
	typeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Width(14)
)

func statusStyle(s types.KernelStatus) lipgloss.Style {
	st := lipgloss.NewStyle().Width(10)
	switch s {
	case types.StatusConnected:
		return st.Foreground(colorConnected).Bold(true)
	case types.StatusAlive:
		return st.Foreground(colorAlive)
	default:
		return st.Foreground(colorDied)
	}
}

// renderKernels writes one line per kernel, sorted by id.
func renderKernels(w io.Writer, ks []types.Kernel) {
	if len(ks) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no kernels found"))
		return
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i].ID < ks[j].ID })
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-8s %-10s %s", "ID", "STATUS", "CONNECTION FILE")))
	for _, k := range ks {
		fmt.Fprintf(w, "%-8s %s %s\n", k.ID, statusStyle(k.Status).Render(string(k.Status)), dimStyle.Render(k.ConnectionFile))
	}
}

// renderSnapshot writes the namespace sorted by name.
func renderSnapshot(w io.Writer, s types.Snapshot) {
	id := s.KernelID
	if id == "" {
		id = "(none)"
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("kernel %s  seq %d  %d variables", id, s.Seq, s.Len())))
	names := make([]string, 0, len(s.Variables))
	for n := range s.Variables {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		v := s.Variables[n]
		typ := v.Type
		if v.Shape != "" {
			typ += " " + v.Shape
		}
		fmt.Fprintf(w, "%s %s %s\n", nameStyle.Render(n), typeStyle.Render(typ), v.Value)
	}
}

// renderResult writes a materialised value.
func renderResult(w io.Writer, r inspector.Result) {
	fmt.Fprintln(w, headerStyle.Render(r.Name)+" "+dimStyle.Render(r.Type))
	if r.Busy {
		fmt.Fprintln(w, statusStyle(types.StatusDied).UnsetWidth().Render(r.Text))
		return
	}
	if r.Text != "" {
		fmt.Fprintln(w, r.Text)
	}
	if r.Doc != "" {
		fmt.Fprintln(w, dimStyle.Render(r.Doc))
	}
	if len(r.Attrs) > 0 {
		names := make([]string, 0, len(r.Attrs))
		for n := range r.Attrs {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			v := r.Attrs[n]
			fmt.Fprintf(w, "%s %s %s\n", nameStyle.Render(n), typeStyle.Render(v.Type), v.Value)
		}
	}
	if r.Array != nil {
		fmt.Fprintln(w, dimStyle.Render(strings.TrimSpace("shape "+joinInts(r.Array.Shape)+" "+r.Array.Dtype)))
		for _, row := range r.Array.Rows() {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
	}
	if r.Table != nil {
		// Cells are styled one by one: lipgloss expands tabs inside Render.
		header := make([]string, len(r.Table.Header))
		for i, h := range r.Table.Header {
			header[i] = headerStyle.Render(h)
		}
		fmt.Fprintln(w, strings.Join(header, "\t"))
		for _, row := range r.Table.Rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
	}
}

func joinInts(xs []int) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = fmt.Sprint(x)
	}
	return strings.Join(parts, "x")
}
