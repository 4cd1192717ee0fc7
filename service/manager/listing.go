package manager

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vos-lab/vos/runtime/proc"
)

// ProcessList renders the process table for diagnostics: one row per live
// process in pid order, followed by a ready-queue snapshot.
func (m *Manager) ProcessList() string {
	m.tableMu.RLock()
	pids := make([]proc.ID, 0, len(m.processes))
	for id := range m.processes {
		pids = append(pids, id)
	}
	m.tableMu.RUnlock()
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	var b strings.Builder
	b.WriteString("  PID | PPID | Process Name         |  Ticks  | Mem Pages |   Memory   | Status\n")
	for _, id := range pids {
		p, ok := m.Get(id)
		if !ok || p.Status() == proc.StatusDead {
			continue
		}
		pages := p.Data().MemoryUsagePages()
		size, unit := humanizedSize(p.Data().MemoryUsageBytes())
		marker := " "
		if id == m.CurrentPid() {
			marker = "*"
		}
		fmt.Fprintf(&b, "#%4d | %4d | %-20s | %7d | %9d | %6.1f %-3s | %s%s\n",
			uint16(id), uint16(p.Parent()), p.Name(), p.Ticks(), pages, size, unit, marker, p.Status())
	}

	queue := m.ReadyQueue()
	parts := make([]string, 0, len(queue))
	for _, id := range queue {
		parts = append(parts, fmt.Sprintf("%d", uint16(id)))
	}
	fmt.Fprintf(&b, "Queue  : [%s]\n", strings.Join(parts, ", "))
	return b.String()
}

// humanizedSize scales a byte count to the largest binary unit below 1024.
func humanizedSize(bytes uint64) (float64, string) {
	units := []string{"B", "KiB", "MiB", "GiB", "TiB"}
	value := float64(bytes)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return value, units[i]
}
