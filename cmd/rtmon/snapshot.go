package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/wippyai/rtcore/msgq"
	"github.com/wippyai/rtcore/partition"
	"github.com/wippyai/rtcore/region"
	"github.com/wippyai/rtcore/registry"
	"github.com/wippyai/rtcore/sem"
	"github.com/wippyai/rtcore/task"
)

type objectRow struct {
	kind   string
	name   string
	handle string
	detail string
	refs   int
	dead   bool
}

// collect describes every registered object, ordered by kind then name.
func collect(reg *registry.Registry) []objectRow {
	var rows []objectRow
	reg.Each(func(info registry.Info) bool {
		name := info.Name
		if name == "" {
			name = "-"
		}
		rows = append(rows, objectRow{
			kind:   info.Kind.String(),
			name:   name,
			handle: info.Handle.String(),
			detail: describe(info.Value),
			refs:   int(info.Refs),
			dead:   info.Dead,
		})
		return true
	})
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].kind != rows[j].kind {
			return rows[i].kind < rows[j].kind
		}
		return rows[i].name < rows[j].name
	})
	return rows
}

func describe(v any) string {
	switch o := v.(type) {
	case *task.Task:
		state := o.State().String()
		if o.Suspended() {
			state += "+suspended"
		}
		return fmt.Sprintf("%s prio=%d", state, o.Priority())
	case *sem.Semaphore:
		return fmt.Sprintf("count=%d waiting=%d", o.Count(), o.Waiting())
	case *msgq.Queue:
		s, r := o.Waiting()
		return fmt.Sprintf("len=%d/%d senders=%d receivers=%d", o.Len(), o.Cap(), s, r)
	case *partition.Partition:
		st := o.Stats()
		return fmt.Sprintf("used=%d/%d block=%d", st.Used, st.Blocks, st.BlockSize)
	case *region.Region:
		st := o.Stats()
		return fmt.Sprintf("used=%d/%d segments=%d waiting=%d",
			st.UsedBytes, st.Capacity, st.UsedSegments, st.Waiting)
	default:
		return ""
	}
}

func filterRows(rows []objectRow, filter string) []objectRow {
	if filter == "" {
		return rows
	}
	filter = strings.ToLower(filter)
	var out []objectRow
	for _, r := range rows {
		if strings.Contains(r.kind, filter) || strings.Contains(strings.ToLower(r.name), filter) {
			out = append(out, r)
		}
	}
	return out
}

func printSnapshot(w io.Writer, rows []objectRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tNAME\tHANDLE\tREFS\tDETAIL")
	for _, r := range rows {
		name := r.name
		if r.dead {
			name += " (deleted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.kind, name, r.handle, r.refs, r.detail)
	}
	return tw.Flush()
}
