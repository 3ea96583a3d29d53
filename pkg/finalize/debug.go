package finalize

import (
	"fmt"
	"io"
	"sort"

	"github.com/valyala/bytebufferpool"
)

// DumpState writes a human-readable snapshot of the system to w: cycle
// counter, queue depth, and one line per addressable handle in id order.
// The snapshot is advisory; states may move while it is being taken.
func (s *System) DumpState(w io.Writer) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	views := make([]HandleView, 0, s.table.len())
	s.table.each(func(h *handle) bool {
		views = append(views, h.view())
		return true
	})
	sort.Slice(views, func(i, j int) bool { return views[i].ID < views[j].ID })

	fmt.Fprintf(buf, "finalize: cycle=%d queue=%d live=%d reclaimed=%d\n",
		s.cycleNum.Load(), s.queue.len(), len(views), s.table.tombstones.Count())
	for _, v := range views {
		fmt.Fprintf(buf, "  handle %d: state=%s suppressed=%t reachable=%t attempts=%d\n",
			v.ID, v.State, v.Suppressed, v.Reachable, v.Attempts)
	}

	_, err := w.Write(buf.B)
	return err
}
