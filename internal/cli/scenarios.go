package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"

	"github.com/aretw0/onesided"
	"github.com/aretw0/onesided/pkg/domain"
	"github.com/aretw0/onesided/pkg/ports"
	"github.com/aretw0/onesided/pkg/rma"
	"go.uber.org/multierr"
)

// Scenario is one demonstration program run by every rank.
type Scenario func(ctx context.Context, rt *onesided.Runtime, tr ports.Transport, out *lockedWriter) error

var scenarios = map[string]Scenario{
	"fence": FenceScenario,
	"pscw":  PSCWScenario,
	"lock":  LockScenario,
	"ring":  RingScenario,
}

// ScenarioNames lists the known scenarios in a stable order.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for name := range scenarios {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunScenarios runs the named scenarios in order on every rank hosted by rt, writing
// their reports to w.
func RunScenarios(ctx context.Context, rt *onesided.Runtime, w io.Writer, names ...string) error {
	out := &lockedWriter{w: w}
	for _, name := range names {
		sc, ok := scenarios[name]
		if !ok {
			return fmt.Errorf("unknown scenario %q (known: %v)", name, ScenarioNames())
		}
		err := rt.Run(ctx, func(ctx context.Context, tr ports.Transport) error {
			return sc(ctx, rt, tr, out)
		})
		if err != nil {
			return fmt.Errorf("scenario %s: %w", name, err)
		}
	}
	return nil
}

// abortOnError tears win down on this rank when the scenario failed before releasing
// it, so that the next round can create the window again.
func abortOnError[T domain.Element](ctx context.Context, win *rma.Window[T], err *error) {
	if *err != nil {
		*err = multierr.Append(*err, win.Abort(ctx))
	}
}

// FenceScenario: rank 0 puts [7, 8] into elements 1..2 of rank 1's window, between
// two fences. Needs at least two ranks.
func FenceScenario(ctx context.Context, rt *onesided.Runtime, tr ports.Transport, out *lockedWriter) (err error) {
	if tr.Size() < 2 {
		return fmt.Errorf("%w: the fence scenario needs two ranks", domain.ErrOutOfRange)
	}
	buf := make([]int32, 4)
	win, err := onesided.Attach(ctx, rt, tr, "demo-fence", buf)
	if err != nil {
		return err
	}
	defer abortOnError(ctx, win, &err)
	if err := win.Fence(ctx); err != nil {
		return err
	}
	if tr.Rank() == 0 {
		if err := win.Put(1, 1, 2, []int32{7, 8}, 0, 2); err != nil {
			return err
		}
	}
	if err := win.Fence(ctx, rma.NoSucceed()); err != nil {
		return err
	}
	out.Printf("fence %s: %v\n", tr.Rank(), buf)
	return win.Release(ctx)
}

// PSCWScenario: rank 0 exposes its window to every other rank, which each write their
// rank number into their own slot.
func PSCWScenario(ctx context.Context, rt *onesided.Runtime, tr ports.Transport, out *lockedWriter) (err error) {
	win, err := onesided.Allocate[int64](ctx, rt, tr, "demo-pscw", tr.Size())
	if err != nil {
		return err
	}
	defer abortOnError(ctx, win, &err)

	if tr.Rank() == 0 {
		if tr.Size() > 1 {
			others := domain.RangeGroup(tr.Size()).Ranks()[1:]
			if err := win.Post(ctx, domain.NewGroup(others...)); err != nil {
				return err
			}
			if err := win.Wait(ctx); err != nil {
				return err
			}
		}
		out.Printf("pscw %s: %v\n", tr.Rank(), win.Local())
		return win.Release(ctx)
	}

	if err := win.Start(ctx, domain.NewGroup(0)); err != nil {
		return err
	}
	me := int(tr.Rank())
	if err := win.Put(0, me, 1, []int64{int64(me)}, 0, 1); err != nil {
		return err
	}
	if err := win.Complete(ctx); err != nil {
		return err
	}
	return win.Release(ctx)
}

// LockScenario: every rank writes rank+1 into its own slot of rank 0's window under
// the exclusive lock, then a fence makes the result visible to rank 0.
func LockScenario(ctx context.Context, rt *onesided.Runtime, tr ports.Transport, out *lockedWriter) (err error) {
	win, err := onesided.Allocate[int64](ctx, rt, tr, "demo-lock", tr.Size())
	if err != nil {
		return err
	}
	defer abortOnError(ctx, win, &err)

	me := int(tr.Rank())
	if err := win.LockExclusive(ctx, 0); err != nil {
		return err
	}
	if err := win.Put(0, me, 1, []int64{int64(me + 1)}, 0, 1); err != nil {
		return err
	}
	if err := win.Unlock(ctx, 0); err != nil {
		return err
	}

	if err := win.Fence(ctx, rma.NoSucceed()); err != nil {
		return err
	}
	if tr.Rank() == 0 {
		out.Printf("lock %s: %v\n", tr.Rank(), win.Local())
	}
	return win.Release(ctx)
}

// RingScenario: every rank fills its window with its rank number and reads the window
// of its left neighbour.
func RingScenario(ctx context.Context, rt *onesided.Runtime, tr ports.Transport, out *lockedWriter) (err error) {
	const length = 8
	win, err := onesided.Allocate[float64](ctx, rt, tr, "demo-ring", length)
	if err != nil {
		return err
	}
	defer abortOnError(ctx, win, &err)
	for i := range win.Local() {
		win.Local()[i] = float64(tr.Rank())
	}

	if err := win.Fence(ctx); err != nil {
		return err
	}
	prev := domain.Rank((int(tr.Rank()) + tr.Size() - 1) % tr.Size())
	halo := make([]float64, length)
	if err := win.Get(prev, 0, length, halo, 0, length); err != nil {
		return err
	}
	if err := win.Fence(ctx, rma.NoSucceed()); err != nil {
		return err
	}

	if slices.ContainsFunc(halo, func(v float64) bool { return v != float64(prev) }) {
		return fmt.Errorf("ring: halo from %s is %v", prev, halo)
	}
	out.Printf("ring %s: read %v from %s\n", tr.Rank(), halo[0], prev)
	return win.Release(ctx)
}
