package executor

import (
	"strings"

	"github.com/hivellm/nexus/internal/gvalue"
	"github.com/hivellm/nexus/internal/planner"
)

// execAggregate groups rows by op.GroupKeys and folds op.Aggregates over
// each group. A single ungrouped COUNT(*) over an unfiltered scan takes a
// constant-time path straight from the catalog's live counters instead of
// materializing and counting every row, but only while the query's
// snapshot is still the latest one (see fastCountStar).
func execAggregate(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	if fast, ok, err := fastCountStar(rt, q, op); err != nil {
		return nil, err
	} else if ok {
		return fast, nil
	}

	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}

	type group struct {
		keyRow Row
		acc    []*accumulator
	}
	groups := make(map[string]*group)
	var order []string

	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		keyVals := make([]gvalue.Value, len(op.GroupKeys))
		keyRow := make(Row, len(op.GroupKeys))
		for i, gk := range op.GroupKeys {
			v, err := evalExpr(gk.Expr, row, q.Params, rt, q)
			if err != nil {
				return nil, err
			}
			keyVals[i] = v
			keyRow[gk.Alias] = Binding{Kind: BindValue, Value: v}
		}
		gk := groupKey(keyVals)
		g, ok := groups[gk]
		if !ok {
			g = &group{keyRow: keyRow, acc: make([]*accumulator, len(op.Aggregates))}
			for i, agg := range op.Aggregates {
				g.acc[i] = newAccumulator(agg.Func)
			}
			groups[gk] = g
			order = append(order, gk)
		}
		for i, agg := range op.Aggregates {
			var val gvalue.Value
			if agg.Arg != nil {
				val, err = evalExpr(agg.Arg, row, q.Params, rt, q)
				if err != nil {
					return nil, err
				}
			}
			g.acc[i].add(val, agg.Distinct)
		}
	}

	if len(groups) == 0 && len(op.GroupKeys) == 0 {
		// No input rows at all: aggregates still produce one row (count=0,
		// sum=0, avg/min/max=null, collect=[]), matching Cypher's
		// zero-group aggregate semantics.
		g := &group{keyRow: Row{}, acc: make([]*accumulator, len(op.Aggregates))}
		for i, agg := range op.Aggregates {
			g.acc[i] = newAccumulator(agg.Func)
		}
		groups[""] = g
		order = append(order, "")
	}

	out := make([]Row, 0, len(order))
	for _, k := range order {
		g := groups[k]
		row := g.keyRow.clone()
		for i, agg := range op.Aggregates {
			row[agg.Alias] = Binding{Kind: BindValue, Value: g.acc[i].result()}
		}
		out = append(out, row)
	}
	return out, nil
}

func groupKey(vals []gvalue.Value) string {
	var sb strings.Builder
	for _, v := range vals {
		sb.WriteString(v.String())
		sb.WriteByte(0)
	}
	return sb.String()
}

// fastCountStar recognizes `RETURN count(*)` (no grouping, exactly one
// aggregate, COUNT with no Arg) over an unfiltered full scan or
// single-label scan and answers it from catalog counters — but only when
// q's snapshot is still the latest one. Catalog counters are bumped
// synchronously at every commit with no epoch tag of their own, so a
// reader whose snapshot predates a commit that has since landed must fall
// back to the row-by-row path (execNodeByLabel/execAllNodes), which
// filters every candidate through q.Tx.Visible and so never counts a
// write its own snapshot wouldn't observe.
func fastCountStar(rt *Runtime, q *Query, op *planner.Op) ([]Row, bool, error) {
	if len(op.GroupKeys) != 0 || len(op.Aggregates) != 1 {
		return nil, false, nil
	}
	agg := op.Aggregates[0]
	if !strings.EqualFold(agg.Func, "count") || agg.Arg != nil || agg.Distinct {
		return nil, false, nil
	}
	if op.Input == nil {
		return nil, false, nil
	}
	if q.Tx == nil || !q.Tx.IsLatestSnapshot() {
		return nil, false, nil
	}
	var n int64
	switch op.Input.Kind {
	case planner.KindAllNodes:
		n = rt.Catalog.TotalNodes()
	case planner.KindNodeByLabel:
		if len(op.Input.Labels) != 1 {
			return nil, false, nil
		}
		labelID, ok := rt.Catalog.LookupLabelID(op.Input.Labels[0])
		if !ok {
			n = 0
		} else {
			n = rt.Catalog.NodeCountForLabel(labelID)
		}
	default:
		return nil, false, nil
	}
	return []Row{{agg.Alias: {Kind: BindValue, Value: gvalue.Int(n)}}}, true, nil
}

type accumulator struct {
	fn       string
	count    int64
	sum      float64
	sumIsInt bool
	min, max gvalue.Value
	haveMM   bool
	collect  []gvalue.Value
	seen     map[string]bool
}

func newAccumulator(fn string) *accumulator {
	return &accumulator{fn: strings.ToLower(fn), sumIsInt: true, seen: make(map[string]bool)}
}

func (a *accumulator) add(v gvalue.Value, distinct bool) {
	if distinct {
		k := v.String()
		if a.seen[k] {
			return
		}
		a.seen[k] = true
	}
	switch a.fn {
	case "count":
		a.count++
	case "sum", "avg":
		f := asFloat(v)
		if v.Kind() != gvalue.KindInt {
			a.sumIsInt = false
		}
		a.sum += f
		a.count++
	case "min", "max":
		if v.IsNull() {
			return
		}
		if !a.haveMM {
			a.min, a.max = v, v
			a.haveMM = true
			return
		}
		if v.Compare(a.min) < 0 {
			a.min = v
		}
		if v.Compare(a.max) > 0 {
			a.max = v
		}
	case "collect":
		if !v.IsNull() {
			a.collect = append(a.collect, v)
		}
	}
}

func (a *accumulator) result() gvalue.Value {
	switch a.fn {
	case "count":
		return gvalue.Int(a.count)
	case "sum":
		if a.sumIsInt {
			return gvalue.Int(int64(a.sum))
		}
		return gvalue.Float(a.sum)
	case "avg":
		if a.count == 0 {
			return gvalue.Null()
		}
		return gvalue.Float(a.sum / float64(a.count))
	case "min":
		if !a.haveMM {
			return gvalue.Null()
		}
		return a.min
	case "max":
		if !a.haveMM {
			return gvalue.Null()
		}
		return a.max
	case "collect":
		return gvalue.List(a.collect)
	default:
		return gvalue.Null()
	}
}
