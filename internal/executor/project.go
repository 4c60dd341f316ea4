package executor

import (
	"sort"

	"github.com/hivellm/nexus/internal/gvalue"
	"github.com/hivellm/nexus/internal/planner"
)

func execProject(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		projected := make(Row, len(op.ProjectItems))
		for _, item := range op.ProjectItems {
			val, err := evalExpr(item.Expr, row, q.Params, rt, q)
			if err != nil {
				return nil, err
			}
			projected[item.Alias] = Binding{Kind: BindValue, Value: val}
		}
		out = append(out, projected)
	}
	if op.Distinct {
		out = dedupeRows(out)
	}
	return out, nil
}

func execSort(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	type keyed struct {
		row  Row
		keys []gvalue.Value
	}
	items := make([]keyed, len(rows))
	for i, row := range rows {
		if err := checkCancel(q.Ctx); err != nil {
			return nil, err
		}
		keys := make([]gvalue.Value, len(op.SortKeys))
		for j, sk := range op.SortKeys {
			v, err := evalExpr(sk.Expr, row, q.Params, rt, q)
			if err != nil {
				return nil, err
			}
			keys[j] = v
		}
		items[i] = keyed{row: row, keys: keys}
	}
	sort.SliceStable(items, func(i, j int) bool {
		for k, sk := range op.SortKeys {
			c := items[i].keys[k].Compare(items[j].keys[k])
			if c == 0 {
				continue
			}
			if sk.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	out := make([]Row, len(items))
	for i, it := range items {
		out[i] = it.row
	}
	return out, nil
}

func evalCount(rt *Runtime, q *Query, op *planner.Op, row Row) (int, error) {
	v, err := evalExpr(op.CountExpr, row, q.Params, rt, q)
	if err != nil {
		return 0, err
	}
	if v.Kind() != gvalue.KindInt {
		return 0, nil
	}
	n := int(v.AsInt())
	if n < 0 {
		n = 0
	}
	return n, nil
}

func execSkip(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	n, err := evalCount(rt, q, op, Row{})
	if err != nil {
		return nil, err
	}
	if n >= len(rows) {
		return nil, nil
	}
	return rows[n:], nil
}

func execLimit(rt *Runtime, q *Query, op *planner.Op) ([]Row, error) {
	rows, err := input(rt, q, op)
	if err != nil {
		return nil, err
	}
	n, err := evalCount(rt, q, op, Row{})
	if err != nil {
		return nil, err
	}
	if n >= len(rows) {
		return rows, nil
	}
	return rows[:n], nil
}
