package planner

import (
	"fmt"
	"sort"

	"github.com/hivellm/nexus/internal/catalog"
	"github.com/hivellm/nexus/internal/cypher"
)

var aggregateFuncs = map[string]bool{
	"count": true, "sum": true, "avg": true, "min": true, "max": true, "collect": true,
}

// buildCtx carries the one piece of planning state that must survive
// across an entire query arm: which variables have already been bound by
// an earlier clause, so a later MATCH/CREATE/FOREACH referencing the same
// name reuses the binding instead of re-scanning.
type buildCtx struct {
	cat   *catalog.Catalog
	bound map[string]bool
}

func newBuildCtx(cat *catalog.Catalog) *buildCtx {
	return &buildCtx{cat: cat, bound: make(map[string]bool)}
}

// Build compiles a parsed query into the root operator of its plan,
// recursing into UNION arms (each arm is planned independently — they
// don't share variable bindings). The right arm's RETURN items take the
// left arm's column names by position, so rows from both arms carry the
// same keys and UNION's deduplication compares them column by column.
func Build(q *cypher.Query, cat *catalog.Catalog) (*Op, error) {
	bc := newBuildCtx(cat)
	left, err := bc.buildArm(q.Clauses)
	if err != nil {
		return nil, err
	}
	if q.Union != nil {
		leftCols := Columns(q)
		for i, c := range q.Union.Right.Clauses {
			if rc, ok := c.(cypher.ReturnClause); ok && len(rc.Items) == len(leftCols) {
				items := make([]cypher.ReturnItem, len(rc.Items))
				for j, it := range rc.Items {
					items[j] = cypher.ReturnItem{Expr: it.Expr, Alias: leftCols[j]}
				}
				rc.Items = items
				q.Union.Right.Clauses[i] = rc
			}
		}
		right, err := Build(q.Union.Right, cat)
		if err != nil {
			return nil, err
		}
		return &Op{Kind: KindUnion, Left: left, Right: right, UnionAll: q.Union.All}, nil
	}
	return left, nil
}

// Columns derives the output column names for q the same way buildClause
// resolves RETURN item aliases, without re-running the planner. A query
// with no RETURN clause (a bare CREATE/DELETE/SET/MERGE) has no output
// columns. For a UNION, result columns come from the left arm, so a
// UNION query's own Clauses already settle it.
func Columns(q *cypher.Query) []string {
	for _, c := range q.Clauses {
		if rc, ok := c.(cypher.ReturnClause); ok {
			return columnsFromReturn(rc.Items)
		}
	}
	return nil
}

func columnsFromReturn(items []cypher.ReturnItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		alias := it.Alias
		if alias == "" {
			alias = defaultAlias(it.Expr)
		}
		out[i] = alias
	}
	return out
}

func (bc *buildCtx) buildArm(clauses []cypher.Clause) (*Op, error) {
	var cur *Op
	for _, clause := range clauses {
		var err error
		cur, err = bc.buildClause(clause, cur)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func (bc *buildCtx) buildClause(clause cypher.Clause, cur *Op) (*Op, error) {
	switch c := clause.(type) {
	case cypher.MatchClause:
		return bc.buildMatch(c, cur), nil
	case cypher.CreateClause:
		return bc.buildCreate(c, cur), nil
	case cypher.DeleteClause:
		return &Op{Kind: KindDelete, Input: cur, DeleteVars: c.Vars, DeleteDetach: c.Detach}, nil
	case cypher.SetClause:
		return &Op{Kind: KindSetProperties, Input: cur, SetItems: c.Assignments}, nil
	case cypher.MergeClause:
		bc.markPatternBound(c.Pattern)
		return &Op{Kind: KindMerge, Input: cur, MergePattern: c.Pattern, MergeOnCreate: c.OnCreate, MergeOnMatch: c.OnMatch}, nil
	case cypher.ForeachClause:
		inner, err := bc.buildArm(c.Inner)
		if err != nil {
			return nil, err
		}
		bc.bound[c.Variable] = true
		return &Op{Kind: KindForeach, Input: cur, ForeachVar: c.Variable, ForeachList: c.List, ForeachOps: []*Op{inner}}, nil
	case cypher.WithClause:
		return bc.buildProjectSortLimit(c.Items, c.Distinct, c.Where, c.OrderBy, c.Skip, c.Limit, cur), nil
	case cypher.ReturnClause:
		return bc.buildProjectSortLimit(c.Items, c.Distinct, nil, c.OrderBy, c.Skip, c.Limit, cur), nil
	default:
		return nil, fmt.Errorf("planner: unsupported clause %T", clause)
	}
}

func (bc *buildCtx) markPatternBound(pp cypher.PatternPart) {
	if pp.Start.Variable != "" {
		bc.bound[pp.Start.Variable] = true
	}
	for _, step := range pp.Steps {
		if step.Rel.Variable != "" {
			bc.bound[step.Rel.Variable] = true
		}
		if step.Node.Variable != "" {
			bc.bound[step.Node.Variable] = true
		}
	}
}

func (bc *buildCtx) buildMatch(m cypher.MatchClause, input *Op) *Op {
	cur := input
	for _, pp := range m.Patterns {
		cur = bc.buildPatternPart(pp, cur)
	}
	if m.Where != nil {
		cur = &Op{Kind: KindFilter, Input: cur, Filter: m.Where}
	}
	return cur
}

// buildPatternPart lowers one comma-separated pattern into a scan (or a
// reuse of an already-bound variable) followed by a chain of Expand
// operators, cross-joined onto whatever came before it in the same MATCH.
func (bc *buildCtx) buildPatternPart(pp cypher.PatternPart, input *Op) *Op {
	lastVar := pp.Start.Variable
	var cur *Op

	if lastVar != "" && bc.bound[lastVar] {
		cur = input
	} else {
		scan := bc.buildStartNode(pp.Start)
		if lastVar != "" {
			bc.bound[lastVar] = true
		}
		if input != nil {
			cur = &Op{Kind: KindCrossJoin, Left: input, Right: scan}
		} else {
			cur = scan
		}
	}

	for _, step := range pp.Steps {
		minHops, maxHops := normalizeHops(step.Rel)
		cur = &Op{
			Kind: KindExpand, Input: cur,
			FromVar: lastVar, ToVar: step.Node.Variable, RelVar: step.Rel.Variable,
			RelTypes: step.Rel.Types, Direction: step.Rel.Direction,
			MinHops: minHops, MaxHops: maxHops, ToLabels: step.Node.Labels,
		}
		if len(step.Node.Properties) > 0 {
			cur = &Op{Kind: KindFilter, Input: cur, Filter: propFilterExpr(step.Node.Variable, step.Node.Properties)}
		}
		if len(step.Rel.Properties) > 0 {
			cur = &Op{Kind: KindFilter, Input: cur, Filter: propFilterExpr(step.Rel.Variable, step.Rel.Properties)}
		}
		if step.Node.Variable != "" {
			bc.bound[step.Node.Variable] = true
		}
		if step.Rel.Variable != "" {
			bc.bound[step.Rel.Variable] = true
		}
		lastVar = step.Node.Variable
	}
	return cur
}

// buildStartNode picks the scan operator for one pattern's leading node.
// A single-label node with one equality predicate on an explicitly
// indexed property is lowered to NodeByProperty so the executor can go
// straight to the property B-tree instead of scanning the whole label and
// filtering — but only when the catalog's NDV estimate for (label, key)
// says the index is actually more selective than scanning the label;
// everything else falls back to NodeByLabel (or, label-less, a full
// AllNodes scan) plus a Filter for any remaining predicates.
func (bc *buildCtx) buildStartNode(np cypher.NodePattern) *Op {
	if len(np.Labels) == 1 {
		if key, valExpr, ok := singlePropertyEquality(np.Properties); ok {
			labelID := bc.cat.LabelID(np.Labels[0])
			keyID := bc.cat.PropertyKeyID(key)
			indexKey := catalog.IndexKey{LabelID: labelID, PropID: keyID}
			if _, indexed := bc.cat.LookupIndex(indexKey); indexed && bc.indexIsSelective(labelID, keyID) {
				op := &Op{
					Kind: KindNodeByProperty, Var: np.Variable, Labels: np.Labels,
					PropKey: key, PropPred: &Predicate{Op: "=", Value: valExpr},
				}
				if rest := withoutKey(np.Properties, key); len(rest) > 0 {
					op = &Op{Kind: KindFilter, Input: op, Filter: propFilterExpr(np.Variable, rest)}
				}
				return op
			}
		}
	}

	var scan *Op
	if len(np.Labels) > 0 {
		scan = &Op{Kind: KindNodeByLabel, Var: np.Variable, Labels: np.Labels}
	} else {
		scan = &Op{Kind: KindAllNodes, Var: np.Variable}
	}
	if len(np.Properties) > 0 {
		scan = &Op{Kind: KindFilter, Input: scan, Filter: propFilterExpr(np.Variable, np.Properties)}
	}
	return scan
}

// indexIsSelective compares the catalog's per-label node count against
// its NDV estimate for (labelID, keyID) to decide whether an equality
// lookup through the property index is actually cheaper than scanning
// the label and filtering: with N nodes carrying the label and D
// distinct observed values, an equality match is estimated to touch
// N/D rows. A fresh index with no recorded stats (D == 0, e.g. just
// declared and never backfilled or written to) still defaults to the
// index, since there is no information yet to suggest otherwise; an
// index whose every backfilled value turned out identical (D <= 1)
// offers no selectivity over a label scan, so the label scan is chosen
// instead — it skips the extra B-tree descent for no narrowing benefit.
func (bc *buildCtx) indexIsSelective(labelID, keyID catalog.ID) bool {
	ndv := bc.cat.NDV(labelID, keyID)
	if ndv == 0 {
		return true
	}
	if ndv <= 1 {
		return false
	}
	labelCount := bc.cat.NodeCountForLabel(labelID)
	estimatedRows := labelCount / ndv
	return estimatedRows < labelCount
}

func singlePropertyEquality(props map[string]cypher.Expr) (string, cypher.Expr, bool) {
	if len(props) != 1 {
		return "", nil, false
	}
	for k, v := range props {
		return k, v, true
	}
	return "", nil, false
}

func withoutKey(props map[string]cypher.Expr, key string) map[string]cypher.Expr {
	if len(props) <= 1 {
		return nil
	}
	out := make(map[string]cypher.Expr, len(props)-1)
	for k, v := range props {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// propFilterExpr turns a pattern's inline {k: v, ...} literal map into an
// AND chain of equality comparisons against varName's properties, keys
// visited in sorted order so the same pattern always compiles to the same
// expression tree (stable plan-cache keys, deterministic test output).
func propFilterExpr(varName string, props map[string]cypher.Expr) cypher.Expr {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var combined cypher.Expr
	for _, k := range keys {
		eq := cypher.BinaryExpr{
			Op:    "=",
			Left:  cypher.PropertyAccess{Target: cypher.Variable{Name: varName}, Key: k},
			Right: props[k],
		}
		if combined == nil {
			combined = eq
		} else {
			combined = cypher.BinaryExpr{Op: "AND", Left: combined, Right: eq}
		}
	}
	return combined
}

// normalizeHops resolves a relationship pattern's hop range: a plain
// "-[r]-" step (MinHops == MaxHops == -1) is exactly one hop; a
// variable-length "-[r*]-" or "-[r*2..5]-" step carries its parsed bounds
// through, with MaxHops == -1 kept as the executor's "unbounded" sentinel.
func normalizeHops(rel cypher.RelPattern) (min, max int) {
	if rel.MinHops == -1 && rel.MaxHops == -1 {
		return 1, 1
	}
	min = rel.MinHops
	if min < 0 {
		min = 1
	}
	return min, rel.MaxHops
}

func (bc *buildCtx) buildCreate(c cypher.CreateClause, input *Op) *Op {
	seed := input
	if seed == nil {
		seed = &Op{Kind: KindSingleRow}
	}
	for _, pp := range c.Patterns {
		bc.markPatternBound(pp)
	}
	return &Op{Kind: KindCreate, Input: seed, CreatePattern: c.Patterns}
}

func (bc *buildCtx) buildProjectSortLimit(
	items []cypher.ReturnItem, distinct bool, where cypher.Expr,
	orderBy []cypher.OrderItem, skip, limit cypher.Expr, input *Op,
) *Op {
	cur := input
	if anyAggregate(items) {
		groupKeys, aggs := splitAggregates(items)
		cur = &Op{Kind: KindAggregate, Input: cur, GroupKeys: groupKeys, Aggregates: aggs}
	} else {
		cur = &Op{Kind: KindProject, Input: cur, ProjectItems: toProjectItems(items), Distinct: distinct}
	}
	if where != nil {
		cur = &Op{Kind: KindFilter, Input: cur, Filter: where}
	}
	if len(orderBy) > 0 {
		cur = &Op{Kind: KindSort, Input: cur, SortKeys: toSortKeys(orderBy)}
	}
	if skip != nil {
		cur = &Op{Kind: KindSkip, Input: cur, CountExpr: skip}
	}
	if limit != nil {
		cur = &Op{Kind: KindLimit, Input: cur, CountExpr: limit}
	}
	for _, it := range items {
		alias := it.Alias
		if alias == "" {
			alias = defaultAlias(it.Expr)
		}
		if alias != "" {
			bc.bound[alias] = true
		}
	}
	return cur
}

func anyAggregate(items []cypher.ReturnItem) bool {
	for _, it := range items {
		if containsAggregate(it.Expr) {
			return true
		}
	}
	return false
}

func containsAggregate(e cypher.Expr) bool {
	switch v := e.(type) {
	case cypher.FunctionCall:
		return aggregateFuncs[lower(v.Name)]
	case cypher.BinaryExpr:
		return containsAggregate(v.Left) || containsAggregate(v.Right)
	case cypher.UnaryExpr:
		return containsAggregate(v.Operand)
	default:
		return false
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func splitAggregates(items []cypher.ReturnItem) ([]ProjectItem, []AggItem) {
	var groupKeys []ProjectItem
	var aggs []AggItem
	for _, it := range items {
		alias := it.Alias
		if alias == "" {
			alias = defaultAlias(it.Expr)
		}
		if fc, ok := it.Expr.(cypher.FunctionCall); ok && aggregateFuncs[lower(fc.Name)] {
			var arg cypher.Expr
			if len(fc.Args) > 0 && !isStarArg(fc.Args[0]) {
				arg = fc.Args[0]
			}
			aggs = append(aggs, AggItem{Func: lower(fc.Name), Arg: arg, Distinct: fc.Distinct, Alias: alias})
			continue
		}
		groupKeys = append(groupKeys, ProjectItem{Expr: it.Expr, Alias: alias})
	}
	return groupKeys, aggs
}

// isStarArg recognizes count(*)'s parser-level sentinel (a bare Variable
// named "*", since the grammar has no dedicated star-argument AST node) so
// splitAggregates leaves its AggItem.Arg nil the same way a bare `count()`
// with no argument would, instead of evaluating "*" as a variable lookup.
func isStarArg(e cypher.Expr) bool {
	v, ok := e.(cypher.Variable)
	return ok && v.Name == "*"
}

func toProjectItems(items []cypher.ReturnItem) []ProjectItem {
	out := make([]ProjectItem, len(items))
	for i, it := range items {
		alias := it.Alias
		if alias == "" {
			alias = defaultAlias(it.Expr)
		}
		out[i] = ProjectItem{Expr: it.Expr, Alias: alias}
	}
	return out
}

func toSortKeys(items []cypher.OrderItem) []SortKey {
	out := make([]SortKey, len(items))
	for i, it := range items {
		out[i] = SortKey{Expr: it.Expr, Desc: it.Desc}
	}
	return out
}

func defaultAlias(e cypher.Expr) string {
	switch v := e.(type) {
	case cypher.Variable:
		return v.Name
	case cypher.PropertyAccess:
		if base, ok := v.Target.(cypher.Variable); ok {
			return base.Name + "." + v.Key
		}
		return v.Key
	case cypher.FunctionCall:
		return v.Name
	default:
		return ""
	}
}
