// Package planner turns a cypher.Query into a tree of operators.
// An operator is one tagged Op struct with a Kind enum and kind-specific
// fields, not a family of types behind an interface — the executor
// evaluates it with a single switch, the same "small struct + plain
// functions" shape used throughout the rest of the engine (Catalog,
// Manager, Tx are all plain structs, never interface-dispatched).
package planner

import "github.com/hivellm/nexus/internal/cypher"

type Kind uint8

const (
	KindSingleRow Kind = iota // seeds a CREATE with no preceding clause
	KindAllNodes              // fallback scan for a label-less node pattern
	KindNodeByLabel
	KindNodeByProperty
	KindExpand
	KindCrossJoin // comma-separated MATCH patterns (cartesian product)
	KindFilter
	KindProject
	KindAggregate
	KindSort
	KindSkip
	KindLimit
	KindDistinct
	KindUnion
	KindUnwind
	KindCreate
	KindDelete
	KindSetProperties
	KindForeach
	KindMerge
)

// Predicate is a planner-pushed-down comparison against an indexed
// property, consulted by NodeByProperty.
type Predicate struct {
	Op    string // "=", "<", "<=", ">", ">="
	Value cypher.Expr
}

type ProjectItem struct {
	Expr  cypher.Expr
	Alias string
}

type AggItem struct {
	Func     string
	Arg      cypher.Expr
	Distinct bool
	Alias    string
}

type SortKey struct {
	Expr cypher.Expr
	Desc bool
}

// Op is the single tagged-variant operator node the planner builds.
// Only the fields relevant to Kind are populated; the executor's
// switch on Kind is the sole place that interprets them.
type Op struct {
	Kind Kind

	Input       *Op
	Left, Right *Op

	// KindNodeByLabel / KindNodeByProperty / KindAllNodes
	Var      string
	Labels   []string // AND semantics for multi-label MATCH (n:A:B)
	PropKey  string
	PropPred *Predicate

	// KindExpand
	FromVar   string
	ToVar     string
	RelVar    string
	RelTypes  []string
	Direction cypher.Direction
	MinHops   int
	MaxHops   int
	ToLabels  []string // post-traversal label filter on the target node

	// KindFilter
	Filter cypher.Expr

	// KindProject / KindDistinct
	ProjectItems []ProjectItem
	Distinct     bool

	// KindAggregate
	GroupKeys  []ProjectItem
	Aggregates []AggItem

	// KindSort
	SortKeys []SortKey

	// KindSkip / KindLimit
	CountExpr cypher.Expr

	// KindUnion
	UnionAll bool

	// KindUnwind
	UnwindVar  string
	UnwindExpr cypher.Expr

	// KindCreate
	CreatePattern []cypher.PatternPart

	// KindDelete
	DeleteVars   []cypher.Expr
	DeleteDetach bool

	// KindSetProperties
	SetItems []cypher.SetItem

	// KindForeach
	ForeachVar  string
	ForeachList cypher.Expr
	ForeachOps  []*Op

	// KindMerge
	MergePattern  cypher.PatternPart
	MergeOnCreate []cypher.SetItem
	MergeOnMatch  []cypher.SetItem
}
