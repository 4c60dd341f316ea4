package executor

import (
	"fmt"
	"strings"

	"github.com/hivellm/nexus/internal/cypher"
	"github.com/hivellm/nexus/internal/gvalue"
)

func evalExpr(e cypher.Expr, row Row, params map[string]gvalue.Value, rt *Runtime, q *Query) (gvalue.Value, error) {
	switch v := e.(type) {
	case cypher.Literal:
		return literalValue(v.Value), nil
	case cypher.ListLiteral:
		items := make([]gvalue.Value, len(v.Items))
		for i, it := range v.Items {
			val, err := evalExpr(it, row, params, rt, q)
			if err != nil {
				return gvalue.Value{}, err
			}
			items[i] = val
		}
		return gvalue.List(items), nil
	case cypher.MapLiteral:
		m := make(map[string]gvalue.Value, len(v.Entries))
		for k, it := range v.Entries {
			val, err := evalExpr(it, row, params, rt, q)
			if err != nil {
				return gvalue.Value{}, err
			}
			m[k] = val
		}
		return gvalue.Map(m), nil
	case cypher.Parameter:
		if val, ok := params[v.Name]; ok {
			return val, nil
		}
		return gvalue.Null(), nil
	case cypher.Variable:
		return resolveVariable(row, v.Name, rt)
	case cypher.PropertyAccess:
		return evalPropertyAccess(v, row, params, rt, q)
	case cypher.IndexAccess:
		return evalIndexAccess(v, row, params, rt, q)
	case cypher.FunctionCall:
		return evalFunctionCall(v, row, params, rt, q)
	case cypher.BinaryExpr:
		return evalBinary(v, row, params, rt, q)
	case cypher.UnaryExpr:
		return evalUnary(v, row, params, rt, q)
	case cypher.IsNullExpr:
		operand, err := evalExpr(v.Operand, row, params, rt, q)
		if err != nil {
			return gvalue.Value{}, err
		}
		isNull := operand.IsNull()
		if v.Negate {
			return gvalue.Bool(!isNull), nil
		}
		return gvalue.Bool(isNull), nil
	case cypher.ExistsExpr:
		return evalExists(v, row, rt)
	default:
		return gvalue.Value{}, fmt.Errorf("executor: unhandled expression %T", e)
	}
}

func literalValue(v any) gvalue.Value {
	switch x := v.(type) {
	case nil:
		return gvalue.Null()
	case bool:
		return gvalue.Bool(x)
	case int64:
		return gvalue.Int(x)
	case float64:
		return gvalue.Float(x)
	case string:
		return gvalue.String(x)
	default:
		return gvalue.Null()
	}
}

func resolveVariable(row Row, name string, rt *Runtime) (gvalue.Value, error) {
	b, ok := row[name]
	if !ok {
		return gvalue.Null(), nil
	}
	switch b.Kind {
	case BindNode:
		return nodeValue(rt, b.NodeID)
	case BindRel:
		return relValue(rt, b.RelID)
	default:
		return b.Value, nil
	}
}

func evalPropertyAccess(pa cypher.PropertyAccess, row Row, params map[string]gvalue.Value, rt *Runtime, q *Query) (gvalue.Value, error) {
	if tv, ok := pa.Target.(cypher.Variable); ok {
		if b, ok := row[tv.Name]; ok {
			switch b.Kind {
			case BindNode:
				rec, exists, err := readNode(rt, b.NodeID)
				if err != nil || !exists {
					return gvalue.Null(), nil
				}
				keyID, known := rt.Catalog.LookupPropertyKeyID(pa.Key)
				if !known {
					return gvalue.Null(), nil
				}
				props, err := loadNodeProperties(rt, b.NodeID, rec.PropertyOffset)
				if err != nil {
					return gvalue.Value{}, err
				}
				if val, ok := props[keyID]; ok {
					return val, nil
				}
				return gvalue.Null(), nil
			case BindRel:
				rec, exists, err := readRel(rt, b.RelID)
				if err != nil || !exists {
					return gvalue.Null(), nil
				}
				keyID, known := rt.Catalog.LookupPropertyKeyID(pa.Key)
				if !known {
					return gvalue.Null(), nil
				}
				props, err := loadRelProperties(rt, b.RelID, rec.PropertyOffset)
				if err != nil {
					return gvalue.Value{}, err
				}
				if val, ok := props[keyID]; ok {
					return val, nil
				}
				return gvalue.Null(), nil
			}
		}
	}

	target, err := evalExpr(pa.Target, row, params, rt, q)
	if err != nil {
		return gvalue.Value{}, err
	}
	if target.Kind() != gvalue.KindMap {
		return gvalue.Null(), nil
	}
	if val, ok := target.AsMap()[pa.Key]; ok {
		return val, nil
	}
	return gvalue.Null(), nil
}

func evalIndexAccess(ia cypher.IndexAccess, row Row, params map[string]gvalue.Value, rt *Runtime, q *Query) (gvalue.Value, error) {
	target, err := evalExpr(ia.Target, row, params, rt, q)
	if err != nil {
		return gvalue.Value{}, err
	}
	idx, err := evalExpr(ia.Index, row, params, rt, q)
	if err != nil {
		return gvalue.Value{}, err
	}
	switch target.Kind() {
	case gvalue.KindList:
		list := target.AsList()
		if idx.Kind() != gvalue.KindInt {
			return gvalue.Null(), nil
		}
		i := int(idx.AsInt())
		if i < 0 {
			i += len(list)
		}
		if i < 0 || i >= len(list) {
			return gvalue.Null(), nil
		}
		return list[i], nil
	case gvalue.KindMap:
		if idx.Kind() != gvalue.KindString {
			return gvalue.Null(), nil
		}
		if val, ok := target.AsMap()[idx.AsString()]; ok {
			return val, nil
		}
		return gvalue.Null(), nil
	default:
		return gvalue.Null(), nil
	}
}

func evalFunctionCall(fc cypher.FunctionCall, row Row, params map[string]gvalue.Value, rt *Runtime, q *Query) (gvalue.Value, error) {
	name := strings.ToLower(fc.Name)
	switch name {
	case "id":
		if len(fc.Args) != 1 {
			return gvalue.Null(), nil
		}
		if tv, ok := fc.Args[0].(cypher.Variable); ok {
			if b, ok := row[tv.Name]; ok {
				switch b.Kind {
				case BindNode:
					return gvalue.Int(int64(b.NodeID)), nil
				case BindRel:
					return gvalue.Int(int64(b.RelID)), nil
				}
			}
		}
		return gvalue.Null(), nil
	case "labels":
		if len(fc.Args) != 1 {
			return gvalue.Null(), nil
		}
		if tv, ok := fc.Args[0].(cypher.Variable); ok {
			if b, ok := row[tv.Name]; ok && b.Kind == BindNode {
				rec, exists, err := readNode(rt, b.NodeID)
				if err != nil || !exists {
					return gvalue.Null(), nil
				}
				var out []gvalue.Value
				for _, n := range nodeLabelNames(rt, b.NodeID, rec) {
					out = append(out, gvalue.String(n))
				}
				return gvalue.List(out), nil
			}
		}
		return gvalue.Null(), nil
	case "type":
		if len(fc.Args) != 1 {
			return gvalue.Null(), nil
		}
		if tv, ok := fc.Args[0].(cypher.Variable); ok {
			if b, ok := row[tv.Name]; ok && b.Kind == BindRel {
				rec, exists, err := readRel(rt, b.RelID)
				if err != nil || !exists {
					return gvalue.Null(), nil
				}
				if name, ok := rt.Catalog.RelTypeName(rec.TypeID); ok {
					return gvalue.String(name), nil
				}
			}
		}
		return gvalue.Null(), nil
	case "keys":
		if len(fc.Args) != 1 {
			return gvalue.Null(), nil
		}
		val, err := evalExpr(fc.Args[0], row, params, rt, q)
		if err != nil {
			return gvalue.Value{}, err
		}
		if val.Kind() != gvalue.KindMap {
			return gvalue.Null(), nil
		}
		var out []gvalue.Value
		for k := range val.AsMap() {
			if k == "_id" || k == "_labels" || k == "_type" || k == "_src" || k == "_dst" {
				continue
			}
			out = append(out, gvalue.String(k))
		}
		return gvalue.List(out), nil
	case "coalesce":
		for _, arg := range fc.Args {
			val, err := evalExpr(arg, row, params, rt, q)
			if err != nil {
				return gvalue.Value{}, err
			}
			if !val.IsNull() {
				return val, nil
			}
		}
		return gvalue.Null(), nil
	default:
		return gvalue.Value{}, fmt.Errorf("executor: unknown function %s", fc.Name)
	}
}

func evalBinary(b cypher.BinaryExpr, row Row, params map[string]gvalue.Value, rt *Runtime, q *Query) (gvalue.Value, error) {
	switch b.Op {
	case "AND":
		left, err := evalExpr(b.Left, row, params, rt, q)
		if err != nil {
			return gvalue.Value{}, err
		}
		if !truthy(left) {
			return gvalue.Bool(false), nil
		}
		right, err := evalExpr(b.Right, row, params, rt, q)
		if err != nil {
			return gvalue.Value{}, err
		}
		return gvalue.Bool(truthy(right)), nil
	case "OR":
		left, err := evalExpr(b.Left, row, params, rt, q)
		if err != nil {
			return gvalue.Value{}, err
		}
		if truthy(left) {
			return gvalue.Bool(true), nil
		}
		right, err := evalExpr(b.Right, row, params, rt, q)
		if err != nil {
			return gvalue.Value{}, err
		}
		return gvalue.Bool(truthy(right)), nil
	}

	left, err := evalExpr(b.Left, row, params, rt, q)
	if err != nil {
		return gvalue.Value{}, err
	}
	right, err := evalExpr(b.Right, row, params, rt, q)
	if err != nil {
		return gvalue.Value{}, err
	}

	switch b.Op {
	case "=":
		return gvalue.Bool(!left.IsNull() && !right.IsNull() && left.Compare(right) == 0), nil
	case "<>":
		return gvalue.Bool(!left.IsNull() && !right.IsNull() && left.Compare(right) != 0), nil
	case "<":
		return gvalue.Bool(!left.IsNull() && !right.IsNull() && left.Compare(right) < 0), nil
	case "<=":
		return gvalue.Bool(!left.IsNull() && !right.IsNull() && left.Compare(right) <= 0), nil
	case ">":
		return gvalue.Bool(!left.IsNull() && !right.IsNull() && left.Compare(right) > 0), nil
	case ">=":
		return gvalue.Bool(!left.IsNull() && !right.IsNull() && left.Compare(right) >= 0), nil
	case "IN":
		if right.Kind() != gvalue.KindList {
			return gvalue.Bool(false), nil
		}
		for _, item := range right.AsList() {
			if left.Compare(item) == 0 {
				return gvalue.Bool(true), nil
			}
		}
		return gvalue.Bool(false), nil
	case "+", "-", "*", "/", "%":
		return arith(b.Op, left, right)
	default:
		return gvalue.Value{}, fmt.Errorf("executor: unknown operator %s", b.Op)
	}
}

func arith(op string, a, b gvalue.Value) (gvalue.Value, error) {
	if a.Kind() == gvalue.KindString && b.Kind() == gvalue.KindString && op == "+" {
		return gvalue.String(a.AsString() + b.AsString()), nil
	}
	bothInt := a.Kind() == gvalue.KindInt && b.Kind() == gvalue.KindInt
	af, bf := asFloat(a), asFloat(b)
	var rf float64
	switch op {
	case "+":
		rf = af + bf
	case "-":
		rf = af - bf
	case "*":
		rf = af * bf
	case "/":
		// Division by zero is null, not an error.
		if bf == 0 {
			return gvalue.Null(), nil
		}
		rf = af / bf
	case "%":
		if bothInt {
			if b.AsInt() == 0 {
				return gvalue.Null(), nil
			}
			return gvalue.Int(a.AsInt() % b.AsInt()), nil
		}
		return gvalue.Value{}, fmt.Errorf("executor: %% requires integer operands")
	}
	if bothInt && op != "/" {
		return gvalue.Int(int64(rf)), nil
	}
	return gvalue.Float(rf), nil
}

func asFloat(v gvalue.Value) float64 {
	if v.Kind() == gvalue.KindInt {
		return float64(v.AsInt())
	}
	return v.AsFloat()
}

func evalUnary(u cypher.UnaryExpr, row Row, params map[string]gvalue.Value, rt *Runtime, q *Query) (gvalue.Value, error) {
	operand, err := evalExpr(u.Operand, row, params, rt, q)
	if err != nil {
		return gvalue.Value{}, err
	}
	switch u.Op {
	case "-":
		if operand.Kind() == gvalue.KindInt {
			return gvalue.Int(-operand.AsInt()), nil
		}
		return gvalue.Float(-asFloat(operand)), nil
	case "NOT":
		return gvalue.Bool(!truthy(operand)), nil
	default:
		return gvalue.Value{}, fmt.Errorf("executor: unknown unary operator %s", u.Op)
	}
}

// evalExists supports the common single-hop EXISTS((a)-[:TYPE]->(b))
// shape, checking adjacency directly rather than invoking the full
// planner for a nested pattern; patterns longer than one step are outside
// this subset and always evaluate to false.
func evalExists(ex cypher.ExistsExpr, row Row, rt *Runtime) (gvalue.Value, error) {
	pp := ex.Pattern
	startBinding, ok := row[pp.Start.Variable]
	if !ok || startBinding.Kind != BindNode || len(pp.Steps) != 1 {
		return gvalue.Bool(false), nil
	}
	step := pp.Steps[0]

	var relType uint32
	anyType := true
	if len(step.Rel.Types) == 1 {
		if id, ok := rt.Catalog.LookupRelTypeID(step.Rel.Types[0]); ok {
			relType = id
			anyType = false
		} else {
			return gvalue.Bool(false), nil
		}
	}

	checkDir := func(idx interface {
		Edges(nodeID uint64, relType uint32, anyType bool) []uint64
	}) bool {
		return len(idx.Edges(startBinding.NodeID, relType, anyType)) > 0
	}

	switch step.Rel.Direction {
	case cypher.DirOut:
		return gvalue.Bool(checkDir(rt.AdjOut)), nil
	case cypher.DirIn:
		return gvalue.Bool(checkDir(rt.AdjIn)), nil
	default:
		return gvalue.Bool(checkDir(rt.AdjOut) || checkDir(rt.AdjIn)), nil
	}
}
