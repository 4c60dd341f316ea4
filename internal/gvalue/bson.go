package gvalue

import (
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// PropertyMap is a node or relationship's property bag, keyed by interned
// property-key id rather than name (the catalog resolves key ids to
// names; the record payload never repeats a name string).
type PropertyMap map[uint32]Value

// kindTag/point/vector sub-documents round-trip through BSON as plain
// bson.D sub-documents tagged with a "k" discriminator, mirroring the
// teacher's MarshalBson/UnmarshalBson's use of bson.D end to end (no
// protobuf message types were retrieved into the pack, see DESIGN.md).
const (
	bsonKindPoint  = "point"
	bsonKindVector = "vector"
	bsonKindList   = "list"
	bsonKindMap    = "map"
)

// MarshalProperties encodes a PropertyMap into a BSON document for the
// property heap / WAL payload, following MarshalBson's bson.D shape.
func MarshalProperties(props PropertyMap) ([]byte, error) {
	doc := bson.D{}
	for keyID, v := range props {
		bv, err := toBSON(v)
		if err != nil {
			return nil, fmt.Errorf("gvalue: marshal key %d: %w", keyID, err)
		}
		doc = append(doc, bson.E{Key: strconv.FormatUint(uint64(keyID), 10), Value: bv})
	}
	return bson.Marshal(doc)
}

// UnmarshalProperties is MarshalProperties's inverse, following
// UnmarshalBson's shape (unmarshal to bson.D, then type-switch each
// value) rather than unmarshaling straight into a typed struct, since the
// property schema is dynamic per node/relationship.
func UnmarshalProperties(data []byte) (PropertyMap, error) {
	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("gvalue: unmarshal properties: %w", err)
	}
	props := make(PropertyMap, len(doc))
	for _, e := range doc {
		keyID, err := strconv.ParseUint(e.Key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("gvalue: bad property key %q: %w", e.Key, err)
		}
		v, err := fromBSON(e.Value)
		if err != nil {
			return nil, fmt.Errorf("gvalue: unmarshal key %d: %w", keyID, err)
		}
		props[uint32(keyID)] = v
	}
	return props, nil
}

func toBSON(v Value) (interface{}, error) {
	switch v.Kind() {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.AsBool(), nil
	case KindInt:
		return v.AsInt(), nil
	case KindFloat:
		return v.AsFloat(), nil
	case KindString:
		return v.AsString(), nil
	case KindBytes:
		return v.AsBytes(), nil
	case KindPoint:
		p := v.AsPoint()
		return bson.D{{Key: "k", Value: bsonKindPoint}, {Key: "x", Value: p.X}, {Key: "y", Value: p.Y}, {Key: "z", Value: p.Z}}, nil
	case KindVector:
		vec := v.AsVector()
		f64 := make([]float64, len(vec))
		for i, f := range vec {
			f64[i] = float64(f)
		}
		return bson.D{{Key: "k", Value: bsonKindVector}, {Key: "v", Value: f64}}, nil
	case KindList:
		list := v.AsList()
		elems := make(bson.A, len(list))
		for i, e := range list {
			bv, err := toBSON(e)
			if err != nil {
				return nil, err
			}
			elems[i] = bv
		}
		return bson.D{{Key: "k", Value: bsonKindList}, {Key: "v", Value: elems}}, nil
	case KindMap:
		m := v.AsMap()
		inner := bson.D{}
		for k, e := range m {
			bv, err := toBSON(e)
			if err != nil {
				return nil, err
			}
			inner = append(inner, bson.E{Key: k, Value: bv})
		}
		return bson.D{{Key: "k", Value: bsonKindMap}, {Key: "v", Value: inner}}, nil
	default:
		return nil, fmt.Errorf("unsupported value kind %d", v.Kind())
	}
}

func fromBSON(raw interface{}) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(val), nil
	case int32:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case int:
		return Int(int64(val)), nil
	case float64:
		return Float(val), nil
	case string:
		return String(val), nil
	case []byte:
		return Bytes(val), nil
	case bson.Binary:
		return Bytes(val.Data), nil
	case bson.D:
		return subdocFromBSON(val)
	case bson.A:
		list := make([]Value, len(val))
		for i, e := range val {
			v, err := fromBSON(e)
			if err != nil {
				return Value{}, err
			}
			list[i] = v
		}
		return List(list), nil
	default:
		return Value{}, fmt.Errorf("unsupported bson type %T", raw)
	}
}

func subdocFromBSON(doc bson.D) (Value, error) {
	fields := make(map[string]interface{}, len(doc))
	for _, e := range doc {
		fields[e.Key] = e.Value
	}
	kind, _ := fields["k"].(string)
	switch kind {
	case bsonKindPoint:
		x, _ := fields["x"].(float64)
		y, _ := fields["y"].(float64)
		z, _ := fields["z"].(float64)
		return PointValue(Point{X: x, Y: y, Z: z}), nil
	case bsonKindVector:
		raw, _ := fields["v"].(bson.A)
		vec := make([]float32, len(raw))
		for i, e := range raw {
			f, _ := e.(float64)
			vec[i] = float32(f)
		}
		return Vector(vec), nil
	case bsonKindList:
		raw, _ := fields["v"].(bson.A)
		return fromBSON(raw)
	case bsonKindMap:
		inner, _ := fields["v"].(bson.D)
		m := make(map[string]Value, len(inner))
		for _, e := range inner {
			v, err := fromBSON(e.Value)
			if err != nil {
				return Value{}, err
			}
			m[e.Key] = v
		}
		return Map(m), nil
	default:
		// A plain nested document with no "k" discriminator round-trips as
		// a map keyed by its own field names.
		m := make(map[string]Value, len(doc))
		for _, e := range doc {
			v, err := fromBSON(e.Value)
			if err != nil {
				return Value{}, err
			}
			m[e.Key] = v
		}
		return Map(m), nil
	}
}
