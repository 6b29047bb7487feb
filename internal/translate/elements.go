package translate

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/openmbee/dngsync/internal/delta"
)

// Value kinds with their target primitive type ids.
const (
	kindString   = "string"
	kindInteger  = "integer"
	kindReal     = "real"
	kindBoolean  = "boolean"
	kindRelation = "relation"
)

var primitiveTypes = map[string]string{
	kindString:  "_9_0_2_91a0295_1110274713995_297054_0",
	kindInteger: "donce_1051693917650_319078_0",
	kindReal:    "_17_0beta_f720368_1291217394082_340077_1886",
	kindBoolean: "_12_0EAPbeta_be00301_1157529792739_987548_11",
}

func hashID(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// base returns the fields every element carries.
func base(typ, id, owner, name string, visibility any) map[string]any {
	return map[string]any{
		"_appliedStereotypeIds":       []any{},
		"documentation":               "",
		"type":                        typ,
		"id":                          id,
		"mdExtensionsIds":             []any{},
		"ownerId":                     owner,
		"syncElementId":               nil,
		"appliedStereotypeInstanceId": nil,
		"clientDependencyIds":         []any{},
		"supplierDependencyIds":       []any{},
		"name":                        name,
		"nameExpression":              nil,
		"visibility":                  visibility,
		"templateParameterId":         nil,
	}
}

// class is a Class element under construction together with the
// attribute and association elements it owns.
type class struct {
	record  map[string]any
	owned   []delta.Record
	attrIDs []any
}

func newClass(id, owner, name string) *class {
	r := base("Class", id, owner, name, nil)

	for k, v := range map[string]any{
		"isLeaf":                  false,
		"elementImportIds":        []any{},
		"packageImportIds":        []any{},
		"templateBindingIds":      []any{},
		"useCaseIds":              []any{},
		"representationId":        nil,
		"collaborationUseIds":     []any{},
		"generalizationIds":       []any{},
		"powertypeExtentIds":      []any{},
		"isAbstract":              false,
		"isFinalSpecialization":   false,
		"redefinedClassifierIds":  []any{},
		"substitutionIds":         []any{},
		"classifierBehaviorId":    nil,
		"interfaceRealizationIds": []any{},
		"ownedOperationIds":       []any{},
		"isActive":                false,
	} {
		r[k] = v
	}

	return &class{record: r}
}

func (c *class) id() string {
	return c.record["id"].(string)
}

// elements returns the class record followed by everything it owns.
func (c *class) elements() []delta.Record {
	rec := delta.Record(c.record)
	rec["ownedAttributeIds"] = append([]any{}, c.attrIDs...)

	return append([]delta.Record{rec}, c.owned...)
}

// attribute adds a Property owned by the class. Its id is derived from the
// class id and key so re-translation yields the same id.
func (c *class) attribute(key, label string, typeID any) map[string]any {
	id := hashID(c.id() + "_" + key)

	r := base("Property", id, c.id(), label, "private")

	for k, v := range map[string]any{
		"isLeaf":               false,
		"isOrdered":            false,
		"isUnique":             true,
		"lowerValue":           nil,
		"upperValue":           nil,
		"isReadOnly":           false,
		"endIds":               []any{},
		"deploymentIds":        []any{},
		"aggregation":          "none",
		"associationEndId":     nil,
		"qualifierIds":         []any{},
		"datatypeId":           nil,
		"defaultValue":         nil,
		"interfaceId":          nil,
		"isDerived":            false,
		"isDerivedUnion":       false,
		"isID":                 false,
		"redefinedPropertyIds": []any{},
		"subsettedPropertyIds": []any{},
		"associationId":        nil,
		"typeId":               typeID,
	} {
		r[k] = v
	}

	c.owned = append(c.owned, delta.Record(r))
	c.attrIDs = append(c.attrIDs, id)

	return r
}

func literal(id, owner, kind string, value any) map[string]any {
	r := base(literalType(kind), id, owner, "", "public")
	r["typeId"] = nil

	if kind != "" {
		r["value"] = value
	}

	return r
}

func literalType(kind string) string {
	switch kind {
	case kindString:
		return "LiteralString"
	case kindInteger:
		return "LiteralInteger"
	case kindReal:
		return "LiteralReal"
	case kindBoolean:
		return "LiteralBoolean"
	default:
		return "LiteralNull"
	}
}

// addValue adds a single-valued primitive attribute.
func (c *class) addValue(kind, key, label string, value any) {
	attr := c.attribute(key, label, primitiveTypes[kind])
	attr["defaultValue"] = literal(attr["id"].(string)+"_value", attr["id"].(string), kind, value)
}

// addValues adds a multi-valued primitive attribute whose default value is
// an Expression listing one literal per value.
func (c *class) addValues(kind, key, label string, values []any) {
	attr := c.attribute(key, label, primitiveTypes[kind])
	attrID := attr["id"].(string)

	container := literal(attrID+"_value", attrID, "", nil)
	container["type"] = "Expression"
	container["symbol"] = ""

	operand := make([]any, len(values))
	for i, v := range values {
		operand[i] = literal(attrID+"_value_"+strconv.Itoa(i), attrID+"_value", kind, v)
	}

	container["operand"] = operand
	attr["defaultValue"] = container
}

// addRelation adds a Property typed by the target element together with
// the Association joining the two classes. The association id does not
// depend on which side declares it.
func (c *class) addRelation(key, label, target string) {
	pair := c.id() + "." + target
	if target < c.id() {
		pair = target + "." + c.id()
	}

	assocID := hashID("association:" + key + ":" + pair)

	assoc := newClass(assocID, c.record["ownerId"].(string), label)
	assoc.record["type"] = "Association"
	assoc.record["isDerived"] = false
	assoc.record["memberEndIds"] = []any{c.id(), target}
	assoc.record["ownedEndIds"] = []any{}
	assoc.record["navigableOwnedEndIds"] = []any{}
	assoc.record["ownedAttributeIds"] = []any{}

	c.owned = append(c.owned, delta.Record(assoc.record))

	attr := c.attribute(key, label, target)
	attr["associationId"] = assocID
}
