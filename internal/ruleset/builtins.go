// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ruleset

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// builtinFunctions assembles the helper functions available to rule
// expressions.
func builtinFunctions(geo *geoip2.Reader) map[string]function.Function {
	return map[string]function.Function{
		"upper":    stdlib.UpperFunc,
		"lower":    stdlib.LowerFunc,
		"length":   stdlib.LengthFunc,
		"lookup":   stdlib.LookupFunc,
		"contains": stdlib.ContainsFunc,
		"keys":     stdlib.KeysFunc,
		"cidr":     cidrFunc,
		"has":      hasFunc,
		"geoip":    geoipFunc(geo),
	}
}

// cidrFunc reports whether an IP address falls inside a CIDR block.
var cidrFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "ip", Type: cty.String},
		{Name: "block", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		ip := net.ParseIP(args[0].AsString())
		if ip == nil {
			return cty.NilVal, fmt.Errorf("invalid IP address %q", args[0].AsString())
		}
		_, ipnet, err := net.ParseCIDR(args[1].AsString())
		if err != nil {
			return cty.NilVal, err
		}
		return cty.BoolVal(ipnet.Contains(ip)), nil
	},
})

// hasFunc reports whether an object or map carries a key. Null collections
// yield false rather than an error so rules can probe absent analyzers.
var hasFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "collection", Type: cty.DynamicPseudoType, AllowNull: true, AllowDynamicType: true},
		{Name: "key", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.Bool),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		coll := args[0]
		if coll.IsNull() {
			return cty.False, nil
		}
		key := args[1].AsString()
		ty := coll.Type()
		switch {
		case ty.IsObjectType():
			return cty.BoolVal(ty.HasAttribute(key)), nil
		case ty.IsMapType():
			return coll.HasIndex(cty.StringVal(key)), nil
		default:
			return cty.False, nil
		}
	},
})

// geoipFunc resolves an IP address to its ISO country code. Without a
// database, or for unresolvable addresses, it yields the empty string.
func geoipFunc(geo *geoip2.Reader) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "ip", Type: cty.String},
		},
		Type: function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
			if geo == nil {
				return cty.StringVal(""), nil
			}
			ip := net.ParseIP(args[0].AsString())
			if ip == nil {
				return cty.StringVal(""), nil
			}
			record, err := geo.Country(ip)
			if err != nil {
				return cty.StringVal(""), nil
			}
			return cty.StringVal(record.Country.IsoCode), nil
		},
	})
}
