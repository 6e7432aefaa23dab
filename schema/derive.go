package schema

import "lightbus/api"

// FromAPI derives an APISchema from a registered api.API: enumerate the
// API's public procedures and events (already filtered of
// underscore-prefixed and base-class members at registration time by
// api.Definition) and build one schema entry per member.
//
// Parameter/response schemas are author-supplied JSON Schema
// (api.Procedure.ParametersSchema etc.) rather than generated from type
// hints, since Go has no runtime type-hint reflection equivalent to
// Python's inspect.signature — that derivation step is pushed onto the
// API author instead.
func FromAPI(a api.API) APISchema {
	out := APISchema{
		RPCs:   make(map[string]RPCSchema),
		Events: make(map[string]EventSchema),
	}
	for _, p := range a.Procedures() {
		out.RPCs[p.Name] = RPCSchema{
			Parameters: orEmptyObject(p.ParametersSchema),
			Response:   orEmptyObject(p.ResponseSchema),
		}
	}
	for _, e := range a.Events() {
		out.Events[e.Name] = EventSchema{
			Parameters: orEmptyObject(e.ParametersSchema),
		}
	}
	return out
}

func orEmptyObject(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte(`{}`)
	}
	return raw
}
