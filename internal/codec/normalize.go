package codec

import "github.com/mesh-intelligence/casebuffer/pkg/types"

// Normalize fills in derivable optional fields without touching the target
// schema. For InsertCase without a created_by value, the actor is taken from
// the first non-empty of submitter, username, user, owner. Nothing else is
// changed, no entry is rejected, and normalizing twice equals normalizing
// once.
func Normalize(e types.Entry) types.Entry {
	ins, ok := e.(types.InsertCase)
	if !ok {
		return e
	}
	if ins.CreatedBy.NonEmpty() {
		return ins
	}
	for _, candidate := range []types.Field{ins.Submitter, ins.Username, ins.User, ins.Owner} {
		if candidate.NonEmpty() {
			ins.CreatedBy = candidate
			return ins
		}
	}
	return ins
}
