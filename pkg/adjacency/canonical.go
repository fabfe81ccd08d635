package adjacency

import "github.com/judajake/meshdb/pkg/meshtype"

// subFacet names one side of a fixed-arity element by the indices of its
// corners within the parent's connectivity, plus the side's entity type.
type subFacet struct {
	Type    meshtype.Type
	Corners []int
}

// edgeTable enumerates each fixed-arity type's edges by corner index.
var edgeTable = map[meshtype.Type][]subFacet{
	meshtype.Triangle: {
		{meshtype.Edge, []int{0, 1}},
		{meshtype.Edge, []int{1, 2}},
		{meshtype.Edge, []int{2, 0}},
	},
	meshtype.Quad: {
		{meshtype.Edge, []int{0, 1}},
		{meshtype.Edge, []int{1, 2}},
		{meshtype.Edge, []int{2, 3}},
		{meshtype.Edge, []int{3, 0}},
	},
	meshtype.Tet: {
		{meshtype.Edge, []int{0, 1}},
		{meshtype.Edge, []int{1, 2}},
		{meshtype.Edge, []int{2, 0}},
		{meshtype.Edge, []int{0, 3}},
		{meshtype.Edge, []int{1, 3}},
		{meshtype.Edge, []int{2, 3}},
	},
	meshtype.Pyramid: {
		{meshtype.Edge, []int{0, 1}},
		{meshtype.Edge, []int{1, 2}},
		{meshtype.Edge, []int{2, 3}},
		{meshtype.Edge, []int{3, 0}},
		{meshtype.Edge, []int{0, 4}},
		{meshtype.Edge, []int{1, 4}},
		{meshtype.Edge, []int{2, 4}},
		{meshtype.Edge, []int{3, 4}},
	},
	meshtype.Prism: {
		{meshtype.Edge, []int{0, 1}},
		{meshtype.Edge, []int{1, 2}},
		{meshtype.Edge, []int{2, 0}},
		{meshtype.Edge, []int{0, 3}},
		{meshtype.Edge, []int{1, 4}},
		{meshtype.Edge, []int{2, 5}},
		{meshtype.Edge, []int{3, 4}},
		{meshtype.Edge, []int{4, 5}},
		{meshtype.Edge, []int{5, 3}},
	},
	// Knife: a hex whose 5-7 top edge is collapsed into node 5, leaving a
	// 7-node wedge-like element with a triangular top face.
	meshtype.Knife: {
		{meshtype.Edge, []int{0, 1}},
		{meshtype.Edge, []int{1, 2}},
		{meshtype.Edge, []int{2, 3}},
		{meshtype.Edge, []int{3, 0}},
		{meshtype.Edge, []int{0, 4}},
		{meshtype.Edge, []int{1, 5}},
		{meshtype.Edge, []int{2, 6}},
		{meshtype.Edge, []int{3, 5}},
		{meshtype.Edge, []int{4, 5}},
		{meshtype.Edge, []int{5, 6}},
	},
	meshtype.Hex: {
		{meshtype.Edge, []int{0, 1}},
		{meshtype.Edge, []int{1, 2}},
		{meshtype.Edge, []int{2, 3}},
		{meshtype.Edge, []int{3, 0}},
		{meshtype.Edge, []int{4, 5}},
		{meshtype.Edge, []int{5, 6}},
		{meshtype.Edge, []int{6, 7}},
		{meshtype.Edge, []int{7, 4}},
		{meshtype.Edge, []int{0, 4}},
		{meshtype.Edge, []int{1, 5}},
		{meshtype.Edge, []int{2, 6}},
		{meshtype.Edge, []int{3, 7}},
	},
}

// faceTable enumerates each 3D fixed-arity type's faces by corner index.
var faceTable = map[meshtype.Type][]subFacet{
	meshtype.Tet: {
		{meshtype.Triangle, []int{0, 1, 3}},
		{meshtype.Triangle, []int{1, 2, 3}},
		{meshtype.Triangle, []int{2, 0, 3}},
		{meshtype.Triangle, []int{0, 2, 1}},
	},
	meshtype.Pyramid: {
		{meshtype.Triangle, []int{0, 1, 4}},
		{meshtype.Triangle, []int{1, 2, 4}},
		{meshtype.Triangle, []int{2, 3, 4}},
		{meshtype.Triangle, []int{3, 0, 4}},
		{meshtype.Quad, []int{3, 2, 1, 0}},
	},
	meshtype.Prism: {
		{meshtype.Quad, []int{0, 1, 4, 3}},
		{meshtype.Quad, []int{1, 2, 5, 4}},
		{meshtype.Quad, []int{2, 0, 3, 5}},
		{meshtype.Triangle, []int{0, 2, 1}},
		{meshtype.Triangle, []int{3, 4, 5}},
	},
	meshtype.Knife: {
		{meshtype.Quad, []int{0, 1, 5, 4}},
		{meshtype.Quad, []int{1, 2, 6, 5}},
		{meshtype.Quad, []int{2, 3, 5, 6}},
		{meshtype.Quad, []int{3, 0, 4, 5}},
		{meshtype.Quad, []int{0, 3, 2, 1}},
		{meshtype.Triangle, []int{4, 5, 6}},
	},
	meshtype.Hex: {
		{meshtype.Quad, []int{0, 1, 5, 4}},
		{meshtype.Quad, []int{1, 2, 6, 5}},
		{meshtype.Quad, []int{2, 3, 7, 6}},
		{meshtype.Quad, []int{3, 0, 4, 7}},
		{meshtype.Quad, []int{0, 3, 2, 1}},
		{meshtype.Quad, []int{4, 5, 6, 7}},
	},
}

// subFacets returns the canonical sides of dimension dim for a fixed-arity
// element type, or nil if the type has no canonical numbering (vertices,
// variable-arity types, entity sets).
func subFacets(t meshtype.Type, dim int) []subFacet {
	switch dim {
	case 1:
		return edgeTable[t]
	case 2:
		if t.Dimension() == 2 {
			return nil // a 2D element's only dim-2 sub-facet is itself
		}
		return faceTable[t]
	default:
		return nil
	}
}
