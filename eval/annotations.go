package eval

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-ml-eval/dataset"
)

// CollectAnnotations gathers the ground truth of every item, split per
// active class.
//
// Arguments:
//   - gen: The dataset to read ground truth from.
//   - classes: The active class labels, as resolved by dataset.ActiveClasses.
//
// Returns:
//   - Annotations indexed by item, then class. Every active class has an entry.
//   - error: A *ShapeError when labels or grid locations do not line up with
//     the boxes, or the wrapped dataset error.
func CollectAnnotations(gen dataset.Generator, classes []int) (Annotations, error) {
	all := make(Annotations, gen.Size())

	for i := range all {
		set, err := gen.LoadAnnotations(i)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load annotations of item %d", i)
		}
		if len(set.Labels) != len(set.Boxes) {
			return nil, shapeErrorf(i, "%d labels for %d boxes", len(set.Labels), len(set.Boxes))
		}
		if set.GridLocations != nil && len(set.GridLocations) != len(set.Boxes) {
			return nil, shapeErrorf(i, "%d grid locations for %d boxes", len(set.GridLocations), len(set.Boxes))
		}

		byClass := make(map[int][]Annotation, len(classes))
		for _, label := range classes {
			byClass[label] = []Annotation{}
		}
		for j, box := range set.Boxes {
			label := set.Labels[j]
			if _, ok := byClass[label]; !ok {
				continue
			}
			a := Annotation{Box: box, Label: label}
			if set.GridLocations != nil {
				a.Grid = set.GridLocations[j]
			}
			byClass[label] = append(byClass[label], a)
		}
		all[i] = byClass
	}

	return all, nil
}
