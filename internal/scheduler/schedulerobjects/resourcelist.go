package schedulerobjects

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"k8s.io/apimachinery/pkg/api/resource"
)

// ResourceList is a set of named resource quantities, e.g., "cpu", "memory" and "nvidia.com/gpu".
// Resources missing from the map are treated as zero.
type ResourceList struct {
	Resources map[string]resource.Quantity
}

// ResourceListFromStrings parses a map of resource name to quantity string, e.g., {"cpu": "500m", "memory": "1Gi"}.
func ResourceListFromStrings(m map[string]string) (ResourceList, error) {
	rv := ResourceList{Resources: make(map[string]resource.Quantity, len(m))}
	for t, s := range m {
		q, err := resource.ParseQuantity(s)
		if err != nil {
			return ResourceList{}, errors.Wrapf(err, "invalid quantity %q for resource %s", s, t)
		}
		rv.Resources[t] = q
	}
	return rv, nil
}

// Strings is the inverse of ResourceListFromStrings.
func (rl ResourceList) Strings() map[string]string {
	rv := make(map[string]string, len(rl.Resources))
	for t, q := range rl.Resources {
		rv[t] = q.String()
	}
	return rv
}

func (rl ResourceList) Get(resourceType string) resource.Quantity {
	if rl.Resources == nil {
		return resource.Quantity{}
	}
	return rl.Resources[resourceType]
}

func (rl *ResourceList) Add(b ResourceList) {
	rl.initialise()
	for t, qb := range b.Resources {
		qa := rl.Resources[t]
		qa.Add(qb)
		rl.Resources[t] = qa
	}
}

func (rl *ResourceList) Sub(b ResourceList) {
	rl.initialise()
	for t, qb := range b.Resources {
		qa := rl.Resources[t]
		qa.Sub(qb)
		rl.Resources[t] = qa
	}
}

func (rl ResourceList) DeepCopy() ResourceList {
	if rl.Resources == nil {
		return ResourceList{}
	}
	rv := ResourceList{
		Resources: make(map[string]resource.Quantity, len(rl.Resources)),
	}
	for t, q := range rl.Resources {
		rv.Resources[t] = q.DeepCopy()
	}
	return rv
}

func (rl ResourceList) IsZero() bool {
	for _, q := range rl.Resources {
		if !q.IsZero() {
			return false
		}
	}
	return true
}

func (rl ResourceList) Equal(b ResourceList) bool {
	for t, qa := range rl.Resources {
		if qa.Cmp(b.Get(t)) != 0 {
			return false
		}
	}
	for t, qb := range b.Resources {
		if qb.Cmp(rl.Get(t)) != 0 {
			return false
		}
	}
	return true
}

// IsStrictlyNonNegative returns true if there is no quantity in rl less than zero.
func (rl ResourceList) IsStrictlyNonNegative() bool {
	for _, q := range rl.Resources {
		if q.Sign() < 0 {
			return false
		}
	}
	return true
}

// FitsWithin returns true if every quantity in rl is less than or equal to the corresponding quantity in available.
// A resource rl asks for that available doesn't list counts as zero available.
func (rl ResourceList) FitsWithin(available ResourceList) bool {
	for t, q := range rl.Resources {
		if q.Cmp(available.Get(t)) == 1 {
			return false
		}
	}
	return true
}

// CompactString returns a single-line representation with resources in name order, e.g., {cpu: 1, memory: 1Gi}.
func (rl ResourceList) CompactString() string {
	names := maps.Keys(rl.Resources)
	slices.Sort(names)
	var sb strings.Builder
	sb.WriteString("{")
	for i, t := range names {
		q := rl.Resources[t]
		if i < len(names)-1 {
			sb.WriteString(fmt.Sprintf("%s: %s, ", t, q.String()))
		} else {
			sb.WriteString(fmt.Sprintf("%s: %s", t, q.String()))
		}
	}
	sb.WriteString("}")
	return sb.String()
}

func (rl *ResourceList) initialise() {
	if rl.Resources == nil {
		rl.Resources = make(map[string]resource.Quantity)
	}
}
