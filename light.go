package clusterer

import (
	"iter"

	"github.com/gekko3d/clusterer/lightrt/rt/core"
	"github.com/gekko3d/clusterer/lightrt/rt/lights"
	"github.com/go-gl/mathgl/mgl32"
)

// LightEntity is a scene light with its placement.
type LightEntity struct {
	Light     *lights.Light
	Transform *core.Transform
}

// LightList is a minimal scene: an ordered slice of light entities.
type LightList []LightEntity

func (l *LightList) Add(light *lights.Light, t *core.Transform) {
	*l = append(*l, LightEntity{Light: light, Transform: t})
}

// Remove drops the entity holding light, keeping the order of the rest.
func (l *LightList) Remove(light *lights.Light) bool {
	for i, e := range *l {
		if e.Light == light {
			*l = append((*l)[:i], (*l)[i+1:]...)
			return true
		}
	}
	return false
}

// All yields the lights in insertion order with their world transforms.
func (l LightList) All() iter.Seq[lights.Instance] {
	return func(yield func(lights.Instance) bool) {
		for _, e := range l {
			inst := lights.Instance{Light: e.Light, World: mgl32.Ident4()}
			if e.Transform != nil {
				inst.World = e.Transform.ObjectToWorld()
			}
			if !yield(inst) {
				return
			}
		}
	}
}
