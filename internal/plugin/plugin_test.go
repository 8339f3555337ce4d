package plugin

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schollz/riffengine/internal/model"
)

type fakeInstance struct{ name string }

func (f *fakeInstance) Name() string { return f.name }
func (f *fakeInstance) Close() error { return nil }

func TestRegistryLoad(t *testing.T) {
	reg := NewRegistry()
	reg.Register("polysynth", func(desc model.PluginDescriptor) (Instance, error) {
		return &fakeInstance{name: desc.Name}, nil
	})

	inst, err := reg.Load(model.PluginDescriptor{Name: "polysynth"})
	require.NoError(t, err)
	assert.Equal(t, "polysynth", inst.Name())
}

func TestRegistryLoadMissingIsNonFatalError(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Load(model.PluginDescriptor{Name: "does-not-exist"})
	assert.Error(t, err)
}

func TestRegistryLoadConstructorError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("broken", func(desc model.PluginDescriptor) (Instance, error) {
		return nil, errors.New("boom")
	})
	_, err := reg.Load(model.PluginDescriptor{Name: "broken"})
	assert.Error(t, err)
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", nil)
	reg.Register("b", nil)
	assert.ElementsMatch(t, []string{"a", "b"}, reg.Names())
}
