package skills

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ravenlabs/raven/pkg/store"
)

func TestMergeParametersIncomingFirst(t *testing.T) {
	existing := []store.Parameter{
		{Name: "path", Description: "old path"},
		{Name: "env", Description: "environment"},
	}
	incoming := []store.Parameter{
		{Name: "path", Description: "new path"},
		{Name: "branch", Description: "git branch"},
	}

	merged := MergeParameters(existing, incoming, 12)
	if assert.Len(t, merged, 3) {
		assert.Equal(t, "path", merged[0].Name)
		assert.Equal(t, "new path", merged[0].Description)
		assert.Equal(t, "branch", merged[1].Name)
		assert.Equal(t, "env", merged[2].Name)
	}
}

func TestMergeParametersCap(t *testing.T) {
	incoming := []store.Parameter{
		{Name: "a", Description: "a"},
		{Name: "b", Description: "b"},
		{Name: "c", Description: "c"},
	}
	merged := MergeParameters(nil, incoming, 2)
	assert.Len(t, merged, 2)
}

func TestMergeStringListsCaseInsensitive(t *testing.T) {
	merged := MergeStringLists([]string{"Docker installed", "network up"}, []string{"docker installed", "repo cloned"}, 8, 260)
	assert.Equal(t, []string{"docker installed", "repo cloned", "network up"}, merged)
}

func TestMergeExamplesByUserInput(t *testing.T) {
	existing := []store.Example{{UserInput: "deploy api", OutputSummary: "old"}}
	incoming := []store.Example{
		{UserInput: "deploy api", OutputSummary: "new"},
		{UserInput: "deploy web", OutputSummary: "web"},
	}
	merged := MergeExamples(existing, incoming, 6)
	if assert.Len(t, merged, 2) {
		assert.Equal(t, "new", merged[0].OutputSummary)
		assert.Equal(t, "deploy web", merged[1].UserInput)
	}
}
