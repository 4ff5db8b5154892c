package generation

import (
	"math"
	"math/rand"
	"strings"

	"github.com/richinsley/viewcomfy/client"
)

// RandomSeed is the value a seed input holds when the user asked for a random seed.
const RandomSeed = math.SmallestNonzeroFloat64

// maxSeed bounds the seeds ComfyUI accepts from the UI.
const maxSeed = 1 << 50

var seedLikeKeys = []string{"seed", "noise_seed", "rand_seed"}

// Workflow is one entry of a view_comfy document, with the user's values filled in.
type Workflow struct {
	client.WorkflowEntry
	// Files are uploaded as form files; inputs with the same key are not sent as values.
	Files []client.FileInput
}

// NewWorkflow copies the input groups of entry so that Set leaves the document alone.
func NewWorkflow(entry client.WorkflowEntry) *Workflow {
	entry.ViewComfyJSON.Inputs = cloneGroups(entry.ViewComfyJSON.Inputs)
	entry.ViewComfyJSON.AdvancedInputs = cloneGroups(entry.ViewComfyJSON.AdvancedInputs)
	return &Workflow{WorkflowEntry: entry}
}

func cloneGroups(groups []client.InputGroup) []client.InputGroup {
	if groups == nil {
		return nil
	}
	out := make([]client.InputGroup, len(groups))
	for i, g := range groups {
		out[i] = client.InputGroup{Title: g.Title, Inputs: append([]client.Input(nil), g.Inputs...)}
	}
	return out
}

// Set assigns value to every input named key and reports whether any was found.
func (w *Workflow) Set(key string, value interface{}) bool {
	found := false
	for _, groups := range [][]client.InputGroup{w.ViewComfyJSON.Inputs, w.ViewComfyJSON.AdvancedInputs} {
		for gi := range groups {
			for ii := range groups[gi].Inputs {
				if groups[gi].Inputs[ii].Key == key {
					groups[gi].Inputs[ii].Value = value
					found = true
				}
			}
		}
	}
	return found
}

// Request builds the submission: visible inputs from the basic then the advanced
// groups, with random-seed placeholders replaced by seed().
func (w *Workflow) Request(seed func() int64) *client.SubmitRequest {
	if seed == nil {
		seed = randomSeed
	}
	files := make(map[string]bool, len(w.Files))
	for _, f := range w.Files {
		files[f.Key] = true
	}

	inputs := make([]client.InputValue, 0)
	for _, groups := range [][]client.InputGroup{w.ViewComfyJSON.Inputs, w.ViewComfyJSON.AdvancedInputs} {
		for _, group := range groups {
			for _, input := range group.Inputs {
				if input.Visibility == "deleted" || files[input.Key] {
					continue
				}
				value := input.Value
				if isSeedLike(input.Key) && isRandomSeed(value) {
					value = seed()
				}
				inputs = append(inputs, client.InputValue{Key: input.Key, Value: value})
			}
		}
	}

	return &client.SubmitRequest{
		Workflow: w.WorkflowApiJSON,
		ViewComfy: client.GenerationData{
			Inputs:            inputs,
			TextOutputEnabled: w.ViewComfyJSON.TextOutputEnabled,
		},
		ViewComfyEndpoint: w.ViewComfyJSON.ViewcomfyEndpoint,
		Files:             w.Files,
	}
}

func isSeedLike(key string) bool {
	for _, s := range seedLikeKeys {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func isRandomSeed(v interface{}) bool {
	f, ok := v.(float64)
	return ok && f == RandomSeed
}

func randomSeed() int64 {
	return rand.Int63n(maxSeed)
}
