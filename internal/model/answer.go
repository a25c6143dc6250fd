package model

import (
	"slices"
)

// AnswerMap maps a question ID to the set of selected option IDs.
// Selections are stored sorted and de-duplicated so two maps holding the
// same sets compare equal regardless of the order options were clicked.
type AnswerMap map[string][]string

// NormalizeSelection returns a sorted, de-duplicated copy of options.
// A nil or empty input yields an empty, non-nil slice (an explicit "no choice").
func NormalizeSelection(options []string) []string {
	out := make([]string, 0, len(options))
	for _, o := range options {
		if o == "" {
			continue
		}
		out = append(out, o)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Clone returns a deep copy of the map.
func (m AnswerMap) Clone() AnswerMap {
	out := make(AnswerMap, len(m))
	for q, opts := range m {
		out[q] = slices.Clone(opts)
		if out[q] == nil {
			out[q] = []string{}
		}
	}
	return out
}

// Answered counts questions holding at least one selected option.
func (m AnswerMap) Answered() int {
	n := 0
	for _, opts := range m {
		if len(opts) > 0 {
			n++
		}
	}
	return n
}

// Diff returns the SyncDelta between the last acknowledged snapshot and the
// current map: every key of current whose selection differs from synced.
// Keys present only in synced are reported with an empty selection.
func Diff(synced, current AnswerMap) AnswerMap {
	delta := make(AnswerMap)
	for q, opts := range current {
		prev, ok := synced[q]
		if !ok || !slices.Equal(prev, opts) {
			delta[q] = slices.Clone(opts)
			if delta[q] == nil {
				delta[q] = []string{}
			}
		}
	}
	for q, prev := range synced {
		if _, ok := current[q]; !ok && len(prev) > 0 {
			delta[q] = []string{}
		}
	}
	return delta
}

// Merge folds delta into m in place.
func (m AnswerMap) Merge(delta AnswerMap) {
	for q, opts := range delta {
		m[q] = slices.Clone(opts)
	}
}
