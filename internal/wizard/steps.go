package wizard

import (
	"strings"

	"avatarstudio/api/internal/avatar"
	"avatarstudio/api/internal/store"
)

// Step is one page of the authoring wizard.
type Step int

const (
	StepDetail Step = iota
	StepPersona
	StepBackstory
	StepHiddenRules
	StepKnowledge
)

type stepDef struct {
	name    string
	missing func(store.Profile) []string
}

var steps = []stepDef{
	StepDetail:      {name: "detail", missing: missingDetail},
	StepPersona:     {name: "persona", missing: missingPersona},
	StepBackstory:   {name: "backstory", missing: missingBackstory},
	StepHiddenRules: {name: "hidden-rules", missing: always},
	StepKnowledge:   {name: "knowledge", missing: always},
}

// StepCount is the fixed number of steps.
func StepCount() int {
	return len(steps)
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(steps) {
		return "unknown"
	}
	return steps[s].name
}

func missingDetail(p store.Profile) []string {
	var missing []string
	if strings.TrimSpace(p.Name) == "" {
		missing = append(missing, store.FieldName)
	}
	if p.Age <= 0 {
		missing = append(missing, store.FieldAge)
	}
	if strings.TrimSpace(p.Gender) == "" {
		missing = append(missing, store.FieldGender)
	}
	if p.PrimaryLanguage == "" {
		missing = append(missing, store.FieldPrimaryLanguage)
	}
	return missing
}

func missingPersona(p store.Profile) []string {
	n := len(p.PersonaTags)
	if n < avatar.MinPersonaTags || n > avatar.MaxPersonaTags {
		return []string{store.FieldPersonaTags}
	}
	return nil
}

func missingBackstory(p store.Profile) []string {
	if strings.TrimSpace(p.Backstory) == "" {
		return []string{store.FieldBackstory}
	}
	return nil
}

func always(store.Profile) []string {
	return nil
}

// Progress maps a step index to a percentage. The first step is always 0 and
// the last always 100; steps in between are interpolated.
func Progress(index, count int) int {
	if index <= 0 || count < 2 {
		return 0
	}
	if index >= count-1 {
		return 100
	}
	return index * 100 / (count - 1)
}
