package narration

import "sort"

type Guide struct {
	Name    string   `json:"name"`
	Title   string   `json:"title"`
	Benefit string   `json:"benefit"`
	Steps   []string `json:"steps"`
}

const (
	GuideBreathing = "breathing"
	GuideGrounding = "grounding"
)

var guides = map[string]Guide{
	GuideBreathing: {
		Name:    GuideBreathing,
		Title:   "4-7-8 Breathing Technique",
		Benefit: "Calms the nervous system and reduces physical tension.",
		Steps: []string{
			"Find a comfortable place to sit or lie down.",
			"Close your eyes and focus on your breath.",
			"Inhale through your nose quietly for 4 seconds.",
			"Hold your breath for a count of 7 seconds.",
			"Exhale forcefully through your mouth for 8 seconds.",
			"Repeat the cycle 4 times.",
		},
	},
	GuideGrounding: {
		Name:    GuideGrounding,
		Title:   "5-4-3-2-1 Grounding Method",
		Benefit: "Interrupts dissociation and pulls you back to the present moment.",
		Steps: []string{
			"Look around and name 5 things you can SEE.",
			"Acknowledge 4 things you can TOUCH.",
			"Listen for 3 things you can HEAR.",
			"Notice 2 things you can SMELL.",
			"Identify 1 thing you can TASTE.",
		},
	},
}

// LookupGuide returns a copy of the named guide.
func LookupGuide(name string) (Guide, bool) {
	g, ok := guides[name]
	if !ok {
		return Guide{}, false
	}
	g.Steps = append([]string(nil), g.Steps...)
	return g, true
}

// Guides lists every guide ordered by name.
func Guides() []Guide {
	out := make([]Guide, 0, len(guides))
	for name := range guides {
		g, _ := LookupGuide(name)
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
