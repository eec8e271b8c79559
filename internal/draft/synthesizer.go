// Package draft produces scene draft text from outline units and
// document templates. The reference implementation is deterministic:
// the same unit and template always yield the same draft, which keeps
// accept operations reproducible and snapshot diffs meaningful.
package draft

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/inkwell/internal/project"
	"github.com/scrypster/inkwell/internal/templates"
)

// Synthesizer turns an outline unit plus a template into draft text.
type Synthesizer interface {
	Synthesize(unit project.Unit, tpl *templates.Template) (string, error)
}

// TemplateSynthesizer is the deterministic reference implementation.
// It renders the template's front matter and body, substitutes
// {placeholder} tokens, and pads toward the unit's word target with
// sentences chosen by a generator seeded from the unit id and
// template body.
type TemplateSynthesizer struct{}

// NewTemplateSynthesizer returns the reference synthesizer.
func NewTemplateSynthesizer() *TemplateSynthesizer {
	return &TemplateSynthesizer{}
}

var fillerSentences = []string{
	"The room held its breath around them.",
	"Outside, the weather refused to commit to anything.",
	"A clock somewhere insisted on the passage of time.",
	"Nobody said what everybody was thinking.",
	"The silence stretched until it became its own kind of answer.",
	"Something small and ordinary suddenly mattered a great deal.",
	"The words came slower than the thought behind them.",
	"It was not the plan, but it would have to do.",
}

func (s *TemplateSynthesizer) Synthesize(unit project.Unit, tpl *templates.Template) (string, error) {
	if unit.ID == "" {
		return "", fmt.Errorf("draft: unit id is required")
	}
	if tpl == nil {
		return "", fmt.Errorf("draft: template is required")
	}

	fm := map[string]any{
		"unit_id":  unit.ID,
		"title":    unit.Title,
		"template": tpl.ID,
		"status":   "draft",
	}
	// Template front matter wins over the defaults above, except for
	// the identity keys.
	for k, val := range tpl.FrontMatter {
		if k == "unit_id" || k == "template" {
			continue
		}
		fm[k] = val
	}

	head, err := yaml.Marshal(orderedFrontMatter(fm))
	if err != nil {
		return "", fmt.Errorf("draft: failed to render front matter: %w", err)
	}

	body := substitute(tpl.Body, unit, fm)

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	if unit.Summary != "" {
		b.WriteString(unit.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")

	pad(&b, unit, tpl)
	return b.String(), nil
}

// substitute replaces {key} tokens in the body with front-matter
// values, falling back to the unit title for unfilled ones.
func substitute(body string, unit project.Unit, fm map[string]any) string {
	out := body
	for k, val := range fm {
		str := fmt.Sprintf("%v", val)
		if str == "" {
			str = unit.Title
		}
		out = strings.ReplaceAll(out, "{"+k+"}", str)
	}
	return out
}

// pad appends deterministic filler sentences toward the unit's word
// target, capped so generated drafts stay small.
func pad(b *strings.Builder, unit project.Unit, tpl *templates.Template) {
	target := unit.Words
	if target <= 0 {
		return
	}
	const maxFiller = 20
	need := (target - len(strings.Fields(b.String()))) / 10
	if need <= 0 {
		return
	}
	if need > maxFiller {
		need = maxFiller
	}

	h := fnv.New64a()
	h.Write([]byte(unit.ID))
	h.Write([]byte(tpl.Body))
	r := rand.New(rand.NewSource(int64(h.Sum64())))

	b.WriteString("\n")
	for i := 0; i < need; i++ {
		b.WriteString(fillerSentences[r.Intn(len(fillerSentences))])
		b.WriteString(" ")
	}
	b.WriteString("\n")
}

// orderedFrontMatter returns a yaml.Node mapping with sorted keys so
// rendered front matter is stable across runs.
func orderedFrontMatter(fm map[string]any) *yaml.Node {
	keys := make([]string, 0, len(fm))
	for k := range fm {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		var key, val yaml.Node
		key.SetString(k)
		if err := val.Encode(fm[k]); err != nil {
			val.SetString(fmt.Sprintf("%v", fm[k]))
		}
		node.Content = append(node.Content, &key, &val)
	}
	return node
}
