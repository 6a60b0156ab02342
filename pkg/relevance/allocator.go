// Package relevance computes per-article local relevance of entities and
// moves the weight of aliases and ambiguous entities onto canonicals.
package relevance

import (
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/kennylajara/news/pkg/entity"
	"github.com/kennylajara/news/pkg/logger"
	"github.com/kennylajara/news/pkg/resolution"
	"github.com/kennylajara/news/pkg/textscan"
)

// Category is the sentence-cluster label supplied by the clusterer.
type Category string

const (
	CategoryCore      Category = "core"
	CategorySecondary Category = "secondary"
	CategoryFiller    Category = "filler"
)

// Config holds the scoring knobs. Bonuses are fractions of the base score.
type Config struct {
	TitleBonus         float64 `yaml:"title_bonus"`
	SubtitleBonus      float64 `yaml:"subtitle_bonus"`
	EarlyBonus         float64 `yaml:"early_bonus"`  // first occurrence in the first 20% of the body
	MiddleBonus        float64 `yaml:"middle_bonus"` // first occurrence in the first 40% of the body
	ExtraMentionBonus  float64 `yaml:"extra_mention_bonus"`
	MaxExtraMentions   int     `yaml:"max_extra_mentions"`
	CoreBoost          float64 `yaml:"core_boost"`
	SecondaryBoost     float64 `yaml:"secondary_boost"`
	OtherBoost         float64 `yaml:"other_boost"`
	AmbiguityThreshold int     `yaml:"ambiguity_threshold"`
}

// DefaultConfig returns the standard weights.
func DefaultConfig() Config {
	return Config{
		TitleBonus:         0.50,
		SubtitleBonus:      0.25,
		EarlyBonus:         0.30,
		MiddleBonus:        0.15,
		ExtraMentionBonus:  0.10,
		MaxExtraMentions:   5,
		CoreBoost:          1.3,
		SecondaryBoost:     1.0,
		OtherBoost:         0.7,
		AmbiguityThreshold: 10,
	}
}

// Detected is one recognizer entity in an article.
type Detected struct {
	EntityID         int64
	Name             string
	Mentions         int
	SentenceIndices  []int
	ContextSentences []string
}

// Input is everything needed to allocate one article.
type Input struct {
	Article  entity.Article
	Detected []Detected
	Clusters map[int]Category // sentence index -> category; empty disables boosts
}

// View exposes the reference graph and entity names.
type View interface {
	Node(id int64) (resolution.Node, bool)
	Referrers(id int64) []int64
	Name(id int64) (string, bool)
}

// Allocation is the result for one article.
type Allocation struct {
	ArticleID    int64
	Rows         []entity.Mention
	Ignored      []int64 // detected but contributing nothing
	Inconsistent []int64 // aliases or ambiguous entities with broken references
}

// Relevance returns the relevance of id, or zero.
func (a Allocation) Relevance(id int64) float64 {
	for _, r := range a.Rows {
		if r.EntityID == id {
			return r.Relevance
		}
	}
	return 0
}

type contribution struct {
	score    float64
	mentions int
	detected bool
}

// Allocate scores every detected entity, transfers alias and ambiguous
// weight to canonicals, and normalizes so the top entity scores 1.0.
// Every detected entity gets a DETECTED row with its raw mention count,
// zero relevance when it contributes nothing directly; canonicals only
// reached by transfer get DERIVED rows counting the transferred mentions.
func Allocate(in Input, view View, cfg Config) Allocation {
	out := Allocation{ArticleID: in.Article.ID}

	total := 0
	for _, d := range in.Detected {
		total += max(d.Mentions, 0)
	}

	scores := make(map[int64]*contribution)
	credit := func(id int64, score float64, mentions int, detected bool) {
		c, ok := scores[id]
		if !ok {
			c = &contribution{}
			scores[id] = c
		}
		c.score += score
		c.mentions += mentions
		c.detected = c.detected || detected
	}

	detectedRows := make(map[int64]Detected, len(in.Detected))
	var ambiguous []Detected
	boosted := make(map[int64]float64, len(in.Detected))

	for _, d := range in.Detected {
		detectedRows[d.EntityID] = d
		if d.Mentions <= 0 || total == 0 {
			out.Ignored = append(out.Ignored, d.EntityID)
			continue
		}
		b := score(in, d, total, cfg)
		boosted[d.EntityID] = b

		n, ok := view.Node(d.EntityID)
		if !ok {
			logger.Warn("[Relevance] Unknown entity in article", "article", in.Article.ID, "entity", d.EntityID)
			out.Ignored = append(out.Ignored, d.EntityID)
			continue
		}

		switch n.Classification {
		case entity.Canonical:
			credit(d.EntityID, b, d.Mentions, true)
		case entity.Alias:
			if len(n.References) != 1 {
				logger.Warn("[Relevance] Alias with invalid references", "entity", d.EntityID, "refs", len(n.References))
				out.Inconsistent = append(out.Inconsistent, d.EntityID)
				continue
			}
			credit(n.References[0], b, d.Mentions, false)
		case entity.Ambiguous:
			if len(n.References) < 2 {
				logger.Warn("[Relevance] Ambiguous with invalid references", "entity", d.EntityID, "refs", len(n.References))
				out.Inconsistent = append(out.Inconsistent, d.EntityID)
				continue
			}
			ambiguous = append(ambiguous, d)
		default:
			out.Ignored = append(out.Ignored, d.EntityID)
		}
	}

	// Presence is fixed before ambiguous weight moves, so the order of
	// ambiguous entities does not matter.
	present := make(map[int64]bool, len(scores))
	for id := range scores {
		present[id] = true
	}

	for _, d := range ambiguous {
		n, _ := view.Node(d.EntityID)
		targets := resolveAmbiguous(in.Article, d.EntityID, n.References, present, view, cfg)
		if len(targets) == 0 {
			logger.Debug("[Relevance] Ambiguous entity left unresolved",
				"article", in.Article.ID, "entity", d.EntityID, "canonicals", len(n.References))
			out.Ignored = append(out.Ignored, d.EntityID)
			continue
		}
		share := boosted[d.EntityID] / float64(len(targets))
		for _, t := range targets {
			credit(t, share, d.Mentions, false)
		}
	}

	top := 0.0
	for _, c := range scores {
		top = math.Max(top, c.score)
	}

	for id, c := range scores {
		rel := 0.0
		if top > 0 {
			rel = c.score / top
		}
		row := entity.Mention{
			ArticleID: in.Article.ID,
			EntityID:  id,
			Mentions:  c.mentions,
			Relevance: rel,
			Origin:    entity.OriginDerived,
		}
		if d, ok := detectedRows[id]; ok {
			// Detected rows are read back as recognizer input on recompute,
			// so they keep the raw count.
			row.Mentions = d.Mentions
			row.Origin = entity.OriginDetected
			row.ContextSentences = d.ContextSentences
			row.SentenceIndices = d.SentenceIndices
		}
		out.Rows = append(out.Rows, row)
	}
	for id, d := range detectedRows {
		if _, ok := scores[id]; ok {
			continue
		}
		out.Rows = append(out.Rows, entity.Mention{
			ArticleID:        in.Article.ID,
			EntityID:         id,
			Mentions:         d.Mentions,
			Origin:           entity.OriginDetected,
			ContextSentences: d.ContextSentences,
			SentenceIndices:  d.SentenceIndices,
		})
	}

	sort.Slice(out.Rows, func(i, j int) bool {
		if out.Rows[i].Relevance != out.Rows[j].Relevance {
			return out.Rows[i].Relevance > out.Rows[j].Relevance
		}
		return out.Rows[i].EntityID < out.Rows[j].EntityID
	})
	slices.Sort(out.Ignored)
	slices.Sort(out.Inconsistent)
	return out
}

// score is the boosted, unnormalized relevance of one detected entity.
func score(in Input, d Detected, total int, cfg Config) float64 {
	base := float64(d.Mentions) / float64(total)

	bonus := 0.0
	if d.Name != "" {
		if strings.Contains(in.Article.Title, d.Name) {
			bonus += cfg.TitleBonus
		}
		if strings.Contains(in.Article.Subtitle, d.Name) {
			bonus += cfg.SubtitleBonus
		}
		if body := in.Article.Body; body != "" {
			if idx := strings.Index(body, d.Name); idx >= 0 {
				switch pos := float64(idx) / float64(len(body)); {
				case pos < 0.2:
					bonus += cfg.EarlyBonus
				case pos < 0.4:
					bonus += cfg.MiddleBonus
				}
			}
		}
	}
	if extra := d.Mentions - 3; extra > 0 {
		bonus += float64(min(extra, cfg.MaxExtraMentions)) * cfg.ExtraMentionBonus
	}

	return base * (1 + bonus) * multiplier(in.Clusters, d.SentenceIndices, cfg)
}

func multiplier(clusters map[int]Category, sentences []int, cfg Config) float64 {
	if len(clusters) == 0 {
		return 1.0
	}
	best := cfg.OtherBoost
	for _, s := range sentences {
		switch clusters[s] {
		case CategoryCore:
			return cfg.CoreBoost
		case CategorySecondary:
			best = cfg.SecondaryBoost
		}
	}
	return best
}

// resolveAmbiguous picks which canonicals an ambiguous entity stands for in
// this article: those already present, else those with textual evidence,
// else all of them when there are few enough.
func resolveAmbiguous(article entity.Article, id int64, refs []int64, present map[int64]bool, view View, cfg Config) []int64 {
	var targets []int64
	for _, r := range refs {
		if present[r] {
			targets = append(targets, r)
		}
	}
	if len(targets) > 0 {
		return targets
	}

	targets = contextual(article, id, refs, view)
	if len(targets) > 0 {
		return targets
	}

	if len(refs) > cfg.AmbiguityThreshold {
		return nil
	}
	return refs
}

// contextual scans the article for the name of each canonical and the names
// of the entities referencing it. Substring hits on short names can be
// false positives.
func contextual(article entity.Article, id int64, refs []int64, view View) []int64 {
	surfaces := make([]textscan.Surface, 0, len(refs))
	for _, r := range refs {
		s := textscan.Surface{ID: r}
		if name, ok := view.Name(r); ok {
			s.Forms = append(s.Forms, name)
		}
		for _, src := range view.Referrers(r) {
			if src == id {
				continue
			}
			if name, ok := view.Name(src); ok {
				s.Forms = append(s.Forms, name)
			}
		}
		surfaces = append(surfaces, s)
	}

	dict, err := textscan.Compile(surfaces)
	if err != nil {
		logger.Warn("[Relevance] Context dictionary failed", "entity", id, "err", err)
		return nil
	}
	hits := dict.Hits(article.Text())

	var out []int64
	for _, r := range refs {
		if hits[r] > 0 {
			out = append(out, r)
		}
	}
	return out
}
